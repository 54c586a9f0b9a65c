// Package cache keeps prepared statements for compiled queries, evicting
// the least recently used one when full.
package cache

import (
	"container/list"
	"database/sql"
	"sync"
	"sync/atomic"
)

// DefaultStmtCacheCapacity is used when a capacity of zero or less is given.
const DefaultStmtCacheCapacity = 256

// StmtCache maps SQL text to a prepared statement. It owns the statements
// it holds and closes them when they are evicted, replaced or cleared.
type StmtCache struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front is most recently used

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type entry struct {
	sql  string
	stmt *sql.Stmt
}

// NewStmtCache creates a cache holding at most capacity statements.
func NewStmtCache(capacity int) *StmtCache {
	if capacity <= 0 {
		capacity = DefaultStmtCacheCapacity
	}
	return &StmtCache{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

// Get returns the statement prepared for query and marks it recently used.
func (c *StmtCache) Get(query string) (*sql.Stmt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[query]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits.Add(1)
	return el.Value.(*entry).stmt, true
}

// Put stores stmt for query. A statement already cached for query is closed.
func (c *StmtCache) Put(query string, stmt *sql.Stmt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[query]; ok {
		c.order.MoveToFront(el)
		e := el.Value.(*entry)
		if e.stmt != stmt {
			_ = e.stmt.Close()
			e.stmt = stmt
		}
		return
	}
	for c.order.Len() >= c.capacity {
		c.removeElement(c.order.Back())
		c.evictions.Add(1)
	}
	c.items[query] = c.order.PushFront(&entry{sql: query, stmt: stmt})
}

// Remove closes and forgets the statement for query, if any.
func (c *StmtCache) Remove(query string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[query]; ok {
		c.removeElement(el)
	}
}

// removeElement assumes c.mu is held.
func (c *StmtCache) removeElement(el *list.Element) {
	e := c.order.Remove(el).(*entry)
	delete(c.items, e.sql)
	_ = e.stmt.Close()
}

// Clear closes every cached statement.
func (c *StmtCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; el = el.Next() {
		_ = el.Value.(*entry).stmt.Close()
	}
	c.items = make(map[string]*list.Element, c.capacity)
	c.order.Init()
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Size      int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate is hits over lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the current counters.
func (c *StmtCache) Stats() Stats {
	c.mu.Lock()
	size := c.order.Len()
	c.mu.Unlock()
	return Stats{
		Size:      size,
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
