package exec

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/coregx/relq/internal/logger"
)

const pingTimeout = 5 * time.Second

// healthChecker pings the database on an interval until shut down.
type healthChecker struct {
	db       *sql.DB
	logger   logger.Logger
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup

	mu       sync.RWMutex
	lastErr  error
	lastPing time.Time
}

func newHealthChecker(db *sql.DB, log logger.Logger, interval time.Duration) *healthChecker {
	return &healthChecker{db: db, logger: log, interval: interval, stop: make(chan struct{})}
}

func (h *healthChecker) start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.ping()
			case <-h.stop:
				return
			}
		}
	}()
}

func (h *healthChecker) ping() {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	err := h.db.PingContext(ctx)

	h.mu.Lock()
	h.lastErr, h.lastPing = err, time.Now()
	h.mu.Unlock()

	if err != nil {
		h.logger.Warn("health check failed", "error", err)
		return
	}
	h.logger.Debug("health check passed")
}

func (h *healthChecker) shutdown() {
	close(h.stop)
	h.wg.Wait()
}

func (h *healthChecker) status() (healthy bool, at time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr == nil, h.lastPing
}
