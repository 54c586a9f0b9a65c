package core

import (
	"fmt"
	"strings"
)

// TableID identifies a table-like node within one Arena. Columns reference
// tables by ID so identity survives copies of the node.
type TableID int

// TableExpression is a table-like node of a FROM clause.
//
// The variant set is closed: *TableReference, *FromSQLExpression,
// *JoinExpression and *SelectExpression.
type TableExpression interface {
	fmt.Stringer
	// ID returns the identity of the table source.
	ID() TableID
	// Alias returns the alias assigned by the arena.
	Alias() string
	tableExpression()
}

// TableReference is a named table.
type TableReference struct {
	Name   string
	Schema string

	id    TableID
	alias string
}

func (t *TableReference) ID() TableID   { return t.id }
func (t *TableReference) Alias() string { return t.alias }

func (t *TableReference) String() string {
	name := t.Name
	if t.Schema != "" {
		name = t.Schema + "." + name
	}
	return name + " AS " + t.alias
}

// FromSQLExpression is a raw SQL query used as a table.
type FromSQLExpression struct {
	SQL       string
	Arguments []any

	id    TableID
	alias string
}

func (f *FromSQLExpression) ID() TableID   { return f.id }
func (f *FromSQLExpression) Alias() string { return f.alias }

func (f *FromSQLExpression) String() string {
	return "(" + f.SQL + ") AS " + f.alias
}

// JoinKind is the kind of a JoinExpression.
type JoinKind int

// Join kinds.
const (
	InnerJoin JoinKind = iota
	LeftJoin
	CrossJoin
)

// String returns the SQL keyword sequence of the join.
func (k JoinKind) String() string {
	switch k {
	case InnerJoin:
		return "INNER JOIN"
	case LeftJoin:
		return "LEFT JOIN"
	case CrossJoin:
		return "CROSS JOIN"
	}
	return fmt.Sprintf("join(%d)", int(k))
}

// JoinExpression attaches Table to the preceding tables of a builder.
// Predicate is nil for cross joins.
type JoinExpression struct {
	Kind      JoinKind
	Table     TableExpression
	Predicate SQLExpression
}

// ID returns the ID of the joined table.
func (j *JoinExpression) ID() TableID { return j.Table.ID() }

// Alias returns the alias of the joined table.
func (j *JoinExpression) Alias() string { return j.Table.Alias() }

func (j *JoinExpression) String() string {
	if j.Predicate == nil {
		return j.Kind.String() + " " + j.Table.String()
	}
	return j.Kind.String() + " " + j.Table.String() + " ON " + j.Predicate.String()
}

func (*TableReference) tableExpression()    {}
func (*FromSQLExpression) tableExpression() {}
func (*JoinExpression) tableExpression()    {}
func (*SelectExpression) tableExpression()  {}

// UnwrapJoin returns the table a join attaches, or t itself.
func UnwrapJoin(t TableExpression) TableExpression {
	if j, ok := t.(*JoinExpression); ok {
		return j.Table
	}
	return t
}

// aliasBase returns the lower-cased first letter of a table name.
func aliasBase(name string) string {
	name = strings.TrimLeft(name, "_\"`[")
	if name == "" {
		return "t"
	}
	return strings.ToLower(name[:1])
}
