// Package sqlgen prints finalized select trees as SQL text with bound
// arguments for a given dialect.
package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coregx/relq/internal/core"
	"github.com/coregx/relq/internal/dialects"
)

// Param is an argument bound by name when the query is executed.
type Param struct {
	Name string
}

func (p Param) String() string { return "@" + p.Name }

// marker brackets the index of a bound argument in the intermediate text.
// Placeholders are numbered in a final pass so that the numbering follows
// text order regardless of the order clauses were rendered in.
const marker = '\x00'

type generator struct {
	d    dialects.Dialect
	sb   strings.Builder
	args []any
}

// Generate renders s, which must have been finalized, for dialect d. It
// returns the SQL text and the arguments for its placeholders in order.
func Generate(s *core.SelectExpression, d dialects.Dialect) (string, []any, error) {
	if s == nil {
		return "", nil, core.ErrInvariantViolation.New("nil select")
	}
	g := &generator{d: d}
	if err := g.statement(s); err != nil {
		return "", nil, err
	}
	sql, args := g.number()
	return sql, args, nil
}

func (g *generator) write(parts ...string) {
	for _, p := range parts {
		g.sb.WriteString(p)
	}
}

func (g *generator) quote(name string) string { return g.d.QuoteIdentifier(name) }

// bind records v and writes its marker.
func (g *generator) bind(v any) {
	g.sb.WriteByte(marker)
	g.sb.WriteString(strconv.Itoa(len(g.args)))
	g.sb.WriteByte(marker)
	g.args = append(g.args, v)
}

// number replaces markers with dialect placeholders in text order.
func (g *generator) number() (string, []any) {
	text := g.sb.String()
	var out strings.Builder
	out.Grow(len(text))
	args := make([]any, 0, len(g.args))
	for {
		i := strings.IndexByte(text, marker)
		if i < 0 {
			out.WriteString(text)
			break
		}
		j := strings.IndexByte(text[i+1:], marker) + i + 1
		k, _ := strconv.Atoi(text[i+1 : j])
		out.WriteString(text[:i])
		args = append(args, g.args[k])
		out.WriteString(g.d.Placeholder(len(args)))
		text = text[j+1:]
	}
	return out.String(), args
}

func (g *generator) statement(s *core.SelectExpression) error {
	if !s.IsProjectionFlattened() {
		return core.ErrInvariantViolation.New(fmt.Sprintf("%s is printed before its projection is applied", s))
	}
	if s.IsSetOperation() {
		return g.setOperationStatement(s)
	}

	g.write("SELECT ")
	if s.IsDistinct() {
		g.write("DISTINCT ")
	}
	w, err := g.rowWindow(s)
	if err != nil {
		return err
	}
	if w.Top != "" {
		g.write(w.Top, " ")
	}
	if err := g.projection(s.Projection()); err != nil {
		return err
	}
	if len(s.Tables()) > 0 {
		g.write(" FROM ")
		if err := g.tables(s.Tables()); err != nil {
			return err
		}
	}
	if p := s.Predicate(); p != nil {
		g.write(" WHERE ")
		if err := g.expr(p, 0); err != nil {
			return err
		}
	}
	if keys := s.GroupBy(); len(keys) > 0 {
		g.write(" GROUP BY ")
		if err := g.exprList(keys); err != nil {
			return err
		}
	}
	if h := s.Having(); h != nil {
		g.write(" HAVING ")
		if err := g.expr(h, 0); err != nil {
			return err
		}
	}
	if err := g.orderBy(s.Orderings(), w.NeedsOrder); err != nil {
		return err
	}
	if w.Suffix != "" {
		g.write(" ", w.Suffix)
	}
	return nil
}

// rowWindow renders the limit and offset operands into markers and asks the
// dialect where they go.
func (g *generator) rowWindow(s *core.SelectExpression) (dialects.RowWindow, error) {
	var limit, offset string
	for _, x := range []struct {
		e   core.SQLExpression
		out *string
	}{{s.Limit(), &limit}, {s.Offset(), &offset}} {
		if x.e == nil {
			continue
		}
		sub := &generator{d: g.d, args: g.args}
		if err := sub.expr(x.e, 0); err != nil {
			return dialects.RowWindow{}, err
		}
		g.args = sub.args
		*x.out = sub.sb.String()
	}
	return g.d.RowWindow(limit, offset), nil
}

func (g *generator) orderBy(orderings []core.Ordering, required bool) error {
	if len(orderings) == 0 {
		if required {
			g.write(" ORDER BY (SELECT 1)")
		}
		return nil
	}
	g.write(" ORDER BY ")
	for i, o := range orderings {
		if i > 0 {
			g.write(", ")
		}
		if err := g.expr(o.Expression, 0); err != nil {
			return err
		}
		if o.Ascending {
			g.write(" ASC")
		} else {
			g.write(" DESC")
		}
	}
	return nil
}

func (g *generator) projection(projection []*core.ProjectionExpression) error {
	if len(projection) == 0 {
		g.write("1")
		return nil
	}
	for i, pe := range projection {
		if i > 0 {
			g.write(", ")
		}
		if err := g.expr(pe.Expression, 0); err != nil {
			return err
		}
		if pe.Alias == "" {
			continue
		}
		if c, ok := pe.Expression.(*core.ColumnExpression); ok && c.Name == pe.Alias {
			continue
		}
		g.write(" AS ", g.quote(pe.Alias))
	}
	return nil
}

func (g *generator) tables(tables []core.TableExpression) error {
	for i, t := range tables {
		if j, ok := t.(*core.JoinExpression); ok {
			if err := g.join(j); err != nil {
				return err
			}
			continue
		}
		if i > 0 {
			g.write(", ")
		}
		if err := g.table(t); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) join(j *core.JoinExpression) error {
	g.write(" ", j.Kind.String(), " ")
	if err := g.table(j.Table); err != nil {
		return err
	}
	if j.Predicate == nil {
		if j.Kind != core.CrossJoin {
			return core.ErrInvariantViolation.New(fmt.Sprintf("%s has no join predicate", j.Kind))
		}
		return nil
	}
	g.write(" ON ")
	return g.expr(j.Predicate, 0)
}

func (g *generator) table(t core.TableExpression) error {
	switch t := t.(type) {
	case *core.TableReference:
		if t.Schema != "" {
			g.write(g.quote(t.Schema), ".")
		}
		g.write(g.quote(t.Name))
	case *core.FromSQLExpression:
		g.write("(")
		g.rawSQL(t.SQL, t.Arguments)
		g.write(")")
	case *core.SelectExpression:
		g.write("(")
		if err := g.statement(t); err != nil {
			return err
		}
		g.write(")")
	case *core.JoinExpression:
		return core.ErrInvariantViolation.New("nested join " + t.String())
	default:
		return core.ErrInvariantViolation.New(fmt.Sprintf("unknown table expression %T", t))
	}
	if t.Alias() != "" {
		g.write(" AS ", g.quote(t.Alias()))
	}
	return nil
}

// rawSQL inlines a raw fragment, binding args to its "?" placeholders in
// order. A "?" inside a quoted literal or identifier is text.
func (g *generator) rawSQL(sql string, args []any) {
	for _, arg := range args {
		i := nextPlaceholder(sql)
		if i < 0 {
			break
		}
		g.write(sql[:i])
		g.bind(arg)
		sql = sql[i+1:]
	}
	g.write(sql)
}

// nextPlaceholder returns the index of the first "?" of sql outside single
// quotes, double quotes and backticks, or -1. Doubled quotes need no special
// case: they close and reopen the span.
func nextPlaceholder(sql string) int {
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '?':
			return i
		}
	}
	return -1
}

// setOperationStatement prints "left OP right". The combined rows take the
// left operand's column names; when the builder projects anything else the
// combination is wrapped and projected from.
func (g *generator) setOperationStatement(s *core.SelectExpression) error {
	tables := s.Tables()
	if len(tables) != 2 {
		return core.ErrInvariantViolation.New(fmt.Sprintf("set operation %s has %d operands", s, len(tables)))
	}
	left, ok1 := tables[0].(*core.SelectExpression)
	right, ok2 := tables[1].(*core.SelectExpression)
	if !ok1 || !ok2 {
		return core.ErrInvariantViolation.New(fmt.Sprintf("set operation %s has a non-select operand", s))
	}

	bare := projectsOperand(s, left)
	if !bare {
		g.write("SELECT ")
		if err := g.projection(s.Projection()); err != nil {
			return err
		}
		g.write(" FROM (")
	}
	if err := g.operand(left); err != nil {
		return err
	}
	g.write(" ", s.SetOperation().String(), " ")
	if err := g.operand(right); err != nil {
		return err
	}
	if !bare {
		g.write(") AS ", g.quote(left.Alias()))
	}
	return nil
}

// operand prints one side of a set operation. Operands with their own
// ordering, row window or set operation are wrapped in a derived table.
func (g *generator) operand(s *core.SelectExpression) error {
	if len(s.Orderings()) == 0 && s.Limit() == nil && s.Offset() == nil && !s.IsSetOperation() {
		return g.statement(s)
	}
	g.write("SELECT * FROM ")
	return g.table(s)
}

func projectsOperand(s, left *core.SelectExpression) bool {
	outer, inner := s.Projection(), left.Projection()
	if len(outer) != len(inner) {
		return false
	}
	for i, pe := range outer {
		c, ok := pe.Expression.(*core.ColumnExpression)
		if !ok || c.Table != left.ID() || c.Name != inner[i].Alias {
			return false
		}
		if pe.Alias != "" && pe.Alias != c.Name {
			return false
		}
	}
	return true
}

func (g *generator) exprList(exprs []core.SQLExpression) error {
	for i, e := range exprs {
		if i > 0 {
			g.write(", ")
		}
		if err := g.expr(e, 0); err != nil {
			return err
		}
	}
	return nil
}
