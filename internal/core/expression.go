// Copyright (c) 2025 COREGX. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/coregx/relq/internal/metadata"
)

// MappedExpression is a value held by the symbolic projection mapping:
// either an SQLExpression or an *EntityProjectionExpression.
type MappedExpression interface {
	fmt.Stringer
	mappedExpression()
}

// SQLExpression is an immutable SQL-level expression node.
//
// The variant set is closed: ColumnExpression, ConstantExpression,
// ParameterExpression, BinaryExpression, UnaryExpression, FunctionExpression,
// CaseExpression, FragmentExpression and ScalarSubqueryExpression. Code that
// switches over variants must handle all of them.
type SQLExpression interface {
	MappedExpression
	// TypeMapping returns the storage type and kind of the value.
	TypeMapping() metadata.TypeMapping
	// Children returns the direct SQL sub-expressions.
	Children() []SQLExpression
	// WithChildren returns a copy of the node with children replaced.
	WithChildren(children ...SQLExpression) (SQLExpression, error)
	sqlExpression()
}

// ColumnExpression references a column of a table in scope. Identity is the
// pair (Table, Name); TableAlias is carried for printing.
type ColumnExpression struct {
	Name       string
	Table      TableID
	TableAlias string
	Type       metadata.TypeMapping
	Nullable   bool
}

// NewColumn creates a column of table t.
func NewColumn(name string, t TableExpression, mapping metadata.TypeMapping, nullable bool) *ColumnExpression {
	return &ColumnExpression{Name: name, Table: t.ID(), TableAlias: t.Alias(), Type: mapping, Nullable: nullable}
}

// MakeNullable returns a nullable copy of the column.
func (c *ColumnExpression) MakeNullable() *ColumnExpression {
	if c.Nullable {
		return c
	}
	nc := *c
	nc.Nullable = true
	return &nc
}

func (c *ColumnExpression) TypeMapping() metadata.TypeMapping { return c.Type }
func (c *ColumnExpression) Children() []SQLExpression         { return nil }

func (c *ColumnExpression) WithChildren(children ...SQLExpression) (SQLExpression, error) {
	return withoutChildren(c, children)
}

func (c *ColumnExpression) String() string {
	if c.TableAlias == "" {
		return c.Name
	}
	return c.TableAlias + "." + c.Name
}

// ConstantExpression is a literal value. A nil Value is SQL NULL.
type ConstantExpression struct {
	Value any
	Type  metadata.TypeMapping
}

// NewConstant creates a constant with a mapping inferred from the Go value.
func NewConstant(v any) *ConstantExpression {
	return &ConstantExpression{Value: v, Type: InferTypeMapping(v)}
}

// NewNull creates a typed NULL constant.
func NewNull(mapping metadata.TypeMapping) *ConstantExpression {
	return &ConstantExpression{Type: mapping}
}

// IsNull reports whether the constant is NULL.
func (c *ConstantExpression) IsNull() bool { return c.Value == nil }

func (c *ConstantExpression) TypeMapping() metadata.TypeMapping { return c.Type }
func (c *ConstantExpression) Children() []SQLExpression         { return nil }

func (c *ConstantExpression) WithChildren(children ...SQLExpression) (SQLExpression, error) {
	return withoutChildren(c, children)
}

func (c *ConstantExpression) String() string {
	switch v := c.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	default:
		return fmt.Sprint(v)
	}
}

// ParameterExpression is a named query parameter supplied at execution time.
type ParameterExpression struct {
	Name string
	Type metadata.TypeMapping
}

func (p *ParameterExpression) TypeMapping() metadata.TypeMapping { return p.Type }
func (p *ParameterExpression) Children() []SQLExpression         { return nil }

func (p *ParameterExpression) WithChildren(children ...SQLExpression) (SQLExpression, error) {
	return withoutChildren(p, children)
}

func (p *ParameterExpression) String() string { return "@" + p.Name }

// BinaryOperator is the operator of a BinaryExpression.
type BinaryOperator int

// Binary operators.
const (
	OpEqual BinaryOperator = iota
	OpNotEqual
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpAnd
	OpOr
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpModulo
	OpLike
)

var binaryOperatorSQL = map[BinaryOperator]string{
	OpEqual:              "=",
	OpNotEqual:           "<>",
	OpLessThan:           "<",
	OpLessThanOrEqual:    "<=",
	OpGreaterThan:        ">",
	OpGreaterThanOrEqual: ">=",
	OpAnd:                "AND",
	OpOr:                 "OR",
	OpAdd:                "+",
	OpSubtract:           "-",
	OpMultiply:           "*",
	OpDivide:             "/",
	OpModulo:             "%",
	OpLike:               "LIKE",
}

// String returns the SQL spelling of the operator.
func (op BinaryOperator) String() string {
	if s, ok := binaryOperatorSQL[op]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// ParseBinaryOperator converts an SQL operator spelling into a BinaryOperator.
func ParseBinaryOperator(s string) (BinaryOperator, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "!=" {
		return OpNotEqual, nil
	}
	for op, sql := range binaryOperatorSQL {
		if sql == s {
			return op, nil
		}
	}
	return 0, ErrUnsupported.New(fmt.Sprintf("binary operator %q", s))
}

// IsComparison reports whether the operator yields a boolean from two operands.
func (op BinaryOperator) IsComparison() bool {
	switch op {
	case OpEqual, OpNotEqual, OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLike:
		return true
	}
	return false
}

// IsLogical reports whether the operator is AND or OR.
func (op BinaryOperator) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

// BinaryExpression applies a binary operator.
type BinaryExpression struct {
	Operator BinaryOperator
	Left     SQLExpression
	Right    SQLExpression
	Type     metadata.TypeMapping
}

// NewBinary creates a binary expression. Comparisons and logical operators
// are typed bool; arithmetic takes the left operand's mapping.
func NewBinary(op BinaryOperator, left, right SQLExpression) *BinaryExpression {
	mapping := left.TypeMapping()
	if op.IsComparison() || op.IsLogical() {
		mapping = metadata.BoolMapping
	} else if mapping.IsZero() {
		mapping = right.TypeMapping()
	}
	return &BinaryExpression{Operator: op, Left: left, Right: right, Type: mapping}
}

// Equals creates left = right.
func Equals(left, right SQLExpression) *BinaryExpression {
	return NewBinary(OpEqual, left, right)
}

// And folds expressions with AND. Nil operands are skipped; a nil result
// means "no condition".
func And(exprs ...SQLExpression) SQLExpression {
	var result SQLExpression
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if result == nil {
			result = e
			continue
		}
		result = NewBinary(OpAnd, result, e)
	}
	return result
}

// Or folds expressions with OR, skipping nil operands.
func Or(exprs ...SQLExpression) SQLExpression {
	var result SQLExpression
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if result == nil {
			result = e
			continue
		}
		result = NewBinary(OpOr, result, e)
	}
	return result
}

func (b *BinaryExpression) TypeMapping() metadata.TypeMapping { return b.Type }
func (b *BinaryExpression) Children() []SQLExpression         { return []SQLExpression{b.Left, b.Right} }

func (b *BinaryExpression) WithChildren(children ...SQLExpression) (SQLExpression, error) {
	if len(children) != 2 {
		return nil, ErrInvariantViolation.New(fmt.Sprintf("binary expression expects 2 children, got %d", len(children)))
	}
	nb := *b
	nb.Left, nb.Right = children[0], children[1]
	return &nb, nil
}

func (b *BinaryExpression) String() string {
	return "(" + b.Left.String() + " " + b.Operator.String() + " " + b.Right.String() + ")"
}

// UnaryOperator is the operator of a UnaryExpression.
type UnaryOperator int

// Unary operators.
const (
	OpNot UnaryOperator = iota
	OpNegate
	OpIsNull
	OpIsNotNull
)

// String returns the operator name.
func (op UnaryOperator) String() string {
	switch op {
	case OpNot:
		return "NOT"
	case OpNegate:
		return "-"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	}
	return fmt.Sprintf("unary(%d)", int(op))
}

// UnaryExpression applies a unary operator.
type UnaryExpression struct {
	Operator UnaryOperator
	Operand  SQLExpression
	Type     metadata.TypeMapping
}

// NewUnary creates a unary expression.
func NewUnary(op UnaryOperator, operand SQLExpression) *UnaryExpression {
	mapping := metadata.BoolMapping
	if op == OpNegate {
		mapping = operand.TypeMapping()
	}
	return &UnaryExpression{Operator: op, Operand: operand, Type: mapping}
}

// Not negates a predicate.
func Not(e SQLExpression) *UnaryExpression { return NewUnary(OpNot, e) }

// IsNull creates "e IS NULL".
func IsNull(e SQLExpression) *UnaryExpression { return NewUnary(OpIsNull, e) }

// IsNotNull creates "e IS NOT NULL".
func IsNotNull(e SQLExpression) *UnaryExpression { return NewUnary(OpIsNotNull, e) }

func (u *UnaryExpression) TypeMapping() metadata.TypeMapping { return u.Type }
func (u *UnaryExpression) Children() []SQLExpression         { return []SQLExpression{u.Operand} }

func (u *UnaryExpression) WithChildren(children ...SQLExpression) (SQLExpression, error) {
	if len(children) != 1 {
		return nil, ErrInvariantViolation.New(fmt.Sprintf("unary expression expects 1 child, got %d", len(children)))
	}
	nu := *u
	nu.Operand = children[0]
	return &nu, nil
}

func (u *UnaryExpression) String() string {
	switch u.Operator {
	case OpIsNull, OpIsNotNull:
		return "(" + u.Operand.String() + " " + u.Operator.String() + ")"
	case OpNot:
		return "(NOT " + u.Operand.String() + ")"
	default:
		return "(" + u.Operator.String() + u.Operand.String() + ")"
	}
}

// FunctionExpression calls a SQL function by name. Star renders "name(*)".
type FunctionExpression struct {
	Name      string
	Arguments []SQLExpression
	Star      bool
	Type      metadata.TypeMapping
	Nullable  bool
}

func (f *FunctionExpression) TypeMapping() metadata.TypeMapping { return f.Type }
func (f *FunctionExpression) Children() []SQLExpression         { return f.Arguments }

func (f *FunctionExpression) WithChildren(children ...SQLExpression) (SQLExpression, error) {
	if len(children) != len(f.Arguments) {
		return nil, ErrInvariantViolation.New(fmt.Sprintf("function %s expects %d children, got %d", f.Name, len(f.Arguments), len(children)))
	}
	nf := *f
	nf.Arguments = children
	return &nf, nil
}

func (f *FunctionExpression) String() string {
	if f.Star {
		return f.Name + "(*)"
	}
	args := make([]string, len(f.Arguments))
	for i, a := range f.Arguments {
		args[i] = a.String()
	}
	return f.Name + "(" + strings.Join(args, ", ") + ")"
}

// CaseWhen is one WHEN/THEN arm of a CaseExpression.
type CaseWhen struct {
	When SQLExpression
	Then SQLExpression
}

// CaseExpression is a searched CASE expression.
type CaseExpression struct {
	Whens []CaseWhen
	Else  SQLExpression
	Type  metadata.TypeMapping
}

// NewCase creates a searched CASE; elseResult may be nil.
func NewCase(whens []CaseWhen, elseResult SQLExpression) *CaseExpression {
	var mapping metadata.TypeMapping
	if len(whens) > 0 {
		mapping = whens[0].Then.TypeMapping()
	}
	return &CaseExpression{Whens: whens, Else: elseResult, Type: mapping}
}

func (c *CaseExpression) TypeMapping() metadata.TypeMapping { return c.Type }

func (c *CaseExpression) Children() []SQLExpression {
	children := make([]SQLExpression, 0, len(c.Whens)*2+1)
	for _, w := range c.Whens {
		children = append(children, w.When, w.Then)
	}
	if c.Else != nil {
		children = append(children, c.Else)
	}
	return children
}

func (c *CaseExpression) WithChildren(children ...SQLExpression) (SQLExpression, error) {
	want := len(c.Whens) * 2
	if c.Else != nil {
		want++
	}
	if len(children) != want {
		return nil, ErrInvariantViolation.New(fmt.Sprintf("case expression expects %d children, got %d", want, len(children)))
	}
	nc := *c
	nc.Whens = make([]CaseWhen, len(c.Whens))
	for i := range c.Whens {
		nc.Whens[i] = CaseWhen{When: children[2*i], Then: children[2*i+1]}
	}
	if c.Else != nil {
		nc.Else = children[want-1]
	}
	return &nc, nil
}

func (c *CaseExpression) String() string {
	var sb strings.Builder
	sb.WriteString("CASE")
	for _, w := range c.Whens {
		sb.WriteString(" WHEN " + w.When.String() + " THEN " + w.Then.String())
	}
	if c.Else != nil {
		sb.WriteString(" ELSE " + c.Else.String())
	}
	sb.WriteString(" END")
	return sb.String()
}

// FragmentExpression is raw SQL embedded verbatim.
type FragmentExpression struct {
	SQL string
}

func (f *FragmentExpression) TypeMapping() metadata.TypeMapping { return metadata.TypeMapping{} }
func (f *FragmentExpression) Children() []SQLExpression         { return nil }

func (f *FragmentExpression) WithChildren(children ...SQLExpression) (SQLExpression, error) {
	return withoutChildren(f, children)
}

func (f *FragmentExpression) String() string { return f.SQL }

// ScalarSubqueryExpression embeds a single-column SELECT as a value. The
// subquery may reference tables of enclosing builders.
type ScalarSubqueryExpression struct {
	Subquery *SelectExpression
	Type     metadata.TypeMapping
}

func (s *ScalarSubqueryExpression) TypeMapping() metadata.TypeMapping { return s.Type }
func (s *ScalarSubqueryExpression) Children() []SQLExpression         { return nil }

func (s *ScalarSubqueryExpression) WithChildren(children ...SQLExpression) (SQLExpression, error) {
	return withoutChildren(s, children)
}

func (s *ScalarSubqueryExpression) String() string {
	return "(subquery " + s.Subquery.String() + ")"
}

func withoutChildren(e SQLExpression, children []SQLExpression) (SQLExpression, error) {
	if len(children) != 0 {
		return nil, ErrInvariantViolation.New(fmt.Sprintf("%T expects no children, got %d", e, len(children)))
	}
	return e, nil
}

func (*ColumnExpression) sqlExpression()         {}
func (*ConstantExpression) sqlExpression()       {}
func (*ParameterExpression) sqlExpression()      {}
func (*BinaryExpression) sqlExpression()         {}
func (*UnaryExpression) sqlExpression()          {}
func (*FunctionExpression) sqlExpression()       {}
func (*CaseExpression) sqlExpression()           {}
func (*FragmentExpression) sqlExpression()       {}
func (*ScalarSubqueryExpression) sqlExpression() {}

func (*ColumnExpression) mappedExpression()         {}
func (*ConstantExpression) mappedExpression()       {}
func (*ParameterExpression) mappedExpression()      {}
func (*BinaryExpression) mappedExpression()         {}
func (*UnaryExpression) mappedExpression()          {}
func (*FunctionExpression) mappedExpression()       {}
func (*CaseExpression) mappedExpression()           {}
func (*FragmentExpression) mappedExpression()       {}
func (*ScalarSubqueryExpression) mappedExpression() {}

// Equal reports structural equality. Columns are equal when they reference
// the same column of the same table; nullability does not take part.
func Equal(a, b SQLExpression) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a == b {
		return true
	}
	switch x := a.(type) {
	case *ColumnExpression:
		y, ok := b.(*ColumnExpression)
		return ok && x.Table == y.Table && x.Name == y.Name
	case *ConstantExpression:
		y, ok := b.(*ConstantExpression)
		return ok && x.Type == y.Type && reflect.DeepEqual(x.Value, y.Value)
	case *ParameterExpression:
		y, ok := b.(*ParameterExpression)
		return ok && x.Name == y.Name
	case *BinaryExpression:
		y, ok := b.(*BinaryExpression)
		return ok && x.Operator == y.Operator && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	case *UnaryExpression:
		y, ok := b.(*UnaryExpression)
		return ok && x.Operator == y.Operator && Equal(x.Operand, y.Operand)
	case *FunctionExpression:
		y, ok := b.(*FunctionExpression)
		if !ok || !strings.EqualFold(x.Name, y.Name) || x.Star != y.Star || len(x.Arguments) != len(y.Arguments) {
			return false
		}
		for i := range x.Arguments {
			if !Equal(x.Arguments[i], y.Arguments[i]) {
				return false
			}
		}
		return true
	case *CaseExpression:
		y, ok := b.(*CaseExpression)
		if !ok || len(x.Whens) != len(y.Whens) || !Equal(x.Else, y.Else) {
			return false
		}
		for i := range x.Whens {
			if !Equal(x.Whens[i].When, y.Whens[i].When) || !Equal(x.Whens[i].Then, y.Whens[i].Then) {
				return false
			}
		}
		return true
	case *FragmentExpression:
		y, ok := b.(*FragmentExpression)
		return ok && x.SQL == y.SQL
	case *ScalarSubqueryExpression:
		y, ok := b.(*ScalarSubqueryExpression)
		return ok && x.Subquery == y.Subquery
	}
	return false
}

// IsNullable reports whether e may evaluate to NULL.
func IsNullable(e SQLExpression) bool {
	switch x := e.(type) {
	case *ColumnExpression:
		return x.Nullable
	case *ConstantExpression:
		return x.Value == nil
	case *ParameterExpression:
		return true
	case *FunctionExpression:
		if x.Nullable {
			return true
		}
		for _, a := range x.Arguments {
			if IsNullable(a) {
				return true
			}
		}
		return false
	case *UnaryExpression:
		if x.Operator == OpIsNull || x.Operator == OpIsNotNull {
			return false
		}
		return IsNullable(x.Operand)
	case *BinaryExpression:
		return IsNullable(x.Left) || IsNullable(x.Right)
	case *CaseExpression:
		if x.Else == nil {
			return true
		}
		for _, w := range x.Whens {
			if IsNullable(w.Then) {
				return true
			}
		}
		return IsNullable(x.Else)
	default:
		return true
	}
}

// InferTypeMapping returns the default mapping for a Go value.
func InferTypeMapping(v any) metadata.TypeMapping {
	switch v.(type) {
	case nil:
		return metadata.TypeMapping{}
	case bool:
		return metadata.DefaultTypeMapping(metadata.KindBool)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return metadata.DefaultTypeMapping(metadata.KindInt)
	case float32, float64:
		return metadata.DefaultTypeMapping(metadata.KindFloat)
	case string:
		return metadata.DefaultTypeMapping(metadata.KindString)
	case []byte:
		return metadata.DefaultTypeMapping(metadata.KindBytes)
	case time.Time:
		return metadata.DefaultTypeMapping(metadata.KindTime)
	default:
		return metadata.TypeMapping{}
	}
}

func isTrueConstant(e SQLExpression) bool {
	c, ok := e.(*ConstantExpression)
	if !ok {
		return false
	}
	b, ok := c.Value.(bool)
	return ok && b
}
