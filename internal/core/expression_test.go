package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/relq/internal/metadata"
)

func testColumns() (a, b *ColumnExpression) {
	t := &TableReference{Name: "items", id: 1, alias: "i"}
	a = NewColumn("a", t, metadata.DefaultTypeMapping(metadata.KindInt), false)
	b = NewColumn("b", t, metadata.DefaultTypeMapping(metadata.KindInt), true)
	return a, b
}

// TestEqual tests structural equality across variants.
func TestEqual(t *testing.T) {
	a, b := testColumns()

	tests := []struct {
		name string
		x, y SQLExpression
		want bool
	}{
		{"same column", a, NewColumn("a", &TableReference{id: 1, alias: "i"}, a.Type, false), true},
		{"nullability ignored", a, a.MakeNullable(), true},
		{"other table", a, NewColumn("a", &TableReference{id: 2, alias: "j"}, a.Type, false), false},
		{"constants", NewConstant(1), NewConstant(1), true},
		{"constant kinds", NewConstant(1), NewConstant("1"), false},
		{"binary", Equals(a, b), Equals(a, b), true},
		{"binary operands swapped", Equals(a, b), Equals(b, a), false},
		{"unary", IsNull(a), IsNull(a), true},
		{"function case-insensitive", &FunctionExpression{Name: "upper", Arguments: []SQLExpression{a}}, &FunctionExpression{Name: "UPPER", Arguments: []SQLExpression{a}}, true},
		{"star function", &FunctionExpression{Name: "COUNT", Star: true}, &FunctionExpression{Name: "COUNT"}, false},
		{"case", NewCase([]CaseWhen{{When: IsNull(b), Then: NewConstant(0)}}, b), NewCase([]CaseWhen{{When: IsNull(b), Then: NewConstant(0)}}, b), true},
		{"fragment", &FragmentExpression{SQL: "now()"}, &FragmentExpression{SQL: "now()"}, true},
		{"parameter", &ParameterExpression{Name: "p"}, &ParameterExpression{Name: "q"}, false},
		{"nil", nil, nil, true},
		{"nil against column", nil, a, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.x, tt.y))
		})
	}
}

// TestIsNullable tests nullability propagation.
func TestIsNullable(t *testing.T) {
	a, b := testColumns()

	assert.False(t, IsNullable(a))
	assert.True(t, IsNullable(b))
	assert.True(t, IsNullable(NewNull(a.Type)))
	assert.False(t, IsNullable(NewConstant(3)))
	assert.True(t, IsNullable(NewBinary(OpAdd, a, b)))
	assert.False(t, IsNullable(IsNull(b)))
	assert.True(t, IsNullable(NewCase([]CaseWhen{{When: IsNull(b), Then: a}}, nil)))
	assert.False(t, IsNullable(NewCase([]CaseWhen{{When: IsNull(b), Then: a}}, NewConstant(0))))
	assert.True(t, IsNullable(&FunctionExpression{Name: "MAX", Arguments: []SQLExpression{a}, Nullable: true}))
}

// TestAnd tests folding with nil operands.
func TestAnd(t *testing.T) {
	a, b := testColumns()
	assert.Nil(t, And())
	assert.Nil(t, And(nil, nil))
	assert.Same(t, a, And(nil, a))
	assert.Equal(t, "((i.a AND i.b) AND i.a)", And(a, nil, b, a).String())
	assert.Equal(t, "(i.a OR i.b)", Or(a, b).String())
}

// TestNewBinary_TypeMapping tests result type inference.
func TestNewBinary_TypeMapping(t *testing.T) {
	a, _ := testColumns()
	assert.Equal(t, metadata.BoolMapping, Equals(a, NewConstant(1)).TypeMapping())
	assert.Equal(t, a.Type, NewBinary(OpAdd, a, NewConstant(1)).TypeMapping())
	assert.Equal(t, a.Type, NewBinary(OpAdd, NewNull(metadata.TypeMapping{}), a).TypeMapping())
}

// TestParseBinaryOperator tests operator spelling lookup.
func TestParseBinaryOperator(t *testing.T) {
	for spelling, want := range map[string]BinaryOperator{
		"=": OpEqual, "<>": OpNotEqual, "!=": OpNotEqual, ">=": OpGreaterThanOrEqual,
		"and": OpAnd, "like": OpLike, "%": OpModulo,
	} {
		got, err := ParseBinaryOperator(spelling)
		require.NoError(t, err, spelling)
		assert.Equal(t, want, got, spelling)
	}
	_, err := ParseBinaryOperator("<=>")
	assert.True(t, IsUnsupported(err))
}

// TestInferTypeMapping tests mappings of Go values.
func TestInferTypeMapping(t *testing.T) {
	assert.Equal(t, metadata.KindInt, InferTypeMapping(int64(1)).Kind)
	assert.Equal(t, metadata.KindString, InferTypeMapping("x").Kind)
	assert.Equal(t, metadata.KindTime, InferTypeMapping(time.Now()).Kind)
	assert.Equal(t, metadata.KindBytes, InferTypeMapping([]byte("x")).Kind)
	assert.True(t, InferTypeMapping(nil).IsZero())
	assert.True(t, InferTypeMapping(struct{}{}).IsZero())
}

// TestConstantExpression_String tests literal rendering for diagnostics.
func TestConstantExpression_String(t *testing.T) {
	assert.Equal(t, "NULL", NewNull(metadata.TypeMapping{}).String())
	assert.Equal(t, "'it''s'", NewConstant("it's").String())
	assert.Equal(t, "42", NewConstant(42).String())
}

// TestWithChildren_Arity tests that leaves and fixed-arity nodes reject wrong child counts.
func TestWithChildren_Arity(t *testing.T) {
	a, b := testColumns()
	_, err := a.WithChildren(b)
	assert.True(t, IsInvariantViolation(err))
	_, err = Equals(a, b).WithChildren(a)
	assert.True(t, IsInvariantViolation(err))
	_, err = IsNull(a).WithChildren()
	assert.True(t, IsInvariantViolation(err))
}

// TestErrorKinds tests kind matching through wrapping.
func TestErrorKinds(t *testing.T) {
	err := ErrUnsupported.New("lateral join")
	assert.True(t, IsUnsupported(err))
	assert.False(t, IsInvariantViolation(err))
	assert.Equal(t, "unsupported construct: lateral join", err.Error())

	wrapped := fmt.Errorf("translate: %w", err)
	assert.True(t, IsUnsupported(wrapped))
	assert.True(t, errors.Is(wrapped, err))

	assert.False(t, IsUnsupported(nil))
	assert.False(t, IsUnsupported(errors.New("unsupported construct: x")))
}
