package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/relq/internal/metadata"
	"github.com/coregx/relq/internal/security"
)

// TestArena_Select tests the initial shape of an entity builder.
func TestArena_Select(t *testing.T) {
	m := newShop(t)
	a := NewArena()
	s := a.Select(m.customer)

	require.Len(t, s.Tables(), 1)
	table, ok := s.Tables()[0].(*TableReference)
	require.True(t, ok)
	assert.Equal(t, "customers", table.Name)
	assert.Equal(t, "c", table.Alias())
	assert.Empty(t, s.Alias())

	e := entityAt(t, s, RootMember)
	assert.Same(t, m.customer, e.EntityType)
	assert.False(t, e.Nullable())

	require.Len(t, s.Identifier(), 1)
	id := s.Identifier()[0].(*ColumnExpression)
	assert.Equal(t, "id", id.Name)
	assert.Equal(t, table.ID(), id.Table)

	// a second select over the same table gets its own alias
	s2 := a.Select(m.customer)
	assert.Equal(t, "c0", s2.Tables()[0].Alias())
	assert.NotEqual(t, s.ID(), s2.ID())
}

// TestArena_AliasesAreCaseInsensitive tests that aliases differing only in case collide.
func TestArena_AliasesAreCaseInsensitive(t *testing.T) {
	a := NewArena()
	assert.Equal(t, "c", a.Table("Customers", "").Alias())
	assert.Equal(t, "C0", a.alias("C"))
	assert.Equal(t, "c1", a.Table("carts", "").Alias())
	assert.Equal(t, "Name", a.alias("Name"))
	assert.Equal(t, "NAME0", a.alias("NAME"))
}

// TestArena_FromSQL_Validator tests raw SQL screening.
func TestArena_FromSQL_Validator(t *testing.T) {
	m := newShop(t)
	a := NewArena(WithRawSQLValidator(security.NewValidator()))

	_, err := a.FromSQL("SELECT * FROM customers; DROP TABLE customers")
	require.Error(t, err)
	assert.True(t, IsUnsupported(err))

	f, err := a.FromSQL("SELECT * FROM customers WHERE city = ?", "Oslo")
	require.NoError(t, err)
	assert.Equal(t, "s", f.Alias())
	assert.Equal(t, []any{"Oslo"}, f.Arguments)

	s, err := a.SelectFromSQL(m.customer, "SELECT id, name, city FROM customers")
	require.NoError(t, err)
	_, ok := s.Tables()[0].(*FromSQLExpression)
	assert.True(t, ok)
	assert.Equal(t, "c", s.Tables()[0].Alias())
	assert.Len(t, s.Identifier(), 1)
}

// TestSelectExpression_ApplyPredicate tests WHERE accumulation.
func TestSelectExpression_ApplyPredicate(t *testing.T) {
	m := newShop(t)
	s := NewArena().Select(m.customer)
	name := column(t, s, RootMember, m.customerName)
	city := column(t, s, RootMember, m.customerCity)

	require.NoError(t, s.ApplyPredicate(NewConstant(true)))
	assert.Nil(t, s.Predicate(), "constant true is dropped")

	p1 := Equals(name, NewConstant("Ann"))
	require.NoError(t, s.ApplyPredicate(p1))
	assert.True(t, Equal(p1, s.Predicate()))

	p2 := IsNotNull(city)
	require.NoError(t, s.ApplyPredicate(p2))
	assert.True(t, Equal(And(p1, p2), s.Predicate()))
	assert.Len(t, s.Tables(), 1, "no pushdown without a row window")
}

// TestSelectExpression_ApplyPredicate_AfterLimit tests that a filter after a
// limit moves the limited rows into a subquery.
func TestSelectExpression_ApplyPredicate_AfterLimit(t *testing.T) {
	m := newShop(t)
	s := NewArena().Select(m.customer)
	name := column(t, s, RootMember, m.customerName)

	require.NoError(t, s.ApplyLimit(NewConstant(10)))
	require.NoError(t, s.ApplyPredicate(Equals(name, NewConstant("Ann"))))

	assert.Nil(t, s.Limit())
	sub := subqueryOf(t, s, 0)
	assert.Equal(t, "t", sub.Alias())
	assert.True(t, Equal(NewConstant(10), sub.Limit()))
	assert.Nil(t, sub.Predicate())
	assert.Equal(t, []string{"id", "name", "city"}, aliases(sub.Projection()))

	pred := s.Predicate().(*BinaryExpression)
	left := pred.Left.(*ColumnExpression)
	assert.Equal(t, sub.ID(), left.Table)
	assert.Equal(t, "t", left.TableAlias)
	assert.Equal(t, "name", left.Name)

	require.Len(t, s.Identifier(), 1)
	assert.Equal(t, sub.ID(), s.Identifier()[0].(*ColumnExpression).Table)
	assert.Equal(t, sub.ID(), column(t, s, RootMember, m.customerCity).Table)
}

// TestSelectExpression_ApplyPredicate_Grouped tests that filters after grouping go to HAVING.
func TestSelectExpression_ApplyPredicate_Grouped(t *testing.T) {
	m := newShop(t)
	s := NewArena().Select(m.order)
	customerID := column(t, s, RootMember, m.orderCustomerID)

	require.NoError(t, s.ApplyOrdering(customerID, true))
	require.NoError(t, s.ApplyGrouping(customerID))
	assert.Empty(t, s.Orderings())
	assert.Len(t, s.GroupBy(), 1)
	require.Len(t, s.Identifier(), 1)
	assert.True(t, Equal(customerID, s.Identifier()[0]))

	count := &FunctionExpression{Name: "COUNT", Star: true, Type: metadata.DefaultTypeMapping(metadata.KindInt)}
	having := NewBinary(OpGreaterThan, count, NewConstant(2))
	require.NoError(t, s.ApplyPredicate(having))
	assert.Nil(t, s.Predicate())
	assert.True(t, Equal(having, s.Having()))

	// grouping a grouped select nests the first grouping
	require.NoError(t, s.ApplyGrouping(customerID))
	sub := subqueryOf(t, s, 0)
	assert.Len(t, sub.GroupBy(), 1)
	assert.NotNil(t, sub.Having())
	assert.Nil(t, s.Having())
	assert.Equal(t, sub.ID(), s.GroupBy()[0].(*ColumnExpression).Table)
}

// TestSelectExpression_ApplyGrouping_NoKeys tests the empty key error.
func TestSelectExpression_ApplyGrouping_NoKeys(t *testing.T) {
	m := newShop(t)
	err := NewArena().Select(m.order).ApplyGrouping()
	require.Error(t, err)
	assert.True(t, IsUnsupported(err))
}

// TestSelectExpression_ApplyOrdering tests ordering replacement and appending.
func TestSelectExpression_ApplyOrdering(t *testing.T) {
	m := newShop(t)
	s := NewArena().Select(m.customer)
	name := column(t, s, RootMember, m.customerName)
	city := column(t, s, RootMember, m.customerCity)

	require.NoError(t, s.ApplyOrdering(name, true))
	require.NoError(t, s.AppendOrdering(city, false))
	require.NoError(t, s.AppendOrdering(name, false))
	require.Len(t, s.Orderings(), 2, "equal keys are not appended twice")
	assert.True(t, s.Orderings()[0].Ascending)
	assert.False(t, s.Orderings()[1].Ascending)

	require.NoError(t, s.ApplyOrdering(city, true))
	require.Len(t, s.Orderings(), 1)
	assert.True(t, Equal(city, s.Orderings()[0].Expression))

	s.ClearOrdering()
	assert.Empty(t, s.Orderings())
}

// TestSelectExpression_ApplyOrdering_AfterDistinct tests that ordering a
// distinct select pushes it down and that keys outside the distinct
// projection are rejected.
func TestSelectExpression_ApplyOrdering_AfterDistinct(t *testing.T) {
	m := newShop(t)
	a := NewArena()
	s := a.Select(m.customer)
	name := column(t, s, RootMember, m.customerName)

	require.NoError(t, s.ApplyDistinct())
	require.NoError(t, s.ApplyOrdering(name, false))
	sub := subqueryOf(t, s, 0)
	assert.True(t, sub.IsDistinct())
	assert.False(t, s.IsDistinct())
	require.Len(t, s.Orderings(), 1)
	assert.Equal(t, sub.ID(), s.Orderings()[0].Expression.(*ColumnExpression).Table)

	s2 := a.Select(m.customer)
	hidden := NewColumn("secret", s2.Tables()[0], metadata.DefaultTypeMapping(metadata.KindInt), false)
	require.NoError(t, s2.ApplyDistinct())
	err := s2.ApplyOrdering(hidden, true)
	require.Error(t, err)
	assert.True(t, IsUnsupported(err))
}

// TestSelectExpression_ApplyDistinct tests that DISTINCT drops orderings.
func TestSelectExpression_ApplyDistinct(t *testing.T) {
	m := newShop(t)
	s := NewArena().Select(m.customer)
	require.NoError(t, s.ApplyOrdering(column(t, s, RootMember, m.customerName), true))
	require.NoError(t, s.ApplyDistinct())
	assert.True(t, s.IsDistinct())
	assert.Empty(t, s.Orderings())
	assert.Len(t, s.Tables(), 1)

	// distinct over a row window keeps the window inside
	require.NoError(t, s.ApplyLimit(NewConstant(3)))
	require.NoError(t, s.ApplyDistinct())
	sub := subqueryOf(t, s, 0)
	assert.NotNil(t, sub.Limit())
	assert.True(t, s.IsDistinct())
	assert.Nil(t, s.Limit())
}

// TestSelectExpression_ApplyLimitOffset tests row window composition.
func TestSelectExpression_ApplyLimitOffset(t *testing.T) {
	m := newShop(t)
	a := NewArena()

	t.Run("offset then limit stays flat", func(t *testing.T) {
		s := a.Select(m.customer)
		require.NoError(t, s.ApplyOffset(NewConstant(20)))
		require.NoError(t, s.ApplyLimit(NewConstant(10)))
		assert.Len(t, s.Tables(), 1)
		assert.NotNil(t, s.Offset())
		assert.NotNil(t, s.Limit())
	})

	t.Run("limit then offset nests", func(t *testing.T) {
		s := a.Select(m.customer)
		require.NoError(t, s.ApplyLimit(NewConstant(10)))
		require.NoError(t, s.ApplyOffset(NewConstant(20)))
		sub := subqueryOf(t, s, 0)
		assert.True(t, Equal(NewConstant(10), sub.Limit()))
		assert.Nil(t, s.Limit())
		assert.True(t, Equal(NewConstant(20), s.Offset()))
	})

	t.Run("limit then limit nests", func(t *testing.T) {
		s := a.Select(m.customer)
		require.NoError(t, s.ApplyOrdering(column(t, s, RootMember, m.customerName), true))
		require.NoError(t, s.ApplyLimit(NewConstant(10)))
		require.NoError(t, s.ApplyLimit(NewConstant(5)))
		sub := subqueryOf(t, s, 0)
		assert.True(t, Equal(NewConstant(10), sub.Limit()))
		assert.Len(t, sub.Orderings(), 1, "the window keeps its ordering")
		assert.Len(t, s.Orderings(), 1, "the ordering is lifted")
		assert.True(t, Equal(NewConstant(5), s.Limit()))
	})
}

// TestSelectExpression_ReverseOrderings tests ordering reversal with and
// without a row window.
func TestSelectExpression_ReverseOrderings(t *testing.T) {
	m := newShop(t)
	a := NewArena()

	s := a.Select(m.customer)
	require.NoError(t, s.ApplyOrdering(column(t, s, RootMember, m.customerName), true))
	require.NoError(t, s.AppendOrdering(column(t, s, RootMember, m.customerID), false))
	require.NoError(t, s.ReverseOrderings())
	assert.False(t, s.Orderings()[0].Ascending)
	assert.True(t, s.Orderings()[1].Ascending)
	assert.Len(t, s.Tables(), 1)

	w := a.Select(m.customer)
	require.NoError(t, w.ApplyOrdering(column(t, w, RootMember, m.customerName), true))
	require.NoError(t, w.ApplyLimit(NewConstant(5)))
	require.NoError(t, w.ReverseOrderings())
	sub := subqueryOf(t, w, 0)
	require.Len(t, sub.Orderings(), 1)
	assert.True(t, sub.Orderings()[0].Ascending, "the window is taken in the original order")
	require.Len(t, w.Orderings(), 1)
	assert.False(t, w.Orderings()[0].Ascending)
}

// TestSelectExpression_Frozen tests that a builder used as a table rejects mutation.
func TestSelectExpression_Frozen(t *testing.T) {
	m := newShop(t)
	a := NewArena()
	s := a.Select(m.customer)
	o := a.Select(m.order)

	pred := Equals(column(t, s, RootMember, m.customerID), column(t, o, RootMember, m.orderCustomerID))
	require.NoError(t, s.AddInnerJoin(o, pred, JoinShape{}))

	for name, err := range map[string]error{
		"predicate": o.ApplyPredicate(NewConstant(false)),
		"limit":     o.ApplyLimit(NewConstant(1)),
		"distinct":  o.ApplyDistinct(),
		"reverse":   o.ReverseOrderings(),
	} {
		require.Error(t, err, name)
		assert.True(t, IsUnsupported(err), name)
	}
	_, err := o.PushdownIntoSubquery()
	assert.True(t, IsUnsupported(err))
}

// TestSelectExpression_ProjectionMapping tests symbolic mapping access.
func TestSelectExpression_ProjectionMapping(t *testing.T) {
	m := newShop(t)
	s := NewArena().Select(m.customer)
	name := column(t, s, RootMember, m.customerName)

	mapping := NewProjectionMapping()
	mapping.Set(NewProjectionMember("Name"), name)
	mapping.Set(NewProjectionMember("Upper"), &FunctionExpression{Name: "UPPER", Arguments: []SQLExpression{name}, Type: name.Type})
	require.NoError(t, s.ReplaceProjectionMapping(mapping))

	_, err := s.GetMappedProjection(RootMember)
	require.Error(t, err)
	assert.True(t, ErrProjectionMemberNotFound.Is(err))

	v, err := s.GetMappedProjection(NewProjectionMember("Name"))
	require.NoError(t, err)
	assert.Same(t, name, v)

	_, err = s.AddToProjection(name)
	assert.True(t, IsUnsupported(err))
}

// TestSelectExpression_ApplyProjection tests flattening of entity and scalar members.
func TestSelectExpression_ApplyProjection(t *testing.T) {
	m := newShop(t)
	a := NewArena()

	s := a.Select(m.customer)
	require.NoError(t, s.ApplyProjection())
	assert.True(t, s.IsProjectionFlattened())
	assert.Equal(t, []string{"id", "name", "city"}, aliases(s.Projection()))
	assert.Equal(t, 0, s.ProjectionMapping().Len())

	b, err := s.Binding(RootMember)
	require.NoError(t, err)
	assert.Equal(t, -1, b.Index)
	assert.Equal(t, map[*metadata.Property]int{m.customerID: 0, m.customerName: 1, m.customerCity: 2}, b.Properties)

	// idempotent
	require.NoError(t, s.ApplyProjection())
	assert.Len(t, s.Projection(), 3)

	_, err = s.GetMappedProjection(RootMember)
	assert.True(t, IsUnsupported(err))

	p := a.Select(m.customer)
	name := column(t, p, RootMember, m.customerName)
	mapping := NewProjectionMapping()
	mapping.Set(NewProjectionMember("Name"), name)
	mapping.Set(NewProjectionMember("Again"), name)
	require.NoError(t, p.ReplaceProjectionMapping(mapping))
	require.NoError(t, p.ApplyProjection())
	require.Len(t, p.Projection(), 1, "equal expressions share a column")
	b1, err := p.Binding(NewProjectionMember("Name"))
	require.NoError(t, err)
	b2, err := p.Binding(NewProjectionMember("Again"))
	require.NoError(t, err)
	assert.Equal(t, b1.Index, b2.Index)

	_, err = p.Binding(NewProjectionMember("Missing"))
	assert.True(t, ErrProjectionMemberNotFound.Is(err))
}

// TestSelectExpression_AddEntityToProjection tests the per-builder entity cache.
func TestSelectExpression_AddEntityToProjection(t *testing.T) {
	m := newShop(t)
	s := NewArena().Select(m.customer)
	e := entityAt(t, s, RootMember)

	first, err := s.AddEntityToProjection(e)
	require.NoError(t, err)
	second, err := s.AddEntityToProjection(e)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, s.Projection(), 3)

	// the nullable variant is a different projection but shares columns
	nullable, err := s.AddEntityToProjection(e.MakeNullable())
	require.NoError(t, err)
	assert.Equal(t, first, nullable)
	assert.Len(t, s.Projection(), 3)
}

// TestParseSetOperation tests set operation name parsing.
func TestParseSetOperation(t *testing.T) {
	tests := []struct {
		in   string
		want SetOperationKind
	}{
		{"union", SetOperationUnion},
		{"UNION ALL", SetOperationUnionAll},
		{"union_all", SetOperationUnionAll},
		{"Intersect", SetOperationIntersect},
		{"except", SetOperationExcept},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSetOperation(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := ParseSetOperation("merge")
	assert.True(t, IsUnsupported(err))
}
