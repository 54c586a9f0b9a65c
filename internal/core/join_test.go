package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSelectExpression_AddInnerJoin tests mapping merge under a shape tag.
func TestSelectExpression_AddInnerJoin(t *testing.T) {
	m := newShop(t)
	a := NewArena()
	s := a.Select(m.customer)
	o := a.Select(m.order)
	pred := Equals(column(t, s, RootMember, m.customerID), column(t, o, RootMember, m.orderCustomerID))

	require.NoError(t, s.AddInnerJoin(o, pred, JoinShape{Outer: "Customer", Inner: "Order"}))

	require.Len(t, s.Tables(), 2)
	j := s.Tables()[1].(*JoinExpression)
	assert.Equal(t, InnerJoin, j.Kind)
	assert.Equal(t, "o", j.Alias())
	assert.True(t, Equal(pred, j.Predicate))

	members := s.ProjectionMapping().Members()
	assert.Equal(t, []ProjectionMember{NewProjectionMember("Customer"), NewProjectionMember("Order")}, members)
	assert.False(t, entityAt(t, s, NewProjectionMember("Order")).Nullable())
	require.Len(t, s.Identifier(), 2)
	assert.False(t, IsNullable(s.Identifier()[1]))
}

// TestSelectExpression_AddLeftJoin tests that the inner side becomes nullable.
func TestSelectExpression_AddLeftJoin(t *testing.T) {
	m := newShop(t)
	a := NewArena()
	s := a.Select(m.customer)
	o := a.Select(m.order)
	pred := Equals(column(t, s, RootMember, m.customerID), column(t, o, RootMember, m.orderCustomerID))

	require.NoError(t, s.AddLeftJoin(o, pred, JoinShape{}))

	order := entityAt(t, s, NewProjectionMember("Inner"))
	assert.True(t, order.Nullable())
	total, err := order.BindProperty(m.orderTotal)
	require.NoError(t, err)
	assert.True(t, total.Nullable, "a required property is nullable on the outer-joined side")

	name := column(t, s, NewProjectionMember("Outer"), m.customerName)
	assert.False(t, name.Nullable)

	require.Len(t, s.Identifier(), 2)
	assert.True(t, IsNullable(s.Identifier()[1]))

	require.NoError(t, s.ApplyProjection())
	require.NoError(t, s.Validate())
	assert.Len(t, s.Projection(), 6)
	for _, pe := range s.Projection()[3:] {
		assert.True(t, IsNullable(pe.Expression), pe.Alias)
	}
}

// TestSelectExpression_AddLeftJoin_Scalars tests nullability of scalar members.
func TestSelectExpression_AddLeftJoin_Scalars(t *testing.T) {
	m := newShop(t)
	a := NewArena()
	s := a.Select(m.customer)
	o := a.Select(m.order)
	total := column(t, o, RootMember, m.orderTotal)
	pred := Equals(column(t, s, RootMember, m.customerID), column(t, o, RootMember, m.orderCustomerID))
	mapping := NewProjectionMapping()
	mapping.Set(NewProjectionMember("Total"), total)
	mapping.Set(NewProjectionMember("Double"), NewBinary(OpMultiply, total, NewConstant(2)))
	require.NoError(t, o.ReplaceProjectionMapping(mapping))

	require.NoError(t, s.AddLeftJoin(o, pred, JoinShape{Outer: "C", Inner: "O"}))

	v, err := s.GetMappedProjection(ParseProjectionMember("O.Total"))
	require.NoError(t, err)
	assert.True(t, IsNullable(v.(SQLExpression)))
	v, err = s.GetMappedProjection(ParseProjectionMember("O.Double"))
	require.NoError(t, err)
	assert.True(t, IsNullable(v.(SQLExpression)))
}

// TestSelectExpression_AddCrossJoin tests a join without a predicate.
func TestSelectExpression_AddCrossJoin(t *testing.T) {
	m := newShop(t)
	a := NewArena()
	s := a.Select(m.customer)
	o := a.Select(m.order)

	require.NoError(t, s.AddCrossJoin(o, JoinShape{}))
	j := s.Tables()[1].(*JoinExpression)
	assert.Equal(t, CrossJoin, j.Kind)
	assert.Nil(t, j.Predicate)
	assert.Equal(t, "CROSS JOIN orders AS o", j.String())
}

// TestSelectExpression_AddJoin_CollapsesInner tests that an inner with its
// own clauses joins as a subquery.
func TestSelectExpression_AddJoin_CollapsesInner(t *testing.T) {
	m := newShop(t)
	a := NewArena()
	s := a.Select(m.customer)
	o := a.Select(m.order)
	orderCustomer := column(t, o, RootMember, m.orderCustomerID)
	require.NoError(t, o.ApplyPredicate(NewBinary(OpGreaterThan, column(t, o, RootMember, m.orderTotal), NewConstant(100))))

	pred := Equals(column(t, s, RootMember, m.customerID), orderCustomer)
	require.NoError(t, s.AddInnerJoin(o, pred, JoinShape{}))

	j := s.Tables()[1].(*JoinExpression)
	sub, ok := j.Table.(*SelectExpression)
	require.True(t, ok)
	assert.NotNil(t, sub.Predicate())
	right := j.Predicate.(*BinaryExpression).Right.(*ColumnExpression)
	assert.Equal(t, sub.ID(), right.Table)
	assert.Equal(t, sub.Alias(), right.TableAlias)

	require.NoError(t, s.ApplyProjection())
	require.NoError(t, s.Validate())
}

// TestSelectExpression_AddJoin_PushesOuterWindow tests that a limited outer
// is pushed down before rows are multiplied.
func TestSelectExpression_AddJoin_PushesOuterWindow(t *testing.T) {
	m := newShop(t)
	a := NewArena()
	s := a.Select(m.customer)
	o := a.Select(m.order)
	pred := Equals(column(t, s, RootMember, m.customerID), column(t, o, RootMember, m.orderCustomerID))
	require.NoError(t, s.ApplyLimit(NewConstant(10)))

	require.NoError(t, s.AddLeftJoin(o, pred, JoinShape{}))
	outer := subqueryOf(t, s, 0)
	assert.NotNil(t, outer.Limit())
	assert.Nil(t, s.Limit())
	left := s.Tables()[1].(*JoinExpression).Predicate.(*BinaryExpression).Left.(*ColumnExpression)
	assert.Equal(t, outer.ID(), left.Table)
}

// TestSelectExpression_AddJoin_Errors tests rejected joins.
func TestSelectExpression_AddJoin_Errors(t *testing.T) {
	m := newShop(t)
	a := NewArena()
	s := a.Select(m.customer)
	pred := Equals(column(t, s, RootMember, m.customerID), NewConstant(1))

	err := s.AddInnerJoin(s, pred, JoinShape{})
	assert.True(t, IsInvariantViolation(err))

	err = s.AddLeftJoin(a.Select(m.order), nil, JoinShape{})
	assert.True(t, IsUnsupported(err))

	err = s.AddCrossJoin(a.Select(m.order), JoinShape{Outer: "X", Inner: "X"})
	assert.True(t, IsInvariantViolation(err))

	err = s.AddCrossJoin(NewArena().Select(m.order), JoinShape{})
	assert.True(t, IsInvariantViolation(err), "builders of different arenas")

	flat := a.Select(m.order)
	require.NoError(t, flat.ApplyProjection())
	err = s.AddCrossJoin(flat, JoinShape{})
	assert.True(t, IsUnsupported(err))
	assert.Len(t, s.Tables(), 1, "failed joins leave the builder untouched")
}

// TestSelectExpression_AddJoin_LosesIdentity tests that joining a keyless
// source drops the identifier.
func TestSelectExpression_AddJoin_LosesIdentity(t *testing.T) {
	m := newShop(t)
	a := NewArena()
	s := a.Select(m.customer)
	require.NoError(t, s.AddCrossJoin(a.Select(m.log), JoinShape{}))
	assert.Empty(t, s.Identifier())
}
