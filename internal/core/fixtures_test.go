package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coregx/relq/internal/metadata"
)

// shop is a two-table model: customers own orders.
type shop struct {
	customer, order, log *metadata.EntityType

	customerID, customerName, customerCity *metadata.Property
	orderID, orderCustomerID, orderTotal   *metadata.Property

	orders *metadata.Navigation
}

func newShop(t *testing.T) *shop {
	t.Helper()
	m := &shop{}

	m.customer = metadata.NewEntityType("Customer", "customers")
	m.customerID = m.customer.MustAddProperty("ID", "id", metadata.DefaultTypeMapping(metadata.KindInt), false)
	m.customerName = m.customer.MustAddProperty("Name", "name", metadata.DefaultTypeMapping(metadata.KindString), false)
	m.customerCity = m.customer.MustAddProperty("City", "city", metadata.DefaultTypeMapping(metadata.KindString), true)
	require.NoError(t, m.customer.SetPrimaryKey("ID"))

	m.order = metadata.NewEntityType("Order", "orders")
	m.orderID = m.order.MustAddProperty("ID", "id", metadata.DefaultTypeMapping(metadata.KindInt), false)
	m.orderCustomerID = m.order.MustAddProperty("CustomerID", "customer_id", metadata.DefaultTypeMapping(metadata.KindInt), false)
	m.orderTotal = m.order.MustAddProperty("Total", "total", metadata.DefaultTypeMapping(metadata.KindDecimal), false)
	require.NoError(t, m.order.SetPrimaryKey("ID"))

	// no key: rows of a log cannot be told apart
	m.log = metadata.NewEntityType("Log", "logs")
	m.log.MustAddProperty("Message", "message", metadata.DefaultTypeMapping(metadata.KindString), false)

	nav, err := m.customer.AddNavigation("Orders", m.order, true, []string{"CustomerID"}, nil)
	require.NoError(t, err)
	m.orders = nav
	return m
}

// zoo is a table-per-hierarchy model: Animal <- Bird <- {Eagle, Kiwi}.
type zoo struct {
	animal, bird, eagle, kiwi *metadata.EntityType
}

func newZoo(t *testing.T) *zoo {
	t.Helper()
	z := &zoo{}
	z.animal = metadata.NewEntityType("Animal", "animals")
	z.animal.MustAddProperty("ID", "id", metadata.DefaultTypeMapping(metadata.KindInt), false)
	z.animal.MustAddProperty("Name", "name", metadata.DefaultTypeMapping(metadata.KindString), false)
	require.NoError(t, z.animal.SetPrimaryKey("ID"))

	z.bird = metadata.NewEntityType("Bird", "")
	require.NoError(t, z.bird.SetBaseType(z.animal))
	z.bird.MustAddProperty("CanFly", "can_fly", metadata.DefaultTypeMapping(metadata.KindBool), false)

	z.eagle = metadata.NewEntityType("Eagle", "")
	require.NoError(t, z.eagle.SetBaseType(z.bird))
	z.eagle.MustAddProperty("Wingspan", "wingspan", metadata.DefaultTypeMapping(metadata.KindFloat), true)

	z.kiwi = metadata.NewEntityType("Kiwi", "")
	require.NoError(t, z.kiwi.SetBaseType(z.bird))
	z.kiwi.MustAddProperty("FoundOn", "found_on", metadata.DefaultTypeMapping(metadata.KindString), true)
	return z
}

// entityAt returns the entity projection mapped at member.
func entityAt(t *testing.T, s *SelectExpression, member ProjectionMember) *EntityProjectionExpression {
	t.Helper()
	v, err := s.GetMappedProjection(member)
	require.NoError(t, err)
	e, ok := v.(*EntityProjectionExpression)
	require.True(t, ok, "member %s maps to %T", member, v)
	return e
}

// column binds p on the entity mapped at member.
func column(t *testing.T, s *SelectExpression, member ProjectionMember, p *metadata.Property) *ColumnExpression {
	t.Helper()
	c, err := entityAt(t, s, member).BindProperty(p)
	require.NoError(t, err)
	return c
}

func subqueryOf(t *testing.T, s *SelectExpression, i int) *SelectExpression {
	t.Helper()
	require.Greater(t, len(s.Tables()), i)
	sub, ok := UnwrapJoin(s.Tables()[i]).(*SelectExpression)
	require.True(t, ok, "table %d is %T", i, s.Tables()[i])
	return sub
}

func aliases(projection []*ProjectionExpression) []string {
	out := make([]string, len(projection))
	for i, pe := range projection {
		out[i] = pe.Alias
	}
	return out
}
