package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/coregx/relq/internal/core"
	"github.com/coregx/relq/internal/metadata"
)

type shop struct {
	customer, order *metadata.EntityType
	orders          *metadata.Navigation
}

func newShop(t *testing.T) *shop {
	t.Helper()
	m := &shop{}
	m.customer = metadata.NewEntityType("Customer", "customers")
	m.customer.MustAddProperty("ID", "id", metadata.DefaultTypeMapping(metadata.KindInt), false)
	m.customer.MustAddProperty("Name", "name", metadata.DefaultTypeMapping(metadata.KindString), false)
	m.customer.MustAddProperty("City", "city", metadata.DefaultTypeMapping(metadata.KindString), true)
	require.NoError(t, m.customer.SetPrimaryKey("ID"))

	m.order = metadata.NewEntityType("Order", "orders")
	m.order.MustAddProperty("ID", "id", metadata.DefaultTypeMapping(metadata.KindInt), false)
	m.order.MustAddProperty("CustomerID", "customer_id", metadata.DefaultTypeMapping(metadata.KindInt), false)
	m.order.MustAddProperty("Total", "total", metadata.DefaultTypeMapping(metadata.KindDecimal), false)
	require.NoError(t, m.order.SetPrimaryKey("ID"))

	nav, err := m.customer.AddNavigation("Orders", m.order, true, []string{"CustomerID"}, nil)
	require.NoError(t, err)
	m.orders = nav
	return m
}

var shopSchema = []string{
	`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, city TEXT)`,
	`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER NOT NULL, total DECIMAL NOT NULL)`,
	`INSERT INTO customers VALUES (1, 'Ana', 'Oslo'), (2, 'Bo', 'Bergen'), (3, 'Cy', NULL)`,
	`INSERT INTO orders VALUES (10, 1, 12.5), (11, 1, 7.25), (12, 2, 3.0)`,
}

// openShop opens a seeded in-memory database. A single connection keeps
// every statement on the same in-memory database.
func openShop(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := Open("sqlite", ":memory:", append([]Option{WithMaxOpenConns(1)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range shopSchema {
		_, err := db.SQLDB().Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

// col binds the named property of the entity projected at member.
func col(t *testing.T, s *core.SelectExpression, member core.ProjectionMember, name string) *core.ColumnExpression {
	t.Helper()
	v, err := s.GetMappedProjection(member)
	require.NoError(t, err)
	e, ok := v.(*core.EntityProjectionExpression)
	require.True(t, ok)
	p := e.EntityType.FindHierarchyProperty(name)
	require.NotNil(t, p, name)
	c, err := e.BindProperty(p)
	require.NoError(t, err)
	return c
}

func customer(id int64, name string, city any) map[string]any {
	return map[string]any{"ID": id, "Name": name, "City": city}
}

func order(id, customerID int64, total float64) map[string]any {
	return map[string]any{"ID": id, "CustomerID": customerID, "Total": total}
}

func run(t *testing.T, db *DB, s *core.SelectExpression, sh core.Shaper, params map[string]any) []any {
	t.Helper()
	records, err := db.Run(context.Background(), s, sh, params)
	require.NoError(t, err)
	return records
}
