package metadata

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func animalHierarchy(t *testing.T) (animal, bird, eagle, kiwi *EntityType) {
	t.Helper()
	animal = NewEntityType("Animal", "animals")
	animal.MustAddProperty("ID", "id", DefaultTypeMapping(KindInt), false)
	animal.MustAddProperty("Name", "name", DefaultTypeMapping(KindString), false)
	require.NoError(t, animal.SetPrimaryKey("ID"))

	bird = NewEntityType("Bird", "")
	require.NoError(t, bird.SetBaseType(animal))
	bird.MustAddProperty("CanFly", "can_fly", DefaultTypeMapping(KindBool), false)

	eagle = NewEntityType("Eagle", "")
	require.NoError(t, eagle.SetBaseType(bird))
	eagle.MustAddProperty("Wingspan", "wingspan", DefaultTypeMapping(KindFloat), true)

	kiwi = NewEntityType("Kiwi", "")
	require.NoError(t, kiwi.SetBaseType(bird))
	kiwi.MustAddProperty("FoundOn", "found_on", DefaultTypeMapping(KindString), true)
	return animal, bird, eagle, kiwi
}

func propertyNames(props []*Property) []string {
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Name
	}
	return names
}

// TestHierarchyProperties tests base-first then depth-first derived ordering.
func TestHierarchyProperties(t *testing.T) {
	animal, bird, eagle, _ := animalHierarchy(t)

	assert.Equal(t, []string{"ID", "Name", "CanFly", "Wingspan", "FoundOn"}, propertyNames(animal.HierarchyProperties()))
	assert.Equal(t, []string{"ID", "Name", "CanFly", "Wingspan", "FoundOn"}, propertyNames(bird.HierarchyProperties()))
	assert.Equal(t, []string{"ID", "Name", "CanFly", "Wingspan"}, propertyNames(eagle.HierarchyProperties()))
	assert.Equal(t, []string{"ID", "Name", "CanFly"}, propertyNames(bird.Properties()))
}

// TestDerivedTypeSharesRootTable tests table and key resolution through the root.
func TestDerivedTypeSharesRootTable(t *testing.T) {
	animal, _, eagle, _ := animalHierarchy(t)
	animal.WithSchema("zoo")

	assert.Equal(t, "animals", eagle.Table())
	assert.Equal(t, "zoo", eagle.Schema())
	require.Len(t, eagle.PrimaryKey(), 1)
	assert.Equal(t, "ID", eagle.PrimaryKey()[0].Name)
	assert.Same(t, animal, eagle.PrimaryKey()[0].DeclaringType())
}

// TestClosestCommonParent tests common ancestor lookup.
func TestClosestCommonParent(t *testing.T) {
	animal, bird, eagle, kiwi := animalHierarchy(t)
	other := NewEntityType("Rock", "rocks")

	assert.Same(t, bird, eagle.ClosestCommonParent(kiwi))
	assert.Same(t, bird, kiwi.ClosestCommonParent(bird))
	assert.Same(t, animal, animal.ClosestCommonParent(eagle))
	assert.Same(t, eagle, eagle.ClosestCommonParent(eagle))
	assert.Nil(t, eagle.ClosestCommonParent(other))
	assert.True(t, bird.IsAssignableFrom(kiwi))
	assert.False(t, kiwi.IsAssignableFrom(bird))
}

// TestHierarchyErrors tests duplicate and cyclic declarations.
func TestHierarchyErrors(t *testing.T) {
	animal, bird, _, _ := animalHierarchy(t)

	_, err := bird.AddProperty("Name", "name2", DefaultTypeMapping(KindString), false)
	assert.ErrorIs(t, err, ErrDuplicateProperty)

	_, err = animal.AddProperty("CanFly", "x", DefaultTypeMapping(KindBool), false)
	assert.ErrorIs(t, err, ErrDuplicateProperty)

	assert.ErrorIs(t, animal.SetBaseType(bird), ErrInvalidHierarchy)
	assert.ErrorIs(t, bird.SetPrimaryKey("CanFly"), ErrInvalidHierarchy)
	assert.ErrorIs(t, animal.SetPrimaryKey("Missing"), ErrUnknownProperty)
}

// TestNavigations tests collection and reference navigation key resolution.
func TestNavigations(t *testing.T) {
	customer := NewEntityType("Customer", "customers")
	customer.MustAddProperty("ID", "id", DefaultTypeMapping(KindInt), false)
	require.NoError(t, customer.SetPrimaryKey("ID"))

	order := NewEntityType("Order", "orders")
	order.MustAddProperty("ID", "id", DefaultTypeMapping(KindInt), false)
	order.MustAddProperty("CustomerID", "customer_id", DefaultTypeMapping(KindInt), false)
	require.NoError(t, order.SetPrimaryKey("ID"))

	orders, err := customer.AddNavigation("Orders", order, true, []string{"CustomerID"}, nil)
	require.NoError(t, err)
	assert.True(t, orders.IsCollection)
	assert.Same(t, order.FindProperty("CustomerID"), orders.ForeignKey[0])
	assert.Same(t, customer.FindProperty("ID"), orders.PrincipalKey[0])

	owner, err := order.AddNavigation("Customer", customer, false, []string{"CustomerID"}, nil)
	require.NoError(t, err)
	assert.False(t, owner.IsCollection)
	assert.Same(t, order.FindProperty("CustomerID"), owner.ForeignKey[0])
	assert.Same(t, owner, order.FindNavigation("Customer"))

	_, err = customer.AddNavigation("Bad", order, true, []string{"Nope"}, nil)
	assert.ErrorIs(t, err, ErrUnknownProperty)
}

// TestParseKind tests kind parsing.
func TestParseKind(t *testing.T) {
	k, err := ParseKind(" String ")
	require.NoError(t, err)
	assert.Equal(t, KindString, k)

	_, err = ParseKind("money")
	assert.Error(t, err)
	assert.Equal(t, "TEXT(string)", DefaultTypeMapping(KindString).String())
	assert.True(t, TypeMapping{}.IsZero())
}

type baseRecord struct {
	ID        int       `db:"id,pk"`
	CreatedAt time.Time `db:"created_at"`
}

type Vehicle struct {
	baseRecord
	Make  string
	Model sql.NullString
	Notes *string `db:"-"`
}

func (Vehicle) TableName() string { return "vehicles" }

type Truck struct {
	Vehicle
	PayloadKG float64
	Axles     *int
}

type Tag struct {
	Key   string `db:"pk"`
	Label string
}

// TestFromStruct tests struct-derived entity types.
func TestFromStruct(t *testing.T) {
	m := NewMapper()

	truck, err := m.EntityOf(&Truck{})
	require.NoError(t, err)

	vehicle := truck.BaseType()
	require.NotNil(t, vehicle)
	assert.Equal(t, "Vehicle", vehicle.Name())
	assert.Equal(t, "vehicles", truck.Table())

	assert.Equal(t, []string{"ID", "CreatedAt", "Make", "Model"}, propertyNames(vehicle.DeclaredProperties()))
	assert.Equal(t, []string{"PayloadKG", "Axles"}, propertyNames(truck.DeclaredProperties()))

	assert.Equal(t, "payload_kg", truck.FindProperty("PayloadKG").Column)
	assert.True(t, truck.FindProperty("Axles").Nullable)
	assert.True(t, truck.FindProperty("Model").Nullable)
	assert.Equal(t, KindString, truck.FindProperty("Model").Type.Kind)
	assert.Equal(t, KindTime, truck.FindProperty("CreatedAt").Type.Kind)
	require.Len(t, truck.PrimaryKey(), 1)
	assert.Equal(t, "id", truck.PrimaryKey()[0].Column)

	again, err := m.EntityOf(Truck{})
	require.NoError(t, err)
	assert.Same(t, truck, again)
}

// TestFromStructLegacyKey tests the db:"pk" key form.
func TestFromStructLegacyKey(t *testing.T) {
	tag, err := FromStruct([]Tag{})
	require.NoError(t, err)
	assert.Equal(t, "tag", tag.Table())
	require.Len(t, tag.PrimaryKey(), 1)
	assert.Equal(t, "pk", tag.PrimaryKey()[0].Column)

	_, err = FromStruct(42)
	assert.Error(t, err)
}

// TestSnakeCase tests column name derivation.
func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Name":       "name",
		"CustomerID": "customer_id",
		"HTTPServer": "http_server",
		"PayloadKG":  "payload_kg",
		"createdAt":  "created_at",
	}
	for in, want := range cases {
		assert.Equal(t, want, SnakeCase(in), in)
	}
}

// TestModel tests registration order and duplicates.
func TestModel(t *testing.T) {
	animal, bird, _, _ := animalHierarchy(t)
	m := NewModel()
	require.NoError(t, m.Add(animal, bird))
	assert.Error(t, m.Add(bird))

	got, ok := m.Entity("Bird")
	assert.True(t, ok)
	assert.Same(t, bird, got)
	assert.Equal(t, []*EntityType{animal, bird}, m.EntityTypes())
}
