// Package metadata describes the structural shape of entity types consumed by
// the query core: table name, schema, declared properties across an
// inheritance hierarchy, primary key and navigations.
package metadata

import (
	"errors"
	"fmt"
	"strings"
)

// Predefined metadata errors.
var (
	// ErrDuplicateProperty is returned when a property name is declared twice in one hierarchy.
	ErrDuplicateProperty = errors.New("duplicate property")
	// ErrUnknownProperty is returned when a referenced property does not exist.
	ErrUnknownProperty = errors.New("unknown property")
	// ErrInvalidHierarchy is returned for cyclic or conflicting base type assignments.
	ErrInvalidHierarchy = errors.New("invalid entity hierarchy")
)

// Kind is the semantic value kind of a property or SQL expression.
type Kind int

// Supported kinds.
const (
	KindUnknown Kind = iota
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindBytes
	KindTime
)

var kindNames = map[Kind]string{
	KindUnknown: "unknown",
	KindBool:    "bool",
	KindInt:     "int",
	KindFloat:   "float",
	KindDecimal: "decimal",
	KindString:  "string",
	KindBytes:   "bytes",
	KindTime:    "time",
}

// String returns the lower-case kind name.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a kind name ("int", "string", ...) into a Kind.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown kind %q", s)
}

// TypeMapping pairs a provider storage type with the semantic kind of a value.
// The zero value means "no mapping inferred yet".
type TypeMapping struct {
	StoreType string
	Kind      Kind
}

// IsZero reports whether no mapping has been assigned.
func (m TypeMapping) IsZero() bool {
	return m.StoreType == "" && m.Kind == KindUnknown
}

// String renders the mapping for diagnostics.
func (m TypeMapping) String() string {
	if m.StoreType == "" {
		return m.Kind.String()
	}
	return m.StoreType + "(" + m.Kind.String() + ")"
}

var defaultStoreTypes = map[Kind]string{
	KindBool:    "BOOLEAN",
	KindInt:     "INTEGER",
	KindFloat:   "REAL",
	KindDecimal: "DECIMAL",
	KindString:  "TEXT",
	KindBytes:   "BLOB",
	KindTime:    "TIMESTAMP",
}

// DefaultTypeMapping returns the portable storage type for a kind.
func DefaultTypeMapping(k Kind) TypeMapping {
	return TypeMapping{StoreType: defaultStoreTypes[k], Kind: k}
}

// BoolMapping is the mapping used for predicates.
var BoolMapping = DefaultTypeMapping(KindBool)

// Property is a scalar member of an entity type mapped to one column.
type Property struct {
	Name     string
	Column   string
	Type     TypeMapping
	Nullable bool

	declaringType *EntityType
}

// DeclaringType returns the entity type that declares the property.
func (p *Property) DeclaringType() *EntityType {
	return p.declaringType
}

// String returns "Entity.Property".
func (p *Property) String() string {
	if p.declaringType == nil {
		return p.Name
	}
	return p.declaringType.name + "." + p.Name
}

// Navigation is a relationship from the declaring entity type to a target.
// For a collection navigation the foreign key lives on the target and
// references the principal key of the declaring type.
type Navigation struct {
	Name         string
	Target       *EntityType
	ForeignKey   []*Property
	PrincipalKey []*Property
	IsCollection bool

	declaringType *EntityType
}

// DeclaringType returns the entity type that declares the navigation.
func (n *Navigation) DeclaringType() *EntityType {
	return n.declaringType
}

// EntityType describes one mapped type. Derived types share the table of
// their root type (table-per-hierarchy).
type EntityType struct {
	name   string
	table  string
	schema string

	base        *EntityType
	derived     []*EntityType
	properties  []*Property
	key         []*Property
	navigations []*Navigation
}

// NewEntityType creates an entity type mapped to table.
func NewEntityType(name, table string) *EntityType {
	return &EntityType{name: name, table: table}
}

// Name returns the entity type name.
func (e *EntityType) Name() string { return e.name }

// String returns the entity type name.
func (e *EntityType) String() string { return e.name }

// Table returns the table name; derived types resolve to their root table.
func (e *EntityType) Table() string { return e.Root().table }

// Schema returns the schema of the root table (may be empty).
func (e *EntityType) Schema() string { return e.Root().schema }

// WithSchema sets the schema and returns e.
func (e *EntityType) WithSchema(schema string) *EntityType {
	e.schema = schema
	return e
}

// BaseType returns the direct base type or nil.
func (e *EntityType) BaseType() *EntityType { return e.base }

// DerivedTypes returns the direct derived types in declaration order.
func (e *EntityType) DerivedTypes() []*EntityType { return e.derived }

// Root returns the root of the hierarchy.
func (e *EntityType) Root() *EntityType {
	root := e
	for root.base != nil {
		root = root.base
	}
	return root
}

// SetBaseType makes base the direct base type of e.
func (e *EntityType) SetBaseType(base *EntityType) error {
	if e.base != nil {
		return fmt.Errorf("%w: %s already derives from %s", ErrInvalidHierarchy, e.name, e.base.name)
	}
	for t := base; t != nil; t = t.base {
		if t == e {
			return fmt.Errorf("%w: %s would derive from itself", ErrInvalidHierarchy, e.name)
		}
	}
	for _, p := range e.properties {
		if base.FindProperty(p.Name) != nil {
			return fmt.Errorf("%w: %s.%s hides a base property", ErrDuplicateProperty, e.name, p.Name)
		}
	}
	e.base = base
	base.derived = append(base.derived, e)
	return nil
}

// AddProperty declares a property on e.
func (e *EntityType) AddProperty(name, column string, mapping TypeMapping, nullable bool) (*Property, error) {
	if column == "" {
		column = name
	}
	if e.FindProperty(name) != nil || e.findDerivedProperty(name) != nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateProperty, e.name, name)
	}
	p := &Property{Name: name, Column: column, Type: mapping, Nullable: nullable, declaringType: e}
	e.properties = append(e.properties, p)
	return p, nil
}

// MustAddProperty is AddProperty that panics on error (fail fast for static models).
func (e *EntityType) MustAddProperty(name, column string, mapping TypeMapping, nullable bool) *Property {
	p, err := e.AddProperty(name, column, mapping, nullable)
	if err != nil {
		panic(err)
	}
	return p
}

// SetPrimaryKey sets the primary key by property names.
// Keys can only be declared on the root type.
func (e *EntityType) SetPrimaryKey(names ...string) error {
	if e.base != nil {
		return fmt.Errorf("%w: key must be declared on root type %s", ErrInvalidHierarchy, e.Root().name)
	}
	key := make([]*Property, 0, len(names))
	for _, n := range names {
		p := e.FindProperty(n)
		if p == nil {
			return fmt.Errorf("%w: %s.%s", ErrUnknownProperty, e.name, n)
		}
		key = append(key, p)
	}
	e.key = key
	return nil
}

// PrimaryKey returns the key properties of the hierarchy root.
func (e *EntityType) PrimaryKey() []*Property { return e.Root().key }

// DeclaredProperties returns properties declared directly on e.
func (e *EntityType) DeclaredProperties() []*Property { return e.properties }

// Properties returns base-type properties (root first) followed by e's own.
func (e *EntityType) Properties() []*Property {
	var chain []*EntityType
	for t := e; t != nil; t = t.base {
		chain = append(chain, t)
	}
	var props []*Property
	for i := len(chain) - 1; i >= 0; i-- {
		props = append(props, chain[i].properties...)
	}
	return props
}

// HierarchyProperties returns every property a row of type e may carry:
// inherited and declared properties, then properties declared on derived
// types in depth-first declaration order.
func (e *EntityType) HierarchyProperties() []*Property {
	props := e.Properties()
	var walk func(t *EntityType)
	walk = func(t *EntityType) {
		for _, d := range t.derived {
			props = append(props, d.properties...)
			walk(d)
		}
	}
	walk(e)
	return props
}

// FindProperty looks up a property declared on e or one of its base types.
func (e *EntityType) FindProperty(name string) *Property {
	for t := e; t != nil; t = t.base {
		for _, p := range t.properties {
			if p.Name == name {
				return p
			}
		}
	}
	return nil
}

// FindHierarchyProperty also searches derived types.
func (e *EntityType) FindHierarchyProperty(name string) *Property {
	if p := e.FindProperty(name); p != nil {
		return p
	}
	return e.findDerivedProperty(name)
}

func (e *EntityType) findDerivedProperty(name string) *Property {
	for _, d := range e.derived {
		for _, p := range d.properties {
			if p.Name == name {
				return p
			}
		}
		if p := d.findDerivedProperty(name); p != nil {
			return p
		}
	}
	return nil
}

// IsAssignableFrom reports whether other is e or derives from e.
func (e *EntityType) IsAssignableFrom(other *EntityType) bool {
	for t := other; t != nil; t = t.base {
		if t == e {
			return true
		}
	}
	return false
}

// ClosestCommonParent returns the nearest type both e and other derive from
// (or are), or nil when they live in different hierarchies.
func (e *EntityType) ClosestCommonParent(other *EntityType) *EntityType {
	for t := e; t != nil; t = t.base {
		if t.IsAssignableFrom(other) {
			return t
		}
	}
	return nil
}

// AddNavigation declares a navigation from e to target. foreignKey names
// properties of the dependent side, principalKey names properties of the
// principal side; for collections the dependent is target.
func (e *EntityType) AddNavigation(name string, target *EntityType, collection bool, foreignKey, principalKey []string) (*Navigation, error) {
	dependent, principal := e, target
	if collection {
		dependent, principal = target, e
	}
	if len(principalKey) == 0 {
		for _, p := range principal.PrimaryKey() {
			principalKey = append(principalKey, p.Name)
		}
	}
	if len(foreignKey) != len(principalKey) || len(foreignKey) == 0 {
		return nil, fmt.Errorf("navigation %s.%s: foreign key and principal key lengths differ", e.name, name)
	}
	nav := &Navigation{Name: name, Target: target, IsCollection: collection, declaringType: e}
	for i := range foreignKey {
		fk := dependent.FindProperty(foreignKey[i])
		if fk == nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, dependent.name, foreignKey[i])
		}
		pk := principal.FindProperty(principalKey[i])
		if pk == nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownProperty, principal.name, principalKey[i])
		}
		nav.ForeignKey = append(nav.ForeignKey, fk)
		nav.PrincipalKey = append(nav.PrincipalKey, pk)
	}
	e.navigations = append(e.navigations, nav)
	return nav, nil
}

// Navigations returns navigations declared on e and its base types.
func (e *EntityType) Navigations() []*Navigation {
	var navs []*Navigation
	for t := e; t != nil; t = t.base {
		navs = append(navs, t.navigations...)
	}
	return navs
}

// FindNavigation looks up a navigation by name.
func (e *EntityType) FindNavigation(name string) *Navigation {
	for _, n := range e.Navigations() {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// Model is a named set of entity types.
type Model struct {
	types map[string]*EntityType
	order []*EntityType
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{types: make(map[string]*EntityType)}
}

// Add registers entity types by name.
func (m *Model) Add(types ...*EntityType) error {
	for _, t := range types {
		if _, ok := m.types[t.name]; ok {
			return fmt.Errorf("entity type %q already registered", t.name)
		}
		m.types[t.name] = t
		m.order = append(m.order, t)
	}
	return nil
}

// Entity returns the entity type registered under name.
func (m *Model) Entity(name string) (*EntityType, bool) {
	t, ok := m.types[name]
	return t, ok
}

// EntityTypes returns registered types in registration order.
func (m *Model) EntityTypes() []*EntityType {
	return m.order
}
