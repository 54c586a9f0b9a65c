package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/hashstructure"

	"github.com/coregx/relq/internal/metadata"
)

// ProjectionMember is a symbolic path of member names addressing one logical
// output slot before finalization ("Customer.Name"). The zero value is the
// root member. Members are comparable and usable as map keys.
type ProjectionMember struct {
	path string
}

// RootMember is the empty path.
var RootMember = ProjectionMember{}

// NewProjectionMember creates a member from path segments. Segments must not
// contain dots.
func NewProjectionMember(names ...string) ProjectionMember {
	return ProjectionMember{path: strings.Join(names, ".")}
}

// ParseProjectionMember parses a dotted path ("Outer.City").
func ParseProjectionMember(path string) ProjectionMember {
	return ProjectionMember{path: strings.Trim(path, ".")}
}

// Append returns the member extended by name.
func (m ProjectionMember) Append(name string) ProjectionMember {
	if m.path == "" {
		return ProjectionMember{path: name}
	}
	return ProjectionMember{path: m.path + "." + name}
}

// Prepend returns the member nested under name.
func (m ProjectionMember) Prepend(name string) ProjectionMember {
	if m.path == "" {
		return ProjectionMember{path: name}
	}
	return ProjectionMember{path: name + "." + m.path}
}

// Segments returns the path segments; nil for the root.
func (m ProjectionMember) Segments() []string {
	if m.path == "" {
		return nil
	}
	return strings.Split(m.path, ".")
}

// Last returns the last segment, or "" for the root.
func (m ProjectionMember) Last() string {
	if i := strings.LastIndexByte(m.path, '.'); i >= 0 {
		return m.path[i+1:]
	}
	return m.path
}

// IsRoot reports whether m is the empty path.
func (m ProjectionMember) IsRoot() bool { return m.path == "" }

func (m ProjectionMember) String() string {
	if m.path == "" {
		return "$"
	}
	return m.path
}

// ProjectionMapping is an insertion-ordered map from projection members to
// mapped expressions.
type ProjectionMapping struct {
	members []ProjectionMember
	values  map[ProjectionMember]MappedExpression
}

// NewProjectionMapping creates an empty mapping.
func NewProjectionMapping() *ProjectionMapping {
	return &ProjectionMapping{values: make(map[ProjectionMember]MappedExpression)}
}

// Set maps member to v, keeping the original position of an existing member.
func (m *ProjectionMapping) Set(member ProjectionMember, v MappedExpression) {
	if _, ok := m.values[member]; !ok {
		m.members = append(m.members, member)
	}
	m.values[member] = v
}

// Get returns the expression mapped to member.
func (m *ProjectionMapping) Get(member ProjectionMember) (MappedExpression, bool) {
	v, ok := m.values[member]
	return v, ok
}

// Members returns members in insertion order.
func (m *ProjectionMapping) Members() []ProjectionMember { return m.members }

// Len returns the number of members.
func (m *ProjectionMapping) Len() int { return len(m.members) }

func (m *ProjectionMapping) clone() *ProjectionMapping {
	c := NewProjectionMapping()
	for _, member := range m.members {
		c.Set(member, m.values[member])
	}
	return c
}

func (m *ProjectionMapping) sameMembers(other *ProjectionMapping) bool {
	if len(m.members) != len(other.members) {
		return false
	}
	for _, member := range m.members {
		if _, ok := other.values[member]; !ok {
			return false
		}
	}
	return true
}

// ProjectionExpression is one finalized output column.
type ProjectionExpression struct {
	Expression SQLExpression
	Alias      string
}

func (p *ProjectionExpression) String() string {
	if p.Alias == "" {
		return p.Expression.String()
	}
	return p.Expression.String() + " AS " + p.Alias
}

// EntityProjectionExpression stands for a whole entity in the projection.
// It is either backed by a table (columns derived from property metadata on
// demand) or by an explicit property-to-column map (after pushdown, joins
// and set operations).
type EntityProjectionExpression struct {
	EntityType *metadata.EntityType

	table    TableExpression
	columns  map[*metadata.Property]*ColumnExpression
	nullable bool
}

// NewEntityProjection creates a table-backed entity projection.
func NewEntityProjection(et *metadata.EntityType, table TableExpression, nullable bool) *EntityProjectionExpression {
	return &EntityProjectionExpression{EntityType: et, table: UnwrapJoin(table), nullable: nullable}
}

func newMappedEntityProjection(et *metadata.EntityType, columns map[*metadata.Property]*ColumnExpression, nullable bool) *EntityProjectionExpression {
	return &EntityProjectionExpression{EntityType: et, columns: columns, nullable: nullable}
}

// Nullable reports whether the whole entity may be absent (outer join side).
func (e *EntityProjectionExpression) Nullable() bool { return e.nullable }

// Table returns the backing table, or nil for a map-backed projection.
func (e *EntityProjectionExpression) Table() TableExpression { return e.table }

// Properties returns the properties the projection expands to.
func (e *EntityProjectionExpression) Properties() []*metadata.Property {
	return e.EntityType.HierarchyProperties()
}

// BindProperty returns the column holding p.
func (e *EntityProjectionExpression) BindProperty(p *metadata.Property) (*ColumnExpression, error) {
	declaring := p.DeclaringType()
	if !e.EntityType.IsAssignableFrom(declaring) && !declaring.IsAssignableFrom(e.EntityType) {
		return nil, ErrInvariantViolation.New(fmt.Sprintf("property %s is not part of the hierarchy of %s", p, e.EntityType.Name()))
	}
	if e.table != nil {
		nullable := e.nullable || p.Nullable || !declaring.IsAssignableFrom(e.EntityType)
		return &ColumnExpression{
			Name:       p.Column,
			Table:      e.table.ID(),
			TableAlias: e.table.Alias(),
			Type:       p.Type,
			Nullable:   nullable,
		}, nil
	}
	col, ok := e.columns[p]
	if !ok {
		return nil, ErrInvariantViolation.New(fmt.Sprintf("property %s is not mapped in entity projection of %s", p, e.EntityType.Name()))
	}
	if e.nullable {
		return col.MakeNullable(), nil
	}
	return col, nil
}

// MakeNullable returns a copy whose columns are all nullable.
func (e *EntityProjectionExpression) MakeNullable() *EntityProjectionExpression {
	if e.nullable {
		return e
	}
	ne := *e
	ne.nullable = true
	if e.columns != nil {
		ne.columns = make(map[*metadata.Property]*ColumnExpression, len(e.columns))
		for p, c := range e.columns {
			ne.columns[p] = c.MakeNullable()
		}
	}
	return &ne
}

func (e *EntityProjectionExpression) String() string {
	if e.table != nil {
		return "entity(" + e.EntityType.Name() + " " + e.table.Alias() + ")"
	}
	return "entity(" + e.EntityType.Name() + ")"
}

func (*EntityProjectionExpression) mappedExpression() {}

type entityProjectionKey struct {
	EntityType string
	Table      int
	Columns    []string
	Nullable   bool
}

// cacheKey hashes (entity type, source table, nullability). Map-backed
// projections contribute their column identities instead of a table.
func (e *EntityProjectionExpression) cacheKey() (uint64, error) {
	key := entityProjectionKey{EntityType: e.EntityType.Name(), Nullable: e.nullable}
	if e.table != nil {
		key.Table = int(e.table.ID())
	} else {
		for _, p := range e.Properties() {
			if c, ok := e.columns[p]; ok {
				key.Columns = append(key.Columns, strconv.Itoa(int(c.Table))+"."+c.Name)
			}
		}
	}
	return hashstructure.Hash(key, nil)
}

// makeNullable marks every column inside a mapped expression nullable.
func makeNullable(v MappedExpression) (MappedExpression, error) {
	switch x := v.(type) {
	case *EntityProjectionExpression:
		return x.MakeNullable(), nil
	case *ColumnExpression:
		return x.MakeNullable(), nil
	case SQLExpression:
		e, _, err := TransformUp(x, func(e SQLExpression) (SQLExpression, TreeIdentity, error) {
			if c, ok := e.(*ColumnExpression); ok && !c.Nullable {
				return c.MakeNullable(), NewTree, nil
			}
			return e, SameTree, nil
		})
		return e, err
	}
	return nil, ErrInvariantViolation.New(fmt.Sprintf("unknown mapped expression %T", v))
}
