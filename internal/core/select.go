// Copyright (c) 2025 COREGX. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/coregx/relq/internal/metadata"
)

// Ordering is one ORDER BY key.
type Ordering struct {
	Expression SQLExpression
	Ascending  bool
}

func (o Ordering) String() string {
	if o.Ascending {
		return o.Expression.String() + " ASC"
	}
	return o.Expression.String() + " DESC"
}

// SetOperationKind tags a builder that combines two operand builders.
type SetOperationKind int

// Set operation kinds.
const (
	SetOperationNone SetOperationKind = iota
	SetOperationUnion
	SetOperationUnionAll
	SetOperationIntersect
	SetOperationExcept
)

// String returns the SQL keyword of the set operation.
func (k SetOperationKind) String() string {
	switch k {
	case SetOperationNone:
		return ""
	case SetOperationUnion:
		return "UNION"
	case SetOperationUnionAll:
		return "UNION ALL"
	case SetOperationIntersect:
		return "INTERSECT"
	case SetOperationExcept:
		return "EXCEPT"
	}
	return fmt.Sprintf("setop(%d)", int(k))
}

// ParseSetOperation converts "union", "union_all", "intersect" or "except".
func ParseSetOperation(s string) (SetOperationKind, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_")) {
	case "union":
		return SetOperationUnion, nil
	case "union_all", "unionall":
		return SetOperationUnionAll, nil
	case "intersect":
		return SetOperationIntersect, nil
	case "except":
		return SetOperationExcept, nil
	}
	return SetOperationNone, ErrUnsupported.New(fmt.Sprintf("set operation %q", s))
}

// ProjectionBinding is the finalized location of a projection member:
// a column index for scalars, a property-to-index map for entities.
type ProjectionBinding struct {
	Index      int
	Properties map[*metadata.Property]int
}

// SelectExpression is the Select Builder: a mutable SELECT statement that is
// composed operator by operator and then flattened by ApplyProjection.
//
// Before ApplyProjection the output shape lives in a symbolic projection
// mapping; afterwards it is an ordered list of aliased columns and the
// mapping is empty.
type SelectExpression struct {
	arena *Arena
	id    TableID
	alias string

	tables    []TableExpression
	predicate SQLExpression
	groupBy   []SQLExpression
	having    SQLExpression
	orderings []Ordering
	limit     SQLExpression
	offset    SQLExpression
	distinct  bool
	setOp     SetOperationKind

	mapping    *ProjectionMapping
	projection []*ProjectionExpression
	projected  bool
	bindings   map[ProjectionMember]ProjectionBinding

	identifier       []SQLExpression
	childIdentifiers []SQLExpression
	pending          []*collectionRequest

	entityCache map[uint64]map[*metadata.Property]int

	// frozen builders are tables of another builder and reject public mutation.
	frozen bool
}

// ID returns the table identity of the builder when used as a subquery.
func (s *SelectExpression) ID() TableID { return s.id }

// Alias returns the subquery alias; empty for a top-level builder.
func (s *SelectExpression) Alias() string { return s.alias }

// Arena returns the allocating arena.
func (s *SelectExpression) Arena() *Arena { return s.arena }

// Tables returns the FROM list; entries after the first are joins unless
// the builder is a set operation.
func (s *SelectExpression) Tables() []TableExpression { return s.tables }

// Predicate returns the WHERE condition or nil.
func (s *SelectExpression) Predicate() SQLExpression { return s.predicate }

// GroupBy returns the GROUP BY keys.
func (s *SelectExpression) GroupBy() []SQLExpression { return s.groupBy }

// Having returns the HAVING condition or nil.
func (s *SelectExpression) Having() SQLExpression { return s.having }

// Orderings returns the ORDER BY keys.
func (s *SelectExpression) Orderings() []Ordering { return s.orderings }

// Limit returns the row limit or nil.
func (s *SelectExpression) Limit() SQLExpression { return s.limit }

// Offset returns the row offset or nil.
func (s *SelectExpression) Offset() SQLExpression { return s.offset }

// IsDistinct reports whether SELECT DISTINCT applies.
func (s *SelectExpression) IsDistinct() bool { return s.distinct }

// SetOperation returns the set operation kind.
func (s *SelectExpression) SetOperation() SetOperationKind { return s.setOp }

// IsSetOperation reports whether the builder combines two operands.
func (s *SelectExpression) IsSetOperation() bool { return s.setOp != SetOperationNone }

// Projection returns the flattened output columns.
func (s *SelectExpression) Projection() []*ProjectionExpression { return s.projection }

// IsProjectionFlattened reports whether ApplyProjection has run.
func (s *SelectExpression) IsProjectionFlattened() bool { return s.projected }

// Identifier returns the columns that identify a logical row.
func (s *SelectExpression) Identifier() []SQLExpression { return s.identifier }

// ChildIdentifiers returns identifier columns contributed by collection joins.
func (s *SelectExpression) ChildIdentifiers() []SQLExpression { return s.childIdentifiers }

// PendingCollections returns the number of unresolved collection projections.
func (s *SelectExpression) PendingCollections() int { return len(s.pending) }

// ProjectionMapping returns a copy of the symbolic mapping.
func (s *SelectExpression) ProjectionMapping() *ProjectionMapping { return s.mapping.clone() }

// GetMappedProjection returns the expression mapped to member.
func (s *SelectExpression) GetMappedProjection(member ProjectionMember) (MappedExpression, error) {
	if s.projected {
		return nil, ErrUnsupported.New("symbolic projection read after ApplyProjection")
	}
	v, ok := s.mapping.Get(member)
	if !ok {
		return nil, ErrProjectionMemberNotFound.New(member.String())
	}
	return v, nil
}

// ReplaceProjectionMapping installs a new symbolic mapping (a Select operator).
func (s *SelectExpression) ReplaceProjectionMapping(m *ProjectionMapping) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if s.projected {
		return ErrUnsupported.New("projection mapping replaced after ApplyProjection")
	}
	s.mapping = m.clone()
	return nil
}

// Binding returns the finalized location of member.
func (s *SelectExpression) Binding(member ProjectionMember) (ProjectionBinding, error) {
	if !s.projected {
		return ProjectionBinding{}, ErrInvariantViolation.New(fmt.Sprintf("binding of %s requested before ApplyProjection", member))
	}
	b, ok := s.bindings[member]
	if !ok {
		return ProjectionBinding{}, ErrProjectionMemberNotFound.New(member.String())
	}
	return b, nil
}

func (s *SelectExpression) String() string {
	if s.alias == "" {
		return "select#" + strconv.Itoa(int(s.id))
	}
	return "select#" + strconv.Itoa(int(s.id)) + " AS " + s.alias
}

func (s *SelectExpression) checkMutable() error {
	if s.frozen {
		return ErrUnsupported.New(fmt.Sprintf("%s is a table of another select and cannot be modified", s))
	}
	return nil
}

func (s *SelectExpression) checkArena(other *SelectExpression) error {
	if other.arena != s.arena {
		return ErrInvariantViolation.New(fmt.Sprintf("%s and %s belong to different arenas", s, other))
	}
	return nil
}

// ensureAlias assigns an alias before s becomes a table of another builder.
func (s *SelectExpression) ensureAlias() {
	if s.alias == "" {
		s.alias = s.arena.alias("t")
	}
}

func (s *SelectExpression) freeze() {
	s.ensureAlias()
	s.frozen = true
}

// tableIDs returns the IDs of the builder's own tables.
func (s *SelectExpression) tableIDs() map[TableID]struct{} {
	ids := make(map[TableID]struct{}, len(s.tables))
	for _, t := range s.tables {
		ids[t.ID()] = struct{}{}
	}
	return ids
}

// ApplyPredicate adds a WHERE condition, or a HAVING condition once the
// builder is grouped. A constant true is ignored.
func (s *SelectExpression) ApplyPredicate(expr SQLExpression) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if expr == nil || isTrueConstant(expr) {
		return nil
	}
	if s.limit != nil || s.offset != nil || s.IsSetOperation() {
		var err error
		if expr, err = s.pushdownAndRemap(expr); err != nil {
			return err
		}
	}
	if len(s.groupBy) > 0 {
		s.having = And(s.having, expr)
		return nil
	}
	s.predicate = And(s.predicate, expr)
	return nil
}

// ApplyOrdering replaces all orderings with a single key.
func (s *SelectExpression) ApplyOrdering(expr SQLExpression, ascending bool) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if s.distinct || s.limit != nil || s.offset != nil || s.IsSetOperation() {
		var err error
		if expr, err = s.pushdownAndRemap(expr); err != nil {
			return err
		}
	}
	s.orderings = []Ordering{{Expression: expr, Ascending: ascending}}
	return nil
}

// AppendOrdering adds a key unless an equal expression is already ordered on.
func (s *SelectExpression) AppendOrdering(expr SQLExpression, ascending bool) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if s.IsSetOperation() {
		var err error
		if expr, err = s.pushdownAndRemap(expr); err != nil {
			return err
		}
	}
	s.appendOrdering(expr, ascending)
	return nil
}

func (s *SelectExpression) appendOrdering(expr SQLExpression, ascending bool) {
	for _, o := range s.orderings {
		if Equal(o.Expression, expr) {
			return
		}
	}
	s.orderings = append(s.orderings, Ordering{Expression: expr, Ascending: ascending})
}

// ClearOrdering removes all orderings.
func (s *SelectExpression) ClearOrdering() {
	s.orderings = nil
}

// ApplyLimit sets the row limit.
func (s *SelectExpression) ApplyLimit(expr SQLExpression) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if s.limit != nil || s.IsSetOperation() {
		if _, err := s.PushdownIntoSubquery(); err != nil {
			return err
		}
	}
	s.limit = expr
	return nil
}

// ApplyOffset sets the row offset.
func (s *SelectExpression) ApplyOffset(expr SQLExpression) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if s.limit != nil || s.offset != nil || s.IsSetOperation() {
		if _, err := s.PushdownIntoSubquery(); err != nil {
			return err
		}
	}
	s.offset = expr
	return nil
}

// ApplyDistinct marks the builder DISTINCT and drops its orderings.
func (s *SelectExpression) ApplyDistinct() error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if s.limit != nil || s.offset != nil || s.IsSetOperation() {
		if _, err := s.PushdownIntoSubquery(); err != nil {
			return err
		}
	}
	s.distinct = true
	s.orderings = nil
	return nil
}

// ReverseOrderings flips the direction of every ordering. A builder with a
// row window is pushed down first so the window keeps its original order.
func (s *SelectExpression) ReverseOrderings() error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if s.limit != nil || s.offset != nil {
		if _, err := s.PushdownIntoSubquery(); err != nil {
			return err
		}
	}
	reversed := make([]Ordering, len(s.orderings))
	for i, o := range s.orderings {
		reversed[i] = Ordering{Expression: o.Expression, Ascending: !o.Ascending}
	}
	s.orderings = reversed
	return nil
}

// ApplyGrouping groups rows by keys. The keys become the identifier and
// later predicates go to HAVING.
func (s *SelectExpression) ApplyGrouping(keys ...SQLExpression) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return ErrUnsupported.New("grouping without keys")
	}
	if s.limit != nil || s.offset != nil || s.distinct || s.IsSetOperation() || len(s.groupBy) > 0 {
		remap, err := s.PushdownIntoSubquery()
		if err != nil {
			return err
		}
		for i, k := range keys {
			if keys[i], err = remap.Remap(k); err != nil {
				return err
			}
		}
	}
	s.groupBy = append([]SQLExpression(nil), keys...)
	s.identifier = append([]SQLExpression(nil), keys...)
	s.orderings = nil
	return nil
}

func (s *SelectExpression) pushdownAndRemap(expr SQLExpression) (SQLExpression, error) {
	remap, err := s.PushdownIntoSubquery()
	if err != nil {
		return nil, err
	}
	return remap.Remap(expr)
}

// AddToProjection adds expr to the flattened projection of a builder without
// a symbolic mapping and returns its index. Equal expressions share a slot.
func (s *SelectExpression) AddToProjection(expr SQLExpression) (int, error) {
	if s.mapping.Len() > 0 {
		return 0, ErrUnsupported.New("flat projection added to a builder with a symbolic mapping")
	}
	s.projected = true
	return s.addToProjection(expr, ""), nil
}

func (s *SelectExpression) addToProjection(expr SQLExpression, alias string) int {
	for i, pe := range s.projection {
		if Equal(pe.Expression, expr) {
			return i
		}
	}
	return s.appendProjection(expr, alias)
}

// appendProjection adds a column without de-duplication. Aliases are made
// unique (case-insensitively) when the builder itself has an alias.
func (s *SelectExpression) appendProjection(expr SQLExpression, alias string) int {
	if alias == "" {
		if c, ok := expr.(*ColumnExpression); ok {
			alias = c.Name
		} else if s.alias != "" {
			alias = "c"
		}
	}
	if s.alias != "" {
		alias = s.uniqueProjectionAlias(alias)
	}
	s.projection = append(s.projection, &ProjectionExpression{Expression: expr, Alias: alias})
	return len(s.projection) - 1
}

func (s *SelectExpression) uniqueProjectionAlias(base string) string {
	taken := make(map[string]struct{}, len(s.projection))
	for _, pe := range s.projection {
		taken[s.arena.fold.String(pe.Alias)] = struct{}{}
	}
	candidate := base
	for i := 0; ; i++ {
		if _, ok := taken[s.arena.fold.String(candidate)]; !ok {
			return candidate
		}
		candidate = base + strconv.Itoa(i)
	}
}

// AddEntityToProjection projects every hierarchy property of e and returns
// the property-to-index map. Results are memoized per builder.
func (s *SelectExpression) AddEntityToProjection(e *EntityProjectionExpression) (map[*metadata.Property]int, error) {
	key, err := e.cacheKey()
	if err != nil {
		return nil, ErrInvariantViolation.New(fmt.Sprintf("entity projection key of %s: %v", e, err))
	}
	if indexes, ok := s.entityCache[key]; ok {
		return indexes, nil
	}
	indexes := make(map[*metadata.Property]int)
	for _, p := range e.Properties() {
		col, err := e.BindProperty(p)
		if err != nil {
			return nil, err
		}
		indexes[p] = s.addToProjection(col, "")
	}
	s.entityCache[key] = indexes
	return indexes, nil
}

// ApplyProjection flattens the symbolic mapping into the ordered projection
// list. It runs once; later calls are no-ops.
func (s *SelectExpression) ApplyProjection() error {
	if s.projected {
		return nil
	}
	bindings := make(map[ProjectionMember]ProjectionBinding, s.mapping.Len())
	for _, member := range s.mapping.Members() {
		v, _ := s.mapping.Get(member)
		switch x := v.(type) {
		case *EntityProjectionExpression:
			indexes, err := s.AddEntityToProjection(x)
			if err != nil {
				return err
			}
			bindings[member] = ProjectionBinding{Index: -1, Properties: indexes}
		case SQLExpression:
			bindings[member] = ProjectionBinding{Index: s.addToProjection(x, member.Last())}
		default:
			return ErrInvariantViolation.New(fmt.Sprintf("unknown mapped expression %T for %s", v, member))
		}
	}
	s.bindings = bindings
	s.mapping = NewProjectionMapping()
	s.projected = true
	return nil
}
