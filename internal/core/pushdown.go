package core

import (
	"fmt"

	"github.com/coregx/relq/internal/metadata"
)

// SubqueryRemap records, for one pushdown, which outer column now exposes
// each expression of the builder's previous state. Expressions that were not
// projected yet are projected from the subquery on demand, unless that would
// change the subquery's result (DISTINCT or set operation).
type SubqueryRemap struct {
	subquery *SelectExpression
	inner    map[TableID]struct{}
	pairs    []remapPair
}

type remapPair struct {
	from SQLExpression
	to   *ColumnExpression
}

// Subquery returns the builder holding the previous state.
func (r *SubqueryRemap) Subquery() *SelectExpression { return r.subquery }

// Len returns the number of remapped expressions.
func (r *SubqueryRemap) Len() int { return len(r.pairs) }

// Lookup returns the outer column for an expression of the previous state.
func (r *SubqueryRemap) Lookup(e SQLExpression) (*ColumnExpression, bool) {
	for _, p := range r.pairs {
		if Equal(p.from, e) {
			return p.to, true
		}
	}
	return nil, false
}

// Remap rewrites e so that every reference into the pushed-down tables goes
// through the subquery's projection.
func (r *SubqueryRemap) Remap(e SQLExpression) (SQLExpression, error) {
	if e == nil {
		return nil, nil
	}
	out, _, err := TransformDown(e, func(e SQLExpression) (SQLExpression, TreeIdentity, error) {
		if to, ok := r.Lookup(e); ok {
			return to, NewTree, nil
		}
		if x, ok := e.(*ScalarSubqueryExpression); ok {
			return r.remapScalar(x)
		}
		if c, ok := e.(*ColumnExpression); ok {
			if _, inner := r.inner[c.Table]; inner {
				to, err := r.lift(c, "")
				if err != nil {
					return nil, SameTree, err
				}
				return to, NewTree, nil
			}
		}
		return e, SameTree, nil
	})
	return out, err
}

// remapScalar rewrites the correlated references of a scalar subquery. The
// subquery is copied when one of its clauses changes, so a builder shared
// with other expressions keeps its references.
func (r *SubqueryRemap) remapScalar(x *ScalarSubqueryExpression) (SQLExpression, TreeIdentity, error) {
	sub := x.Subquery
	changed := false
	remap := func(e SQLExpression) (SQLExpression, error) {
		out, err := r.Remap(e)
		if err != nil {
			return nil, err
		}
		if out != e {
			changed = true
		}
		return out, nil
	}

	predicate, err := remap(sub.predicate)
	if err != nil {
		return nil, SameTree, err
	}
	having, err := remap(sub.having)
	if err != nil {
		return nil, SameTree, err
	}
	groupBy := make([]SQLExpression, len(sub.groupBy))
	for i, g := range sub.groupBy {
		if groupBy[i], err = remap(g); err != nil {
			return nil, SameTree, err
		}
	}
	projection := make([]*ProjectionExpression, len(sub.projection))
	for i, pe := range sub.projection {
		e, err := remap(pe.Expression)
		if err != nil {
			return nil, SameTree, err
		}
		projection[i] = &ProjectionExpression{Expression: e, Alias: pe.Alias}
	}
	orderings := make([]Ordering, len(sub.orderings))
	for i, o := range sub.orderings {
		e, err := remap(o.Expression)
		if err != nil {
			return nil, SameTree, err
		}
		orderings[i] = Ordering{Expression: e, Ascending: o.Ascending}
	}
	if !changed {
		return x, SameTree, nil
	}

	cp := *sub
	cp.predicate = predicate
	cp.having = having
	cp.groupBy = groupBy
	cp.projection = projection
	cp.orderings = orderings
	return &ScalarSubqueryExpression{Subquery: &cp, Type: x.Type}, NewTree, nil
}

func (r *SubqueryRemap) canProject() bool {
	return !r.subquery.distinct && !r.subquery.IsSetOperation()
}

// lift returns the outer column exposing e, projecting e when that does not
// change the subquery's rows.
func (r *SubqueryRemap) lift(e SQLExpression, alias string) (*ColumnExpression, error) {
	if to, ok := r.Lookup(e); ok {
		return to, nil
	}
	if !r.canProject() && !r.projects(e) {
		return nil, ErrUnsupported.New(fmt.Sprintf("%s is not projected by subquery %s", e, r.subquery.alias))
	}
	return r.project(e, alias), nil
}

// project exposes an output column of the previous state.
func (r *SubqueryRemap) project(e SQLExpression, alias string) *ColumnExpression {
	if to, ok := r.Lookup(e); ok {
		return to
	}
	to := r.subquery.generateOuterColumn(e, alias)
	r.pairs = append(r.pairs, remapPair{from: e, to: to})
	return to
}

func (r *SubqueryRemap) projects(e SQLExpression) bool {
	for _, pe := range r.subquery.projection {
		if Equal(pe.Expression, e) {
			return true
		}
	}
	return false
}

func (r *SubqueryRemap) liftAll(exprs []SQLExpression) ([]SQLExpression, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	out := make([]SQLExpression, len(exprs))
	for i, e := range exprs {
		col, err := r.lift(e, "")
		if err != nil {
			return nil, err
		}
		out[i] = col
	}
	return out, nil
}

func (r *SubqueryRemap) liftEntity(e *EntityProjectionExpression) (*EntityProjectionExpression, error) {
	columns := make(map[*metadata.Property]*ColumnExpression)
	for _, p := range e.Properties() {
		col, err := e.BindProperty(p)
		if err != nil {
			return nil, err
		}
		columns[p] = r.project(col, "")
	}
	return newMappedEntityProjection(e.EntityType, columns, e.nullable), nil
}

// generateOuterColumn projects e from s and returns the column an enclosing
// builder uses to read it.
func (s *SelectExpression) generateOuterColumn(e SQLExpression, alias string) *ColumnExpression {
	pe := s.projection[s.addToProjection(e, alias)]
	return &ColumnExpression{
		Name:       pe.Alias,
		Table:      s.id,
		TableAlias: s.alias,
		Type:       e.TypeMapping(),
		Nullable:   IsNullable(e),
	}
}

// PushdownIntoSubquery moves the builder's current state into a fresh
// subquery aliased "t" and leaves the builder selecting from it with no
// predicate, grouping, row window, DISTINCT or set operation of its own.
// Projection, identifiers, orderings and pending collections are re-homed
// onto columns of the subquery. The returned remap rewrites expressions
// that still reference the previous state.
func (s *SelectExpression) PushdownIntoSubquery() (*SubqueryRemap, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	return s.pushdown()
}

func (s *SelectExpression) pushdown() (*SubqueryRemap, error) {
	sub := s.arena.newSelect("t")
	sub.tables = s.tables
	sub.predicate = s.predicate
	sub.groupBy = s.groupBy
	sub.having = s.having
	sub.limit = s.limit
	sub.offset = s.offset
	sub.distinct = s.distinct
	sub.setOp = s.setOp
	sub.projected = true
	sub.frozen = true
	if s.limit != nil || s.offset != nil {
		sub.orderings = s.orderings
	}

	remap := &SubqueryRemap{subquery: sub, inner: s.tableIDs()}

	var projection []*ProjectionExpression
	for _, pe := range s.projection {
		col := remap.project(pe.Expression, pe.Alias)
		projection = append(projection, &ProjectionExpression{Expression: col, Alias: pe.Alias})
	}

	mapping := NewProjectionMapping()
	for _, member := range s.mapping.Members() {
		v, _ := s.mapping.Get(member)
		switch x := v.(type) {
		case *EntityProjectionExpression:
			lifted, err := remap.liftEntity(x)
			if err != nil {
				return nil, err
			}
			mapping.Set(member, lifted)
		case SQLExpression:
			mapping.Set(member, remap.project(x, member.Last()))
		default:
			return nil, ErrInvariantViolation.New(fmt.Sprintf("unknown mapped expression %T for %s", v, member))
		}
	}

	// identity that cannot cross the boundary is dropped as a whole
	identifier, err := remap.liftAll(s.identifier)
	if err != nil {
		s.arena.logger.Debug("identifier dropped at subquery boundary", "select", s.String(), "error", err)
		identifier = nil
	}
	childIdentifiers, err := remap.liftAll(s.childIdentifiers)
	if err != nil {
		s.arena.logger.Debug("child identifier dropped at subquery boundary", "select", s.String(), "error", err)
		childIdentifiers = nil
	}

	var orderings []Ordering
	if !sub.distinct {
		for _, o := range s.orderings {
			col, err := remap.lift(o.Expression, "")
			if err != nil {
				return nil, err
			}
			orderings = append(orderings, Ordering{Expression: col, Ascending: o.Ascending})
		}
	}

	for _, req := range s.pending {
		if err := req.remap(remap); err != nil {
			return nil, err
		}
	}

	s.tables = []TableExpression{sub}
	s.predicate = nil
	s.groupBy = nil
	s.having = nil
	s.limit = nil
	s.offset = nil
	s.distinct = false
	s.setOp = SetOperationNone
	s.orderings = orderings
	s.projection = projection
	s.mapping = mapping
	s.identifier = identifier
	s.childIdentifiers = childIdentifiers
	s.entityCache = make(map[uint64]map[*metadata.Property]int)

	s.arena.logger.Debug("select pushed down into subquery",
		"select", s.String(),
		"subquery", sub.alias,
		"columns", len(sub.projection))
	return remap, nil
}
