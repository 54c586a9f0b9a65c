package core

import (
	"fmt"

	"github.com/coregx/relq/internal/metadata"
)

// collectionRequest is a collection projection waiting to be joined.
type collectionRequest struct {
	inner           *SelectExpression
	navigation      *metadata.Navigation
	shaper          Shaper
	outerIdentifier []SQLExpression
}

// remap re-homes the outer identifier snapshot and any correlated reference
// of the inner builder after the owning builder was pushed down. Correlated
// scalar subqueries in the inner predicate or element mapping are rewritten
// too.
func (r *collectionRequest) remap(m *SubqueryRemap) error {
	ids, err := m.liftAll(r.outerIdentifier)
	if err != nil {
		return ErrUnsupported.New(fmt.Sprintf("collection %s loses its owner identity: %v", r.navigation.Name, err))
	}
	r.outerIdentifier = ids
	pred, err := m.Remap(r.inner.predicate)
	if err != nil {
		return err
	}
	r.inner.predicate = pred
	if r.inner.mapping == nil {
		return nil
	}
	for _, member := range r.inner.mapping.Members() {
		v, _ := r.inner.mapping.Get(member)
		e, ok := v.(SQLExpression)
		if !ok {
			continue
		}
		out, err := m.Remap(e)
		if err != nil {
			return err
		}
		r.inner.mapping.Set(member, out)
	}
	return nil
}

// AddCollectionProjection registers inner as a one-to-many projection of s.
// The current identifier of s is recorded as the owner key. The returned
// placeholder is resolved into a CollectionShaperExpression by Finalize.
func (s *SelectExpression) AddCollectionProjection(inner *SelectExpression, nav *metadata.Navigation, elementShaper Shaper) (*CollectionPlaceholder, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	if err := s.checkArena(inner); err != nil {
		return nil, err
	}
	if inner == s {
		return nil, ErrInvariantViolation.New("collection projection of a select over itself")
	}
	if s.projected {
		return nil, ErrUnsupported.New("collection projection added after ApplyProjection")
	}
	if len(s.identifier) == 0 {
		return nil, ErrUnsupported.New(fmt.Sprintf("collection %s over a select without identifying columns", nav.Name))
	}
	req := &collectionRequest{
		inner:           inner,
		navigation:      nav,
		shaper:          elementShaper,
		outerIdentifier: append([]SQLExpression(nil), s.identifier...),
	}
	s.pending = append(s.pending, req)
	inner.frozen = true
	return &CollectionPlaceholder{Navigation: nav, request: req}, nil
}

// IncludeCollection projects the collection navigation nav of the entity at
// member: it builds a select over the target correlated on the foreign key
// and registers it with AddCollectionProjection.
func (s *SelectExpression) IncludeCollection(member ProjectionMember, nav *metadata.Navigation) (*CollectionPlaceholder, error) {
	if !nav.IsCollection {
		return nil, ErrUnsupported.New(fmt.Sprintf("include of reference navigation %s as a collection", nav.Name))
	}
	v, err := s.GetMappedProjection(member)
	if err != nil {
		return nil, err
	}
	owner, ok := v.(*EntityProjectionExpression)
	if !ok {
		return nil, ErrUnsupported.New(fmt.Sprintf("include on non-entity member %s", member))
	}
	if !nav.DeclaringType().IsAssignableFrom(owner.EntityType) {
		return nil, ErrUnsupported.New(fmt.Sprintf("navigation %s is not declared on %s", nav.Name, owner.EntityType.Name()))
	}

	inner := s.arena.Select(nav.Target)
	target, _ := inner.mapping.Get(RootMember)
	targetEntity := target.(*EntityProjectionExpression)

	predicate, err := CorrelationPredicate(owner, targetEntity, nav)
	if err != nil {
		return nil, err
	}
	if err := inner.ApplyPredicate(predicate); err != nil {
		return nil, err
	}
	shaper := &EntityShaperExpression{EntityType: nav.Target, Select: inner, Member: RootMember}
	return s.AddCollectionProjection(inner, nav, shaper)
}

// CorrelationPredicate equates the principal key of owner with the foreign
// key of target for the collection navigation nav, one conjunct per key
// column.
func CorrelationPredicate(owner, target *EntityProjectionExpression, nav *metadata.Navigation) (SQLExpression, error) {
	if len(nav.ForeignKey) == 0 || len(nav.ForeignKey) != len(nav.PrincipalKey) {
		return nil, ErrInvariantViolation.New(fmt.Sprintf("navigation %s has mismatched key columns", nav.Name))
	}
	var predicate SQLExpression
	for i := range nav.ForeignKey {
		outerCol, err := owner.BindProperty(nav.PrincipalKey[i])
		if err != nil {
			return nil, err
		}
		innerCol, err := target.BindProperty(nav.ForeignKey[i])
		if err != nil {
			return nil, err
		}
		predicate = And(predicate, Equals(outerCol, innerCol))
	}
	return predicate, nil
}

// ApplyCollectionJoin resolves one pending collection projection into a
// LEFT JOIN on s. s is flattened first if needed.
func (s *SelectExpression) ApplyCollectionJoin(p *CollectionPlaceholder) (*CollectionShaperExpression, error) {
	if err := s.ApplyProjection(); err != nil {
		return nil, err
	}
	return s.applyCollectionJoin(p.request)
}

func (s *SelectExpression) applyCollectionJoin(req *collectionRequest) (*CollectionShaperExpression, error) {
	pos := -1
	for i, r := range s.pending {
		if r == req {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, ErrInvariantViolation.New(fmt.Sprintf("collection %s is not pending on %s", req.navigation.Name, s))
	}

	inner := req.inner
	if inner.limit != nil || inner.offset != nil {
		return nil, ErrUnsupported.New(fmt.Sprintf("row window inside collection %s", req.navigation.Name))
	}
	if len(inner.identifier) == 0 {
		return nil, ErrUnsupported.New(fmt.Sprintf("collection %s elements have no identifying columns", req.navigation.Name))
	}
	key, rest, err := extractJoinKey(inner.predicate, s.tableIDs(), inner.tableIDs())
	if err != nil {
		return nil, ErrUnsupported.New(fmt.Sprintf("collection %s: %v", req.navigation.Name, err))
	}

	inner.predicate = nil
	collapse := inner.distinct || len(inner.groupBy) > 0 || len(inner.tables) > 1 || inner.IsSetOperation()
	if collapse {
		inner.predicate = rest
		rest = nil
	}
	elementShaper, err := inner.finalize(req.shaper)
	if err != nil {
		return nil, err
	}
	if collapse {
		remap, err := inner.pushdown()
		if err != nil {
			return nil, err
		}
		if key, err = remap.Remap(key); err != nil {
			return nil, err
		}
	}

	if s.limit != nil || s.offset != nil || s.distinct || s.IsSetOperation() {
		remap, err := s.pushdown()
		if err != nil {
			return nil, err
		}
		if key, err = remap.Remap(key); err != nil {
			return nil, err
		}
		// correlated scalar subqueries stay in rest
		if rest, err = remap.Remap(rest); err != nil {
			return nil, err
		}
	}

	// rows of collections joined earlier multiply the rows of this one
	siblings := append([]SQLExpression(nil), s.childIdentifiers...)

	// nested collections of inner arrive as joins of their own
	s.tables = append(s.tables, &JoinExpression{Kind: LeftJoin, Table: inner.tables[0], Predicate: And(key, rest)})
	s.tables = append(s.tables, inner.tables[1:]...)

	offset := len(s.projection)
	for _, pe := range inner.projection {
		s.appendProjection(nullableSQL(pe.Expression), pe.Alias)
	}
	shifted, err := shiftShaper(elementShaper, offset)
	if err != nil {
		return nil, err
	}

	outerIndexes := make([]int, len(req.outerIdentifier))
	for i, id := range req.outerIdentifier {
		s.appendOrdering(id, true)
		outerIndexes[i] = s.addToProjection(id, "")
	}
	var siblingIndexes []int
	for _, id := range siblings {
		siblingIndexes = append(siblingIndexes, s.addToProjection(id, ""))
	}
	for _, o := range inner.orderings {
		s.appendOrdering(nullableSQL(o.Expression), o.Ascending)
	}
	selfIndexes := make([]int, len(inner.identifier))
	for i, id := range inner.identifier {
		n := nullableSQL(id)
		s.appendOrdering(n, true)
		selfIndexes[i] = s.addToProjection(n, "")
	}
	for _, id := range inner.childIdentifiers {
		s.appendOrdering(nullableSQL(id), true)
	}
	for _, id := range inner.identifier {
		s.childIdentifiers = append(s.childIdentifiers, nullableSQL(id))
	}
	for _, id := range inner.childIdentifiers {
		s.childIdentifiers = append(s.childIdentifiers, nullableSQL(id))
	}

	s.pending = append(s.pending[:pos:pos], s.pending[pos+1:]...)
	inner.frozen = true

	s.arena.logger.Debug("collection join attached",
		"select", s.String(),
		"navigation", req.navigation.Name,
		"offset", offset,
		"columns", len(inner.projection))

	return &CollectionShaperExpression{
		Navigation:        req.navigation,
		OuterIdentifier:   outerIndexes,
		SiblingIdentifier: siblingIndexes,
		SelfIdentifier:    selfIndexes,
		Element:           shifted,
	}, nil
}

// extractJoinKey splits pred into equality conjuncts relating outer columns
// to inner columns (returned outer side first) and the remaining conjuncts,
// which must not reference outer tables.
func extractJoinKey(pred SQLExpression, outer, inner map[TableID]struct{}) (key, rest SQLExpression, err error) {
	for _, c := range splitConjuncts(pred) {
		if b, ok := c.(*BinaryExpression); ok && b.Operator == OpEqual {
			lt, rt := ReferencedTables(b.Left), ReferencedTables(b.Right)
			switch {
			case within(lt, outer) && within(rt, inner):
				key = And(key, b)
				continue
			case within(lt, inner) && within(rt, outer):
				key = And(key, Equals(b.Right, b.Left))
				continue
			}
		}
		for id := range ReferencedTables(c) {
			if _, ok := outer[id]; ok {
				return nil, nil, fmt.Errorf("correlated condition %s is not an equality key", c)
			}
		}
		rest = And(rest, c)
	}
	if key == nil {
		return nil, nil, fmt.Errorf("no equality join key in %v", pred)
	}
	return key, rest, nil
}

// within reports whether ids is non-empty and contained in set.
func within(ids, set map[TableID]struct{}) bool {
	if len(ids) == 0 {
		return false
	}
	for id := range ids {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}

func nullableSQL(e SQLExpression) SQLExpression {
	v, err := makeNullable(e)
	if err != nil {
		return e
	}
	return v.(SQLExpression)
}

// finalize flattens s and binds every shaper node that reads from s,
// joining pending collections in shaper order.
func (s *SelectExpression) finalize(sh Shaper) (Shaper, error) {
	if err := s.ApplyProjection(); err != nil {
		return nil, err
	}
	resolved, err := TransformShaper(sh, func(sh Shaper) (Shaper, error) {
		switch x := sh.(type) {
		case *ProjectionBindingExpression:
			if x.Select != s || x.Index >= 0 {
				return x, nil
			}
			b, err := s.Binding(x.Member)
			if err != nil {
				return nil, err
			}
			if b.Index < 0 {
				return nil, ErrInvariantViolation.New(fmt.Sprintf("scalar binding of entity member %s", x.Member))
			}
			nb := *x
			nb.Index = b.Index
			return &nb, nil
		case *EntityShaperExpression:
			if x.Select != s || x.Properties != nil {
				return x, nil
			}
			b, err := s.Binding(x.Member)
			if err != nil {
				return nil, err
			}
			if b.Properties == nil {
				return nil, ErrInvariantViolation.New(fmt.Sprintf("entity binding of scalar member %s", x.Member))
			}
			ne := *x
			ne.Properties = b.Properties
			return &ne, nil
		case *CollectionPlaceholder:
			return s.applyCollectionJoin(x.request)
		}
		return sh, nil
	})
	if err != nil {
		return nil, err
	}
	if len(s.pending) > 0 {
		return nil, ErrInvariantViolation.New(fmt.Sprintf("%d collection projections of %s are not referenced by the shaper", len(s.pending), s))
	}
	return resolved, nil
}

// Finalize flattens s, resolves every collection projection referenced by
// sh, binds sh to column indexes and validates the resulting tree.
func Finalize(s *SelectExpression, sh Shaper) (Shaper, error) {
	resolved, err := s.finalize(sh)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return resolved, nil
}
