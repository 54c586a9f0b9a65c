package core

import (
	"fmt"

	"github.com/coregx/relq/internal/metadata"
)

// ApplySetOperation combines the builder's current state with other. The
// current state moves into a new left operand, other becomes the right
// operand, and both are flattened so that their output columns line up.
// Members of the two symbolic mappings are paired by key: entities of the
// same type project their hierarchy properties in lockstep, entities of
// different types are projected as their closest common parent with NULL
// padding for properties one side lacks, scalars pair directly.
func (s *SelectExpression) ApplySetOperation(kind SetOperationKind, other *SelectExpression) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := s.checkArena(other); err != nil {
		return err
	}
	if err := other.checkMutable(); err != nil {
		return err
	}
	if kind == SetOperationNone {
		return ErrInvariantViolation.New("set operation without a kind")
	}
	if other == s {
		return ErrInvariantViolation.New("set operation over the same builder instance")
	}
	if s.projected || other.projected {
		return ErrUnsupported.New("set operation over a flattened projection")
	}
	if len(s.pending) > 0 || len(other.pending) > 0 {
		return ErrUnsupported.New("set operation over pending collection projections")
	}
	if !s.mapping.sameMembers(other.mapping) {
		return ErrInvariantViolation.New(fmt.Sprintf("set operation operands project different members: %v vs %v",
			s.mapping.Members(), other.mapping.Members()))
	}
	// neither operand is touched until every member is known to pair
	if err := checkSetOperands(s.mapping, other.mapping); err != nil {
		return err
	}

	left := s.arena.newSelect("t")
	left.tables = s.tables
	left.predicate = s.predicate
	left.groupBy = s.groupBy
	left.having = s.having
	left.limit = s.limit
	left.offset = s.offset
	left.distinct = s.distinct
	left.setOp = s.setOp
	left.identifier = s.identifier
	if left.limit != nil || left.offset != nil {
		left.orderings = s.orderings
	}
	right := other
	right.ensureAlias()
	if right.limit == nil && right.offset == nil {
		right.orderings = nil
	}

	r := &setOperationReconciler{left: left, right: right}
	mapping := NewProjectionMapping()
	for _, member := range s.mapping.Members() {
		v1, _ := s.mapping.Get(member)
		v2, _ := other.mapping.Get(member)
		merged, err := r.reconcile(member, v1, v2)
		if err != nil {
			return err
		}
		mapping.Set(member, merged)
	}

	var identifier []SQLExpression
	if kind != SetOperationUnionAll {
		identifier = r.outerIdentifier(left.identifier, right.identifier)
	}

	for _, op := range []*SelectExpression{left, right} {
		op.mapping = NewProjectionMapping()
		op.projected = true
		op.frozen = true
	}

	s.tables = []TableExpression{left, right}
	s.predicate = nil
	s.groupBy = nil
	s.having = nil
	s.limit = nil
	s.offset = nil
	s.distinct = false
	s.orderings = nil
	s.setOp = kind
	s.mapping = mapping
	s.identifier = identifier
	s.childIdentifiers = nil
	s.entityCache = make(map[uint64]map[*metadata.Property]int)
	return nil
}

// checkSetOperands reports member pairings that reconcile would reject.
func checkSetOperands(a, b *ProjectionMapping) error {
	for _, member := range a.Members() {
		v1, _ := a.Get(member)
		v2, _ := b.Get(member)
		switch x := v1.(type) {
		case *EntityProjectionExpression:
			y, ok := v2.(*EntityProjectionExpression)
			if !ok {
				return ErrUnsupported.New(fmt.Sprintf("set operation pairs entity %s with scalar %s at %s", x, v2, member))
			}
			if x.EntityType != y.EntityType && x.EntityType.ClosestCommonParent(y.EntityType) == nil {
				return ErrUnsupported.New(fmt.Sprintf("set operation over unrelated entity types %s and %s",
					x.EntityType.Name(), y.EntityType.Name()))
			}
		case SQLExpression:
			if _, ok := v2.(SQLExpression); !ok {
				return ErrUnsupported.New(fmt.Sprintf("set operation pairs scalar %s with entity %s at %s", x, v2, member))
			}
		default:
			return ErrInvariantViolation.New(fmt.Sprintf("unknown mapped expression %T for %s", v1, member))
		}
	}
	return nil
}

type setOperationReconciler struct {
	left, right *SelectExpression
	pairs       []setOperationPair
}

type setOperationPair struct {
	left, right SQLExpression
	outer       *ColumnExpression
}

func (r *setOperationReconciler) reconcile(member ProjectionMember, v1, v2 MappedExpression) (MappedExpression, error) {
	switch x := v1.(type) {
	case *EntityProjectionExpression:
		y, ok := v2.(*EntityProjectionExpression)
		if !ok {
			return nil, ErrUnsupported.New(fmt.Sprintf("set operation pairs entity %s with scalar %s at %s", x, v2, member))
		}
		return r.reconcileEntities(x, y)
	case SQLExpression:
		y, ok := v2.(SQLExpression)
		if !ok {
			return nil, ErrUnsupported.New(fmt.Sprintf("set operation pairs scalar %s with entity %s at %s", x, v2, member))
		}
		alias := member.Last()
		if alias == "" {
			alias = "c"
		}
		return r.pair(x, y, alias)
	}
	return nil, ErrInvariantViolation.New(fmt.Sprintf("unknown mapped expression %T for %s", v1, member))
}

func (r *setOperationReconciler) reconcileEntities(e1, e2 *EntityProjectionExpression) (*EntityProjectionExpression, error) {
	et := e1.EntityType
	if e1.EntityType != e2.EntityType {
		et = e1.EntityType.ClosestCommonParent(e2.EntityType)
		if et == nil {
			return nil, ErrUnsupported.New(fmt.Sprintf("set operation over unrelated entity types %s and %s",
				e1.EntityType.Name(), e2.EntityType.Name()))
		}
	}

	columns := make(map[*metadata.Property]*ColumnExpression)
	for _, p := range et.HierarchyProperties() {
		c1, err := bindOrNull(e1, p)
		if err != nil {
			return nil, err
		}
		c2, err := bindOrNull(e2, p)
		if err != nil {
			return nil, err
		}
		outer, err := r.pair(c1, c2, p.Column)
		if err != nil {
			return nil, err
		}
		columns[p] = outer
	}
	return newMappedEntityProjection(et, columns, e1.nullable || e2.nullable), nil
}

// bindOrNull binds p, or returns a typed NULL when p belongs to a branch of
// the hierarchy that e cannot hold.
func bindOrNull(e *EntityProjectionExpression, p *metadata.Property) (SQLExpression, error) {
	declaring := p.DeclaringType()
	if !e.EntityType.IsAssignableFrom(declaring) && !declaring.IsAssignableFrom(e.EntityType) {
		return NewNull(p.Type), nil
	}
	return e.BindProperty(p)
}

// pair appends one column to both operands under the same alias and returns
// the column reading it from the combined result.
func (r *setOperationReconciler) pair(e1, e2 SQLExpression, alias string) (*ColumnExpression, error) {
	i1 := r.left.appendProjection(e1, alias)
	i2 := r.right.appendProjection(e2, alias)
	a1, a2 := r.left.projection[i1].Alias, r.right.projection[i2].Alias
	if i1 != i2 || a1 != a2 {
		return nil, ErrInvariantViolation.New(fmt.Sprintf("set operation columns diverged: %s #%d vs %s #%d", a1, i1, a2, i2))
	}
	mapping := e1.TypeMapping()
	if mapping.IsZero() {
		mapping = e2.TypeMapping()
	}
	outer := &ColumnExpression{
		Name:       a1,
		Table:      r.left.id,
		TableAlias: r.left.alias,
		Type:       mapping,
		Nullable:   IsNullable(e1) || IsNullable(e2),
	}
	r.pairs = append(r.pairs, setOperationPair{left: e1, right: e2, outer: outer})
	return outer, nil
}

// outerIdentifier returns the combined columns carrying both operands'
// identifiers at the same positions, or nil when identity is not preserved.
func (r *setOperationReconciler) outerIdentifier(left, right []SQLExpression) []SQLExpression {
	if len(left) == 0 || len(left) != len(right) {
		return nil
	}
	out := make([]SQLExpression, 0, len(left))
	for i := range left {
		found := false
		for _, p := range r.pairs {
			if Equal(p.left, left[i]) && Equal(p.right, right[i]) {
				out = append(out, p.outer)
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}
	return out
}
