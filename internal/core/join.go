package core

import "fmt"

// JoinShape names the two halves of a merged projection mapping: members of
// the outer builder move under Outer, members of the inner under Inner.
type JoinShape struct {
	Outer string
	Inner string
}

// DefaultJoinShape is used when a shape tag leaves a side empty.
var DefaultJoinShape = JoinShape{Outer: "Outer", Inner: "Inner"}

func (js JoinShape) withDefaults() JoinShape {
	if js.Outer == "" {
		js.Outer = DefaultJoinShape.Outer
	}
	if js.Inner == "" {
		js.Inner = DefaultJoinShape.Inner
	}
	return js
}

// AddInnerJoin joins inner on predicate.
func (s *SelectExpression) AddInnerJoin(inner *SelectExpression, predicate SQLExpression, shape JoinShape) error {
	return s.addJoin(InnerJoin, inner, predicate, shape)
}

// AddLeftJoin left-joins inner on predicate. Everything projected from the
// inner side becomes nullable.
func (s *SelectExpression) AddLeftJoin(inner *SelectExpression, predicate SQLExpression, shape JoinShape) error {
	return s.addJoin(LeftJoin, inner, predicate, shape)
}

// AddCrossJoin joins every row of inner.
func (s *SelectExpression) AddCrossJoin(inner *SelectExpression, shape JoinShape) error {
	return s.addJoin(CrossJoin, inner, nil, shape)
}

// needsCollapse reports whether s must become a single subquery before its
// table can be attached to another builder.
func (s *SelectExpression) needsCollapse() bool {
	return len(s.orderings) > 0 || s.limit != nil || s.offset != nil || s.distinct ||
		s.predicate != nil || len(s.groupBy) > 0 || len(s.tables) > 1 || s.IsSetOperation()
}

func (s *SelectExpression) addJoin(kind JoinKind, inner *SelectExpression, predicate SQLExpression, shape JoinShape) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := s.checkArena(inner); err != nil {
		return err
	}
	if inner == s {
		return ErrInvariantViolation.New("select joined with itself")
	}
	if err := inner.checkMutable(); err != nil {
		return err
	}
	if s.projected || inner.projected {
		return ErrUnsupported.New("join over a flattened projection")
	}
	if kind != CrossJoin && predicate == nil {
		return ErrUnsupported.New(kind.String() + " without a join predicate")
	}
	shape = shape.withDefaults()
	if shape.Outer == shape.Inner {
		return ErrInvariantViolation.New(fmt.Sprintf("join shape uses %q for both sides", shape.Outer))
	}

	// a row window or DISTINCT must be evaluated before rows are multiplied
	if s.limit != nil || s.offset != nil || s.distinct || s.IsSetOperation() {
		remap, err := s.pushdown()
		if err != nil {
			return err
		}
		if predicate, err = remap.Remap(predicate); err != nil {
			return err
		}
	}
	if inner.needsCollapse() {
		remap, err := inner.pushdown()
		if err != nil {
			return err
		}
		if predicate, err = remap.Remap(predicate); err != nil {
			return err
		}
	}

	mapping := NewProjectionMapping()
	for _, member := range s.mapping.Members() {
		v, _ := s.mapping.Get(member)
		mapping.Set(member.Prepend(shape.Outer), v)
	}
	for _, member := range inner.mapping.Members() {
		v, _ := inner.mapping.Get(member)
		if kind == LeftJoin {
			var err error
			if v, err = makeNullable(v); err != nil {
				return err
			}
		}
		mapping.Set(member.Prepend(shape.Inner), v)
	}

	identifier := s.identifier
	if len(inner.identifier) == 0 {
		identifier = nil
	} else if len(identifier) > 0 {
		identifier = append(append([]SQLExpression(nil), identifier...), nullableAll(inner.identifier, kind == LeftJoin)...)
	}

	s.tables = append(s.tables, &JoinExpression{Kind: kind, Table: inner.tables[0], Predicate: predicate})
	s.mapping = mapping
	s.identifier = identifier
	s.childIdentifiers = append(s.childIdentifiers, nullableAll(inner.childIdentifiers, kind == LeftJoin)...)
	s.pending = append(s.pending, inner.pending...)
	inner.pending = nil
	inner.frozen = true
	return nil
}

func nullableAll(exprs []SQLExpression, nullable bool) []SQLExpression {
	if !nullable {
		return exprs
	}
	out := make([]SQLExpression, len(exprs))
	for i, e := range exprs {
		if c, ok := e.(*ColumnExpression); ok {
			out[i] = c.MakeNullable()
			continue
		}
		out[i] = e
	}
	return out
}
