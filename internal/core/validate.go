package core

import (
	"fmt"
)

// scope is one level of table visibility: the tables of a FROM clause.
type scope map[TableID]string

// Validate checks the structural invariants of a finalized tree: every
// column resolves to a table in scope under the alias it prints, set
// operations have two operands of equal width, no collection projection is
// left pending and projection aliases are unique where they are addressed
// from outside.
func (s *SelectExpression) Validate() error {
	return s.validate(nil)
}

func (s *SelectExpression) validate(outer []scope) error {
	if len(s.pending) > 0 {
		return ErrInvariantViolation.New(fmt.Sprintf("%s has %d pending collection projections", s, len(s.pending)))
	}
	if s.projected && s.mapping.Len() > 0 {
		return ErrInvariantViolation.New(fmt.Sprintf("%s has both a flat projection and a symbolic mapping", s))
	}

	own := make(scope, len(s.tables))
	for _, t := range s.tables {
		t = UnwrapJoin(t)
		if _, dup := own[t.ID()]; dup {
			return ErrInvariantViolation.New(fmt.Sprintf("table %s appears twice in %s", t, s))
		}
		own[t.ID()] = t.Alias()
		if sub, ok := t.(*SelectExpression); ok {
			if sub.alias == "" {
				return ErrInvariantViolation.New(fmt.Sprintf("subquery %s of %s has no alias", sub, s))
			}
			if err := sub.validate(outer); err != nil {
				return err
			}
		}
	}
	if err := checkAliases(s, own, outer); err != nil {
		return err
	}
	scopes := append(append([]scope(nil), outer...), own)

	if s.IsSetOperation() {
		if err := s.validateSetOperation(); err != nil {
			return err
		}
	}

	var exprs []SQLExpression
	for _, t := range s.tables {
		if j, ok := t.(*JoinExpression); ok && j.Predicate != nil {
			exprs = append(exprs, j.Predicate)
		}
	}
	exprs = append(exprs, s.predicate, s.having, s.limit, s.offset)
	exprs = append(exprs, s.groupBy...)
	for _, o := range s.orderings {
		exprs = append(exprs, o.Expression)
	}
	for _, pe := range s.projection {
		exprs = append(exprs, pe.Expression)
	}
	exprs = append(exprs, s.identifier...)
	exprs = append(exprs, s.childIdentifiers...)
	for _, e := range exprs {
		if err := checkScope(e, scopes); err != nil {
			return err
		}
	}

	if s.alias != "" {
		seen := make(map[string]string, len(s.projection))
		for _, pe := range s.projection {
			key := s.arena.fold.String(pe.Alias)
			if prev, dup := seen[key]; dup {
				return ErrInvariantViolation.New(fmt.Sprintf("%s projects %q and %q", s, prev, pe.Alias))
			}
			seen[key] = pe.Alias
		}
	}
	return nil
}

func (s *SelectExpression) validateSetOperation() error {
	if len(s.tables) != 2 {
		return ErrInvariantViolation.New(fmt.Sprintf("set operation %s has %d operands", s, len(s.tables)))
	}
	left, ok1 := s.tables[0].(*SelectExpression)
	right, ok2 := s.tables[1].(*SelectExpression)
	if !ok1 || !ok2 {
		return ErrInvariantViolation.New(fmt.Sprintf("set operation %s has a non-select operand", s))
	}
	if s.predicate != nil || s.limit != nil || s.offset != nil || len(s.orderings) > 0 || len(s.groupBy) > 0 {
		return ErrInvariantViolation.New(fmt.Sprintf("set operation %s carries clauses of its own", s))
	}
	if len(left.projection) != len(right.projection) {
		return ErrInvariantViolation.New(fmt.Sprintf("set operation %s operands project %d and %d columns",
			s, len(left.projection), len(right.projection)))
	}
	return nil
}

func checkAliases(s *SelectExpression, own scope, outer []scope) error {
	seen := make(map[string]TableID)
	for _, sc := range append(append([]scope(nil), outer...), own) {
		for id, alias := range sc {
			if alias == "" {
				continue
			}
			key := s.arena.fold.String(alias)
			if prev, dup := seen[key]; dup && prev != id {
				return ErrInvariantViolation.New(fmt.Sprintf("alias %q is used by two tables visible from %s", alias, s))
			}
			seen[key] = id
		}
	}
	return nil
}

// checkScope resolves every column of e against scopes, innermost first.
// Scalar subqueries are validated with the current scopes visible.
func checkScope(e SQLExpression, scopes []scope) error {
	if e == nil {
		return nil
	}
	var err error
	Inspect(e, func(e SQLExpression) bool {
		switch x := e.(type) {
		case *ColumnExpression:
			err = resolveColumn(x, scopes)
		case *ScalarSubqueryExpression:
			err = x.Subquery.validate(scopes)
		}
		return err != nil
	})
	return err
}

func resolveColumn(c *ColumnExpression, scopes []scope) error {
	for i := len(scopes) - 1; i >= 0; i-- {
		if alias, ok := scopes[i][c.Table]; ok {
			if alias != c.TableAlias {
				return ErrInvariantViolation.New(fmt.Sprintf("column %s prints alias %q for table %q", c.Name, c.TableAlias, alias))
			}
			return nil
		}
	}
	return ErrInvariantViolation.New(fmt.Sprintf("column %s references a table that is not in scope", c))
}
