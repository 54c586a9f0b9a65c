package scenario

import (
	"fmt"
	"strings"

	"github.com/coregx/relq/internal/core"
	"github.com/coregx/relq/internal/metadata"
)

// Build replays the scenario query onto builders allocated from arena and
// returns the root builder with the shaper for its records. The shaper still
// carries pending collections; it is resolved by core.Finalize.
func (sc *Scenario) Build(arena *core.Arena) (*core.SelectExpression, core.Shaper, error) {
	r := &replayer{model: sc.model, arena: arena}
	s, err := r.query(sc.Query)
	if err != nil {
		return nil, nil, err
	}
	sh, err := core.DefaultShaper(s)
	if err != nil {
		return nil, nil, err
	}
	if len(r.includes) == 0 {
		return s, sh, nil
	}
	root, ok := sh.(*core.StructShaperExpression)
	if !ok {
		root = &core.StructShaperExpression{Fields: []core.ShaperField{{Name: leafName(sh), Shaper: sh}}}
	}
	root.Fields = append(root.Fields, r.includes...)
	return s, root, nil
}

func leafName(sh core.Shaper) string {
	if e, ok := sh.(*core.EntityShaperExpression); ok {
		return e.EntityType.Name()
	}
	return "Value"
}

type replayer struct {
	model    *metadata.Model
	arena    *core.Arena
	includes []core.ShaperField
	depth    int
}

func (r *replayer) query(q Query) (*core.SelectExpression, error) {
	et, ok := r.model.Entity(q.From)
	if !ok {
		return nil, fmt.Errorf("%w: query from undeclared entity %q", ErrInvalid, q.From)
	}
	var s *core.SelectExpression
	if q.SQL != "" {
		var err error
		if s, err = r.arena.SelectFromSQL(et, q.SQL, q.Args...); err != nil {
			return nil, err
		}
	} else {
		s = r.arena.Select(et)
	}
	for i, step := range q.Steps {
		if err := r.step(s, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return s, nil
}

func (r *replayer) step(s *core.SelectExpression, st Step) error {
	if n := st.actions(); n != 1 {
		return fmt.Errorf("%w: step has %d actions, want exactly one", ErrInvalid, n)
	}
	switch {
	case st.Where != nil:
		e, err := r.expr(s, nil, st.Where)
		if err != nil {
			return err
		}
		return s.ApplyPredicate(e)
	case st.OrderBy != nil:
		e, err := r.expr(s, nil, &st.OrderBy.Expr)
		if err != nil {
			return err
		}
		return s.ApplyOrdering(e, !st.OrderBy.Desc)
	case st.ThenBy != nil:
		e, err := r.expr(s, nil, &st.ThenBy.Expr)
		if err != nil {
			return err
		}
		return s.AppendOrdering(e, !st.ThenBy.Desc)
	case st.Reverse:
		return s.ReverseOrderings()
	case st.Skip != nil:
		e, err := r.expr(s, nil, st.Skip)
		if err != nil {
			return err
		}
		return s.ApplyOffset(e)
	case st.Take != nil:
		e, err := r.expr(s, nil, st.Take)
		if err != nil {
			return err
		}
		return s.ApplyLimit(e)
	case st.Distinct:
		return s.ApplyDistinct()
	case st.Pushdown:
		_, err := s.PushdownIntoSubquery()
		return err
	case len(st.GroupBy) > 0:
		keys := make([]core.SQLExpression, len(st.GroupBy))
		for i := range st.GroupBy {
			e, err := r.expr(s, nil, &st.GroupBy[i])
			if err != nil {
				return err
			}
			keys[i] = e
		}
		return s.ApplyGrouping(keys...)
	case len(st.Select) > 0:
		return r.project(s, st.Select)
	case st.Join != nil:
		return r.join(s, core.InnerJoin, st.Join)
	case st.LeftJoin != nil:
		return r.join(s, core.LeftJoin, st.LeftJoin)
	case st.CrossJoin != nil:
		return r.join(s, core.CrossJoin, st.CrossJoin)
	case st.Union != nil:
		return r.setOperation(s, core.SetOperationUnion, st.Union)
	case st.UnionAll != nil:
		return r.setOperation(s, core.SetOperationUnionAll, st.UnionAll)
	case st.Intersect != nil:
		return r.setOperation(s, core.SetOperationIntersect, st.Intersect)
	case st.Except != nil:
		return r.setOperation(s, core.SetOperationExcept, st.Except)
	default:
		return r.include(s, st.Include)
	}
}

func (st Step) actions() int {
	n := 0
	for _, set := range []bool{
		st.Where != nil, st.OrderBy != nil, st.ThenBy != nil, st.Reverse,
		st.Skip != nil, st.Take != nil, st.Distinct, st.Pushdown,
		len(st.GroupBy) > 0, len(st.Select) > 0,
		st.Join != nil, st.LeftJoin != nil, st.CrossJoin != nil,
		st.Union != nil, st.UnionAll != nil, st.Intersect != nil, st.Except != nil,
		st.Include != "",
	} {
		if set {
			n++
		}
	}
	return n
}

func (r *replayer) project(s *core.SelectExpression, fields []Field) error {
	m := core.NewProjectionMapping()
	for _, f := range fields {
		member := core.ParseProjectionMember(f.Name)
		if member.IsRoot() && len(fields) > 1 {
			return fmt.Errorf("%w: unnamed field in a multi-field select", ErrInvalid)
		}
		switch {
		case f.Entity != "" && f.Expr != nil:
			return fmt.Errorf("%w: field %q sets both entity and expr", ErrInvalid, f.Name)
		case f.Entity != "":
			v, err := s.GetMappedProjection(entityMember(f.Entity))
			if err != nil {
				return err
			}
			if _, ok := v.(*core.EntityProjectionExpression); !ok {
				return fmt.Errorf("%w: %q is not an entity member", ErrInvalid, f.Entity)
			}
			m.Set(member, v)
		case f.Expr != nil:
			e, err := r.expr(s, nil, f.Expr)
			if err != nil {
				return err
			}
			m.Set(member, e)
		default:
			return fmt.Errorf("%w: field %q has neither entity nor expr", ErrInvalid, f.Name)
		}
	}
	return s.ReplaceProjectionMapping(m)
}

// entityMember maps the conventional "$" spelling to the root member.
func entityMember(path string) core.ProjectionMember {
	if path == "$" {
		return core.RootMember
	}
	return core.ParseProjectionMember(path)
}

func (r *replayer) join(s *core.SelectExpression, kind core.JoinKind, j *Join) error {
	inner, err := r.query(j.Query)
	if err != nil {
		return err
	}
	shape := core.JoinShape{Outer: j.Outer, Inner: j.Inner}
	if kind == core.CrossJoin {
		if j.On != nil {
			return fmt.Errorf("%w: cross join with a predicate", ErrInvalid)
		}
		return s.AddCrossJoin(inner, shape)
	}
	if j.On == nil {
		return fmt.Errorf("%w: %s without a predicate", ErrInvalid, strings.ToLower(kind.String()))
	}
	pred, err := r.expr(s, inner, j.On)
	if err != nil {
		return err
	}
	if kind == core.LeftJoin {
		return s.AddLeftJoin(inner, pred, shape)
	}
	return s.AddInnerJoin(inner, pred, shape)
}

func (r *replayer) setOperation(s *core.SelectExpression, kind core.SetOperationKind, q *Query) error {
	other, err := r.query(*q)
	if err != nil {
		return err
	}
	return s.ApplySetOperation(kind, other)
}

// include projects the collection navigation named by path. Leading path
// segments select the owning entity member; the rest is a chain of
// collection navigations, each nested in the elements of the previous one.
func (r *replayer) include(s *core.SelectExpression, path string) error {
	segments := strings.Split(path, ".")
	for i := range segments {
		member := core.NewProjectionMember(segments[:i]...)
		v, err := s.GetMappedProjection(member)
		if err != nil {
			continue
		}
		owner, ok := v.(*core.EntityProjectionExpression)
		if !ok || owner.EntityType.FindNavigation(segments[i]) == nil {
			continue
		}
		ph, err := r.includeChain(s, member, owner.EntityType, segments[i:])
		if err != nil {
			return err
		}
		r.includes = append(r.includes, core.ShaperField{Name: path, Shaper: ph})
		return nil
	}
	return fmt.Errorf("%w: include %q does not name a navigation", ErrInvalid, path)
}

func (r *replayer) includeChain(s *core.SelectExpression, member core.ProjectionMember, et *metadata.EntityType, navs []string) (core.Shaper, error) {
	nav := et.FindNavigation(navs[0])
	if nav == nil {
		return nil, fmt.Errorf("%w: %s has no navigation %q", ErrInvalid, et.Name(), navs[0])
	}
	if !nav.IsCollection {
		return nil, core.ErrUnsupported.New(fmt.Sprintf("include of reference navigation %s", nav.Name))
	}
	if len(navs) == 1 {
		return s.IncludeCollection(member, nav)
	}

	v, err := s.GetMappedProjection(member)
	if err != nil {
		return nil, err
	}
	owner, ok := v.(*core.EntityProjectionExpression)
	if !ok {
		return nil, core.ErrUnsupported.New(fmt.Sprintf("include on non-entity member %s", member))
	}
	inner := r.arena.Select(nav.Target)
	tv, _ := inner.GetMappedProjection(core.RootMember)
	target := tv.(*core.EntityProjectionExpression)
	pred, err := core.CorrelationPredicate(owner, target, nav)
	if err != nil {
		return nil, err
	}
	if err := inner.ApplyPredicate(pred); err != nil {
		return nil, err
	}
	nested, err := r.includeChain(inner, core.RootMember, nav.Target, navs[1:])
	if err != nil {
		return nil, err
	}
	element := &core.StructShaperExpression{Fields: []core.ShaperField{
		{Name: nav.Target.Name(), Shaper: &core.EntityShaperExpression{EntityType: nav.Target, Select: inner, Member: core.RootMember}},
		{Name: navs[1], Shaper: nested},
	}}
	return s.AddCollectionProjection(inner, nav, element)
}
