package scenario

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/coregx/relq/internal/core"
	"github.com/coregx/relq/internal/metadata"
)

// expr builds e against s. Inner references resolve on inner, which is only
// set while building a join predicate.
func (r *replayer) expr(s, inner *core.SelectExpression, e *Expr) (core.SQLExpression, error) {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > maxDepth {
		return nil, fmt.Errorf("%w: expression nested deeper than %d", ErrInvalid, maxDepth)
	}

	switch {
	case e.Column != "":
		return column(s, e.Column)
	case e.Inner != "":
		if inner == nil {
			return nil, fmt.Errorf("%w: inner column %q outside a join predicate", ErrInvalid, e.Inner)
		}
		return column(inner, e.Inner)
	case e.Null:
		mapping, err := mappingOf(e.Kind)
		if err != nil {
			return nil, err
		}
		return core.NewNull(mapping), nil
	case e.Value != nil:
		return constant(e.Value, e.Kind)
	case e.Param != "":
		mapping, err := mappingOf(e.Kind)
		if err != nil {
			return nil, err
		}
		return &core.ParameterExpression{Name: e.Param, Type: mapping}, nil
	case e.Op != "":
		op, err := core.ParseBinaryOperator(e.Op)
		if err != nil {
			return nil, err
		}
		if e.Left == nil || e.Right == nil {
			return nil, fmt.Errorf("%w: operator %s needs left and right", ErrInvalid, op)
		}
		left, err := r.expr(s, inner, e.Left)
		if err != nil {
			return nil, err
		}
		right, err := r.expr(s, inner, e.Right)
		if err != nil {
			return nil, err
		}
		return core.NewBinary(op, left, right), nil
	case e.Not != nil:
		operand, err := r.expr(s, inner, e.Not)
		if err != nil {
			return nil, err
		}
		return core.Not(operand), nil
	case e.IsNull != nil:
		operand, err := r.expr(s, inner, e.IsNull)
		if err != nil {
			return nil, err
		}
		return core.IsNull(operand), nil
	case e.IsNotNull != nil:
		operand, err := r.expr(s, inner, e.IsNotNull)
		if err != nil {
			return nil, err
		}
		return core.IsNotNull(operand), nil
	case e.Func != "":
		mapping, err := mappingOf(e.Kind)
		if err != nil {
			return nil, err
		}
		f := &core.FunctionExpression{Name: strings.ToUpper(e.Func), Star: e.Star, Type: mapping, Nullable: true}
		for i := range e.Args {
			arg, err := r.expr(s, inner, &e.Args[i])
			if err != nil {
				return nil, err
			}
			f.Arguments = append(f.Arguments, arg)
		}
		if f.Name == "COUNT" {
			f.Nullable = false
		}
		return f, nil
	case e.SQL != "":
		return &core.FragmentExpression{SQL: e.SQL}, nil
	}
	return nil, fmt.Errorf("%w: empty expression", ErrInvalid)
}

const maxDepth = 64

// column resolves a dotted path. The whole path may name a scalar member;
// otherwise the last segment is a property of the entity at the rest.
func column(s *core.SelectExpression, path string) (core.SQLExpression, error) {
	member := core.ParseProjectionMember(path)
	if member.IsRoot() {
		return nil, fmt.Errorf("%w: column path %q", ErrInvalid, path)
	}
	if v, err := s.GetMappedProjection(member); err == nil {
		if e, ok := v.(core.SQLExpression); ok {
			return e, nil
		}
		return nil, fmt.Errorf("%w: %q is an entity, not a column", ErrInvalid, path)
	}
	segments := member.Segments()
	owner := core.NewProjectionMember(segments[:len(segments)-1]...)
	v, err := s.GetMappedProjection(owner)
	if err != nil {
		return nil, err
	}
	ep, ok := v.(*core.EntityProjectionExpression)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an entity member", ErrInvalid, owner)
	}
	p := ep.EntityType.FindHierarchyProperty(member.Last())
	if p == nil {
		return nil, fmt.Errorf("%w: %s.%s", metadata.ErrUnknownProperty, ep.EntityType.Name(), member.Last())
	}
	return ep.BindProperty(p)
}

func mappingOf(kind string) (metadata.TypeMapping, error) {
	if kind == "" {
		return metadata.TypeMapping{}, nil
	}
	k, err := metadata.ParseKind(kind)
	if err != nil {
		return metadata.TypeMapping{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return metadata.DefaultTypeMapping(k), nil
}

// constant coerces a YAML literal to kind. Without a kind the decoded value
// is used as is, with integers widened to int64.
func constant(v any, kind string) (*core.ConstantExpression, error) {
	if kind == "" {
		if i, ok := v.(int); ok {
			v = int64(i)
		}
		return core.NewConstant(v), nil
	}
	k, err := metadata.ParseKind(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var out any
	switch k {
	case metadata.KindBool:
		out, err = cast.ToBoolE(v)
	case metadata.KindInt:
		out, err = cast.ToInt64E(v)
	case metadata.KindFloat, metadata.KindDecimal:
		out, err = cast.ToFloat64E(v)
	case metadata.KindString:
		out, err = cast.ToStringE(v)
	case metadata.KindTime:
		out, err = cast.ToTimeE(v)
	case metadata.KindBytes:
		var str string
		str, err = cast.ToStringE(v)
		out = []byte(str)
	default:
		out = v
	}
	if err != nil {
		return nil, fmt.Errorf("%w: literal %v as %s: %v", ErrInvalid, v, k, err)
	}
	return &core.ConstantExpression{Value: out, Type: metadata.DefaultTypeMapping(k)}, nil
}
