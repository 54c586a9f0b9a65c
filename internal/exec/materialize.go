package exec

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/coregx/relq/internal/core"
	"github.com/coregx/relq/internal/metadata"
)

// materializer folds flat rows into records following a resolved shaper.
// Entities and structs become map[string]any, collections []any and
// scalars their converted column value.
//
// Rows of one owner arrive consecutively: a row whose owner identifier
// repeats the previous one extends the open record instead of starting a
// new one, and the same holds for elements of nested collections.
type materializer struct {
	root  core.Shaper
	kinds []metadata.Kind
	owner []int

	records    []any
	current    *instance
	currentKey string
}

// instance is a value built from one row together with the collections in
// it that later rows may still extend.
type instance struct {
	value       any
	collections []*openCollection
}

type openCollection struct {
	m          *materializer
	shaper     *core.CollectionShaperExpression
	items      []any
	set        func([]any)
	last       *instance
	lastKey    string
	siblingKey string
}

func newMaterializer(sh core.Shaper, kinds []metadata.Kind) *materializer {
	return &materializer{root: sh, kinds: kinds, owner: ownerColumns(sh, nil)}
}

// ownerColumns collects the outer identifier columns of the collections
// directly inside sh, without descending into collection elements.
func ownerColumns(sh core.Shaper, acc []int) []int {
	switch x := sh.(type) {
	case *core.StructShaperExpression:
		for _, f := range x.Fields {
			acc = ownerColumns(f.Shaper, acc)
		}
	case *core.CollectionShaperExpression:
		for _, i := range x.OuterIdentifier {
			if !containsInt(acc, i) {
				acc = append(acc, i)
			}
		}
	}
	return acc
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// add consumes one row.
func (m *materializer) add(row []any) error {
	if m.current != nil && len(m.owner) > 0 {
		key, err := m.identity(row, m.owner)
		if err != nil {
			return err
		}
		if key == m.currentKey {
			return m.current.extend(row)
		}
	}
	i := len(m.records)
	m.records = append(m.records, nil)
	inst, err := m.build(m.root, row, func(v []any) { m.records[i] = v })
	if err != nil {
		return err
	}
	m.records[i] = inst.value
	m.current = inst
	if len(m.owner) > 0 {
		m.currentKey, _ = m.identity(row, m.owner)
	}
	return nil
}

func (inst *instance) extend(row []any) error {
	for _, oc := range inst.collections {
		if err := oc.add(row); err != nil {
			return err
		}
	}
	return nil
}

// add appends the element row belongs to, or extends it when it is the
// element of the previous row. An all-NULL element identifier is an owner
// without elements. Rows of a later sibling combination repeat elements
// already read and are skipped.
func (oc *openCollection) add(row []any) error {
	if len(oc.shaper.SiblingIdentifier) > 0 {
		sk, err := oc.m.identity(row, oc.shaper.SiblingIdentifier)
		if err != nil {
			return err
		}
		if sk != oc.siblingKey {
			return nil
		}
	}
	key, err := oc.m.identity(row, oc.shaper.SelfIdentifier)
	if err != nil || key == "" {
		return err
	}
	if oc.last != nil && key == oc.lastKey {
		return oc.last.extend(row)
	}
	i := len(oc.items)
	oc.items = append(oc.items, nil)
	inst, err := oc.m.build(oc.shaper.Element, row, func(v []any) {
		oc.items[i] = v
		oc.set(oc.items)
	})
	if err != nil {
		return err
	}
	oc.items[i] = inst.value
	oc.set(oc.items)
	oc.last, oc.lastKey = inst, key
	return nil
}

// build reads a fresh value for sh out of row. set is called when a
// collection built here grows.
func (m *materializer) build(sh core.Shaper, row []any, set func([]any)) (*instance, error) {
	switch x := sh.(type) {
	case *core.ProjectionBindingExpression:
		v, err := m.column(row, x.Index, metadata.KindUnknown)
		if err != nil {
			return nil, err
		}
		return &instance{value: v}, nil

	case *core.EntityShaperExpression:
		return m.entity(x, row)

	case *core.StructShaperExpression:
		out := make(map[string]any, len(x.Fields))
		inst := &instance{value: out}
		for _, f := range x.Fields {
			name := f.Name
			child, err := m.build(f.Shaper, row, func(v []any) { out[name] = v })
			if err != nil {
				return nil, err
			}
			out[name] = child.value
			inst.collections = append(inst.collections, child.collections...)
		}
		return inst, nil

	case *core.CollectionShaperExpression:
		oc := &openCollection{m: m, shaper: x, items: []any{}, set: set}
		if len(x.SiblingIdentifier) > 0 {
			sk, err := m.identity(row, x.SiblingIdentifier)
			if err != nil {
				return nil, err
			}
			oc.siblingKey = sk
		}
		if err := oc.add(row); err != nil {
			return nil, err
		}
		return &instance{value: oc.items, collections: []*openCollection{oc}}, nil

	case *core.CollectionPlaceholder:
		return nil, core.ErrInvariantViolation.New(fmt.Sprintf("unresolved %s at materialization", x))
	}
	return nil, core.ErrInvariantViolation.New(fmt.Sprintf("unknown shaper %T", sh))
}

// entity reads the properties of an entity. An optional entity whose key
// columns are all NULL comes from an unmatched outer join and reads as nil.
func (m *materializer) entity(x *core.EntityShaperExpression, row []any) (*instance, error) {
	if len(x.Properties) == 0 {
		return nil, core.ErrInvariantViolation.New(fmt.Sprintf("%s is not bound to columns", x))
	}
	if x.Nullable && m.absent(x, row) {
		return &instance{}, nil
	}
	out := make(map[string]any, len(x.Properties))
	for p, idx := range x.Properties {
		v, err := m.column(row, idx, p.Type.Kind)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out[p.Name] = v
	}
	return &instance{value: out}, nil
}

func (m *materializer) absent(x *core.EntityShaperExpression, row []any) bool {
	keys := x.EntityType.PrimaryKey()
	checked := 0
	for _, p := range keys {
		idx, ok := x.Properties[p]
		if !ok {
			continue
		}
		checked++
		if idx < len(row) && row[idx] != nil {
			return false
		}
	}
	if checked > 0 {
		return true
	}
	for _, idx := range x.Properties {
		if idx < len(row) && row[idx] != nil {
			return false
		}
	}
	return true
}

// column converts the value at idx to kind, or to the column's projected
// kind when kind is unknown.
func (m *materializer) column(row []any, idx int, kind metadata.Kind) (any, error) {
	if idx < 0 || idx >= len(row) {
		return nil, core.ErrInvariantViolation.New(fmt.Sprintf("column %d out of range of %d", idx, len(row)))
	}
	if kind == metadata.KindUnknown && idx < len(m.kinds) {
		kind = m.kinds[idx]
	}
	v, err := convert(row[idx], kind)
	if err != nil {
		return nil, fmt.Errorf("column %d: %w", idx, err)
	}
	return v, nil
}

// identity renders the values at cols as a comparable key. It returns ""
// when every value is NULL.
func (m *materializer) identity(row []any, cols []int) (string, error) {
	var b strings.Builder
	null := true
	for _, i := range cols {
		if i < 0 || i >= len(row) {
			return "", core.ErrInvariantViolation.New(fmt.Sprintf("identifier column %d out of range of %d", i, len(row)))
		}
		v := row[i]
		if v != nil {
			null = false
		}
		if bs, ok := v.([]byte); ok {
			v = string(bs)
		}
		fmt.Fprintf(&b, "%T:%v\x1f", v, v)
	}
	if null {
		return "", nil
	}
	return b.String(), nil
}

// convert coerces a scanned driver value to kind.
func convert(v any, kind metadata.Kind) (any, error) {
	if v == nil {
		return nil, nil
	}
	if bs, ok := v.([]byte); ok {
		if kind == metadata.KindBytes {
			return bs, nil
		}
		v = string(bs)
	}
	switch kind {
	case metadata.KindBool:
		return cast.ToBoolE(v)
	case metadata.KindInt:
		return cast.ToInt64E(v)
	case metadata.KindFloat, metadata.KindDecimal:
		return cast.ToFloat64E(v)
	case metadata.KindString:
		return cast.ToStringE(v)
	case metadata.KindTime:
		return cast.ToTimeE(v)
	case metadata.KindBytes:
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
	}
	return v, nil
}
