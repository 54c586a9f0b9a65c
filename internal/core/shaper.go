package core

import (
	"fmt"

	"github.com/coregx/relq/internal/metadata"
)

// Shaper describes how one result record is read back out of a flat row.
//
// The variant set is closed: *ProjectionBindingExpression,
// *EntityShaperExpression, *StructShaperExpression, *CollectionPlaceholder
// and *CollectionShaperExpression.
type Shaper interface {
	fmt.Stringer
	shaper()
}

// ProjectionBindingExpression reads the scalar projected for Member by
// Select. Index is -1 until the select is finalized.
type ProjectionBindingExpression struct {
	Select *SelectExpression
	Member ProjectionMember
	Index  int
}

// NewProjectionBinding creates an unbound scalar binding.
func NewProjectionBinding(s *SelectExpression, member ProjectionMember) *ProjectionBindingExpression {
	return &ProjectionBindingExpression{Select: s, Member: member, Index: -1}
}

func (p *ProjectionBindingExpression) String() string {
	if p.Index < 0 {
		return "bind(" + p.Member.String() + ")"
	}
	return fmt.Sprintf("bind(%s=#%d)", p.Member, p.Index)
}

// EntityShaperExpression reads the entity projected for Member by Select.
// Properties is nil until the select is finalized.
type EntityShaperExpression struct {
	EntityType *metadata.EntityType
	Select     *SelectExpression
	Member     ProjectionMember
	Nullable   bool
	Properties map[*metadata.Property]int
}

func (e *EntityShaperExpression) String() string {
	return "entity(" + e.EntityType.Name() + " " + e.Member.String() + ")"
}

// ShaperField is a named member of a StructShaperExpression.
type ShaperField struct {
	Name   string
	Shaper Shaper
}

// StructShaperExpression builds a record of named fields.
type StructShaperExpression struct {
	Fields []ShaperField
}

func (s *StructShaperExpression) String() string {
	out := "struct{"
	for i, f := range s.Fields {
		if i > 0 {
			out += ", "
		}
		out += f.Name + ": " + f.Shaper.String()
	}
	return out + "}"
}

// CollectionPlaceholder stands for a collection projection registered with
// AddCollectionProjection and not yet joined.
type CollectionPlaceholder struct {
	Navigation *metadata.Navigation
	request    *collectionRequest
}

func (c *CollectionPlaceholder) String() string {
	return "pending(" + c.Navigation.Name + ")"
}

// CollectionShaperExpression reads a collection out of consecutive rows.
// Rows belong to the same owner while the OuterIdentifier columns repeat and
// to the same element while the SelfIdentifier columns repeat; an all-NULL
// SelfIdentifier means the owner has no elements.
//
// SiblingIdentifier holds the identifiers of collections joined to the same
// owner before this one. Their rows multiply this collection's rows, so only
// rows carrying the sibling key the collection was opened with are read.
type CollectionShaperExpression struct {
	Navigation        *metadata.Navigation
	OuterIdentifier   []int
	SiblingIdentifier []int
	SelfIdentifier    []int
	Element           Shaper
}

func (c *CollectionShaperExpression) String() string {
	if len(c.SiblingIdentifier) > 0 {
		return fmt.Sprintf("collection(%s outer=%v siblings=%v self=%v %s)", c.Navigation.Name, c.OuterIdentifier, c.SiblingIdentifier, c.SelfIdentifier, c.Element)
	}
	return fmt.Sprintf("collection(%s outer=%v self=%v %s)", c.Navigation.Name, c.OuterIdentifier, c.SelfIdentifier, c.Element)
}

func (*ProjectionBindingExpression) shaper() {}
func (*EntityShaperExpression) shaper()      {}
func (*StructShaperExpression) shaper()      {}
func (*CollectionPlaceholder) shaper()       {}
func (*CollectionShaperExpression) shaper()  {}

// TransformShaper applies f bottom-up. Changed nodes are copied.
func TransformShaper(sh Shaper, f func(Shaper) (Shaper, error)) (Shaper, error) {
	switch x := sh.(type) {
	case *StructShaperExpression:
		fields := make([]ShaperField, len(x.Fields))
		for i, field := range x.Fields {
			nf, err := TransformShaper(field.Shaper, f)
			if err != nil {
				return nil, err
			}
			fields[i] = ShaperField{Name: field.Name, Shaper: nf}
		}
		return f(&StructShaperExpression{Fields: fields})
	case *CollectionShaperExpression:
		element, err := TransformShaper(x.Element, f)
		if err != nil {
			return nil, err
		}
		nc := *x
		nc.Element = element
		return f(&nc)
	case *ProjectionBindingExpression, *EntityShaperExpression, *CollectionPlaceholder:
		return f(x)
	}
	return nil, ErrInvariantViolation.New(fmt.Sprintf("unknown shaper %T", sh))
}

// shiftShaper moves every bound index of sh by offset.
func shiftShaper(sh Shaper, offset int) (Shaper, error) {
	return TransformShaper(sh, func(sh Shaper) (Shaper, error) {
		switch x := sh.(type) {
		case *ProjectionBindingExpression:
			if x.Index < 0 {
				return nil, ErrInvariantViolation.New("shifting an unbound projection binding " + x.Member.String())
			}
			nb := *x
			nb.Index += offset
			return &nb, nil
		case *EntityShaperExpression:
			if x.Properties == nil {
				return nil, ErrInvariantViolation.New("shifting an unbound entity shaper " + x.Member.String())
			}
			ne := *x
			ne.Properties = make(map[*metadata.Property]int, len(x.Properties))
			for p, i := range x.Properties {
				ne.Properties[p] = i + offset
			}
			return &ne, nil
		case *CollectionShaperExpression:
			nc := *x
			nc.OuterIdentifier = shiftIndexes(x.OuterIdentifier, offset)
			nc.SiblingIdentifier = shiftIndexes(x.SiblingIdentifier, offset)
			nc.SelfIdentifier = shiftIndexes(x.SelfIdentifier, offset)
			return &nc, nil
		case *CollectionPlaceholder:
			return nil, ErrInvariantViolation.New("shifting an unresolved collection " + x.Navigation.Name)
		}
		return sh, nil
	})
}

func shiftIndexes(indexes []int, offset int) []int {
	if indexes == nil {
		return nil
	}
	out := make([]int, len(indexes))
	for i, idx := range indexes {
		out[i] = idx + offset
	}
	return out
}

// DefaultShaper builds a shaper for every member of s's symbolic mapping.
// A lone root member yields its shaper directly; otherwise members nest into
// struct shapers following their path segments.
func DefaultShaper(s *SelectExpression) (Shaper, error) {
	if s.projected {
		return nil, ErrUnsupported.New("default shaper requested after ApplyProjection")
	}
	root := &StructShaperExpression{}
	for _, member := range s.mapping.Members() {
		v, _ := s.mapping.Get(member)
		var leaf Shaper
		switch x := v.(type) {
		case *EntityProjectionExpression:
			leaf = &EntityShaperExpression{EntityType: x.EntityType, Select: s, Member: member, Nullable: x.nullable}
		case SQLExpression:
			leaf = NewProjectionBinding(s, member)
		default:
			return nil, ErrInvariantViolation.New(fmt.Sprintf("unknown mapped expression %T for %s", v, member))
		}
		if member.IsRoot() {
			if s.mapping.Len() == 1 {
				return leaf, nil
			}
			root.Fields = append(root.Fields, ShaperField{Name: "$", Shaper: leaf})
			continue
		}
		insertShaperField(root, member.Segments(), leaf)
	}
	return root, nil
}

func insertShaperField(st *StructShaperExpression, path []string, leaf Shaper) {
	if len(path) == 1 {
		st.Fields = append(st.Fields, ShaperField{Name: path[0], Shaper: leaf})
		return
	}
	for _, f := range st.Fields {
		if f.Name == path[0] {
			if child, ok := f.Shaper.(*StructShaperExpression); ok {
				insertShaperField(child, path[1:], leaf)
				return
			}
		}
	}
	child := &StructShaperExpression{}
	st.Fields = append(st.Fields, ShaperField{Name: path[0], Shaper: child})
	insertShaperField(child, path[1:], leaf)
}
