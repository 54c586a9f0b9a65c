// Package scenario reads YAML files that describe an entity model and a
// pipeline of query operators, and replays the pipeline onto a select
// builder.
//
//	entities:
//	  - name: Customer
//	    table: customers
//	    properties:
//	      - {name: ID, column: id, kind: int, key: true}
//	      - {name: City, column: city, kind: string, nullable: true}
//	    navigations:
//	      - {name: Orders, target: Order, foreign_key: [CustomerID], collection: true}
//	query:
//	  from: Customer
//	  steps:
//	    - where: {op: "=", left: {column: City}, right: {value: Oslo}}
//	    - order_by: {column: ID, desc: true}
//	    - include: Orders
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coregx/relq/internal/metadata"
)

// ErrInvalid is wrapped by errors in a scenario's structure.
var ErrInvalid = errors.New("invalid scenario")

// Scenario is one decoded file.
type Scenario struct {
	Name     string         `yaml:"name"`
	Entities []Entity       `yaml:"entities"`
	Query    Query          `yaml:"query"`
	Params   map[string]any `yaml:"params"`
	// Setup holds statements executed before the query when it is run.
	Setup []string `yaml:"setup"`

	model *metadata.Model
}

// Entity declares one entity type.
type Entity struct {
	Name        string       `yaml:"name"`
	Table       string       `yaml:"table"`
	Schema      string       `yaml:"schema"`
	Base        string       `yaml:"base"`
	Properties  []Property   `yaml:"properties"`
	Navigations []Navigation `yaml:"navigations"`
}

// Property declares a scalar property.
type Property struct {
	Name     string `yaml:"name"`
	Column   string `yaml:"column"`
	Kind     string `yaml:"kind"`
	Nullable bool   `yaml:"nullable"`
	Key      bool   `yaml:"key"`
}

// Navigation declares a relationship to another entity.
type Navigation struct {
	Name         string   `yaml:"name"`
	Target       string   `yaml:"target"`
	ForeignKey   []string `yaml:"foreign_key"`
	PrincipalKey []string `yaml:"principal_key"`
	Collection   bool     `yaml:"collection"`
}

// Query is a root entity, or raw SQL read as that entity, followed by
// operator steps.
type Query struct {
	From  string `yaml:"from"`
	SQL   string `yaml:"sql"`
	Args  []any  `yaml:"args"`
	Steps []Step `yaml:"steps"`
}

// Step is one operator. Exactly one field is set.
type Step struct {
	Where     *Expr     `yaml:"where"`
	OrderBy   *Ordering `yaml:"order_by"`
	ThenBy    *Ordering `yaml:"then_by"`
	Reverse   bool      `yaml:"reverse"`
	Skip      *Expr     `yaml:"skip"`
	Take      *Expr     `yaml:"take"`
	Distinct  bool      `yaml:"distinct"`
	GroupBy   []Expr    `yaml:"group_by"`
	Select    []Field   `yaml:"select"`
	Pushdown  bool      `yaml:"pushdown"`
	Join      *Join     `yaml:"join"`
	LeftJoin  *Join     `yaml:"left_join"`
	CrossJoin *Join     `yaml:"cross_join"`
	Union     *Query    `yaml:"union"`
	UnionAll  *Query    `yaml:"union_all"`
	Intersect *Query    `yaml:"intersect"`
	Except    *Query    `yaml:"except"`
	Include   string    `yaml:"include"`
}

// Ordering is an order_by or then_by operand.
type Ordering struct {
	Expr `yaml:",inline"`
	Desc bool `yaml:"desc"`
}

// Field is one member of a select step. Entity names an entity member to
// carry over whole; otherwise Expr is projected.
type Field struct {
	Name   string `yaml:"name"`
	Entity string `yaml:"entity"`
	Expr   *Expr  `yaml:"expr"`
}

// Join joins a nested query. On may refer to the joined query with inner.
type Join struct {
	Query Query  `yaml:"query"`
	On    *Expr  `yaml:"on"`
	Outer string `yaml:"outer"`
	Inner string `yaml:"inner"`
}

// Expr is an expression. Exactly one of its leading fields is set.
type Expr struct {
	Column    string `yaml:"column"`
	Inner     string `yaml:"inner"`
	Value     any    `yaml:"value"`
	Null      bool   `yaml:"null"`
	Param     string `yaml:"param"`
	Op        string `yaml:"op"`
	Not       *Expr  `yaml:"not"`
	IsNull    *Expr  `yaml:"is_null"`
	IsNotNull *Expr  `yaml:"is_not_null"`
	Func      string `yaml:"func"`
	SQL       string `yaml:"sql"`

	Left  *Expr  `yaml:"left"`
	Right *Expr  `yaml:"right"`
	Args  []Expr `yaml:"args"`
	Star  bool   `yaml:"star"`
	// Kind types values, parameters, NULLs and function results.
	Kind string `yaml:"kind"`
}

// Load reads the scenario at path.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes a scenario and builds its model. Unknown keys are errors.
func Parse(r io.Reader) (*Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	model, err := buildModel(sc.Entities)
	if err != nil {
		return nil, err
	}
	sc.model = model
	return &sc, nil
}

// Model returns the entity model declared by the scenario.
func (sc *Scenario) Model() *metadata.Model { return sc.model }

func buildModel(entities []Entity) (*metadata.Model, error) {
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: no entities", ErrInvalid)
	}
	model := metadata.NewModel()
	for _, e := range entities {
		if err := model.Add(metadata.NewEntityType(e.Name, e.Table)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	// bases first so that hierarchy checks see every property
	for _, e := range entities {
		if e.Base == "" {
			continue
		}
		et, _ := model.Entity(e.Name)
		base, ok := model.Entity(e.Base)
		if !ok {
			return nil, fmt.Errorf("%w: base %q of %s is not declared", ErrInvalid, e.Base, e.Name)
		}
		if err := et.SetBaseType(base); err != nil {
			return nil, err
		}
	}
	for _, e := range entities {
		et, _ := model.Entity(e.Name)
		if e.Schema != "" {
			et.WithSchema(e.Schema)
		}
		var key []string
		for _, p := range e.Properties {
			kind, err := metadata.ParseKind(p.Kind)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalid, e.Name, p.Name, err)
			}
			if _, err := et.AddProperty(p.Name, p.Column, metadata.DefaultTypeMapping(kind), p.Nullable); err != nil {
				return nil, err
			}
			if p.Key {
				key = append(key, p.Name)
			}
		}
		if len(key) > 0 {
			if err := et.SetPrimaryKey(key...); err != nil {
				return nil, err
			}
		}
	}
	for _, e := range entities {
		et, _ := model.Entity(e.Name)
		for _, n := range e.Navigations {
			target, ok := model.Entity(n.Target)
			if !ok {
				return nil, fmt.Errorf("%w: navigation %s.%s targets undeclared %q", ErrInvalid, e.Name, n.Name, n.Target)
			}
			if _, err := et.AddNavigation(n.Name, target, n.Collection, n.ForeignKey, n.PrincipalKey); err != nil {
				return nil, err
			}
		}
	}
	return model, nil
}
