// Package exec compiles select trees into SQL for a dialect and runs them
// through database/sql, reading the rows back into records.
package exec

import (
	"context"
	"errors"
	"fmt"

	"github.com/coregx/relq/internal/core"
	"github.com/coregx/relq/internal/metadata"
	"github.com/coregx/relq/internal/sqlgen"
	"github.com/coregx/relq/internal/tracer"
)

// ErrNoDialect is returned when no dialect was configured or derived.
var ErrNoDialect = errors.New("exec: no dialect")

// CompiledQuery is a finalized tree printed for one dialect. It is
// immutable and may be executed any number of times.
type CompiledQuery struct {
	SQL     string
	Dialect string
	// Args holds the bound values in placeholder order. sqlgen.Param
	// entries are resolved from the named parameters at execution.
	Args []any
	// Kinds holds the value kind of each projected column.
	Kinds  []metadata.Kind
	Shaper core.Shaper
}

// Params returns the distinct named parameters the query expects, in order
// of first use.
func (q *CompiledQuery) Params() []string {
	var names []string
	seen := make(map[string]bool)
	for _, a := range q.Args {
		if p, ok := a.(sqlgen.Param); ok && !seen[p.Name] {
			seen[p.Name] = true
			names = append(names, p.Name)
		}
	}
	return names
}

// Compiler turns select builders into compiled queries.
type Compiler struct {
	cfg *config
}

// NewCompiler creates a compiler. WithDialect is required.
func NewCompiler(opts ...Option) (*Compiler, error) {
	cfg := newConfig(opts)
	if cfg.dialect == nil {
		return nil, ErrNoDialect
	}
	return &Compiler{cfg: cfg}, nil
}

// Compile finalizes s with sh, validates the tree and prints it. A nil sh
// reads back every member of s's projection mapping.
//
// Finalization mutates s; a builder is compiled once.
func (c *Compiler) Compile(ctx context.Context, s *core.SelectExpression, sh core.Shaper) (*CompiledQuery, error) {
	_, span := c.cfg.tracer.StartSpan(ctx, "relq.compile")
	defer span.End()

	meta := &tracer.CompileMetadata{Dialect: c.cfg.dialect.Name()}
	q, err := c.compile(s, sh, meta)
	meta.Error = err
	tracer.AddCompileAttributes(span, meta)
	if err != nil {
		c.cfg.logger.Error("compile failed", "dialect", meta.Dialect, "error", err)
		return nil, err
	}
	c.cfg.logger.Debug("query compiled",
		"dialect", meta.Dialect,
		"sql", q.SQL,
		"args", c.cfg.sanitizer.FormatParams(c.cfg.sanitizer.MaskParams(q.SQL, q.Args)),
		"collections", meta.Collections,
	)
	return q, nil
}

func (c *Compiler) compile(s *core.SelectExpression, sh core.Shaper, meta *tracer.CompileMetadata) (*CompiledQuery, error) {
	if s == nil {
		return nil, core.ErrInvariantViolation.New("compile of nil select")
	}
	if sh == nil {
		var err error
		if sh, err = core.DefaultShaper(s); err != nil {
			return nil, fmt.Errorf("shaper: %w", err)
		}
	}
	resolved, err := core.Finalize(s, sh)
	if err != nil {
		return nil, fmt.Errorf("finalize: %w", err)
	}
	sql, args, err := sqlgen.Generate(s, c.cfg.dialect)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	projection := s.Projection()
	kinds := make([]metadata.Kind, len(projection))
	for i, pe := range projection {
		kinds[i] = pe.Expression.TypeMapping().Kind
	}
	meta.SQL = sql
	meta.Columns = len(projection)
	meta.Args = len(args)
	meta.Collections = countCollections(resolved)

	return &CompiledQuery{
		SQL:     sql,
		Dialect: c.cfg.dialect.Name(),
		Args:    args,
		Kinds:   kinds,
		Shaper:  resolved,
	}, nil
}

func countCollections(sh core.Shaper) int {
	switch x := sh.(type) {
	case *core.StructShaperExpression:
		n := 0
		for _, f := range x.Fields {
			n += countCollections(f.Shaper)
		}
		return n
	case *core.CollectionShaperExpression:
		return 1 + countCollections(x.Element)
	}
	return 0
}
