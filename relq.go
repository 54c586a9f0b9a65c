// Package relq composes relational queries over an entity model into a
// single SQL SELECT per query, prints it for PostgreSQL, MySQL, SQLite or
// SQL Server, and reads the rows back into nested records.
//
// A query is built on a mutable select builder allocated from an Arena:
//
//	s := relq.NewArena().Select(customer)
//	_ = s.ApplyPredicate(relq.Equals(city, relq.NewConstant("Oslo")))
//	orders, _ := s.IncludeCollection(relq.RootMember, customerOrders)
//	records, err := db.Run(ctx, s, relq.Struct(
//		relq.Field("Customer", relq.Entity(customer, s, relq.RootMember)),
//		relq.Field("Orders", orders),
//	), nil)
package relq

import (
	"github.com/coregx/relq/internal/analyzer"
	"github.com/coregx/relq/internal/core"
	"github.com/coregx/relq/internal/dialects"
	"github.com/coregx/relq/internal/exec"
	"github.com/coregx/relq/internal/metadata"
)

type (
	// EntityType describes a mapped entity and its hierarchy.
	EntityType = metadata.EntityType
	// Property is a scalar property of an entity type.
	Property = metadata.Property
	// Navigation relates two entity types.
	Navigation = metadata.Navigation
	// Model is a named set of entity types.
	Model = metadata.Model
	// Kind is the value kind of a property or expression.
	Kind = metadata.Kind

	// Arena allocates builders and tables with unique aliases.
	Arena = core.Arena
	// SelectExpression is the mutable select builder.
	SelectExpression = core.SelectExpression
	// SQLExpression is a scalar SQL expression.
	SQLExpression = core.SQLExpression
	// ProjectionMember is a path into a symbolic projection.
	ProjectionMember = core.ProjectionMember
	// JoinShape names the two sides of a join's projection.
	JoinShape = core.JoinShape
	// Shaper describes how records are read from rows.
	Shaper = core.Shaper
	// SetOperationKind is UNION, UNION ALL, INTERSECT or EXCEPT.
	SetOperationKind = core.SetOperationKind

	// Dialect prints SQL for one database.
	Dialect = dialects.Dialect

	// DB runs compiled queries on a database/sql pool.
	DB = exec.DB
	// Compiler turns builders into compiled queries.
	Compiler = exec.Compiler
	// CompiledQuery is a printed, executable query.
	CompiledQuery = exec.CompiledQuery
	// Option configures a DB or Compiler.
	Option = exec.Option
	// QueryEvent describes one execution for query hooks.
	QueryEvent = exec.QueryEvent
	// Plan is the execution plan returned by DB.Explain.
	Plan = analyzer.Plan
)

// Value kinds.
const (
	KindBool    = metadata.KindBool
	KindInt     = metadata.KindInt
	KindFloat   = metadata.KindFloat
	KindDecimal = metadata.KindDecimal
	KindString  = metadata.KindString
	KindBytes   = metadata.KindBytes
	KindTime    = metadata.KindTime
)

// Set operations.
const (
	Union     = core.SetOperationUnion
	UnionAll  = core.SetOperationUnionAll
	Intersect = core.SetOperationIntersect
	Except    = core.SetOperationExcept
)

// RootMember is the empty projection path.
var RootMember = core.RootMember

// Error kinds.
var (
	ErrUnsupported              = core.ErrUnsupported
	ErrInvariantViolation       = core.ErrInvariantViolation
	ErrProjectionMemberNotFound = core.ErrProjectionMemberNotFound
	ErrNoDialect                = exec.ErrNoDialect
	ErrMissingParam             = exec.ErrMissingParam
	ErrExplainUnsupported       = analyzer.ErrUnsupported
)

// Re-export constructors.
var (
	NewEntityType      = metadata.NewEntityType
	NewModel           = metadata.NewModel
	DefaultTypeMapping = metadata.DefaultTypeMapping
	FromStruct         = metadata.FromStruct

	NewArena             = core.NewArena
	NewProjectionMember  = core.NewProjectionMember
	NewConstant          = core.NewConstant
	NewNull              = core.NewNull
	Equals               = core.Equals
	And                  = core.And
	Or                   = core.Or
	Not                  = core.Not
	IsNull               = core.IsNull
	IsNotNull            = core.IsNotNull
	DefaultShaper        = core.DefaultShaper
	IsUnsupported        = core.IsUnsupported
	IsInvariantViolation = core.IsInvariantViolation

	GetDialect = dialects.GetDialect

	Open             = exec.Open
	New              = exec.New
	NewCompiler      = exec.NewCompiler
	WithDialect      = exec.WithDialect
	WithLogger       = exec.WithLogger
	WithTracer       = exec.WithTracer
	WithQueryHook    = exec.WithQueryHook
	WithMaxOpenConns = exec.WithMaxOpenConns
	WithMaxIdleConns = exec.WithMaxIdleConns
)

// Param creates a named query parameter of kind k.
func Param(name string, k Kind) *core.ParameterExpression {
	return &core.ParameterExpression{Name: name, Type: metadata.DefaultTypeMapping(k)}
}

// Entity reads the entity mapped at member of s.
func Entity(et *EntityType, s *SelectExpression, member ProjectionMember) Shaper {
	return &core.EntityShaperExpression{EntityType: et, Select: s, Member: member}
}

// Field names a shaper inside a Struct.
func Field(name string, sh Shaper) core.ShaperField {
	return core.ShaperField{Name: name, Shaper: sh}
}

// Struct reads a record with the given fields.
func Struct(fields ...core.ShaperField) Shaper {
	return &core.StructShaperExpression{Fields: fields}
}

// Column binds property name of the entity mapped at member of s.
func Column(s *SelectExpression, member ProjectionMember, name string) (SQLExpression, error) {
	v, err := s.GetMappedProjection(member)
	if err != nil {
		return nil, err
	}
	e, ok := v.(*core.EntityProjectionExpression)
	if !ok {
		if sql, ok := v.(core.SQLExpression); ok && name == "" {
			return sql, nil
		}
		return nil, core.ErrUnsupported.New("column of non-entity member " + member.String())
	}
	p := e.EntityType.FindHierarchyProperty(name)
	if p == nil {
		return nil, core.ErrProjectionMemberNotFound.New(member.Append(name).String())
	}
	return e.BindProperty(p)
}
