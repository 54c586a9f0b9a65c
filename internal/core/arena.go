package core

import (
	"fmt"
	"strconv"

	"golang.org/x/text/cases"

	"github.com/coregx/relq/internal/logger"
	"github.com/coregx/relq/internal/metadata"
)

// RawSQLValidator vets raw SQL before it is embedded as a table source.
// *security.Validator satisfies it.
type RawSQLValidator interface {
	ValidateQuery(query string) error
}

// ArenaOption configures an Arena.
type ArenaOption func(*Arena)

// WithLogger sets the logger used for pushdown and collection-join events.
func WithLogger(l logger.Logger) ArenaOption {
	return func(a *Arena) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRawSQLValidator validates raw SQL table fragments.
func WithRawSQLValidator(v RawSQLValidator) ArenaOption {
	return func(a *Arena) {
		a.validator = v
	}
}

// Arena owns every table-like node created during one query translation.
// It hands out table IDs and table aliases that are unique across the whole
// tree, so no two nodes of a translation ever print the same alias.
//
// An Arena and the builders it allocates are not safe for concurrent use.
type Arena struct {
	nextID    TableID
	aliases   map[string]struct{}
	fold      cases.Caser
	logger    logger.Logger
	validator RawSQLValidator
}

// NewArena creates an arena.
func NewArena(opts ...ArenaOption) *Arena {
	a := &Arena{
		aliases: make(map[string]struct{}),
		fold:    cases.Fold(),
		logger:  &logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Arena) newID() TableID {
	a.nextID++
	return a.nextID
}

// alias reserves the first free alias of the form base, base0, base1, ...
// Comparison is case-insensitive.
func (a *Arena) alias(base string) string {
	if base == "" {
		base = "t"
	}
	candidate := base
	for i := 0; ; i++ {
		key := a.fold.String(candidate)
		if _, taken := a.aliases[key]; !taken {
			a.aliases[key] = struct{}{}
			return candidate
		}
		candidate = base + strconv.Itoa(i)
	}
}

// Table creates a table reference with a fresh alias.
func (a *Arena) Table(name, schema string) *TableReference {
	return &TableReference{Name: name, Schema: schema, id: a.newID(), alias: a.alias(aliasBase(name))}
}

// FromSQL creates a raw-SQL table source. The SQL is checked by the
// configured RawSQLValidator.
func (a *Arena) FromSQL(sql string, args ...any) (*FromSQLExpression, error) {
	return a.fromSQL("s", sql, args)
}

func (a *Arena) fromSQL(base, sql string, args []any) (*FromSQLExpression, error) {
	if a.validator != nil {
		if err := a.validator.ValidateQuery(sql); err != nil {
			return nil, ErrUnsupported.New(fmt.Sprintf("raw SQL rejected: %v", err))
		}
	}
	return &FromSQLExpression{SQL: sql, Arguments: args, id: a.newID(), alias: a.alias(base)}, nil
}

// Select creates a builder reading all rows of entity type et: its table is
// the driving table, the root projection member maps to the full entity and
// the primary key columns are the identifier.
func (a *Arena) Select(et *metadata.EntityType) *SelectExpression {
	return a.selectFrom(et, a.Table(et.Table(), et.Schema()))
}

// SelectFromSQL creates a builder over a raw SQL query whose columns are
// named after et's properties.
func (a *Arena) SelectFromSQL(et *metadata.EntityType, sql string, args ...any) (*SelectExpression, error) {
	t, err := a.fromSQL(aliasBase(et.Table()), sql, args)
	if err != nil {
		return nil, err
	}
	return a.selectFrom(et, t), nil
}

func (a *Arena) selectFrom(et *metadata.EntityType, t TableExpression) *SelectExpression {
	s := a.newSelect("")
	s.tables = []TableExpression{t}
	entity := NewEntityProjection(et, t, false)
	s.mapping.Set(RootMember, entity)
	for _, p := range et.PrimaryKey() {
		col, _ := entity.BindProperty(p)
		s.identifier = append(s.identifier, col)
	}
	return s
}

// newSelect allocates an empty builder. A non-empty base reserves an alias
// immediately; otherwise the alias is assigned when the builder first
// becomes a table of another builder.
func (a *Arena) newSelect(base string) *SelectExpression {
	s := &SelectExpression{
		arena:       a,
		id:          a.newID(),
		mapping:     NewProjectionMapping(),
		entityCache: make(map[uint64]map[*metadata.Property]int),
	}
	if base != "" {
		s.alias = a.alias(base)
	}
	return s
}
