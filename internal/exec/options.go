package exec

import (
	"time"

	"github.com/coregx/relq/internal/cache"
	"github.com/coregx/relq/internal/dialects"
	"github.com/coregx/relq/internal/logger"
	"github.com/coregx/relq/internal/security"
	"github.com/coregx/relq/internal/tracer"
)

// config is shared by Compiler and DB.
type config struct {
	dialect        dialects.Dialect
	logger         logger.Logger
	sanitizer      *logger.Sanitizer
	tracer         tracer.Tracer
	stmtCacheCap   int
	hook           QueryHook
	auditor        *security.Auditor
	paramValidator *security.Validator
	healthInterval time.Duration
	maxOpenConns   int
	maxIdleConns   int
}

func newConfig(opts []Option) *config {
	c := &config{
		logger:       &logger.NoopLogger{},
		sanitizer:    logger.NewSanitizer(nil),
		tracer:       tracer.NoopTracer{},
		stmtCacheCap: cache.DefaultStmtCacheCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a Compiler or a DB.
type Option func(*config)

// WithDialect sets the SQL dialect. Open defaults it from the driver name.
func WithDialect(d dialects.Dialect) Option {
	return func(c *config) { c.dialect = d }
}

// WithLogger sets the logger. A nil logger keeps the default.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSensitiveFields replaces the names whose values are masked in logs.
func WithSensitiveFields(fields ...string) Option {
	return func(c *config) { c.sanitizer = logger.NewSanitizer(fields) }
}

// WithTracer sets the tracer. A nil tracer keeps the default.
func WithTracer(t tracer.Tracer) Option {
	return func(c *config) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithStmtCacheCapacity sets how many prepared statements a DB keeps.
func WithStmtCacheCapacity(n int) Option {
	return func(c *config) { c.stmtCacheCap = n }
}

// WithQueryHook sets a callback invoked after every query execution.
func WithQueryHook(h QueryHook) Option {
	return func(c *config) { c.hook = h }
}

// WithAuditor audits query executions.
func WithAuditor(a *security.Auditor) Option {
	return func(c *config) { c.auditor = a }
}

// WithParamValidator screens string parameter values before execution.
func WithParamValidator(v *security.Validator) Option {
	return func(c *config) { c.paramValidator = v }
}

// WithHealthCheck pings the database every interval in the background.
func WithHealthCheck(interval time.Duration) Option {
	return func(c *config) { c.healthInterval = interval }
}

// WithMaxOpenConns limits open connections.
func WithMaxOpenConns(n int) Option {
	return func(c *config) { c.maxOpenConns = n }
}

// WithMaxIdleConns limits idle connections.
func WithMaxIdleConns(n int) Option {
	return func(c *config) { c.maxIdleConns = n }
}
