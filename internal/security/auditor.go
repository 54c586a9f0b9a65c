package security

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/mitchellh/hashstructure"
)

// AuditLevel selects which executions are audited.
type AuditLevel int

const (
	// AuditNone disables auditing.
	AuditNone AuditLevel = iota
	// AuditFailures audits failed executions and security events only.
	AuditFailures
	// AuditAll audits every execution.
	AuditAll
)

// AuditEvent is one audited query execution. Parameter values are never
// recorded, only a fingerprint of them.
type AuditEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	User       string    `json:"user,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	SQL        string    `json:"sql"`
	ParamsHash string    `json:"params_hash,omitempty"`
	Records    int       `json:"records"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Auditor writes audit events to a slog logger.
type Auditor struct {
	logger *slog.Logger
	level  AuditLevel
}

// NewAuditor creates an auditor. A nil logger disables it.
func NewAuditor(logger *slog.Logger, level AuditLevel) *Auditor {
	return &Auditor{logger: logger, level: level}
}

// LogQuery audits one execution of query with its named params.
func (a *Auditor) LogQuery(ctx context.Context, query string, params map[string]any, records int, err error, d time.Duration) {
	if a == nil || a.logger == nil || a.level == AuditNone {
		return
	}
	if err == nil && a.level != AuditAll {
		return
	}
	ev := AuditEvent{
		Timestamp:  time.Now().UTC(),
		User:       User(ctx),
		RequestID:  RequestID(ctx),
		SQL:        query,
		ParamsHash: fingerprint(params),
		Records:    records,
		Success:    err == nil,
		DurationMS: d.Milliseconds(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	log := a.logger.InfoContext
	if !ev.Success {
		log = a.logger.WarnContext
	}
	log(ctx, "audit",
		"user", ev.User,
		"request_id", ev.RequestID,
		"sql", ev.SQL,
		"params_hash", ev.ParamsHash,
		"records", ev.Records,
		"success", ev.Success,
		"error", ev.Error,
		"duration_ms", ev.DurationMS,
	)
}

// LogSecurityEvent audits a rejected fragment or parameter set.
func (a *Auditor) LogSecurityEvent(ctx context.Context, kind, query string, err error) {
	if a == nil || a.logger == nil || a.level == AuditNone {
		return
	}
	a.logger.WarnContext(ctx, "security_event",
		"kind", kind,
		"user", User(ctx),
		"request_id", RequestID(ctx),
		"sql", query,
		"error", err.Error(),
	)
}

// fingerprint hashes params so that identical parameter sets can be
// correlated without logging their values.
func fingerprint(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	h, err := hashstructure.Hash(params, nil)
	if err != nil {
		return ""
	}
	return strconv.FormatUint(h, 16)
}

type contextKey string

const (
	userKey      contextKey = "relq:user"
	requestIDKey contextKey = "relq:request_id"
)

// WithUser attaches the acting user to ctx for auditing.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// WithRequestID attaches a request id to ctx for auditing.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// User returns the user attached by WithUser.
func User(ctx context.Context) string {
	s, _ := ctx.Value(userKey).(string)
	return s
}

// RequestID returns the id attached by WithRequestID.
func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey).(string)
	return s
}
