package exec

import (
	"context"
	"time"
)

// QueryEvent describes one finished query execution.
type QueryEvent struct {
	SQL      string
	Args     []any
	Duration time.Duration
	Rows     int64
	Records  int
	Error    error
}

// QueryHook is called after every execution, successful or not.
//
//	db, _ := exec.Open("sqlite", "file:shop.db",
//	    exec.WithQueryHook(func(ctx context.Context, e exec.QueryEvent) {
//	        slog.Info("query", "sql", e.SQL, "records", e.Records, "err", e.Error)
//	    }))
type QueryHook func(ctx context.Context, event QueryEvent)

func (db *DB) invokeHook(ctx context.Context, ev QueryEvent) {
	if db.cfg.hook != nil {
		db.cfg.hook(ctx, ev)
	}
}
