// Package audit records finished send jobs. Two backends are available:
// an append-only JSONL file and SQLite. Auditing is best-effort; a failed
// append never blocks or fails the job that produced it.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"dmrelay/pkg/logx"
)

// Config configures the audit store.
//
// Driver values:
//   - "file": append-only JSON Lines
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", auditing is disabled.
type Config struct {
	Driver string
	Path   string
}

// Entry records one finished send job. Keep it compact and schema-stable.
type Entry struct {
	At        time.Time `json:"at"`
	ActorID   int64     `json:"actor_id"`
	TargetID  int64     `json:"target_id"`
	Requested int       `json:"requested"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	Outcome   string    `json:"outcome"`
	Cause     string    `json:"cause,omitempty"`
	Error     string    `json:"error,omitempty"`
	TookMS    int64     `json:"took_ms"`
}

// Store is the persistence API for send audits.
type Store interface {
	Append(ctx context.Context, e Entry) error
	// Prune removes entries older than cutoff. Returns how many were dropped.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if auditing is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown audit driver: " + driver)
	}
}
