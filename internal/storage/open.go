package storage

import (
	"context"
	"errors"
	"strings"

	logx "botte/pkg/logx"
)

// Store is the persistence API used by the mailbox poller and the console.
type Store interface {
	AppendEmail(ctx context.Context, e EmailEntry) error
	// RecentEmails returns up to limit entries, newest last.
	RecentEmails(ctx context.Context, limit int) ([]EmailEntry, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
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
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
