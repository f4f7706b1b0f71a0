package storage

import (
	"context"
	"errors"
	"strings"

	logx "mailcast/pkg/logx"
)

// Store is the minimal persistence API used by the app layer.
type Store interface {
	AppendBroadcast(ctx context.Context, rec BroadcastRecord) error
	RecentBroadcasts(ctx context.Context, limit int) ([]BroadcastRecord, error)
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
