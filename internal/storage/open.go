package storage

import (
	"context"
	"errors"
	"strings"

	logx "ferry/pkg/logx"
)

// Store is the minimal persistence API used by the registries and executor.
type Store interface {
	SaveJobs(ctx context.Context, jobs []JobRecord) error
	LoadJobs(ctx context.Context) ([]JobRecord, error)
	SaveProfiles(ctx context.Context, profiles []ProfileRecord) error
	LoadProfiles(ctx context.Context) ([]ProfileRecord, error)
	AppendRun(ctx context.Context, r RunRecord) error
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
