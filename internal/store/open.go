package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"nifty-breakout/internal/config"
	apperrors "nifty-breakout/internal/errors"
)

// Open returns the backend named by cfg.Backend. Callers never branch on
// which backend is active.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		return NewSQLiteStore(cfg.SQLitePath)
	case BackendFile:
		return NewFileStore(cfg.FilePath)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.RedisURL)
	default:
		return nil, apperrors.NewValidationError("storage.backend", cfg.Backend, "unknown backend")
	}
}
