package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"emojivote/internal/bootstrap/config"
	"emojivote/internal/bootstrap/logging"
	"emojivote/internal/errs"
)

func Open(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.database"))

	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3":
		if err := ensureSQLiteDirectory(logCtx, cfg.DSN); err != nil {
			return nil, errs.Wrap(err, "ensure sqlite directory")
		}

		db, err := gorm.Open(gormsqlite.Open(cfg.DSN), &gorm.Config{})
		if err != nil {
			return nil, errs.Wrap(err, "open sqlite db")
		}
		if err := tuneSQLite(logCtx, db, isMemoryDSN(cfg.DSN)); err != nil {
			return nil, err
		}
		logging.Info(logCtx, "database opened", slog.String("driver", "sqlite"), slog.String("dsn", cfg.DSN))
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenReader opens a read-only pool on the same sqlite file. Handlers that must
// answer while a write transaction is open (the directory fetching a proposal
// image during apply) read through it, since the writer pool has one connection.
// In-memory databases are private to a connection, so they have no reader.
func OpenReader(ctx context.Context, cfg config.DatabaseConfig) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if isMemoryDSN(cfg.DSN) {
		return nil, ErrNoReader
	}

	dsn := withPragmas(cfg.DSN, "query_only(1)", "busy_timeout(5000)")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errs.Wrap(err, "open sqlite reader")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.Wrap(err, "get sql db")
	}
	sqlDB.SetMaxOpenConns(readerConns)

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "bootstrap.database")),
		"database reader opened",
		slog.String("dsn", cfg.DSN),
		slog.Int("max_conns", readerConns),
	)
	return db, nil
}

// ErrNoReader is returned by OpenReader for in-memory databases.
var ErrNoReader = errors.New("in-memory sqlite has no separate reader")

const readerConns = 4

// tuneSQLite serializes writes through a single connection. Proposal state changes
// run inside transactions that also touch the audit log, and sqlite allows one writer.
// WAL lets the reader pool see committed rows while that connection is in a transaction.
func tuneSQLite(ctx context.Context, db *gorm.DB, memory bool) error {
	sqlDB, err := db.DB()
	if err != nil {
		return errs.Wrap(err, "get sql db")
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		return errs.Wrap(err, "set sqlite busy timeout")
	}
	if err := db.WithContext(ctx).Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return errs.Wrap(err, "enable sqlite foreign keys")
	}
	if !memory {
		if err := db.WithContext(ctx).Exec("PRAGMA journal_mode = WAL").Error; err != nil {
			return errs.Wrap(err, "enable sqlite wal")
		}
	}
	return nil
}

func isMemoryDSN(dsn string) bool {
	candidate := strings.ToLower(strings.TrimSpace(dsn))
	return candidate == "" || candidate == ":memory:" || strings.Contains(candidate, "mode=memory")
}

func withPragmas(dsn string, pragmas ...string) string {
	var builder strings.Builder
	builder.WriteString(dsn)
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, pragma := range pragmas {
		builder.WriteString(sep)
		builder.WriteString("_pragma=")
		builder.WriteString(pragma)
		sep = "&"
	}
	return builder.String()
}

func ensureSQLiteDirectory(ctx context.Context, dsn string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	candidate := strings.TrimSpace(dsn)
	if candidate == "" || candidate == ":memory:" {
		return nil
	}

	if strings.HasPrefix(strings.ToLower(candidate), "file:") {
		candidate = strings.TrimPrefix(candidate, "file:")
	}
	if idx := strings.Index(candidate, "?"); idx >= 0 {
		candidate = candidate[:idx]
	}

	dir := filepath.Dir(candidate)
	if dir == "" || dir == "." {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrapf(err, "create sqlite directory %q", dir)
	}

	logging.Info(logging.WithAttrs(ctx, slog.String("component", "bootstrap.database")), "sqlite directory ensured", slog.String("dir", dir))
	return nil
}
