package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"emojivote/internal/bootstrap/config"
)

func TestOpenCreatesDirectoryAndLimitsConnections(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "state", "emojivote.sqlite")

	db, err := Open(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("DB() error = %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if _, err := os.Stat(filepath.Dir(dsn)); err != nil {
		t.Fatalf("sqlite directory missing: %v", err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("MaxOpenConnections = %d, want 1", got)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.DatabaseConfig{Driver: "postgres", DSN: "x"}); err == nil {
		t.Fatalf("Open() expected error for unknown driver")
	}
}

func TestOpenReaderReadsWhileWriterHoldsTransaction(t *testing.T) {
	ctx := context.Background()
	cfg := config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "emojivote.sqlite")}

	writer, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	writerSQL, _ := writer.DB()
	t.Cleanup(func() { _ = writerSQL.Close() })

	if err := writer.Exec("CREATE TABLE blobs (key TEXT PRIMARY KEY, body TEXT)").Error; err != nil {
		t.Fatalf("create table: %v", err)
	}
	if err := writer.Exec("INSERT INTO blobs (key, body) VALUES ('a', 'committed')").Error; err != nil {
		t.Fatalf("insert: %v", err)
	}

	reader, err := OpenReader(ctx, cfg)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	readerSQL, _ := reader.DB()
	t.Cleanup(func() { _ = readerSQL.Close() })

	err = writer.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("UPDATE blobs SET body = 'pending' WHERE key = 'a'").Error; err != nil {
			return err
		}

		readCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		var body string
		if err := reader.WithContext(readCtx).Raw("SELECT body FROM blobs WHERE key = 'a'").Scan(&body).Error; err != nil {
			return err
		}
		if body != "committed" {
			t.Errorf("reader saw %q, want the committed value", body)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction error = %v", err)
	}

	if err := reader.Exec("INSERT INTO blobs (key, body) VALUES ('b', 'x')").Error; err == nil {
		t.Fatalf("reader accepted a write")
	}
}

func TestOpenReaderRejectsMemoryDatabase(t *testing.T) {
	_, err := OpenReader(context.Background(), config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if !errors.Is(err, ErrNoReader) {
		t.Fatalf("OpenReader() error = %v, want ErrNoReader", err)
	}
}

func TestWithPragmas(t *testing.T) {
	if got := withPragmas("a.sqlite", "query_only(1)"); got != "a.sqlite?_pragma=query_only(1)" {
		t.Fatalf("withPragmas() = %q", got)
	}
	if got := withPragmas("file:a.sqlite?cache=shared", "query_only(1)", "busy_timeout(5000)"); got != "file:a.sqlite?cache=shared&_pragma=query_only(1)&_pragma=busy_timeout(5000)" {
		t.Fatalf("withPragmas() = %q", got)
	}
}
