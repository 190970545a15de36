// Package storagetest opens migrated in-memory databases for tests.
package storagetest

import (
	"testing"

	"contractflow/internal/config"
	"contractflow/internal/storage"
)

// Open returns a migrated in-memory sqlite database closed at test end.
func Open(t testing.TB) *storage.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
