package storage

import (
	"context"
	"testing"

	"contractflow/internal/config"
)

func openMemory(t *testing.T) *DB {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRebind(t *testing.T) {
	pg := &DB{Driver: "postgres"}
	got := pg.Rebind("UPDATE contracts SET status = ? WHERE id = ? AND status = ?")
	want := "UPDATE contracts SET status = $1 WHERE id = $2 AND status = $3"
	if got != want {
		t.Fatalf("Rebind = %q, want %q", got, want)
	}

	lite := &DB{Driver: "sqlite3"}
	if q := "SELECT ? "; lite.Rebind(q) != q {
		t.Fatalf("sqlite query should be unchanged")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openMemory(t)
	for i := 0; i < 2; i++ {
		if err := Migrate(db); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}

	ctx := context.Background()
	id, err := db.InsertID(ctx,
		`INSERT INTO contracts (filename, status, provider, created_at) VALUES (?, 'PENDING', ?, CURRENT_TIMESTAMP)`,
		"a.pdf", "simulated")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected generated id, got %d", id)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"oracle": {DSN: "x"}}}
	if _, err := Open("oracle", cfg); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := Open("mysql", cfg); err == nil {
		t.Fatalf("expected missing config error")
	}
}
