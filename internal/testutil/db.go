package testutil

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"textreviews/internal/db"
)

// NewSQLiteDB opens a migrated SQLite database in t's temp dir and closes it on cleanup.
func NewSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "reviews.db")
	conn, err := db.InitDB("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

// CountRows returns the number of rows in table.
func CountRows(t *testing.T, conn *sqlx.DB, table string) int {
	t.Helper()

	var n int
	if err := conn.Get(&n, "SELECT COUNT(*) FROM "+table); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}
