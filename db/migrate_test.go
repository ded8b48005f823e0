package db

import (
	"path/filepath"
	"testing"
)

func TestMigrations_UpDownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	version, dirty, err := MigrationVersion(path)
	if err != nil {
		t.Fatalf("MigrationVersion() on fresh db error = %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("fresh db version = %d dirty=%v, want 0", version, dirty)
	}

	if err := MigrateUp(path); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	version, dirty, err = MigrationVersion(path)
	if err != nil {
		t.Fatal(err)
	}
	if version != SchemaVersion || dirty {
		t.Errorf("version = %d dirty=%v, want %d", version, dirty, SchemaVersion)
	}

	// Applying again is a no-op.
	if err := MigrateUp(path); err != nil {
		t.Errorf("second MigrateUp() error = %v", err)
	}

	if err := MigrateDown(path); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	conn, err := NewSQLiteConnection(DefaultConnectionConfig(path))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	var count int
	conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name IN ('runs', 'run_items')").Scan(&count)
	if count != 0 {
		t.Errorf("%d tables left after MigrateDown", count)
	}
}

func TestNewSQLiteConnection_Pragmas(t *testing.T) {
	conn, err := NewSQLiteConnection(DefaultConnectionConfig(filepath.Join(t.TempDir(), "p.db")))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var mode string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil || mode != "wal" {
		t.Errorf("journal_mode = %q, %v", mode, err)
	}
	var fk int
	if err := conn.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil || fk != 1 {
		t.Errorf("foreign_keys = %d, %v", fk, err)
	}
}

func TestNewSQLiteConnection_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteConnection(ConnectionConfig{}); err == nil {
		t.Error("expected error for empty path")
	}
}
