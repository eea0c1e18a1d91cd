package database

import (
	"path/filepath"
	"testing"
)

func TestMigrate_CreatesSchema(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Second run is a no-op.
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != 1 {
		t.Errorf("SchemaVersion() = %d, want 1", version)
	}

	var holder string
	if err := db.Conn().QueryRow(`SELECT holder FROM sync_lease WHERE id = 1`).Scan(&holder); err != nil {
		t.Fatalf("sync_lease seed row missing: %v", err)
	}
	if holder != "" {
		t.Errorf("seed lease holder = %q, want empty", holder)
	}
}
