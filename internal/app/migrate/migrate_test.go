package migrate

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestMigrationSourceDefaultsToEmbedded(t *testing.T) {
	fsys, source, err := migrationSource("")
	if err != nil {
		t.Fatalf("migration source: %v", err)
	}
	if source != "embedded" {
		t.Fatalf("expected embedded source, got %q", source)
	}
	matches, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("expected bundled migrations")
	}
}

func TestMigrationSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "00001_init.sql"), []byte("-- +goose Up\nSELECT 1;\n"), 0o600); err != nil {
		t.Fatalf("write migration: %v", err)
	}
	fsys, source, err := migrationSource(dir)
	if err != nil {
		t.Fatalf("migration source: %v", err)
	}
	if source != dir {
		t.Fatalf("unexpected source %q", source)
	}
	if _, err := fs.Stat(fsys, "00001_init.sql"); err != nil {
		t.Fatalf("expected migration in directory source: %v", err)
	}

	if _, _, err := migrationSource(filepath.Join(dir, "00001_init.sql")); err == nil {
		t.Fatalf("expected error for a file path")
	}
	if _, _, err := migrationSource(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for a missing directory")
	}
}
