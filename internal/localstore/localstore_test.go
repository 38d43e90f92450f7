package localstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := Open(tmpDir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	dbPath := filepath.Join(tmpDir, "mindwell.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Errorf("database file not created at %s", dbPath)
	}

	var journalMode string
	if err := store.db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestOpen_CreatesNestedDirectories(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "nested", "path", ".mindwell")

	store, err := Open(baseDir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		t.Errorf("base directory not created at %s", baseDir)
	}
}

func TestPutGetDelete(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if _, err := store.Get("session"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	want := []byte(`{"accessToken":"abc"}`)
	if err := store.Put("session", want); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get("session")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Get() = %s, want %s", got, want)
	}

	// Put on an existing key replaces the value.
	want2 := []byte(`{"accessToken":"def"}`)
	if err := store.Put("session", want2); err != nil {
		t.Fatalf("Put() overwrite error = %v", err)
	}
	got, err = store.Get("session")
	if err != nil {
		t.Fatalf("Get() after overwrite error = %v", err)
	}
	if !bytes.Equal(got, want2) {
		t.Errorf("Get() after overwrite = %s, want %s", got, want2)
	}

	if err := store.Delete("session"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get("session"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
	}

	// Deleting an absent key is fine.
	if err := store.Delete("session"); err != nil {
		t.Errorf("Delete(absent) error = %v", err)
	}
}

func TestClear(t *testing.T) {
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	for _, key := range []string{"a", "b", "c"} {
		if err := store.Put(key, []byte(key)); err != nil {
			t.Fatalf("Put(%q) error = %v", key, err)
		}
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Get(key); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) after Clear error = %v, want ErrNotFound", key, err)
		}
	}
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := store.Put("settings", []byte(`{"theme":"calm"}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	store.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get("settings")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if string(got) != `{"theme":"calm"}` {
		t.Errorf("Get() after reopen = %s, want stored settings", got)
	}
}
