package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func newTestBolt(t *testing.T) *BoltBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	b := NewBoltBackend(path)
	t.Cleanup(func() { b.Close() })
	return b
}

// ---------------------------------------------------------------------------
// Creation
// ---------------------------------------------------------------------------

func TestBoltBackend_OpensLazily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vaults.db")
	b := NewBoltBackend(path)
	defer b.Close()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("database created before first use: %v", err)
	}

	if !b.Supported() {
		t.Fatal("Supported() = false for writable directory")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected file permissions 0600, got %04o", perm)
	}
}

func TestBoltBackend_UnsupportedPath(t *testing.T) {
	// A regular file where the directory should be.
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	b := NewBoltBackend(filepath.Join(blocker, "vaults.db"))
	if b.Supported() {
		t.Fatal("Supported() = true for an impossible path")
	}
}

// ---------------------------------------------------------------------------
// Vault CRUD
// ---------------------------------------------------------------------------

func TestBoltBackend_CRUD(t *testing.T) {
	ctx := context.Background()
	b := newTestBolt(t)

	_, _, err := b.Read(ctx, "Acme", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	h, err := b.Write(ctx, "Acme", []byte("sealed-1"), nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if h.Backend() != BackendEmbedded || h.VaultName() != "Acme" {
		t.Errorf("handle = %v/%q", h.Backend(), h.VaultName())
	}

	// Overwrite through the handle.
	if _, err := b.Write(ctx, "", []byte("sealed-2"), h); err != nil {
		t.Fatalf("Write with handle: %v", err)
	}

	got, _, err := b.Read(ctx, "Acme", nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "sealed-2" {
		t.Errorf("Read = %q, want %q", got, "sealed-2")
	}

	if err := b.Remove(ctx, "Acme"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := b.Remove(ctx, "Acme"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Remove: expected ErrNotFound, got %v", err)
	}
	if _, err := b.StoredAt(ctx, "Acme"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("index entry left behind: %v", err)
	}
}

func TestBoltBackend_List(t *testing.T) {
	ctx := context.Background()
	b := newTestBolt(t)

	for _, name := range []string{"beta", "alpha", "Acme CRM"} {
		if _, err := b.Write(ctx, name, []byte(name), nil); err != nil {
			t.Fatalf("Write %s: %v", name, err)
		}
	}

	names, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"Acme CRM", "alpha", "beta"}
	if len(names) != len(want) {
		t.Fatalf("List = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestBoltBackend_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vaults.db")

	b := NewBoltBackend(path)
	if _, err := b.Write(ctx, "Acme", []byte("sealed"), nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b.Close()

	b2 := NewBoltBackend(path)
	defer b2.Close()
	got, _, err := b2.Read(ctx, "Acme", nil)
	if err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if string(got) != "sealed" {
		t.Errorf("Read = %q", got)
	}
}

func TestBoltBackend_ForeignHandle(t *testing.T) {
	b := newTestBolt(t)
	fh := &FileHandle{name: "Acme", path: "/tmp/Acme.enc"}

	if _, err := b.Write(context.Background(), "Acme", []byte("x"), fh); !errors.Is(err, ErrForeignHandle) {
		t.Fatalf("expected ErrForeignHandle, got %v", err)
	}
}

func TestBoltBackend_CanceledContext(t *testing.T) {
	b := newTestBolt(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Write(ctx, "Acme", []byte("x"), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Schema upgrade
// ---------------------------------------------------------------------------

func TestBoltBackend_UpgradesLegacyDatabase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "vaults.db")

	// Build a first-release database: a single crm-files bucket, no _meta.
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatalf("bolt.Open: %v", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.CreateBucket(bucketLegacyFiles)
		if err != nil {
			return err
		}
		if err := bkt.Put([]byte("Old CRM"), []byte("legacy-envelope")); err != nil {
			return err
		}
		return bkt.Put([]byte("Stores"), []byte("legacy-stores"))
	}); err != nil {
		t.Fatalf("seed legacy db: %v", err)
	}
	db.Close()

	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := NewBoltBackend(path, WithNow(func() time.Time { return fixed }))
	defer b.Close()

	got, _, err := b.Read(ctx, "Old CRM", nil)
	if err != nil {
		t.Fatalf("Read migrated entry: %v", err)
	}
	if string(got) != "legacy-envelope" {
		t.Errorf("Read = %q, want %q", got, "legacy-envelope")
	}

	names, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("List = %v, want 2 entries", names)
	}

	at, err := b.StoredAt(ctx, "Stores")
	if err != nil {
		t.Fatalf("StoredAt: %v", err)
	}
	if !at.Equal(fixed) {
		t.Errorf("StoredAt = %v, want %v", at, fixed)
	}

	db2, _ := b.open()
	if err := db2.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketLegacyFiles) != nil {
			t.Error("legacy bucket still present")
		}
		if v := schemaVersion(tx); v != SchemaVersion {
			t.Errorf("schema version = %d, want %d", v, SchemaVersion)
		}
		return nil
	}); err != nil {
		t.Fatalf("View: %v", err)
	}
}

func TestBoltBackend_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vaults.db")

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatalf("bolt.Open: %v", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucket(bucketMeta); err != nil {
			return err
		}
		return setSchemaVersion(tx, SchemaVersion+1)
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	db.Close()

	b := NewBoltBackend(path)
	defer b.Close()
	if b.Supported() {
		t.Fatal("Supported() = true for a database from a newer release")
	}
}
