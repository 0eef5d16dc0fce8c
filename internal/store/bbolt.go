package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names used in the bbolt database.
var (
	bucketMeta   = []byte("_meta")
	bucketVaults = []byte("vaults")
	bucketIndex  = []byte("vault_index")

	// bucketLegacyFiles is the single object store of the first release.
	bucketLegacyFiles = []byte("crm-files")
)

const metaSchemaVersion = "schema_version"

// SchemaVersion is the internal bucket layout this build upgrades to.
const SchemaVersion = 2

// upgrades[i] moves the database from version i to i+1. All steps needed on
// open run inside one transaction, so a failed upgrade leaves the file as it was.
var upgrades = []func(tx *bolt.Tx, now time.Time) error{
	upgradeToV1,
	upgradeToV2,
}

// BoltBackend implements Backend on an embedded bbolt database keyed by vault
// name. The database is opened, and created if needed, on first use.
type BoltBackend struct {
	path    string
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
	db *bolt.DB
}

// BoltOption configures a BoltBackend.
type BoltOption func(*BoltBackend)

// WithLogger sets the logger for the backend.
func WithLogger(logger *slog.Logger) BoltOption {
	return func(b *BoltBackend) {
		b.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) BoltOption {
	return func(b *BoltBackend) {
		b.now = now
	}
}

// WithOpenTimeout bounds how long opening waits for the file lock.
func WithOpenTimeout(d time.Duration) BoltOption {
	return func(b *BoltBackend) {
		b.timeout = d
	}
}

// NewBoltBackend returns a backend for the database at path. Nothing is
// touched on disk until the first operation.
func NewBoltBackend(path string, opts ...BoltOption) *BoltBackend {
	b := &BoltBackend{
		path:    path,
		timeout: 1 * time.Second,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Kind implements Backend.
func (b *BoltBackend) Kind() BackendKind { return BackendEmbedded }

// Supported reports whether the database can be opened or created.
func (b *BoltBackend) Supported() bool {
	_, err := b.open()
	if err != nil {
		b.logger.Debug("embedded store unavailable", "path", b.path, "error", err)
		return false
	}
	return true
}

// open opens the database on first use and runs pending schema upgrades.
func (b *BoltBackend) open() (*bolt.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return b.db, nil
	}

	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := bolt.Open(b.path, 0o600, &bolt.Options{Timeout: b.timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	from, err := upgrade(db, b.now().UTC())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("upgrade store schema: %w", err)
	}
	if from != SchemaVersion {
		b.logger.Info("upgraded embedded store", "path", b.path, "from", from, "to", SchemaVersion)
	}

	b.db = db
	return db, nil
}

// Close closes the underlying bbolt database if it was opened.
func (b *BoltBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

// schemaVersion returns the stored layout version; a database without a
// _meta bucket predates versioning and is version 0.
func schemaVersion(tx *bolt.Tx) int {
	meta := tx.Bucket(bucketMeta)
	if meta == nil {
		return 0
	}
	v := meta.Get([]byte(metaSchemaVersion))
	if len(v) != 4 {
		return 0
	}
	return int(binary.BigEndian.Uint32(v))
}

func setSchemaVersion(tx *bolt.Tx, version int) error {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, uint32(version))
	return tx.Bucket(bucketMeta).Put([]byte(metaSchemaVersion), v)
}

// upgrade brings db to SchemaVersion and returns the version it started at.
func upgrade(db *bolt.DB, now time.Time) (int, error) {
	var from int
	err := db.Update(func(tx *bolt.Tx) error {
		from = schemaVersion(tx)
		if from > SchemaVersion {
			return fmt.Errorf("store schema version %d is newer than supported %d", from, SchemaVersion)
		}
		for v := from; v < SchemaVersion; v++ {
			if err := upgrades[v](tx, now); err != nil {
				return fmt.Errorf("upgrade to v%d: %w", v+1, err)
			}
			if err := setSchemaVersion(tx, v+1); err != nil {
				return err
			}
		}
		return nil
	})
	return from, err
}

// upgradeToV1 creates the versioned buckets and moves envelopes out of the
// legacy object store. Names already present in vaults are not overwritten.
func upgradeToV1(tx *bolt.Tx, _ time.Time) error {
	for _, name := range [][]byte{bucketMeta, bucketVaults} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return fmt.Errorf("create bucket %s: %w", name, err)
		}
	}

	legacy := tx.Bucket(bucketLegacyFiles)
	if legacy == nil {
		return nil
	}

	vaults := tx.Bucket(bucketVaults)
	if err := legacy.ForEach(func(k, v []byte) error {
		if vaults.Get(k) != nil {
			return nil
		}
		// Values from bbolt are only valid inside the transaction; Put copies.
		return vaults.Put(k, v)
	}); err != nil {
		return fmt.Errorf("copy legacy entries: %w", err)
	}
	return tx.DeleteBucket(bucketLegacyFiles)
}

// upgradeToV2 adds the per-vault index and backfills it for existing entries.
func upgradeToV2(tx *bolt.Tx, now time.Time) error {
	index, err := tx.CreateBucketIfNotExists(bucketIndex)
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", bucketIndex, err)
	}

	return tx.Bucket(bucketVaults).ForEach(func(k, v []byte) error {
		if index.Get(k) != nil {
			return nil
		}
		data, err := json.Marshal(indexEntry{StoredAt: now, Size: len(v)})
		if err != nil {
			return err
		}
		return index.Put(k, data)
	})
}

// ---------------------------------------------------------------------------
// Vaults
// ---------------------------------------------------------------------------

func (b *BoltBackend) resolveName(name string, h Handle) (string, error) {
	if h == nil {
		return name, nil
	}
	if h.Backend() != BackendEmbedded {
		return "", ErrForeignHandle
	}
	return h.VaultName(), nil
}

// Write stores data under name in a single transaction.
func (b *BoltBackend) Write(ctx context.Context, name string, data []byte, h Handle) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := b.resolveName(name, h)
	if err != nil {
		return nil, err
	}
	db, err := b.open()
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		idx, err := json.Marshal(indexEntry{StoredAt: b.now().UTC(), Size: len(data)})
		if err != nil {
			return fmt.Errorf("marshal index entry: %w", err)
		}
		if err := tx.Bucket(bucketVaults).Put([]byte(name), data); err != nil {
			return err
		}
		return tx.Bucket(bucketIndex).Put([]byte(name), idx)
	})
	if err != nil {
		return nil, fmt.Errorf("write vault %q: %w", name, err)
	}
	return keyHandle{kind: BackendEmbedded, name: name}, nil
}

// Read returns the bytes stored under name, or ErrVaultNotFound.
func (b *BoltBackend) Read(ctx context.Context, name string, h Handle) ([]byte, Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	name, err := b.resolveName(name, h)
	if err != nil {
		return nil, nil, err
	}
	db, err := b.open()
	if err != nil {
		return nil, nil, err
	}

	var data []byte
	err = db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketVaults).Get([]byte(name))
		if v == nil {
			return ErrVaultNotFound
		}
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return data, keyHandle{kind: BackendEmbedded, name: name}, nil
}

// Remove deletes a vault and its index entry.
func (b *BoltBackend) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := b.open()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		vaults := tx.Bucket(bucketVaults)
		if vaults.Get([]byte(name)) == nil {
			return ErrVaultNotFound
		}
		if err := vaults.Delete([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket(bucketIndex).Delete([]byte(name))
	})
}

// List returns all stored vault names in key order.
func (b *BoltBackend) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, err := b.open()
	if err != nil {
		return nil, err
	}

	var names []string
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVaults).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// Enumerable implements Backend. Every vault lives in the vaults bucket.
func (b *BoltBackend) Enumerable() bool { return true }

// StoredAt returns when name was last written, from the vault index.
func (b *BoltBackend) StoredAt(ctx context.Context, name string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	db, err := b.open()
	if err != nil {
		return time.Time{}, err
	}

	var entry indexEntry
	err = db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIndex).Get([]byte(name))
		if v == nil {
			return ErrVaultNotFound
		}
		return json.Unmarshal(v, &entry)
	})
	return entry.StoredAt, err
}
