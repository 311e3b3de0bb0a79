package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atinyvectors/warren/pkg/apierr"
	bolt "go.etcd.io/bbolt"
)

var bucketKV = []byte("kv")

// KV is the per-space auxiliary key/value engine. Each space gets its own
// database file at {data_path}/space/{space}/storage.rocksdb — the file
// name is kept for operator-visible path compatibility with existing
// deployments even though the format behind it is bbolt's. Databases are
// opened per operation rather than cached: commands are serialized by the
// apply loop, so there is no open-handle contention to amortize, and
// keeping files closed between operations lets a data-snapshot restore
// replace them wholesale without corrupting a live handle.
type KV struct {
	dataPath string
	mu       sync.Mutex
}

// NewKV builds a KV engine rooted at dataPath.
func NewKV(dataPath string) *KV {
	return &KV{dataPath: dataPath}
}

func (k *KV) spaceDir() string { return filepath.Join(k.dataPath, "space") }

func (k *KV) dbPath(space string) string {
	return filepath.Join(k.spaceDir(), space, "storage.rocksdb")
}

// withDB opens a space's database, runs fn, and closes it again. create
// controls whether a missing database is created or reported as NotFound.
func (k *KV) withDB(space string, create bool, fn func(db *bolt.DB) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	path := k.dbPath(space)
	if !create {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("kv store for space %q: %w", space, apierr.ErrNotFound)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create space dir: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("open kv store for space %q: %w", space, err)
	}
	defer db.Close()

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	}); err != nil {
		return err
	}
	return fn(db)
}

// Put stores key→value in space's database, creating it if needed.
func (k *KV) Put(space, key string, value []byte) error {
	return k.withDB(space, true, func(db *bolt.DB) error {
		return db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketKV).Put([]byte(key), value)
		})
	})
}

// Get returns the value stored for key in space.
func (k *KV) Get(space, key string) ([]byte, error) {
	var value []byte
	err := k.withDB(space, false, func(db *bolt.DB) error {
		return db.View(func(tx *bolt.Tx) error {
			data := tx.Bucket(bucketKV).Get([]byte(key))
			if data == nil {
				return fmt.Errorf("key %q in space %q: %w", key, space, apierr.ErrNotFound)
			}
			value = append([]byte(nil), data...)
			return nil
		})
	})
	return value, err
}

// Remove deletes key from space's database. A space with no database at
// all is a no-op, matching the storage_remove_key command contract.
func (k *KV) Remove(space, key string) error {
	if _, err := os.Stat(k.dbPath(space)); err != nil {
		return nil
	}
	return k.withDB(space, false, func(db *bolt.DB) error {
		return db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketKV).Delete([]byte(key))
		})
	})
}

// ListKeys returns every key stored for space, in lexical order.
func (k *KV) ListKeys(space string) ([]string, error) {
	var keys []string
	err := k.withDB(space, false, func(db *bolt.DB) error {
		return db.View(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketKV).ForEach(func(key, _ []byte) error {
				keys = append(keys, string(key))
				return nil
			})
		})
	})
	if errors.Is(err, apierr.ErrNotFound) {
		// A space that never stored a key simply has no keys.
		return nil, nil
	}
	return keys, err
}

// DropSpace removes a space's entire key/value database. Called when the
// space itself is deleted.
func (k *KV) DropSpace(space string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := os.RemoveAll(filepath.Join(k.spaceDir(), space)); err != nil {
		return fmt.Errorf("drop kv store for space %q: %w", space, err)
	}
	return nil
}

// DumpAll collects every key/value entry across every space, for the
// replicated state machine's log-compaction snapshot.
func (k *KV) DumpAll() ([]KVEntry, error) {
	dirs, err := os.ReadDir(k.spaceDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan space dirs: %w", err)
	}

	var entries []KVEntry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		space := d.Name()
		if _, err := os.Stat(k.dbPath(space)); err != nil {
			continue
		}
		err := k.withDB(space, false, func(db *bolt.DB) error {
			return db.View(func(tx *bolt.Tx) error {
				return tx.Bucket(bucketKV).ForEach(func(key, value []byte) error {
					entries = append(entries, KVEntry{
						SpaceName: space,
						Key:       string(key),
						Value:     append([]byte(nil), value...),
					})
					return nil
				})
			})
		})
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// RestoreAll replaces every space's key/value content with the given
// entries, dropping databases the snapshot does not mention.
func (k *KV) RestoreAll(entries []KVEntry) error {
	dirs, err := os.ReadDir(k.spaceDir())
	if err == nil {
		for _, d := range dirs {
			if d.IsDir() {
				_ = os.Remove(k.dbPath(d.Name()))
			}
		}
	}
	for _, e := range entries {
		if err := k.Put(e.SpaceName, e.Key, e.Value); err != nil {
			return err
		}
	}
	return nil
}
