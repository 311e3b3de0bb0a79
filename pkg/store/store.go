package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/atinyvectors/warren/pkg/apierr"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketSpaces    = []byte("spaces")
	bucketVersions  = []byte("versions")
	bucketSnapshots = []byte("snapshots")
	bucketTokens    = []byte("rbac_tokens")
	bucketCounters  = []byte("counters")
)

// keyNextID holds the next unallocated internal ID. version_id and
// vector_index_id are drawn from this one global sequence so they are
// unique across every space in the store.
var keyNextID = []byte("next_id")

// Store is the BoltDB-backed metadata store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the metadata database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "meta.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSpaces, bucketVersions, bucketSnapshots, bucketTokens, bucketCounters} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteTo streams a transactionally-consistent copy of the database file
// to w, for inclusion in a data-snapshot archive while the store stays
// open and live.
func (s *Store) WriteTo(w io.Writer) (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		n, err = tx.WriteTo(w)
		return err
	})
	return n, err
}

// --- Spaces ---

func (s *Store) PutSpace(sp *Space) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(sp)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSpaces).Put([]byte(sp.Name), data)
	})
}

func (s *Store) GetSpace(name string) (*Space, error) {
	var sp Space
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSpaces).Get([]byte(name))
		if data == nil {
			return fmt.Errorf("space %q: %w", name, apierr.ErrNotFound)
		}
		return json.Unmarshal(data, &sp)
	})
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func (s *Store) DeleteSpace(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSpaces).Delete([]byte(name))
	})
}

func (s *Store) ListSpaces() ([]*Space, error) {
	var spaces []*Space
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSpaces).ForEach(func(k, v []byte) error {
			var sp Space
			if err := json.Unmarshal(v, &sp); err != nil {
				return err
			}
			spaces = append(spaces, &sp)
			return nil
		})
	})
	return spaces, err
}

// --- Versions ---

func versionKey(space string, versionUniqueID int32) []byte {
	return []byte(fmt.Sprintf("%s/%d", space, versionUniqueID))
}

// allocateIDs advances the global ID counter by n inside tx and returns
// the first allocated value. IDs start at 1; 0 stays reserved as the
// "unknown" sentinel the id cache returns on a miss.
func allocateIDs(tx *bolt.Tx, n uint64) (int32, error) {
	b := tx.Bucket(bucketCounters)
	next := uint64(1)
	if raw := b.Get(keyNextID); len(raw) == 8 {
		next = binary.BigEndian.Uint64(raw)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next+n)
	if err := b.Put(keyNextID, buf[:]); err != nil {
		return 0, err
	}
	return int32(next), nil
}

// CreateVersionRecord assigns a fresh version_id and vector_index_id from
// the global counter and persists the version, all in one transaction, so
// the allocation can never be observed without the version (or vice versa)
// after a crash.
func (s *Store) CreateVersionRecord(v *Version) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		first, err := allocateIDs(tx, 2)
		if err != nil {
			return err
		}
		v.VersionID = first
		v.VectorIndexID = first + 1
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketVersions).Put(versionKey(v.SpaceName, v.VersionUniqueID), data)
	})
}

func (s *Store) PutVersion(v *Version) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketVersions).Put(versionKey(v.SpaceName, v.VersionUniqueID), data)
	})
}

func (s *Store) GetVersion(space string, versionUniqueID int32) (*Version, error) {
	var v Version
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVersions).Get(versionKey(space, versionUniqueID))
		if data == nil {
			return fmt.Errorf("version %s/%d: %w", space, versionUniqueID, apierr.ErrNotFound)
		}
		return json.Unmarshal(data, &v)
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// DeleteVersion removes one version. It does not promote a replacement
// default when the deleted version carried the is_default flag, so a space
// can sit with no default until the next create_version sets one; see
// GetDefaultVersion for how lookups behave in that state.
func (s *Store) DeleteVersion(space string, versionUniqueID int32) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		key := versionKey(space, versionUniqueID)
		if tx.Bucket(bucketVersions).Get(key) == nil {
			return fmt.Errorf("version %s/%d: %w", space, versionUniqueID, apierr.ErrNotFound)
		}
		return tx.Bucket(bucketVersions).Delete(key)
	})
}

// GetVersionByName finds a space's version by its human-readable name
// rather than its version_unique_id. Names are not unique-indexed, so this
// scans the space's versions; callers hit this rarely (one admin lookup)
// compared to the hot id-based path.
func (s *Store) GetVersionByName(space, name string) (*Version, error) {
	versions, err := s.ListVersions(space)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Name == name {
			return v, nil
		}
	}
	return nil, fmt.Errorf("version %s/%s: %w", space, name, apierr.ErrNotFound)
}

func (s *Store) ListVersions(space string) ([]*Version, error) {
	var versions []*Version
	prefix := []byte(space + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketVersions).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var ver Version
			if err := json.Unmarshal(v, &ver); err != nil {
				return err
			}
			versions = append(versions, &ver)
		}
		return nil
	})
	return versions, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// GetDefaultVersion resolves the version currently flagged is_default for
// a space. The uid-0 version starts out as the default, but a later
// create_version with is_default=true can move the flag, so this scans
// rather than assuming uid 0. A space whose default was removed by
// delete_version has no flagged version until the next create_version
// sets one; lookups here return NotFound for that window, which callers
// surface as "space has no default version" rather than inventing one.
func (s *Store) GetDefaultVersion(space string) (*Version, error) {
	versions, err := s.ListVersions(space)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.IsDefault {
			return v, nil
		}
	}
	return nil, fmt.Errorf("default version of space %q: %w", space, apierr.ErrNotFound)
}

// LoadVersion satisfies the id cache's Loader seam: resolve an explicit
// (space, version_unique_id) pair to its internal IDs.
func (s *Store) LoadVersion(space string, versionUniqueID int32) (int32, int32, bool, error) {
	v, err := s.GetVersion(space, versionUniqueID)
	if err != nil {
		return 0, 0, false, err
	}
	return v.VersionID, v.VectorIndexID, v.IsDefault, nil
}

// LoadDefaultVersion satisfies the id cache's Loader seam: resolve a
// space's current default version.
func (s *Store) LoadDefaultVersion(space string) (int32, int32, int32, error) {
	v, err := s.GetDefaultVersion(space)
	if err != nil {
		return 0, 0, 0, err
	}
	return v.VersionUniqueID, v.VersionID, v.VectorIndexID, nil
}

// DeleteSpaceVersions removes every version belonging to space, as part of
// the delete_space cascade.
func (s *Store) DeleteSpaceVersions(space string) error {
	prefix := []byte(space + "/")
	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketVersions).Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := tx.Bucket(bucketVersions).Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Snapshot archive metadata ---

func (s *Store) PutSnapshotArchive(a *SnapshotArchive) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSnapshots).Put([]byte(a.FileName), data)
	})
}

func (s *Store) DeleteSnapshotArchive(fileName string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete([]byte(fileName))
	})
}

func (s *Store) ListSnapshotArchives() ([]*SnapshotArchive, error) {
	var archives []*SnapshotArchive
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			var a SnapshotArchive
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			archives = append(archives, &a)
			return nil
		})
	})
	return archives, err
}

// --- RBAC tokens ---

func (s *Store) PutToken(t *RBACToken) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Put([]byte(t.Token), data)
	})
}

func (s *Store) GetToken(token string) (*RBACToken, error) {
	var t RBACToken
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTokens).Get([]byte(token))
		if data == nil {
			return fmt.Errorf("token: %w", apierr.ErrNotFound)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) DeleteToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(token))
	})
}

func (s *Store) ListTokens() ([]*RBACToken, error) {
	var tokens []*RBACToken
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var t RBACToken
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			tokens = append(tokens, &t)
			return nil
		})
	})
	return tokens, err
}

// --- Full-store snapshot (for Raft FSM Snapshot/Restore) ---

// Dump is the entire metadata store's content, used by the replicated
// state machine's log-compaction snapshot. NextID carries the global ID
// counter so allocations after a restore cannot collide with restored
// version/vector-index IDs.
type Dump struct {
	Spaces    []*Space          `json:"spaces"`
	Versions  []*Version        `json:"versions"`
	Snapshots []*SnapshotArchive `json:"snapshots"`
	Tokens    []*RBACToken      `json:"tokens"`
	NextID    uint64            `json:"next_id"`
}

// Dump collects every entity for serialization into a Raft snapshot.
func (s *Store) Dump() (*Dump, error) {
	spaces, err := s.ListSpaces()
	if err != nil {
		return nil, err
	}
	var versions []*Version
	for _, sp := range spaces {
		vs, err := s.ListVersions(sp.Name)
		if err != nil {
			return nil, err
		}
		versions = append(versions, vs...)
	}
	snapshots, err := s.ListSnapshotArchives()
	if err != nil {
		return nil, err
	}
	tokens, err := s.ListTokens()
	if err != nil {
		return nil, err
	}
	var nextID uint64
	err = s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketCounters); b != nil {
			if raw := b.Get(keyNextID); len(raw) == 8 {
				nextID = binary.BigEndian.Uint64(raw)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Dump{Spaces: spaces, Versions: versions, Snapshots: snapshots, Tokens: tokens, NextID: nextID}, nil
}

// LoadDumpFromPath opens the metadata database at path read-only and
// collects its full content. Used by the snapshot coordinator to load a
// restored archive's meta.db content into the live store (via Restore)
// without replacing the open database file underneath it.
func LoadDumpFromPath(path string) (*Dump, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("open archived metadata store: %w", err)
	}
	defer db.Close()
	return (&Store{db: db}).Dump()
}

// Restore replaces the store's content with a previously-Dumped snapshot.
// Buckets are dropped and recreated so stale keys cannot survive.
func (s *Store) Restore(d *Dump) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSpaces, bucketVersions, bucketSnapshots, bucketTokens, bucketCounters} {
			if err := tx.DeleteBucket(bucket); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		put := func(bucket []byte, key string, v interface{}) error {
			data, err := json.Marshal(v)
			if err != nil {
				return err
			}
			return tx.Bucket(bucket).Put([]byte(key), data)
		}
		for _, sp := range d.Spaces {
			if err := put(bucketSpaces, sp.Name, sp); err != nil {
				return err
			}
		}
		for _, v := range d.Versions {
			if err := put(bucketVersions, fmt.Sprintf("%s/%d", v.SpaceName, v.VersionUniqueID), v); err != nil {
				return err
			}
		}
		for _, a := range d.Snapshots {
			if err := put(bucketSnapshots, a.FileName, a); err != nil {
				return err
			}
		}
		for _, t := range d.Tokens {
			if err := put(bucketTokens, t.Token, t); err != nil {
				return err
			}
		}

		// Snapshots from before the counter existed carry NextID 0; derive
		// a safe value from the restored IDs so future allocations cannot
		// collide.
		nextID := d.NextID
		if nextID == 0 {
			for _, v := range d.Versions {
				if uint64(v.VersionID) >= nextID {
					nextID = uint64(v.VersionID) + 1
				}
				if uint64(v.VectorIndexID) >= nextID {
					nextID = uint64(v.VectorIndexID) + 1
				}
			}
			if nextID == 0 {
				nextID = 1
			}
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], nextID)
		return tx.Bucket(bucketCounters).Put(keyNextID, buf[:])
	})
}
