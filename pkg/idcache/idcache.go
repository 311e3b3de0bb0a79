// Package idcache maps user-facing (space name, version unique id) pairs to
// the internal numeric IDs the engine facade and vector index use, so hot
// paths never have to round-trip through the metadata store for a lookup.
// A miss falls through to the metadata store via the Loader seam and the
// result is cached, so invalidation can be blunt: schema-mutating commands
// just drop the name bindings and the next lookup repopulates them.
package idcache

import "sync"

// Loader resolves a binding from the metadata store when the cache misses.
// Implemented by *store.Store; nil disables miss-loading (tests).
type Loader interface {
	// LoadVersion resolves an explicit (space, version_unique_id) pair.
	LoadVersion(space string, versionUniqueID int32) (versionID, vectorIndexID int32, isDefault bool, err error)
	// LoadDefaultVersion resolves whichever of space's versions currently
	// carries the is_default flag.
	LoadDefaultVersion(space string) (versionUniqueID, versionID, vectorIndexID int32, err error)
}

// nameVersion is the forward-lookup key: a space name plus the caller's
// version_unique_id (0 means "the space's default version").
type nameVersion struct {
	space   string
	version int32
}

// entry is the value every forward/reverse map agrees on.
type entry struct {
	space       string
	version     int32
	versionID   int32
	vectorIdxID int32
}

// Cache is the single in-process authority for name-to-ID resolution. All
// state is guarded by one lock; lookups are expected to be cheap and
// frequent, invalidation rare.
type Cache struct {
	mu     sync.Mutex
	loader Loader

	byNameVersion map[nameVersion]*entry
	byVersionID   map[int32]*entry
	byVectorIdxID map[int32]*entry

	// defaultVersion tracks, per space, which version_unique_id is the
	// space's default (used to serve get_default_version_id without a
	// version_unique_id argument).
	defaultVersion map[string]int32
}

// New returns an empty cache backed by loader for miss resolution. A nil
// loader is allowed; lookups then answer only from what Put registered.
func New(loader Loader) *Cache {
	return &Cache{
		loader:         loader,
		byNameVersion:  make(map[nameVersion]*entry),
		byVersionID:    make(map[int32]*entry),
		byVectorIdxID:  make(map[int32]*entry),
		defaultVersion: make(map[string]int32),
	}
}

// Put registers or overwrites the mapping for a (space, version_unique_id)
// pair. isDefault marks this version as the space's current default.
func (c *Cache) Put(space string, versionUniqueID int32, versionID int32, vectorIndexID int32, isDefault bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(space, versionUniqueID, versionID, vectorIndexID, isDefault)
}

func (c *Cache) put(space string, versionUniqueID int32, versionID int32, vectorIndexID int32, isDefault bool) *entry {
	e := &entry{space: space, version: versionUniqueID, versionID: versionID, vectorIdxID: vectorIndexID}
	c.byNameVersion[nameVersion{space, versionUniqueID}] = e
	c.byVersionID[versionID] = e
	c.byVectorIdxID[vectorIndexID] = e
	if isDefault {
		c.defaultVersion[space] = versionUniqueID
	}
	return e
}

// lookup resolves (space, uid) under the lock, loading from the metadata
// store on miss. uid 0 is the reserved alias for the space's default.
func (c *Cache) lookup(space string, versionUniqueID int32) *entry {
	if versionUniqueID == 0 {
		return c.lookupDefault(space)
	}
	if e, ok := c.byNameVersion[nameVersion{space, versionUniqueID}]; ok {
		return e
	}
	if c.loader == nil {
		return nil
	}
	versionID, vectorIndexID, isDefault, err := c.loader.LoadVersion(space, versionUniqueID)
	if err != nil {
		return nil
	}
	return c.put(space, versionUniqueID, versionID, vectorIndexID, isDefault)
}

func (c *Cache) lookupDefault(space string) *entry {
	if uid, ok := c.defaultVersion[space]; ok {
		if e, ok := c.byNameVersion[nameVersion{space, uid}]; ok {
			return e
		}
	}
	if c.loader == nil {
		return nil
	}
	uid, versionID, vectorIndexID, err := c.loader.LoadDefaultVersion(space)
	if err != nil {
		return nil
	}
	return c.put(space, uid, versionID, vectorIndexID, true)
}

// GetVersionID resolves (space, version_unique_id) to its internal
// version_id. uid 0 resolves the space's default version. Returns 0 if
// unknown.
func (c *Cache) GetVersionID(space string, versionUniqueID int32) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.lookup(space, versionUniqueID); e != nil {
		return e.versionID
	}
	return 0
}

// GetDefaultVersionID resolves a space name to its default version's
// internal version_id. Returns 0 if the space is unknown, which HTTP
// handlers use as the "space does not exist" signal.
func (c *Cache) GetDefaultVersionID(space string) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.lookupDefault(space); e != nil {
		return e.versionID
	}
	return 0
}

// GetVectorIndexID resolves (space, version_unique_id) to the internal
// vector_index_id backing that version. Returns 0 if unknown.
func (c *Cache) GetVectorIndexID(space string, versionUniqueID int32) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.lookup(space, versionUniqueID); e != nil {
		return e.vectorIdxID
	}
	return 0
}

// SpaceNameAndVersionUniqueID reverse-resolves an internal version_id back
// to the (space, version_unique_id) pair that produced it.
func (c *Cache) SpaceNameAndVersionUniqueID(versionID int32) (string, int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byVersionID[versionID]
	if !ok {
		return "", 0, false
	}
	return e.space, e.version, true
}

// SpaceNameAndVersionUniqueIDByVectorIndexID reverse-resolves an internal
// vector_index_id back to the (space, version_unique_id) pair that owns it.
func (c *Cache) SpaceNameAndVersionUniqueIDByVectorIndexID(vectorIndexID int32) (string, int32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byVectorIdxID[vectorIndexID]
	if !ok {
		return "", 0, false
	}
	return e.space, e.version, true
}

// Clean wipes every map. Used when a full data-snapshot restore replaces
// the metadata store wholesale, since every ID the cache knew about may no
// longer be valid.
func (c *Cache) Clean() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byNameVersion = make(map[nameVersion]*entry)
	c.byVersionID = make(map[int32]*entry)
	c.byVectorIdxID = make(map[int32]*entry)
	c.defaultVersion = make(map[string]int32)
}

// ClearSpaceNameCache drops only the name/default-version bookkeeping,
// leaving the version_id/vector_index_id reverse maps intact. Called after
// schema-mutating commands (space, update_space, delete_space, version)
// since those can change which version is default or rename a space's
// bindings without invalidating IDs that are still otherwise valid.
func (c *Cache) ClearSpaceNameCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byNameVersion = make(map[nameVersion]*entry)
	c.defaultVersion = make(map[string]int32)
}
