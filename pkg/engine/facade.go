package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/idcache"
	"github.com/atinyvectors/warren/pkg/security"
	"github.com/atinyvectors/warren/pkg/store"
)

// VectorEngineClient is the narrow contract the real ANN/BM25 engine
// implements out of process. Nothing in this module supplies a production
// implementation of it — the index math and scoring are out of scope —
// but the Facade needs a seam to call through to one.
type VectorEngineClient interface {
	UpsertVectors(vectorIndexID int32, vectors json.RawMessage) error
	GetVector(vectorIndexID int32, id string) (json.RawMessage, error)
	ListVectors(vectorIndexID int32, start, limit int, filter json.RawMessage) (json.RawMessage, error)
	Search(vectorIndexID int32, query json.RawMessage) (json.RawMessage, error)
	Rerank(vectorIndexID int32, query json.RawMessage) (json.RawMessage, error)
}

// localStubEngine is a minimal in-memory VectorEngineClient used when no
// external engine is configured (development/single-binary mode). It does
// not implement any ANN search; Search/Rerank return an empty result set
// rather than attempting real scoring.
type localStubEngine struct {
	mu      sync.RWMutex
	vectors map[int32]map[string]json.RawMessage
}

func newLocalStubEngine() *localStubEngine {
	return &localStubEngine{vectors: make(map[int32]map[string]json.RawMessage)}
}

func (e *localStubEngine) UpsertVectors(vectorIndexID int32, vectors json.RawMessage) error {
	items, err := splitVectorPayload(vectors)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.vectors[vectorIndexID]
	if !ok {
		idx = make(map[string]json.RawMessage)
		e.vectors[vectorIndexID] = idx
	}
	for _, item := range items {
		var hdr struct {
			ID interface{} `json:"id"`
		}
		if err := json.Unmarshal(item, &hdr); err != nil || hdr.ID == nil {
			return fmt.Errorf("vector missing id: %w", apierr.ErrValidation)
		}
		idx[vectorKey(hdr.ID)] = item
	}
	return nil
}

// splitVectorPayload accepts both upsert body shapes: the HTTP surface's
// {"vectors":[...]} envelope and a bare JSON array.
func splitVectorPayload(vectors json.RawMessage) ([]json.RawMessage, error) {
	var wrapped struct {
		Vectors []json.RawMessage `json:"vectors"`
	}
	if err := json.Unmarshal(vectors, &wrapped); err == nil && wrapped.Vectors != nil {
		return wrapped.Vectors, nil
	}
	var bare []json.RawMessage
	if err := json.Unmarshal(vectors, &bare); err != nil {
		return nil, fmt.Errorf("decode vectors: %w: %w", apierr.ErrValidation, err)
	}
	return bare, nil
}

// vectorKey canonicalizes a vector's JSON id (number or string) to a map
// key, so id 7 and id "7" address the same slot.
func vectorKey(id interface{}) string {
	if f, ok := id.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(id)
}

func (e *localStubEngine) GetVector(vectorIndexID int32, id string) (json.RawMessage, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	idx, ok := e.vectors[vectorIndexID]
	if !ok {
		return nil, fmt.Errorf("vector index %d: %w", vectorIndexID, apierr.ErrNotFound)
	}
	v, ok := idx[id]
	if !ok {
		return nil, fmt.Errorf("vector %q: %w", id, apierr.ErrNotFound)
	}
	return v, nil
}

// ListVectors returns a stable-ordered, paginated slice of the stub
// engine's stored vectors for vectorIndexID. filter, if non-empty, is
// matched against each vector's top-level metadata fields for equality;
// this is a development convenience only — the real engine's filter
// language is out of scope.
func (e *localStubEngine) ListVectors(vectorIndexID int32, start, limit int, filter json.RawMessage) (json.RawMessage, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	idx := e.vectors[vectorIndexID]
	ids := make([]string, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var want map[string]interface{}
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &want); err != nil {
			return nil, fmt.Errorf("decode filter: %w: %w", apierr.ErrValidation, err)
		}
	}

	matches := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		v := idx[id]
		if len(want) > 0 && !matchesFilter(v, want) {
			continue
		}
		matches = append(matches, v)
	}

	if start < 0 {
		start = 0
	}
	if start > len(matches) {
		start = len(matches)
	}
	end := len(matches)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	page := matches[start:end]
	return json.Marshal(page)
}

func matchesFilter(raw json.RawMessage, want map[string]interface{}) bool {
	var item struct {
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return false
	}
	for k, v := range want {
		mv, ok := item.Metadata[k]
		if !ok || fmt.Sprint(mv) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

func (e *localStubEngine) Search(vectorIndexID int32, query json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"matches":[]}`), nil
}

func (e *localStubEngine) Rerank(vectorIndexID int32, query json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"matches":[]}`), nil
}

// The Facade is the one concrete implementation of every manager contract.
var (
	_ SpaceManager    = (*Facade)(nil)
	_ VersionManager  = (*Facade)(nil)
	_ VectorManager   = (*Facade)(nil)
	_ SearchManager   = (*Facade)(nil)
	_ RerankManager   = (*Facade)(nil)
	_ KeyValueManager = (*Facade)(nil)
)

// Facade implements every engine contract, backed by the metadata store
// for Space/Version/KeyValue and by a VectorEngineClient (injected, or the
// local development stub) for Vector/Search/Rerank.
type Facade struct {
	store  *store.Store
	kv     *store.KV
	ids    *idcache.Cache
	vector VectorEngineClient
	secret *security.SecretsManager
}

// NewFacade builds a Facade. Pass a nil VectorEngineClient to fall back to
// the local in-memory stub, suitable for development and tests only. Pass a
// nil SecretsManager to store key/value entries in plaintext; callers
// configure one (see config.KVEncryptionPassword) to encrypt values at rest.
func NewFacade(st *store.Store, kv *store.KV, ids *idcache.Cache, vec VectorEngineClient, secret *security.SecretsManager) *Facade {
	if vec == nil {
		vec = newLocalStubEngine()
	}
	return &Facade{store: st, kv: kv, ids: ids, vector: vec, secret: secret}
}

// CreateSpace persists a new space and seeds its default version (version
// 0) in the ID cache. config is opaque and stored verbatim.
func (f *Facade) CreateSpace(ctx context.Context, config json.RawMessage) error {
	var hdr struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(config, &hdr); err != nil || hdr.Name == "" {
		return fmt.Errorf("space config missing name: %w", apierr.ErrValidation)
	}
	if _, err := f.store.GetSpace(hdr.Name); err == nil {
		return fmt.Errorf("space %q already exists: %w", hdr.Name, apierr.ErrConflict)
	}
	sp := &store.Space{Name: hdr.Name, CreatedAt: time.Now(), UpdatedAt: time.Now(), Config: config}
	if err := f.store.PutSpace(sp); err != nil {
		return fmt.Errorf("persist space: %w: %w", apierr.ErrStorageFailure, err)
	}
	v := &store.Version{
		SpaceName: hdr.Name, VersionUniqueID: 0,
		Name: "default", IsDefault: true, CreatedAt: time.Now(),
	}
	if err := f.store.CreateVersionRecord(v); err != nil {
		return fmt.Errorf("persist default version: %w: %w", apierr.ErrStorageFailure, err)
	}
	f.ids.Put(hdr.Name, 0, v.VersionID, v.VectorIndexID, true)
	return nil
}

func (f *Facade) UpdateSpace(name string, config json.RawMessage) error {
	sp, err := f.store.GetSpace(name)
	if err != nil {
		return err
	}
	sp.Config = config
	sp.UpdatedAt = time.Now()
	if err := f.store.PutSpace(sp); err != nil {
		return fmt.Errorf("persist space: %w: %w", apierr.ErrStorageFailure, err)
	}
	return nil
}

// DeleteSpace removes a space and everything it owns: its versions and its
// per-space key/value database. Vectors live with their version's index in
// the vector engine, which drops them when the index id stops resolving.
func (f *Facade) DeleteSpace(name string, options json.RawMessage) error {
	if _, err := f.store.GetSpace(name); err != nil {
		return err
	}
	if err := f.store.DeleteSpaceVersions(name); err != nil {
		return fmt.Errorf("delete space versions: %w: %w", apierr.ErrStorageFailure, err)
	}
	if f.kv != nil {
		if err := f.kv.DropSpace(name); err != nil {
			return fmt.Errorf("drop space kv: %w: %w", apierr.ErrStorageFailure, err)
		}
	}
	if err := f.store.DeleteSpace(name); err != nil {
		return fmt.Errorf("delete space: %w: %w", apierr.ErrStorageFailure, err)
	}
	return nil
}

func (f *Facade) GetSpace(name string) (json.RawMessage, error) {
	sp, err := f.store.GetSpace(name)
	if err != nil {
		return nil, err
	}
	return sp.Config, nil
}

func (f *Facade) ListSpaces() (json.RawMessage, error) {
	spaces, err := f.store.ListSpaces()
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w: %w", apierr.ErrStorageFailure, err)
	}
	return json.Marshal(spaces)
}

// CreateVersion creates a new version for an existing space. With
// is_default set, the space's previous default version is demoted.
func (f *Facade) CreateVersion(spaceName string, config json.RawMessage) error {
	if _, err := f.store.GetSpace(spaceName); err != nil {
		return err
	}
	var hdr struct {
		VersionUniqueID int32  `json:"version_unique_id"`
		Name            string `json:"name"`
		Description     string `json:"description"`
		Tag             string `json:"tag"`
		IsDefault       bool   `json:"is_default"`
	}
	if err := json.Unmarshal(config, &hdr); err != nil {
		return fmt.Errorf("version config invalid: %w: %w", apierr.ErrValidation, err)
	}
	if hdr.VersionUniqueID == 0 {
		// uid 0 is the reserved default-version alias, never a slot a new
		// version can claim; absent an explicit uid, assign the next free one.
		existing, err := f.store.ListVersions(spaceName)
		if err != nil {
			return fmt.Errorf("list versions: %w: %w", apierr.ErrStorageFailure, err)
		}
		var max int32
		for _, ev := range existing {
			if ev.VersionUniqueID > max {
				max = ev.VersionUniqueID
			}
		}
		hdr.VersionUniqueID = max + 1
	}
	if hdr.IsDefault {
		// Demote the space's current default atomically with this create,
		// so exactly one version per space is ever marked default.
		existing, err := f.store.ListVersions(spaceName)
		if err != nil {
			return fmt.Errorf("list versions: %w: %w", apierr.ErrStorageFailure, err)
		}
		for _, ev := range existing {
			if ev.IsDefault && ev.VersionUniqueID != hdr.VersionUniqueID {
				ev.IsDefault = false
				if err := f.store.PutVersion(ev); err != nil {
					return fmt.Errorf("demote previous default version: %w: %w", apierr.ErrStorageFailure, err)
				}
				f.ids.Put(spaceName, ev.VersionUniqueID, ev.VersionID, ev.VectorIndexID, false)
			}
		}
	}
	v := &store.Version{
		SpaceName: spaceName, VersionUniqueID: hdr.VersionUniqueID,
		Name: hdr.Name, Description: hdr.Description,
		Tag: hdr.Tag, IsDefault: hdr.IsDefault, CreatedAt: time.Now(),
	}
	if err := f.store.CreateVersionRecord(v); err != nil {
		return fmt.Errorf("persist version: %w: %w", apierr.ErrStorageFailure, err)
	}
	f.ids.Put(spaceName, hdr.VersionUniqueID, v.VersionID, v.VectorIndexID, hdr.IsDefault)
	return nil
}

// GetVersion resolves one version. uid 0 is the reserved alias for
// whichever version currently carries the is_default flag, which is not
// necessarily the version stored under uid 0.
func (f *Facade) GetVersion(spaceName string, versionUniqueID int32) (json.RawMessage, error) {
	var v *store.Version
	var err error
	if versionUniqueID == 0 {
		v, err = f.store.GetDefaultVersion(spaceName)
	} else {
		v, err = f.store.GetVersion(spaceName, versionUniqueID)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// ListVersions returns a start/limit page of a space's versions (limit 0
// means no cap).
func (f *Facade) ListVersions(spaceName string, start, limit int) (json.RawMessage, error) {
	versions, err := f.store.ListVersions(spaceName)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w: %w", apierr.ErrStorageFailure, err)
	}
	if start < 0 {
		start = 0
	}
	if start > len(versions) {
		start = len(versions)
	}
	end := len(versions)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return json.Marshal(versions[start:end])
}

// GetVersionByName resolves a version by its human-readable name rather
// than its version_unique_id.
func (f *Facade) GetVersionByName(spaceName, name string) (json.RawMessage, error) {
	v, err := f.store.GetVersionByName(spaceName, name)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// DeleteVersion removes one version from a space. The IdCache still holds
// stale bindings for it until the dispatcher's ClearSpaceNameCache call
// runs, consistent with every other schema-mutating command.
func (f *Facade) DeleteVersion(spaceName string, versionUniqueID int32) error {
	if err := f.store.DeleteVersion(spaceName, versionUniqueID); err != nil {
		return err
	}
	return nil
}

func (f *Facade) UpsertVectors(spaceName string, versionUniqueID int32, vectors json.RawMessage) error {
	vectorIndexID := f.ids.GetVectorIndexID(spaceName, versionUniqueID)
	if vectorIndexID == 0 {
		return fmt.Errorf("unknown space/version %s/%d: %w", spaceName, versionUniqueID, apierr.ErrNotFound)
	}
	return f.vector.UpsertVectors(vectorIndexID, vectors)
}

func (f *Facade) GetVector(spaceName string, versionUniqueID int32, id string) (json.RawMessage, error) {
	vectorIndexID := f.ids.GetVectorIndexID(spaceName, versionUniqueID)
	if vectorIndexID == 0 {
		return nil, fmt.Errorf("unknown space/version %s/%d: %w", spaceName, versionUniqueID, apierr.ErrNotFound)
	}
	return f.vector.GetVector(vectorIndexID, id)
}

func (f *Facade) ListVectors(spaceName string, versionUniqueID int32, start, limit int, filter json.RawMessage) (json.RawMessage, error) {
	vectorIndexID := f.ids.GetVectorIndexID(spaceName, versionUniqueID)
	if vectorIndexID == 0 {
		return nil, fmt.Errorf("unknown space/version %s/%d: %w", spaceName, versionUniqueID, apierr.ErrNotFound)
	}
	return f.vector.ListVectors(vectorIndexID, start, limit, filter)
}

func (f *Facade) Search(spaceName string, versionUniqueID int32, query json.RawMessage) (json.RawMessage, error) {
	vectorIndexID := f.ids.GetVectorIndexID(spaceName, versionUniqueID)
	if vectorIndexID == 0 {
		return nil, fmt.Errorf("unknown space/version %s/%d: %w", spaceName, versionUniqueID, apierr.ErrNotFound)
	}
	return f.vector.Search(vectorIndexID, query)
}

func (f *Facade) Rerank(spaceName string, versionUniqueID int32, query json.RawMessage) (json.RawMessage, error) {
	vectorIndexID := f.ids.GetVectorIndexID(spaceName, versionUniqueID)
	if vectorIndexID == 0 {
		return nil, fmt.Errorf("unknown space/version %s/%d: %w", spaceName, versionUniqueID, apierr.ErrNotFound)
	}
	return f.vector.Rerank(vectorIndexID, query)
}

func (f *Facade) Put(spaceName, key string, value []byte) error {
	stored := value
	if f.secret != nil {
		encrypted, err := f.secret.EncryptSecret(value)
		if err != nil {
			return fmt.Errorf("encrypt kv value: %w: %w", apierr.ErrStorageFailure, err)
		}
		stored = encrypted
	}
	if err := f.kv.Put(spaceName, key, stored); err != nil {
		return fmt.Errorf("put kv: %w: %w", apierr.ErrStorageFailure, err)
	}
	return nil
}

func (f *Facade) Get(spaceName, key string) ([]byte, error) {
	stored, err := f.kv.Get(spaceName, key)
	if err != nil {
		return nil, err
	}
	if f.secret == nil {
		return stored, nil
	}
	return f.secret.DecryptSecret(stored)
}

func (f *Facade) Remove(spaceName, key string) error {
	if err := f.kv.Remove(spaceName, key); err != nil {
		return fmt.Errorf("remove kv: %w: %w", apierr.ErrStorageFailure, err)
	}
	return nil
}

// ListKeys returns a paginated slice of a space's stored key names.
func (f *Facade) ListKeys(spaceName string, start, limit int) ([]string, error) {
	keys, err := f.kv.ListKeys(spaceName)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w: %w", apierr.ErrStorageFailure, err)
	}
	if start < 0 {
		start = 0
	}
	if start > len(keys) {
		start = len(keys)
	}
	end := len(keys)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return keys[start:end], nil
}
