// Package engine defines the narrow facade contracts the replicated state
// machine calls into. Space/Version/KeyValue are backed by the metadata
// store in this process; Vector/Search/Rerank are deliberately thin seams
// over an external ANN/BM25 collaborator that this module does not
// implement — ranking math and index internals are out of scope.
package engine

import (
	"context"
	"encoding/json"
)

// SpaceManager owns space lifecycle. Config is opaque JSON understood only
// by the vector engine collaborator.
type SpaceManager interface {
	CreateSpace(ctx context.Context, config json.RawMessage) error
	UpdateSpace(name string, config json.RawMessage) error
	DeleteSpace(name string, options json.RawMessage) error
	GetSpace(name string) (json.RawMessage, error)
	ListSpaces() (json.RawMessage, error)
}

// VersionManager owns version lifecycle within a space.
type VersionManager interface {
	CreateVersion(spaceName string, config json.RawMessage) error
	GetVersion(spaceName string, versionUniqueID int32) (json.RawMessage, error)
	GetVersionByName(spaceName, name string) (json.RawMessage, error)
	ListVersions(spaceName string, start, limit int) (json.RawMessage, error)
	DeleteVersion(spaceName string, versionUniqueID int32) error
}

// VectorManager upserts/fetches vectors. The actual storage and ANN index
// maintenance happen inside the vector engine collaborator; this
// implementation only validates the envelope and forwards.
type VectorManager interface {
	UpsertVectors(spaceName string, versionID int32, vectors json.RawMessage) error
	GetVector(spaceName string, versionID int32, id string) (json.RawMessage, error)
	ListVectors(spaceName string, versionID int32, start, limit int, filter json.RawMessage) (json.RawMessage, error)
}

// SearchManager performs k-NN search. Out of scope: implemented as a
// pass-through to the external collaborator's own HTTP/IPC contract.
type SearchManager interface {
	Search(spaceName string, versionID int32, query json.RawMessage) (json.RawMessage, error)
}

// RerankManager reorders search results with BM25 lexical scoring. Out of
// scope: pass-through only.
type RerankManager interface {
	Rerank(spaceName string, versionID int32, query json.RawMessage) (json.RawMessage, error)
}

// KeyValueManager is the per-space auxiliary key/value store.
type KeyValueManager interface {
	Put(spaceName, key string, value []byte) error
	Get(spaceName, key string) ([]byte, error)
	Remove(spaceName, key string) error
	ListKeys(spaceName string, start, limit int) ([]string, error)
}
