// Package store is the BoltDB-backed metadata store: spaces, versions,
// vector index configs, per-space key/value entries, snapshot archive
// records and RBAC tokens. Vector data itself and the ANN/BM25 math live
// behind the engine facade (pkg/engine), not here.
package store

import "time"

// Space is a named collection of vector indexes, one of which is normally
// flagged as the space's default version (see Store.GetDefaultVersion for
// when none is).
type Space struct {
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	// Config carries the full dense/sparse/hnsw/quantization body the
	// engine facade understands. It is opaque here: this store never
	// interprets it, only persists and returns it.
	Config []byte `json:"config"`
}

// Version is one labeled generation of a space's schema/config.
type Version struct {
	SpaceName       string `json:"space_name"`
	VersionUniqueID int32  `json:"version_unique_id"`
	VersionID       int32  `json:"version_id"`
	VectorIndexID   int32  `json:"vector_index_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	Tag             string `json:"tag"`
	IsDefault       bool   `json:"is_default"`
	CreatedAt       time.Time `json:"created_at"`
}

// KVEntry is a single key/value pair scoped to one space.
type KVEntry struct {
	SpaceName string `json:"space_name"`
	Key       string `json:"key"`
	Value     []byte `json:"value"`
}

// SnapshotArchive records one physical data-snapshot zip on disk.
type SnapshotArchive struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// RBACToken is one RBAC principal: a JWT string plus the permission level
// (0=deny,1=read,2=write) granted per category.
type RBACToken struct {
	ID         string    `json:"id"`
	Token      string    `json:"token"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	System     int       `json:"system"`
	Space      int       `json:"space"`
	Version    int       `json:"version"`
	Vector     int       `json:"vector"`
	Snapshot   int       `json:"snapshot"`
	Search     int       `json:"search"`
	Security   int       `json:"security"`
	KeyValue   int       `json:"keyvalue"`
}
