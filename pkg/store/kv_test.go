package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVPutGetRemove(t *testing.T) {
	kv := NewKV(t.TempDir())

	require.NoError(t, kv.Put("s1", "k1", []byte("v1")))

	got, err := kv.Get("s1", "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// Overwrite on same key.
	require.NoError(t, kv.Put("s1", "k1", []byte("v2")))
	got, err = kv.Get("s1", "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, kv.Remove("s1", "k1"))
	_, err = kv.Get("s1", "k1")
	assert.True(t, errors.Is(err, apierr.ErrNotFound))
}

func TestKVDatabaseFileLayout(t *testing.T) {
	dir := t.TempDir()
	kv := NewKV(dir)

	require.NoError(t, kv.Put("myspace", "k", []byte("v")))

	_, err := os.Stat(filepath.Join(dir, "space", "myspace", "storage.rocksdb"))
	assert.NoError(t, err, "per-space database must live at space/{space}/storage.rocksdb")
}

func TestKVGetUnknownSpace(t *testing.T) {
	kv := NewKV(t.TempDir())
	_, err := kv.Get("nope", "k")
	assert.True(t, errors.Is(err, apierr.ErrNotFound))
}

func TestKVRemoveMissingDatabaseIsNoop(t *testing.T) {
	kv := NewKV(t.TempDir())
	assert.NoError(t, kv.Remove("nope", "k"))
}

func TestKVListKeys(t *testing.T) {
	kv := NewKV(t.TempDir())
	require.NoError(t, kv.Put("s1", "b", []byte("2")))
	require.NoError(t, kv.Put("s1", "a", []byte("1")))
	require.NoError(t, kv.Put("s2", "z", []byte("3")))

	keys, err := kv.ListKeys("s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	keys, err = kv.ListKeys("empty")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestKVDropSpace(t *testing.T) {
	kv := NewKV(t.TempDir())
	require.NoError(t, kv.Put("s1", "k", []byte("v")))
	require.NoError(t, kv.DropSpace("s1"))

	_, err := kv.Get("s1", "k")
	assert.True(t, errors.Is(err, apierr.ErrNotFound))
}

func TestKVDumpRestoreAll(t *testing.T) {
	src := NewKV(t.TempDir())
	require.NoError(t, src.Put("s1", "k1", []byte("v1")))
	require.NoError(t, src.Put("s2", "k2", []byte("v2")))

	entries, err := src.DumpAll()
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	dst := NewKV(t.TempDir())
	require.NoError(t, dst.Put("s3", "stale", []byte("x"))) // must not survive restore
	require.NoError(t, dst.RestoreAll(entries))

	v, err := dst.Get("s1", "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	_, err = dst.Get("s3", "stale")
	assert.Error(t, err)
}
