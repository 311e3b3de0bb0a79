package snapshot

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/atinyvectors/warren/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *store.Store, string) {
	t.Helper()
	dataPath := t.TempDir()
	st, err := store.Open(dataPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(dataPath, st), st, dataPath
}

func TestValidateName(t *testing.T) {
	valid := []string{
		"snapshot-202401020000.zip",
		"snapshot-20240102.zip",
	}
	for _, name := range valid {
		assert.NoError(t, validateName(name), name)
	}

	invalid := []string{
		"snapshot-2024.zip",
		"snapshot-202401020000.tar",
		"../etc/passwd",
		"snapshot-20240102.zip.exe",
		"backup-20240102.zip",
	}
	for _, name := range invalid {
		assert.Error(t, validateName(name), name)
	}
}

func TestExtractDate(t *testing.T) {
	assert.Equal(t, "20240102", extractDate("snapshot-20240102.zip"))
	assert.Equal(t, "20240102", extractDate("snapshot-202401020830.zip"))
}

func TestCreateListDelete(t *testing.T) {
	c, _, dataPath := newTestCoordinator(t)

	// Something worth archiving.
	kv := store.NewKV(dataPath)
	require.NoError(t, kv.Put("s1", "k", []byte("v")))

	fileName, err := c.Create()
	require.NoError(t, err)
	assert.Regexp(t, `^snapshot-\d{12}\.zip$`, fileName)

	_, err = os.Stat(filepath.Join(dataPath, "snapshot", fileName))
	require.NoError(t, err)

	archives, err := c.List()
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, fileName, archives[0].FileName)

	require.NoError(t, c.Delete(fileName))
	archives, err = c.List()
	require.NoError(t, err)
	assert.Empty(t, archives)
	_, err = os.Stat(filepath.Join(dataPath, "snapshot", fileName))
	assert.True(t, os.IsNotExist(err))
}

func TestCreateExcludesRaftAndSnapshotDirs(t *testing.T) {
	c, _, dataPath := newTestCoordinator(t)

	require.NoError(t, os.MkdirAll(filepath.Join(dataPath, "raft"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataPath, "raft", "log.db"), []byte("raft"), 0644))

	fileName, err := c.Create()
	require.NoError(t, err)

	r, err := zip.OpenReader(filepath.Join(dataPath, "snapshot", fileName))
	require.NoError(t, err)
	defer r.Close()
	for _, f := range r.File {
		assert.NotContains(t, f.Name, "raft/")
		assert.NotContains(t, f.Name, "snapshot/")
		assert.NotContains(t, f.Name, "temp/")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	c, st, dataPath := newTestCoordinator(t)
	kv := store.NewKV(dataPath)

	require.NoError(t, st.PutSpace(&store.Space{Name: "s1", Config: []byte(`{"name":"s1"}`)}))
	require.NoError(t, kv.Put("s1", "k", []byte("v")))

	fileName, err := c.Create()
	require.NoError(t, err)

	// Mutate state after the archive was cut.
	require.NoError(t, st.DeleteSpace("s1"))
	require.NoError(t, st.PutSpace(&store.Space{Name: "later", Config: []byte(`{"name":"later"}`)}))
	require.NoError(t, kv.Put("s1", "k", []byte("changed")))

	require.NoError(t, c.Restore(fileName))

	// Metadata is back to the archived content; the post-archive space is gone.
	_, err = st.GetSpace("s1")
	require.NoError(t, err)
	_, err = st.GetSpace("later")
	assert.Error(t, err)

	v, err := kv.Get("s1", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	// The restored archive itself must still be listed, even though the
	// archived metadata predates its own record.
	archives, err := c.List()
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, fileName, archives[0].FileName)
}

func TestRestoreUnknownArchive(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	assert.Error(t, c.Restore("snapshot-209901010000.zip"))
}

func TestStageUploadMovesIntoSnapshotDir(t *testing.T) {
	c, _, dataPath := newTestCoordinator(t)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("hello.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	fileName := "snapshot-202401020000.zip"
	tempPath := c.TempPath(fileName)
	require.NoError(t, os.WriteFile(tempPath, buf.Bytes(), 0644))

	require.NoError(t, c.StageUpload(tempPath, fileName))

	_, err = os.Stat(filepath.Join(dataPath, "snapshot", fileName))
	require.NoError(t, err)
	_, err = os.Stat(tempPath)
	assert.True(t, os.IsNotExist(err), "temp file should be removed after staging")

	archives, err := c.List()
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, fileName, archives[0].FileName)
}

func TestStageUploadRejectsBadName(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	err := c.StageUpload("/nonexistent", "not-a-snapshot.zip")
	assert.Error(t, err)
}

func TestDeleteAll(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	_, err := c.Create()
	require.NoError(t, err)
	_, err = c.Create()
	require.NoError(t, err)

	require.NoError(t, c.DeleteAll())
	archives, err := c.List()
	require.NoError(t, err)
	assert.Empty(t, archives)
}
