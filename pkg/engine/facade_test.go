package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/idcache"
	"github.com/atinyvectors/warren/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFacade(t *testing.T) (*Facade, *store.Store, *idcache.Cache) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	kv := store.NewKV(t.TempDir())
	ids := idcache.New(st)
	return NewFacade(st, kv, ids, nil, nil), st, ids
}

func TestCreateSpaceSeedsDefaultVersion(t *testing.T) {
	f, st, ids := newTestFacade(t)

	require.NoError(t, f.CreateSpace(context.Background(), json.RawMessage(`{"name":"s1","dimension":4,"metric":"l2"}`)))

	sp, err := st.GetSpace("s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"s1","dimension":4,"metric":"l2"}`, string(sp.Config))

	v, err := st.GetDefaultVersion("s1")
	require.NoError(t, err)
	assert.True(t, v.IsDefault)
	assert.Equal(t, int32(0), v.VersionUniqueID)

	assert.NotZero(t, ids.GetDefaultVersionID("s1"))
	assert.NotZero(t, ids.GetVectorIndexID("s1", 0))
}

func TestCreateSpaceRejectsDuplicates(t *testing.T) {
	f, _, _ := newTestFacade(t)

	body := json.RawMessage(`{"name":"s1","dimension":4}`)
	require.NoError(t, f.CreateSpace(context.Background(), body))
	err := f.CreateSpace(context.Background(), body)
	assert.True(t, errors.Is(err, apierr.ErrConflict))
}

func TestCreateSpaceRequiresName(t *testing.T) {
	f, _, _ := newTestFacade(t)
	err := f.CreateSpace(context.Background(), json.RawMessage(`{"dimension":4}`))
	assert.True(t, errors.Is(err, apierr.ErrValidation))
}

func TestCreateVersionAssignsNextUID(t *testing.T) {
	f, st, _ := newTestFacade(t)
	require.NoError(t, f.CreateSpace(context.Background(), json.RawMessage(`{"name":"s1"}`)))

	require.NoError(t, f.CreateVersion("s1", json.RawMessage(`{"name":"v-a"}`)))
	require.NoError(t, f.CreateVersion("s1", json.RawMessage(`{"name":"v-b"}`)))

	a, err := st.GetVersionByName("s1", "v-a")
	require.NoError(t, err)
	b, err := st.GetVersionByName("s1", "v-b")
	require.NoError(t, err)
	assert.Equal(t, int32(1), a.VersionUniqueID)
	assert.Equal(t, int32(2), b.VersionUniqueID)
}

// Exactly one version per space carries is_default at any point, no matter
// how many create_version commands flip the flag.
func TestCreateVersionDemotesPreviousDefault(t *testing.T) {
	f, st, _ := newTestFacade(t)
	require.NoError(t, f.CreateSpace(context.Background(), json.RawMessage(`{"name":"s1"}`)))

	require.NoError(t, f.CreateVersion("s1", json.RawMessage(`{"name":"v-a","is_default":true}`)))
	require.NoError(t, f.CreateVersion("s1", json.RawMessage(`{"name":"v-b","is_default":true}`)))

	versions, err := st.ListVersions("s1")
	require.NoError(t, err)
	defaults := 0
	for _, v := range versions {
		if v.IsDefault {
			defaults++
			assert.Equal(t, "v-b", v.Name)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestCreateVersionUnknownSpace(t *testing.T) {
	f, _, _ := newTestFacade(t)
	err := f.CreateVersion("ghost", json.RawMessage(`{"name":"v"}`))
	assert.True(t, errors.Is(err, apierr.ErrNotFound))
}

func TestGetVersionZeroFollowsDefaultFlag(t *testing.T) {
	f, _, _ := newTestFacade(t)
	require.NoError(t, f.CreateSpace(context.Background(), json.RawMessage(`{"name":"s1"}`)))
	require.NoError(t, f.CreateVersion("s1", json.RawMessage(`{"name":"v-new","is_default":true}`)))

	raw, err := f.GetVersion("s1", 0)
	require.NoError(t, err)
	var v store.Version
	require.NoError(t, json.Unmarshal(raw, &v))
	assert.Equal(t, "v-new", v.Name)
}

func TestDeleteSpaceCascades(t *testing.T) {
	f, st, ids := newTestFacade(t)
	require.NoError(t, f.CreateSpace(context.Background(), json.RawMessage(`{"name":"s1"}`)))
	require.NoError(t, f.Put("s1", "k", []byte("v")))

	require.NoError(t, f.DeleteSpace("s1", nil))
	ids.Clean()

	_, err := st.GetSpace("s1")
	assert.True(t, errors.Is(err, apierr.ErrNotFound))

	versions, err := st.ListVersions("s1")
	require.NoError(t, err)
	assert.Empty(t, versions)

	_, err = f.Get("s1", "k")
	assert.Error(t, err)

	assert.Zero(t, ids.GetDefaultVersionID("s1"))
}

func TestVectorUpsertGetRoundTrip(t *testing.T) {
	f, _, _ := newTestFacade(t)
	require.NoError(t, f.CreateSpace(context.Background(), json.RawMessage(`{"name":"s1","dimension":4}`)))

	vectors := json.RawMessage(`[{"id":"7","data":[1,0,0,0],"metadata":{"label":"a"}}]`)
	require.NoError(t, f.UpsertVectors("s1", 0, vectors))

	got, err := f.GetVector("s1", 0, "7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"7","data":[1,0,0,0],"metadata":{"label":"a"}}`, string(got))
}

func TestVectorUpsertUnknownSpace(t *testing.T) {
	f, _, _ := newTestFacade(t)
	err := f.UpsertVectors("ghost", 0, json.RawMessage(`[{"id":"1"}]`))
	assert.True(t, errors.Is(err, apierr.ErrNotFound))
}

func TestListVectorsPaginationAndFilter(t *testing.T) {
	f, _, _ := newTestFacade(t)
	require.NoError(t, f.CreateSpace(context.Background(), json.RawMessage(`{"name":"s1"}`)))
	require.NoError(t, f.UpsertVectors("s1", 0, json.RawMessage(
		`[{"id":"1","metadata":{"group":"x"}},{"id":"2","metadata":{"group":"y"}},{"id":"3","metadata":{"group":"x"}}]`)))

	raw, err := f.ListVectors("s1", 0, 0, 2, nil)
	require.NoError(t, err)
	var page []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Len(t, page, 2)

	raw, err = f.ListVectors("s1", 0, 0, 0, json.RawMessage(`{"group":"x"}`))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Len(t, page, 2)
}

func TestKVRoundTripThroughFacade(t *testing.T) {
	f, _, _ := newTestFacade(t)
	require.NoError(t, f.Put("s1", "greeting", []byte("hello")))

	got, err := f.Get("s1", "greeting")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	keys, err := f.ListKeys("s1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"greeting"}, keys)

	require.NoError(t, f.Remove("s1", "greeting"))
	_, err = f.Get("s1", "greeting")
	assert.Error(t, err)
}
