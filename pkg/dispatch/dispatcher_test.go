package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/atinyvectors/warren/pkg/engine"
	"github.com/atinyvectors/warren/pkg/idcache"
	"github.com/atinyvectors/warren/pkg/rbac"
	"github.com/atinyvectors/warren/pkg/snapshot"
	"github.com/atinyvectors/warren/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replica is one node's full apply-side stack, wired the same way
// cmd/atvd wires the real process.
type replica struct {
	d   *Dispatcher
	st  *store.Store
	kv  *store.KV
	ids *idcache.Cache
}

func newReplica(t *testing.T, instanceID uint64) *replica {
	t.Helper()
	dataPath := t.TempDir()
	st, err := store.Open(dataPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	kv := store.NewKV(dataPath)
	ids := idcache.New(st)
	facade := engine.NewFacade(st, kv, ids, nil, nil)
	d := &Dispatcher{
		Engine:     facade,
		RBAC:       rbac.NewManager(st, "test-key", 30),
		IDs:        ids,
		Snapshot:   snapshot.New(dataPath, st),
		InstanceID: instanceID,
		HTTPAddr:   "127.0.0.1:0",
	}
	return &replica{d: d, st: st, kv: kv, ids: ids}
}

func (r *replica) apply(t *testing.T, cmds ...Command) {
	t.Helper()
	for _, cmd := range cmds {
		require.NoError(t, r.d.Dispatch(context.Background(), cmd))
	}
}

func TestDispatchSpaceLifecycle(t *testing.T) {
	r := newReplica(t, 1)

	r.apply(t, Command{Op: OpSpace, Value: json.RawMessage(`{"name":"s1","dimension":4}`)})

	sp, err := r.st.GetSpace("s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sp.Name)
	assert.NotZero(t, r.ids.GetDefaultVersionID("s1"))

	r.apply(t, Command{Op: OpUpdateSpace, SpaceName: "s1", Value: json.RawMessage(`{"name":"s1","dimension":8}`)})
	sp, err = r.st.GetSpace("s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"s1","dimension":8}`, string(sp.Config))

	r.apply(t, Command{Op: OpDeleteSpace, SpaceName: "s1"})
	_, err = r.st.GetSpace("s1")
	assert.Error(t, err)
}

// After delete_space the id cache must stop resolving the space on every
// node, which is what the HTTP pre-log existence check relies on.
func TestCacheCoherenceAfterDeleteSpace(t *testing.T) {
	r := newReplica(t, 1)

	r.apply(t,
		Command{Op: OpSpace, Value: json.RawMessage(`{"name":"s1"}`)},
		Command{Op: OpDeleteSpace, SpaceName: "s1"},
	)
	assert.Zero(t, r.ids.GetDefaultVersionID("s1"))
}

func TestDispatchVersionAndVector(t *testing.T) {
	r := newReplica(t, 1)

	r.apply(t,
		Command{Op: OpSpace, Value: json.RawMessage(`{"name":"s1"}`)},
		Command{Op: OpVersion, SpaceName: "s1", Value: json.RawMessage(`{"name":"v1","is_default":true}`)},
		Command{Op: OpVector, SpaceName: "s1", Value: json.RawMessage(`{"vectors":[{"id":7,"data":[1,0,0,0]}]}`)},
	)

	v, err := r.st.GetDefaultVersion("s1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v.Name)

	// The vector landed in the default (v1) index.
	raw, err := r.d.Engine.ListVectors("s1", 0, 0, 0, nil)
	require.NoError(t, err)
	var page []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Len(t, page, 1)
}

func TestDispatchVectorWithExplicitVersion(t *testing.T) {
	r := newReplica(t, 1)

	r.apply(t,
		Command{Op: OpSpace, Value: json.RawMessage(`{"name":"s1"}`)},
		Command{Op: OpVersion, SpaceName: "s1", Value: json.RawMessage(`{"version_unique_id":5,"name":"v5"}`)},
		Command{Op: OpVectorWithVersion, SpaceName: "s1", VersionID: 5, Value: json.RawMessage(`[{"id":1}]`)},
	)

	raw, err := r.d.Engine.ListVectors("s1", 5, 0, 0, nil)
	require.NoError(t, err)
	var page []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &page))
	assert.Len(t, page, 1)
}

func TestDispatchKVCommands(t *testing.T) {
	r := newReplica(t, 1)

	value, err := json.Marshal([]byte("payload"))
	require.NoError(t, err)

	r.apply(t,
		Command{Op: OpSpace, Value: json.RawMessage(`{"name":"s1"}`)},
		Command{Op: OpStoragePutKey, SpaceName: "s1", Key: "k1", Value: value},
	)

	got, err := r.d.Engine.Get("s1", "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	r.apply(t, Command{Op: OpStorageRemoveKey, SpaceName: "s1", Key: "k1"})
	_, err = r.d.Engine.Get("s1", "k1")
	assert.Error(t, err)

	// Removing from a space that never stored anything is a no-op.
	r.apply(t, Command{Op: OpStorageRemoveKey, SpaceName: "ghost", Key: "k"})
}

func TestDispatchRBACCommands(t *testing.T) {
	r := newReplica(t, 1)

	token, err := r.d.RBAC.GenerateJWT(0)
	require.NoError(t, err)

	r.apply(t, Command{Op: OpCreateRBACToken, Token: token, Value: json.RawMessage(`{"space":2}`)})
	assert.Equal(t, rbac.LevelWrite, r.d.RBAC.Permission(token, rbac.CategorySpace))

	r.apply(t, Command{Op: OpUpdateRBACToken, Token: token, Value: json.RawMessage(`{"space":1}`)})
	assert.Equal(t, rbac.LevelRead, r.d.RBAC.Permission(token, rbac.CategorySpace))

	r.apply(t, Command{Op: OpDeleteRBACToken, Token: token})
	assert.Equal(t, rbac.LevelDeny, r.d.RBAC.Permission(token, rbac.CategorySpace))
}

func TestDispatchUnknownCommand(t *testing.T) {
	r := newReplica(t, 1)
	err := r.d.Dispatch(context.Background(), Command{Op: "future_command"})
	assert.Error(t, err)
}

func TestDispatchSnapshotCreateAndDelete(t *testing.T) {
	r := newReplica(t, 1)

	r.apply(t, Command{Op: OpCreateSnapshot})
	archives, err := r.d.Snapshot.List()
	require.NoError(t, err)
	require.Len(t, archives, 1)

	r.apply(t, Command{Op: OpSnapshotDelete, FileName: archives[0].FileName})
	archives, err = r.d.Snapshot.List()
	require.NoError(t, err)
	assert.Empty(t, archives)
}

// Applying the same committed command sequence to two fresh replicas must
// leave their engine state equal, modulo apply-time timestamps.
func TestApplyDeterminism(t *testing.T) {
	cmds := []Command{
		{Op: OpSpace, Value: json.RawMessage(`{"name":"alpha","dimension":4}`)},
		{Op: OpSpace, Value: json.RawMessage(`{"name":"beta","dimension":8}`)},
		{Op: OpVersion, SpaceName: "alpha", Value: json.RawMessage(`{"name":"v1","is_default":true}`)},
		{Op: OpVector, SpaceName: "alpha", Value: json.RawMessage(`{"vectors":[{"id":1,"data":[1,0,0,0]}]}`)},
		{Op: OpStoragePutKey, SpaceName: "beta", Key: "k", Value: json.RawMessage(`"dmFsdWU="`)},
		{Op: OpDeleteSpace, SpaceName: "beta"},
	}

	a := newReplica(t, 1)
	b := newReplica(t, 2)
	a.apply(t, cmds...)
	b.apply(t, cmds...)

	da, err := a.st.Dump()
	require.NoError(t, err)
	db, err := b.st.Dump()
	require.NoError(t, err)

	assert.Equal(t, normalizeDump(da), normalizeDump(db))

	ka, err := a.kv.DumpAll()
	require.NoError(t, err)
	kb, err := b.kv.DumpAll()
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
}

// normalizeDump zeroes the wall-clock fields so replicas that applied at
// different instants still compare equal.
func normalizeDump(d *store.Dump) *store.Dump {
	for _, sp := range d.Spaces {
		sp.CreatedAt, sp.UpdatedAt = time.Time{}, time.Time{}
	}
	for _, v := range d.Versions {
		v.CreatedAt = time.Time{}
	}
	for _, a := range d.Snapshots {
		a.CreatedAt = time.Time{}
	}
	for _, tok := range d.Tokens {
		tok.CreatedAt, tok.ExpiresAt = time.Time{}, time.Time{}
	}
	return d
}
