package raftfsm

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/atinyvectors/warren/pkg/dispatch"
	"github.com/atinyvectors/warren/pkg/engine"
	"github.com/atinyvectors/warren/pkg/idcache"
	"github.com/atinyvectors/warren/pkg/rbac"
	"github.com/atinyvectors/warren/pkg/snapshot"
	"github.com/atinyvectors/warren/pkg/store"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFSM(t *testing.T) (*FSM, *store.Store, *store.KV) {
	t.Helper()
	dataPath := t.TempDir()
	st, err := store.Open(dataPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	kv := store.NewKV(dataPath)
	ids := idcache.New(st)
	d := &dispatch.Dispatcher{
		Engine:     engine.NewFacade(st, kv, ids, nil, nil),
		RBAC:       rbac.NewManager(st, "test-key", 30),
		IDs:        ids,
		Snapshot:   snapshot.New(dataPath, st),
		InstanceID: 1,
	}
	return New(st, kv, d), st, kv
}

func logEntry(t *testing.T, cmd dispatch.Command) *raft.Log {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	return &raft.Log{Data: data}
}

func TestApplyRunsCommand(t *testing.T) {
	fsm, st, _ := newTestFSM(t)

	res := fsm.Apply(logEntry(t, dispatch.Command{Op: dispatch.OpSpace, Value: json.RawMessage(`{"name":"s1"}`)}))
	assert.Nil(t, res)

	_, err := st.GetSpace("s1")
	assert.NoError(t, err)
}

// A failed dispatch is reported through the apply response but never
// panics or halts: the command is already committed cluster history.
func TestApplyErrorIsReturnedNotFatal(t *testing.T) {
	fsm, _, _ := newTestFSM(t)

	res := fsm.Apply(logEntry(t, dispatch.Command{Op: "no_such_command"}))
	_, isErr := res.(error)
	assert.True(t, isErr)

	// The loop keeps going: the next entry still applies.
	res = fsm.Apply(logEntry(t, dispatch.Command{Op: dispatch.OpSpace, Value: json.RawMessage(`{"name":"s1"}`)}))
	assert.Nil(t, res)
}

func TestApplyGarbageEntry(t *testing.T) {
	fsm, _, _ := newTestFSM(t)
	res := fsm.Apply(&raft.Log{Data: []byte("not json")})
	_, isErr := res.(error)
	assert.True(t, isErr)
}

// memSink captures a Persist into memory, standing in for raft's real
// snapshot sink.
type memSink struct {
	bytes.Buffer
	cancelled bool
}

func (s *memSink) Close() error  { return nil }
func (s *memSink) Cancel() error { s.cancelled = true; return nil }
func (s *memSink) ID() string    { return "test" }

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	src, _, srcKV := newTestFSM(t)

	src.Apply(logEntry(t, dispatch.Command{Op: dispatch.OpSpace, Value: json.RawMessage(`{"name":"s1"}`)}))
	require.NoError(t, srcKV.Put("s1", "k", []byte("v")))

	snap, err := src.Snapshot()
	require.NoError(t, err)

	sink := &memSink{}
	require.NoError(t, snap.Persist(sink))
	assert.False(t, sink.cancelled)
	snap.Release()

	dst, dstStore, dstKV := newTestFSM(t)
	// Pre-existing state on the lagging follower must be replaced wholesale.
	dst.Apply(logEntry(t, dispatch.Command{Op: dispatch.OpSpace, Value: json.RawMessage(`{"name":"stale"}`)}))

	require.NoError(t, dst.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	_, err = dstStore.GetSpace("s1")
	assert.NoError(t, err)
	_, err = dstStore.GetSpace("stale")
	assert.Error(t, err)

	v, err := dstKV.Get("s1", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
}
