// Package raftfsm implements the replicated state machine: applying
// committed log entries via the command dispatcher, and producing/
// restoring the log-compaction snapshot Raft uses to truncate its log.
// This is distinct from pkg/snapshot's physical data-snapshot archives —
// this snapshot captures the metadata store's content plus every per-space
// key/value entry so Raft can discard old log entries, and is never
// exposed to an operator.
package raftfsm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/atinyvectors/warren/pkg/dispatch"
	"github.com/atinyvectors/warren/pkg/log"
	"github.com/atinyvectors/warren/pkg/metrics"
	"github.com/atinyvectors/warren/pkg/store"
	"github.com/hashicorp/raft"
)

// FSM implements raft.FSM.
type FSM struct {
	mu         sync.RWMutex
	store      *store.Store
	kv         *store.KV
	dispatcher *dispatch.Dispatcher
}

// New builds an FSM backed by st and kv, wired to d for command dispatch.
func New(st *store.Store, kv *store.KV, d *dispatch.Dispatcher) *FSM {
	return &FSM{store: st, kv: kv, dispatcher: d}
}

// fsmState is the wire shape of a log-compaction snapshot: the metadata
// store's full content plus every per-space key/value entry.
type fsmState struct {
	Meta *store.Dump     `json:"meta"`
	KV   []store.KVEntry `json:"kv"`
}

// Apply decodes the committed log entry and hands it to the dispatcher.
// Per the documented error-handling design, a dispatch error is logged
// here and NOT returned in a way that would abort the apply loop or roll
// back the commit — the entry is already durable. The return value is
// still surfaced through raft.ApplyFuture.Response() for callers that want
// to inspect it, but HTTP handlers deliberately ignore it (see pkg/httpapi).
func (f *FSM) Apply(l *raft.Log) interface{} {
	var cmd dispatch.Command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		termLogger := log.WithRaftTerm(l.Term)
		termLogger.Error().Err(err).Uint64("index", l.Index).Msg("decode raft log entry")
		return fmt.Errorf("decode command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.dispatcher.Dispatch(context.Background(), cmd); err != nil {
		metrics.RaftApplyErrorsTotal.WithLabelValues(cmd.Op).Inc()
		termLogger := log.WithRaftTerm(l.Term)
		termLogger.Error().Err(err).Uint64("index", l.Index).Str("op", cmd.Op).Msg("command dispatch failed after commit")
		return err
	}
	return nil
}

// Snapshot captures the metadata store's full content and every per-space
// key/value entry for Raft's own log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	dump, err := f.store.Dump()
	if err != nil {
		return nil, fmt.Errorf("dump store for snapshot: %w", err)
	}
	kv, err := f.kv.DumpAll()
	if err != nil {
		return nil, fmt.Errorf("dump kv for snapshot: %w", err)
	}
	return &fsmSnapshot{state: fsmState{Meta: dump, KV: kv}}, nil
}

// Restore replaces the metadata store's content and the per-space
// key/value entries from a previously taken FSM snapshot. This runs when a node starts from a stored snapshot or a
// follower catches up via InstallSnapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var state fsmState
	if err := json.NewDecoder(rc).Decode(&state); err != nil {
		return fmt.Errorf("decode fsm snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if state.Meta != nil {
		if err := f.store.Restore(state.Meta); err != nil {
			return err
		}
	}
	return f.kv.RestoreAll(state.KV)
}

type fsmSnapshot struct {
	state fsmState
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.state); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
