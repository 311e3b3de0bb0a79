package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/dispatch"
)

// registerDebugRoutes wires the /debug/* surface: debug-only tooling,
// gated behind ATV_ENABLE_DEBUG_ENDPOINTS and never mounted otherwise.
func (s *Server) registerDebugRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /debug/write", s.handleDebugWrite)
	mux.HandleFunc("GET /debug/read", s.handleDebugRead)
	mux.HandleFunc("GET /debug/consistent_read", s.handleDebugConsistentRead)
}

// handleDebugWrite submits an arbitrary Command body straight to the
// replicated log, bypassing every pre-log validation the real handlers
// perform. Intended for operators poking at apply-loop behavior directly.
func (s *Server) handleDebugWrite(w http.ResponseWriter, r *http.Request) {
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var cmd dispatch.Command
	if err := decodeCommand(raw, &cmd); err != nil {
		writeError(w, err)
		return
	}
	s.apply(w, cmd)
}

// handleDebugRead reports the raft state machine's small debug view
// (applied index, leader, peer count) rather than arbitrary key reads — the
// command dispatcher has no generic key/value map of its own, only the
// typed metadata store behind the engine facade.
func (s *Server) handleDebugRead(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Cluster.Stats())
}

// handleDebugConsistentRead gates a strongly-consistent read behind
// EnsureLinearizable.
func (s *Server) handleDebugConsistentRead(w http.ResponseWriter, r *http.Request) {
	if err := s.Cluster.EnsureLinearizable(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Cluster.Stats())
}

func decodeCommand(raw []byte, cmd *dispatch.Command) error {
	if err := json.Unmarshal(raw, cmd); err != nil {
		return fmt.Errorf("decode debug command: %w: %w", apierr.ErrValidation, err)
	}
	return nil
}
