package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/dispatch"
	"github.com/atinyvectors/warren/pkg/rbac"
)

// registerKeyValueRoutes wires the per-space auxiliary KV store, mounted
// under /api.
func (s *Server) registerKeyValueRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/space/{space}/key/{key}", s.handlePutKey)
	mux.HandleFunc("GET /api/space/{space}/key/{key}", s.handleGetKey)
	mux.HandleFunc("DELETE /api/space/{space}/key/{key}", s.handleDeleteKey)
	mux.HandleFunc("GET /api/space/{space}/keys", s.handleListKeys)
}

func (s *Server) handlePutKey(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryKeyValue, rbac.LevelWrite) {
		return
	}
	defer r.Body.Close()
	value, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	// Command.Value is json.RawMessage and must itself be valid JSON for
	// the envelope to marshal into the log entry, so an arbitrary-bytes
	// value gets wrapped as a JSON string (base64) rather than embedded
	// raw; the dispatcher unmarshals it back into []byte on apply.
	encoded, err := json.Marshal(value)
	if err != nil {
		writeError(w, apierr.ErrValidation)
		return
	}
	s.apply(w, dispatch.Command{
		Op: dispatch.OpStoragePutKey, SpaceName: r.PathValue("space"),
		Key: r.PathValue("key"), Value: encoded,
	})
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryKeyValue, rbac.LevelRead) {
		return
	}
	value, err := s.Engine.Get(r.PathValue("space"), r.PathValue("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryKeyValue, rbac.LevelWrite) {
		return
	}
	s.apply(w, dispatch.Command{Op: dispatch.OpStorageRemoveKey, SpaceName: r.PathValue("space"), Key: r.PathValue("key")})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryKeyValue, rbac.LevelRead) {
		return
	}
	start, limit := queryPagination(r)
	keys, err := s.Engine.ListKeys(r.PathValue("space"), start, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}
