package httpapi

import (
	"fmt"
	"net/http"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/dispatch"
	"github.com/atinyvectors/warren/pkg/rbac"
)

// registerSpaceRoutes wires the space lifecycle endpoints under both the
// bare prefix and the /api prefix; existing clients use both.
func (s *Server) registerSpaceRoutes(mux *http.ServeMux) {
	for _, prefix := range []string{"", "/api"} {
		mux.HandleFunc("POST "+prefix+"/space", s.handleCreateSpace)
		mux.HandleFunc("POST "+prefix+"/space/{name}", s.handleUpdateSpace)
		mux.HandleFunc("DELETE "+prefix+"/space/{name}", s.handleDeleteSpace)
		mux.HandleFunc("GET "+prefix+"/space/{name}", s.handleGetSpace)
		mux.HandleFunc("GET "+prefix+"/spaces", s.handleListSpaces)
	}
}

// handleCreateSpace validates before logging: the name-regex and
// already-exists checks happen here, ahead of any raft.Apply, so the log
// never receives a command guaranteed to fail.
func (s *Server) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySpace, rbac.LevelWrite) {
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	raw, err := readAndPeek(r, &body)
	if err != nil {
		writeError(w, err)
		return
	}
	if body.Name == "" {
		writeError(w, fmt.Errorf("space name required: %w", apierr.ErrValidation))
		return
	}
	if !spaceNameRe.MatchString(body.Name) {
		writeError(w, fmt.Errorf("space name %q invalid, must match %s: %w", body.Name, spaceNameRe.String(), apierr.ErrValidation))
		return
	}
	if s.IDs.GetDefaultVersionID(body.Name) > 0 {
		writeError(w, fmt.Errorf("space %q already exists: %w", body.Name, apierr.ErrConflict))
		return
	}
	s.apply(w, dispatch.Command{Op: dispatch.OpSpace, SpaceName: body.Name, Value: raw})
}

func (s *Server) handleUpdateSpace(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySpace, rbac.LevelWrite) {
		return
	}
	name := r.PathValue("name")
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.apply(w, dispatch.Command{Op: dispatch.OpUpdateSpace, SpaceName: name, Value: raw})
}

func (s *Server) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySpace, rbac.LevelWrite) {
		return
	}
	name := r.PathValue("name")
	raw, _ := readBody(r)
	s.apply(w, dispatch.Command{Op: dispatch.OpDeleteSpace, SpaceName: name, Value: raw})
}

func (s *Server) handleGetSpace(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySpace, rbac.LevelRead) {
		return
	}
	cfg, err := s.Engine.GetSpace(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, cfg)
}

func (s *Server) handleListSpaces(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySpace, rbac.LevelRead) {
		return
	}
	list, err := s.Engine.ListSpaces()
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, list)
}
