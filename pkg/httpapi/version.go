package httpapi

import (
	"fmt"
	"net/http"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/dispatch"
	"github.com/atinyvectors/warren/pkg/rbac"
)

func (s *Server) registerVersionRoutes(mux *http.ServeMux) {
	for _, prefix := range []string{"", "/api"} {
		mux.HandleFunc("POST "+prefix+"/space/{space}/version", s.handleCreateVersion)
		mux.HandleFunc("GET "+prefix+"/space/{space}/versions", s.handleListVersions)
		mux.HandleFunc("GET "+prefix+"/space/{space}/version/default", s.handleGetDefaultVersion)
		mux.HandleFunc("GET "+prefix+"/space/{space}/version/{vid}/by-name", s.handleGetVersionByName)
		mux.HandleFunc("GET "+prefix+"/space/{space}/version/{vid}", s.handleGetVersion)
		mux.HandleFunc("DELETE "+prefix+"/space/{space}/version/{vid}", s.handleDeleteVersion)
	}
}

func (s *Server) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryVersion, rbac.LevelWrite) {
		return
	}
	space := r.PathValue("space")
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.apply(w, dispatch.Command{Op: dispatch.OpVersion, SpaceName: space, Value: raw})
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryVersion, rbac.LevelRead) {
		return
	}
	start, limit := queryPagination(r)
	list, err := s.Engine.ListVersions(r.PathValue("space"), start, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, list)
}

func (s *Server) handleGetDefaultVersion(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryVersion, rbac.LevelRead) {
		return
	}
	v, err := s.Engine.GetVersion(r.PathValue("space"), 0)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, v)
}

// handleGetVersionByName serves GET /space/{s}/version/{name}/by-name. The
// route segment is named {vid} in the pattern (shared prefix with the
// numeric-id route) but holds a version name here, not a numeric id.
func (s *Server) handleGetVersionByName(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryVersion, rbac.LevelRead) {
		return
	}
	v, err := s.Engine.GetVersionByName(r.PathValue("space"), r.PathValue("vid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, v)
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryVersion, rbac.LevelRead) {
		return
	}
	vid, err := versionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.Engine.GetVersion(r.PathValue("space"), vid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, v)
}

func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryVersion, rbac.LevelWrite) {
		return
	}
	vid, err := versionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.apply(w, dispatch.Command{Op: dispatch.OpDeleteVersion, SpaceName: r.PathValue("space"), VersionID: vid})
}

func versionID(r *http.Request) (int32, error) {
	var n int32
	if _, err := fmt.Sscanf(r.PathValue("vid"), "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid version id %q: %w", r.PathValue("vid"), apierr.ErrValidation)
	}
	return n, nil
}
