package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/atinyvectors/warren/pkg/dispatch"
	"github.com/atinyvectors/warren/pkg/metrics"
	"github.com/atinyvectors/warren/pkg/rbac"
)

func (s *Server) registerVectorRoutes(mux *http.ServeMux) {
	for _, prefix := range []string{"", "/api"} {
		mux.HandleFunc("POST "+prefix+"/space/{space}/vector", s.handleUpsertVector)
		mux.HandleFunc("POST "+prefix+"/space/{space}/version/{vid}/vector", s.handleUpsertVectorWithVersion)
		mux.HandleFunc("GET "+prefix+"/space/{space}/vectors", s.handleListVectors(0))
		mux.HandleFunc("GET "+prefix+"/space/{space}/version/{vid}/vectors", s.handleListVectorsForVersion)

		mux.HandleFunc("POST "+prefix+"/space/{space}/search", s.handleSearch(0))
		mux.HandleFunc("POST "+prefix+"/space/{space}/version/{vid}/search", s.handleSearchForVersion)
		mux.HandleFunc("POST "+prefix+"/space/{space}/rerank", s.handleRerank(0))
		mux.HandleFunc("POST "+prefix+"/space/{space}/version/{vid}/rerank", s.handleRerankForVersion)
	}
}

func (s *Server) handleUpsertVector(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryVector, rbac.LevelWrite) {
		return
	}
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.apply(w, dispatch.Command{Op: dispatch.OpVector, SpaceName: r.PathValue("space"), Value: raw})
}

func (s *Server) handleUpsertVectorWithVersion(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryVector, rbac.LevelWrite) {
		return
	}
	vid, err := versionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.apply(w, dispatch.Command{Op: dispatch.OpVectorWithVersion, SpaceName: r.PathValue("space"), VersionID: vid, Value: raw})
}

// handleListVectors returns a handler bound to a fixed version id (used for
// the default-version route, where no {vid} path segment exists).
func (s *Server) handleListVectors(fixedVID int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requirePermission(w, r, rbac.CategoryVector, rbac.LevelRead) {
			return
		}
		start, limit := queryPagination(r)
		filter := filterFromQuery(r)
		list, err := s.Engine.ListVectors(r.PathValue("space"), fixedVID, start, limit, filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeRaw(w, http.StatusOK, list)
	}
}

func (s *Server) handleListVectorsForVersion(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategoryVector, rbac.LevelRead) {
		return
	}
	vid, err := versionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	start, limit := queryPagination(r)
	filter := filterFromQuery(r)
	list, err := s.Engine.ListVectors(r.PathValue("space"), vid, start, limit, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, list)
}

func filterFromQuery(r *http.Request) json.RawMessage {
	f := r.URL.Query().Get("filter")
	if f == "" {
		return nil
	}
	return json.RawMessage(f)
}

// withTopK normalizes a search/rerank request body so top_k/k always
// defaults to 10.
func withTopK(raw json.RawMessage) (json.RawMessage, error) {
	var body map[string]interface{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, err
		}
	}
	if body == nil {
		body = map[string]interface{}{}
	}
	_, hasTopK := body["top_k"]
	_, hasK := body["k"]
	if !hasTopK && !hasK {
		body["top_k"] = 10
	}
	return json.Marshal(body)
}

func (s *Server) handleSearch(fixedVID int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requirePermission(w, r, rbac.CategorySearch, rbac.LevelRead) {
			return
		}
		raw, err := readBody(r)
		if err != nil {
			writeError(w, err)
			return
		}
		query, err := withTopK(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		timer := metrics.NewTimer()
		result, err := s.Engine.Search(r.PathValue("space"), fixedVID, query)
		if err != nil {
			writeError(w, err)
			return
		}
		timer.ObserveDuration(metrics.SearchDuration)
		writeRaw(w, http.StatusOK, result)
	}
}

func (s *Server) handleSearchForVersion(w http.ResponseWriter, r *http.Request) {
	vid, err := versionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.handleSearch(vid)(w, r)
}

func (s *Server) handleRerank(fixedVID int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.requirePermission(w, r, rbac.CategorySearch, rbac.LevelRead) {
			return
		}
		raw, err := readBody(r)
		if err != nil {
			writeError(w, err)
			return
		}
		query, err := withTopK(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		timer := metrics.NewTimer()
		result, err := s.Engine.Rerank(r.PathValue("space"), fixedVID, query)
		if err != nil {
			writeError(w, err)
			return
		}
		timer.ObserveDuration(metrics.RerankDuration)
		writeRaw(w, http.StatusOK, result)
	}
}

func (s *Server) handleRerankForVersion(w http.ResponseWriter, r *http.Request) {
	vid, err := versionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.handleRerank(vid)(w, r)
}
