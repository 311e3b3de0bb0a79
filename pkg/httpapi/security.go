package httpapi

import (
	"net/http"

	"github.com/atinyvectors/warren/pkg/dispatch"
	"github.com/atinyvectors/warren/pkg/rbac"
)

func (s *Server) registerSecurityRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/security/tokens", s.handleCreateToken)
	mux.HandleFunc("GET /api/security/tokens", s.handleListTokens)
	mux.HandleFunc("DELETE /api/security/tokens/{token}", s.handleDeleteToken)
	mux.HandleFunc("PUT /api/security/tokens/{token}", s.handleUpdateToken)
}

// handleCreateToken mints the JWT on the leader BEFORE logging the
// command, so every replica ends up with the identical token string
// rather than each minting its own.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySecurity, rbac.LevelWrite) {
		return
	}
	if !s.Cluster.IsLeader() {
		writeLeaderUnknown(w, s.Cluster.LeaderAddr())
		return
	}
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	token, err := s.RBAC.GenerateJWT(0)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.Cluster.Apply(dispatch.Command{Op: dispatch.OpCreateRBACToken, Token: token, Value: raw}); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySecurity, rbac.LevelRead) {
		return
	}
	tokens, err := s.RBAC.ListTokens()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySecurity, rbac.LevelWrite) {
		return
	}
	s.apply(w, dispatch.Command{Op: dispatch.OpDeleteRBACToken, Token: r.PathValue("token")})
}

func (s *Server) handleUpdateToken(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySecurity, rbac.LevelWrite) {
		return
	}
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.apply(w, dispatch.Command{Op: dispatch.OpUpdateRBACToken, Token: r.PathValue("token"), Value: raw})
}
