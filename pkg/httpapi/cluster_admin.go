package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/cluster"
	"github.com/atinyvectors/warren/pkg/rbac"
)

// registerClusterRoutes wires the cluster-administration surface:
// bootstrap, join admission, join-token minting, and status. Unlike the
// data-plane routes, these never go through s.apply — membership changes
// are a raft.Raft configuration operation, not a logged Command.
func (s *Server) registerClusterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /cluster/init", s.handleClusterInit)
	mux.HandleFunc("POST /cluster/join", s.handleClusterJoin)
	mux.HandleFunc("POST /cluster/join-token", s.handleClusterJoinToken)
	mux.HandleFunc("GET /cluster/status", s.handleClusterStatus)
}

// handleClusterInit bootstraps a brand-new single-member configuration.
// Cluster mode (ATV_STANDALONE=false) requires this explicit admin call
// after startup before any write can succeed.
func (s *Server) handleClusterInit(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySystem, rbac.LevelWrite) {
		return
	}
	if err := s.Cluster.Bootstrap(); err != nil {
		writeError(w, fmt.Errorf("%w: %w", apierr.ErrStorageFailure, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (s *Server) handleClusterJoin(w http.ResponseWriter, r *http.Request) {
	var req cluster.JoinRequest
	if err := decodeJoinRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.Cluster.HandleJoinRequest(req.Token, req.NodeID, req.BindAddr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

func (s *Server) handleClusterJoinToken(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySystem, rbac.LevelWrite) {
		return
	}
	jt, err := s.Cluster.JoinTokens().Generate(10 * time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": jt.Token, "expires_at": jt.ExpiresAt.Format(time.RFC3339)})
}

func (s *Server) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requirePermission(w, r, rbac.CategorySystem, rbac.LevelRead) {
		return
	}
	stats := s.Cluster.Stats()
	if s.Health != nil {
		stats["peer_health"] = s.Health.PeerHealth()
	}
	writeJSON(w, http.StatusOK, stats)
}

func decodeJoinRequest(r *http.Request, req *cluster.JoinRequest) error {
	raw, err := readBody(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, req); err != nil {
		return fmt.Errorf("decode join request: %w: %w", apierr.ErrValidation, err)
	}
	return nil
}
