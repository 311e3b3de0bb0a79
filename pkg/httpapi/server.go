// Package httpapi is the HTTP surface: request validation, the RBAC gate,
// leader-forward responses for write requests, and routing into the engine
// facade / replicated log. Built on the stdlib http.ServeMux pattern
// router (Go 1.22+), in the same bare net/http handler style as
// pkg/health.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/cluster"
	"github.com/atinyvectors/warren/pkg/config"
	"github.com/atinyvectors/warren/pkg/dispatch"
	"github.com/atinyvectors/warren/pkg/engine"
	"github.com/atinyvectors/warren/pkg/idcache"
	"github.com/atinyvectors/warren/pkg/log"
	"github.com/atinyvectors/warren/pkg/metrics"
	"github.com/atinyvectors/warren/pkg/rbac"
	"github.com/atinyvectors/warren/pkg/snapshot"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// spaceNameRe validates space names at ingress: any name not matching is
// rejected with 400 before anything reaches the log.
var spaceNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Raft is the consensus surface the handlers drive: leadership state,
// command submission, and cluster administration. Satisfied by
// *cluster.Cluster; a fake implementation that dispatches commands
// directly stands in for it in handler tests.
type Raft interface {
	IsLeader() bool
	LeaderAddr() string
	Apply(cmd dispatch.Command) (interface{}, error)
	Bootstrap() error
	HandleJoinRequest(token, nodeID, bindAddr string) error
	JoinTokens() *cluster.JoinTokenManager
	Stats() map[string]interface{}
	EnsureLinearizable() error
}

var _ Raft = (*cluster.Cluster)(nil)

// PeerHealthSource reports last-observed peer liveness for /cluster/status.
type PeerHealthSource interface {
	PeerHealth() map[string]bool
}

// Server holds every collaborator an HTTP handler needs: the replicated log
// (Cluster), the read-path facade (Engine), the id cache for pre-log
// conflict checks, the RBAC manager for the gate, the snapshot coordinator
// for direct (non-replicated) local operations, and the immutable Config.
type Server struct {
	Cluster  Raft
	Engine   *engine.Facade
	IDs      *idcache.Cache
	RBAC     *rbac.Manager
	Snapshot *snapshot.Coordinator
	Config   *config.Config

	// Health is optional; when set, /cluster/status includes per-peer
	// liveness as the collector last observed it.
	Health PeerHealthSource
}

// NewServer builds a Server. All fields must already be wired by the caller
// (cmd/atvd's main); httpapi does not own lifecycle for any of them.
func NewServer(cl Raft, eng *engine.Facade, ids *idcache.Cache, rb *rbac.Manager, snap *snapshot.Coordinator, cfg *config.Config) *Server {
	return &Server{Cluster: cl, Engine: eng, IDs: ids, RBAC: rb, Snapshot: snap, Config: cfg}
}

// Router builds the complete http.Handler for this process, including the
// Prometheus /metrics endpoint.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	s.registerSpaceRoutes(mux)
	s.registerVersionRoutes(mux)
	s.registerVectorRoutes(mux)
	s.registerKeyValueRoutes(mux)
	s.registerSnapshotRoutes(mux)
	s.registerSecurityRoutes(mux)
	s.registerClusterRoutes(mux)
	if s.Config.EnableDebugEndpoints {
		s.registerDebugRoutes(mux)
	}

	mux.Handle("/metrics", promhttp.Handler())

	return withAccessLog(mux)
}

// withAccessLog wraps every request with a one-line structured log entry
// and an API-request metric observation (one line per request, no
// per-field spam).
func withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, fmt.Sprint(rec.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		log.Debug(fmt.Sprintf("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// --- shared response/request helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(raw) == 0 {
		_, _ = w.Write([]byte("null"))
		return
	}
	_, _ = w.Write(raw)
}

// writeError maps an apierr sentinel-wrapped error to its HTTP status and
// writes a small JSON error body. This is the single place HTTP status
// codes are derived from error kind.
func writeError(w http.ResponseWriter, err error) {
	status := apierr.StatusCode(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// readBody slurps the request body verbatim as the opaque JSON payload a
// command's Value carries.
func readBody(r *http.Request) (json.RawMessage, error) {
	defer r.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode request body: %w: %w", apierr.ErrValidation, err)
	}
	return raw, nil
}

// readAndPeek reads the body as raw JSON (preserved for the command's
// Value) while also decoding it into dst for pre-log validation.
func readAndPeek(r *http.Request, dst interface{}) (json.RawMessage, error) {
	raw, err := readBody(r)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return nil, fmt.Errorf("decode request body: %w: %w", apierr.ErrValidation, err)
	}
	return raw, nil
}

// apply submits cmd to the replicated log and writes the HTTP response.
// Success is reported to the client as soon as raft.Apply's commit
// succeeds — the dispatcher's post-commit facade error (if any) is logged
// by the FSM and never surfaces here; once committed, the command is
// cluster history regardless of how its side effects fare.
func (s *Server) apply(w http.ResponseWriter, cmd dispatch.Command) {
	if !s.Cluster.IsLeader() {
		writeLeaderUnknown(w, s.Cluster.LeaderAddr())
		return
	}
	timer := metrics.NewTimer()
	if _, err := s.Cluster.Apply(cmd); err != nil {
		writeError(w, err)
		return
	}
	timer.ObserveDurationVec(metrics.RaftApplyDuration, cmd.Op)
	writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
}

// writeLeaderUnknown responds 421 with the current leader's address as
// Cluster.LeaderAddr reports it: the leader's raft bind address, which is
// not the leader's HTTP address, so a client cannot retry there as is.
func writeLeaderUnknown(w http.ResponseWriter, leaderAddr string) {
	writeJSON(w, http.StatusMisdirectedRequest, map[string]string{
		"error":       "not leader",
		"leader_addr": leaderAddr,
	})
}

// requirePermission implements the RBAC gate: disabled entirely when
// ATV_ENABLE_SECURITY=0, otherwise extracts the bearer token
// and requires at least `level` for `category`. Returns false (having
// already written the 403 response) when the caller should stop handling
// the request.
func (s *Server) requirePermission(w http.ResponseWriter, r *http.Request, category rbac.Category, level rbac.Level) bool {
	if !s.Config.EnableSecurity {
		return true
	}
	token := bearerToken(r)
	if token == "" || s.RBAC.Permission(token, category) < level {
		writeError(w, fmt.Errorf("missing or insufficient permission for %s: %w", category, apierr.ErrForbidden))
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func queryPagination(r *http.Request) (start, limit int) {
	start = queryInt(r, "start", 0)
	limit = queryInt(r, "limit", 0)
	return
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
