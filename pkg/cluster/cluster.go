// Package cluster wires hashicorp/raft into the replicated command
// pipeline: standalone/bootstrap startup, joining an existing cluster,
// membership changes, and leader-address discovery for request forwarding.
package cluster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/atinyvectors/warren/pkg/apierr"
	"github.com/atinyvectors/warren/pkg/dispatch"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// FSM is the subset of raft.FSM this package needs to wire up; satisfied
// by *raftfsm.FSM.
type FSM = raft.FSM

// Config holds everything needed to stand up (or join) a Raft cluster.
type Config struct {
	NodeID              string
	BindAddr            string
	DataDir             string
	HeartbeatMillis     uint64
	ElectionMillis      uint64
}

// Cluster owns the raft.Raft handle and the timing this process bootstrapped
// or joined with.
type Cluster struct {
	cfg        Config
	raft       *raft.Raft
	joinTokens *JoinTokenManager
}

// JoinTokens returns the manager issuing this node's admission tokens. Only
// meaningful on the leader: /cluster/join-token mints here, /cluster/join
// validates here before calling AddVoter.
func (c *Cluster) JoinTokens() *JoinTokenManager { return c.joinTokens }

// JoinRequest is the wire shape of a /cluster/join request body, shared by
// the client-side Join call and the pkg/httpapi server-side handler.
type JoinRequest struct {
	Token    string `json:"token"`
	NodeID   string `json:"node_id"`
	BindAddr string `json:"bind_addr"`
}

// New constructs the raft.Raft instance (transport, log store, stable
// store, snapshot store) but does not bootstrap or join a configuration —
// callers pick one of Bootstrap or Join next.
func New(cfg Config, fsm FSM) (*Cluster, error) {
	raftDir := filepath.Join(cfg.DataDir, "raft")
	if err := os.MkdirAll(raftDir, 0755); err != nil {
		return nil, fmt.Errorf("create raft dir: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.NodeID)
	raftConfig.HeartbeatTimeout = time.Duration(cfg.HeartbeatMillis) * time.Millisecond
	raftConfig.ElectionTimeout = time.Duration(cfg.ElectionMillis) * time.Millisecond
	raftConfig.LeaderLeaseTimeout = time.Duration(cfg.HeartbeatMillis) * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(raftDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create raft snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "log.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create raft stable store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft node: %w", err)
	}

	return &Cluster{cfg: cfg, raft: r, joinTokens: NewJoinTokenManager()}, nil
}

// Bootstrap initializes a brand-new single-member configuration. Used both
// for standalone mode (ATV_STANDALONE=true, the only member forever) and
// for the first node of a cluster (the admin-facing /cluster/init route
// calls this; additional members join via AddVoter, triggered by the
// /cluster/join route).
func (c *Cluster) Bootstrap() error {
	future := c.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{
			{ID: raft.ServerID(c.cfg.NodeID), Address: raft.ServerAddress(c.cfg.BindAddr)},
		},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}
	return nil
}

// AddVoter adds nodeID/address as a new voting member. Only the leader can
// do this; callers should forward the request otherwise.
func (c *Cluster) AddVoter(nodeID, address string) error {
	if !c.IsLeader() {
		return fmt.Errorf("not leader, current leader is %s: %w", c.LeaderAddr(), apierr.ErrLeaderUnknown)
	}
	future := c.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("add voter: %w", err)
	}
	return nil
}

// RemoveServer removes nodeID from the cluster configuration.
func (c *Cluster) RemoveServer(nodeID string) error {
	if !c.IsLeader() {
		return fmt.Errorf("not leader, current leader is %s: %w", c.LeaderAddr(), apierr.ErrLeaderUnknown)
	}
	future := c.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("remove server: %w", err)
	}
	return nil
}

// Servers returns the current cluster membership.
func (c *Cluster) Servers() ([]raft.Server, error) {
	future := c.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (c *Cluster) IsLeader() bool {
	return c.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's bind address, or "" if unknown.
func (c *Cluster) LeaderAddr() string {
	return string(c.raft.Leader())
}

// Stats returns a small snapshot of Raft's internal state, used by the
// metrics collector and the /cluster/status route.
func (c *Cluster) Stats() map[string]interface{} {
	stats := map[string]interface{}{
		"state":          c.raft.State().String(),
		"last_log_index": c.raft.LastIndex(),
		"applied_index":  c.raft.AppliedIndex(),
		"leader":         c.LeaderAddr(),
	}
	if servers, err := c.Servers(); err == nil {
		stats["peers"] = len(servers)
	} else {
		stats["peers"] = 0
	}
	return stats
}

// Apply marshals cmd and submits it to the replicated log, blocking until
// it is committed and this node's FSM has applied it (other nodes apply it
// on their own schedule). The returned error covers only submission and
// commit; the FSM's post-commit dispatch error comes back as the first
// return value (the apply response) for callers that want it (e.g. tests),
// and the HTTP surface deliberately does not propagate it to clients.
func (c *Cluster) Apply(cmd dispatch.Command) (interface{}, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	future := c.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("apply command: %w: %w", apierr.ErrConsensusTimeout, err)
	}
	return future.Response(), nil
}

// Raft exposes the underlying handle for callers (e.g. the snapshot
// coordinator's leader-only skip-fetch check) that need lower-level state.
func (c *Cluster) Raft() *raft.Raft { return c.raft }

// EnsureLinearizable confirms this node is still leader by round-tripping a
// heartbeat to a quorum of followers, guarding a debug consistent-read
// against serving stale data after a silent leadership change.
func (c *Cluster) EnsureLinearizable() error {
	if !c.IsLeader() {
		return fmt.Errorf("not leader, current leader is %s: %w", c.LeaderAddr(), apierr.ErrLeaderUnknown)
	}
	future := c.raft.VerifyLeader()
	if err := future.Error(); err != nil {
		return fmt.Errorf("verify leadership: %w: %w", apierr.ErrLeaderUnknown, err)
	}
	return nil
}

// Join contacts an existing cluster's leader over HTTP and asks to be
// admitted as a voting member. This replaces a gRPC JoinCluster RPC: the new
// node has already constructed its local raft.Raft (via New, not Bootstrap)
// and is reachable at its own bind address before calling this.
func (c *Cluster) Join(leaderHTTPAddr, token string) error {
	body, err := json.Marshal(JoinRequest{
		Token:    token,
		NodeID:   c.cfg.NodeID,
		BindAddr: c.cfg.BindAddr,
	})
	if err != nil {
		return fmt.Errorf("marshal join request: %w", err)
	}

	resp, err := http.Post(fmt.Sprintf("%s/cluster/join", trimSlash(leaderHTTPAddr)), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("contact leader: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("join rejected by leader: status %d", resp.StatusCode)
	}
	return nil
}

// HandleJoinRequest is the leader-side counterpart of Join: validate the
// presented token, then admit nodeID/bindAddr as a voter. Intended to be
// called from the /cluster/join HTTP handler.
func (c *Cluster) HandleJoinRequest(token, nodeID, bindAddr string) error {
	if err := c.joinTokens.Validate(token); err != nil {
		return fmt.Errorf("%w: %w", apierr.ErrForbidden, err)
	}
	return c.AddVoter(nodeID, bindAddr)
}

func trimSlash(addr string) string {
	for len(addr) > 0 && addr[len(addr)-1] == '/' {
		addr = addr[:len(addr)-1]
	}
	return addr
}
