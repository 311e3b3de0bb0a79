// Package collector periodically refreshes the process's Prometheus gauges
// from the metadata store and the Raft cluster, and probes peer liveness
// with the health checkers so a dead peer shows up on /metrics before an
// election does.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atinyvectors/warren/pkg/cluster"
	"github.com/atinyvectors/warren/pkg/health"
	"github.com/atinyvectors/warren/pkg/log"
	"github.com/atinyvectors/warren/pkg/metrics"
	"github.com/atinyvectors/warren/pkg/store"
)

// Collector owns the periodic collection loop.
type Collector struct {
	store    *store.Store
	cluster  *cluster.Cluster
	httpAddr string

	healthCfg health.Config
	mu        sync.Mutex
	peers     map[string]*health.Status
	selfHTTP  *health.Status

	stopCh chan struct{}
}

// New builds a Collector. httpAddr is this node's own HTTP bind address,
// probed as the process's liveness signal.
func New(st *store.Store, cl *cluster.Cluster, httpAddr string) *Collector {
	return &Collector{
		store:     st,
		cluster:   cl,
		httpAddr:  httpAddr,
		healthCfg: health.DefaultConfig(),
		peers:     make(map[string]*health.Status),
		selfHTTP:  health.NewStatus(),
		stopCh:    make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectSchemaMetrics()
	c.collectRaftMetrics()
	c.collectPeerHealth()
	c.collectSelfHealth()
}

func (c *Collector) collectSchemaMetrics() {
	spaces, err := c.store.ListSpaces()
	if err != nil {
		log.Errorf("collect schema metrics", err)
		return
	}
	metrics.SpacesTotal.Set(float64(len(spaces)))

	for _, sp := range spaces {
		versions, err := c.store.ListVersions(sp.Name)
		if err != nil {
			continue
		}
		metrics.VersionsTotal.WithLabelValues(sp.Name).Set(float64(len(versions)))
	}

	if archives, err := c.store.ListSnapshotArchives(); err == nil {
		metrics.SnapshotArchivesTotal.Set(float64(len(archives)))
	}
	if tokens, err := c.store.ListTokens(); err == nil {
		metrics.RBACTokensTotal.Set(float64(len(tokens)))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.cluster.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}
	stats := c.cluster.Stats()
	if v, ok := stats["last_log_index"].(uint64); ok {
		metrics.RaftLogIndex.Set(float64(v))
	}
	if v, ok := stats["applied_index"].(uint64); ok {
		metrics.RaftAppliedIndex.Set(float64(v))
	}
	if v, ok := stats["peers"].(int); ok {
		metrics.RaftPeers.Set(float64(v))
	}
}

// collectPeerHealth TCP-probes every configured peer's Raft bind address,
// tracking consecutive failures so a single dropped packet does not flap
// the gauge.
func (c *Collector) collectPeerHealth() {
	servers, err := c.cluster.Servers()
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.healthCfg.Timeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, srv := range servers {
		addr := string(srv.Address)
		status, ok := c.peers[addr]
		if !ok {
			status = health.NewStatus()
			c.peers[addr] = status
		}

		checker := health.NewTCPChecker(addr).WithTimeout(c.healthCfg.Timeout)
		status.Update(checker.Check(ctx), c.healthCfg)

		if status.Healthy {
			metrics.PeerUp.WithLabelValues(addr).Set(1)
		} else {
			metrics.PeerUp.WithLabelValues(addr).Set(0)
		}
	}
}

// collectSelfHealth probes this node's own HTTP listener.
func (c *Collector) collectSelfHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), c.healthCfg.Timeout)
	defer cancel()

	checker := health.NewHTTPChecker(fmt.Sprintf("http://%s/metrics", c.httpAddr))
	c.selfHTTP.Update(checker.Check(ctx), c.healthCfg)

	if c.selfHTTP.Healthy {
		metrics.HTTPUp.Set(1)
	} else {
		metrics.HTTPUp.Set(0)
	}
}

// PeerHealth reports the last observed health per peer address, for the
// /cluster/status route.
func (c *Collector) PeerHealth() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.peers))
	for addr, status := range c.peers {
		out[addr] = status.Healthy
	}
	return out
}
