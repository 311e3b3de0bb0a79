// Command atvd is the replicated vector database daemon: it loads Config
// from the environment, wires the metadata store, engine facade, RBAC
// manager, snapshot coordinator, and replicated log, then serves the HTTP
// surface until it receives SIGINT/SIGTERM.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atinyvectors/warren/pkg/cluster"
	"github.com/atinyvectors/warren/pkg/collector"
	"github.com/atinyvectors/warren/pkg/config"
	"github.com/atinyvectors/warren/pkg/dispatch"
	"github.com/atinyvectors/warren/pkg/engine"
	"github.com/atinyvectors/warren/pkg/httpapi"
	"github.com/atinyvectors/warren/pkg/idcache"
	"github.com/atinyvectors/warren/pkg/log"
	"github.com/atinyvectors/warren/pkg/raftfsm"
	"github.com/atinyvectors/warren/pkg/rbac"
	"github.com/atinyvectors/warren/pkg/security"
	"github.com/atinyvectors/warren/pkg/snapshot"
	"github.com/atinyvectors/warren/pkg/store"
	"github.com/spf13/cobra"
)

// Version information, set via ldflags during build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "atvd",
	Short: "atinyvectors daemon - replicated vector database node",
	Long: `atvd runs a single node of a replicated vector database cluster:
spaces, versions, vectors, search/rerank, per-space key/value storage, and
snapshot import/export, with every mutation committed through a Raft log.

Configuration is read entirely from the environment (see pkg/config for
the ATV_* variable table); there are no daemon flags beyond --version.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"atvd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

func run() error {
	cfg := config.Load()
	log.Init(log.Config{Level: log.Level(cfg.ServiceLogLevel), JSONOutput: false})

	if err := cfg.Validate(); err != nil {
		log.Fatal(fmt.Sprintf("invalid configuration: %v", err))
	}
	if cfg.EnableSwaggerUI {
		log.Warn("ATV_ENABLE_SWAGGER_UI is set but swagger generation is out of scope; ignoring")
	}

	st, err := store.Open(cfg.DataPath)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer st.Close()

	kv := store.NewKV(cfg.DataPath)
	ids := idcache.New(st)

	var secrets *security.SecretsManager
	if cfg.KVEncryptionPassword != "" {
		secrets, err = security.NewSecretsManagerFromPassword(cfg.KVEncryptionPassword)
		if err != nil {
			return fmt.Errorf("init secrets manager: %w", err)
		}
	}

	facade := engine.NewFacade(st, kv, ids, nil, secrets)
	rbacMgr := rbac.NewManager(st, cfg.JWTTokenKey, cfg.TokenExpireDays)
	snap := snapshot.New(cfg.DataPath, st)

	dispatcher := &dispatch.Dispatcher{
		Engine:     facade,
		RBAC:       rbacMgr,
		IDs:        ids,
		Snapshot:   snap,
		InstanceID: cfg.InstanceID,
		HTTPAddr:   cfg.HTTPAddr,
	}
	fsm := raftfsm.New(st, kv, dispatcher)

	nodeID := fmt.Sprintf("%d", cfg.InstanceID)
	clus, err := cluster.New(cluster.Config{
		NodeID:          nodeID,
		BindAddr:        cfg.RPCAddr,
		DataDir:         cfg.DataPath,
		HeartbeatMillis: cfg.RaftHeartbeatMillis,
		ElectionMillis:  cfg.RaftElectionMillis,
	}, fsm)
	if err != nil {
		return fmt.Errorf("start raft: %w", err)
	}

	if cfg.Standalone {
		if err := clus.Bootstrap(); err != nil {
			log.Logger.Warn().Err(err).Msg("bootstrap single-node cluster (already bootstrapped?)")
		} else {
			log.Logger.Info().Msg("bootstrapped standalone single-node cluster")
		}
	} else {
		log.Logger.Info().Msg("cluster mode: waiting for /cluster/init or /cluster/join admin call")
	}

	coll := collector.New(st, clus, cfg.HTTPAddr)
	coll.Start()
	defer coll.Stop()

	server := httpapi.NewServer(clus, facade, ids, rbacMgr, snap, cfg)
	server.Health = coll

	errCh := make(chan error, 1)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Router(),
	}
	go func() {
		log.Logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Errorf("fatal error", err)
		return err
	}

	shutdownTimeout := 5 * time.Second
	doneCh := make(chan struct{})
	go func() {
		_ = httpServer.Close()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-time.After(shutdownTimeout):
	}

	log.Info("shutdown complete")
	return nil
}
