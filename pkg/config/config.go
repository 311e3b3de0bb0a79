// Package config builds the process-wide Config value from environment
// variables, once, at startup. Nothing else in the daemon reads os.Getenv
// directly; everything downstream takes a *Config by reference. (The
// separate atvctl client reads its own ATV_HTTP_ADDR and ATV_TOKEN.)
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every tunable the daemon reads from the environment. The
// variable names and defaults mirror an existing Rust deployment so that
// operators migrating a cluster do not have to rename anything.
type Config struct {
	CacheCapacity        int64
	DBName               string
	LogFile              string
	LogLevel             string
	ServiceLogFile       string
	ServiceLogLevel      string
	DefaultM             int64
	DefaultEFConstruct   int64
	HNSWMaxDataSize      int64
	DataPath             string
	TokenExpireDays      int64
	JWTTokenKey          string
	EnableSecurity       bool
	EnableSwaggerUI      bool
	InstanceID           uint64
	Standalone           bool
	HTTPAddr             string
	RPCAddr              string
	RaftHeartbeatMillis  uint64
	RaftElectionMillis   uint64
	EnableDebugEndpoints bool
	KVEncryptionPassword string
}

// Load builds a Config from the current environment. Values are parsed
// once; callers should treat the returned Config as read-only for the
// life of the process.
func Load() *Config {
	return &Config{
		CacheCapacity:        envInt64("ATV_HNSW_INDEX_CACHE_CAPACITY", 100),
		DBName:               envString("ATV_DB_NAME", ":memory:"),
		LogFile:              envString("ATV_LOG_FILE", "logs/atinyvectors.log"),
		LogLevel:             envString("ATV_LOG_LEVEL", "info"),
		ServiceLogFile:       envString("ATV_SERVICE_LOG_FILE", "logs/asimplevectors.log"),
		ServiceLogLevel:      envString("ATV_SERVICE_LOG_LEVEL", "info"),
		DefaultM:             envInt64("ATV_DEFAULT_M", 16),
		DefaultEFConstruct:   envInt64("ATV_DEFAULT_EF_CONSTRUCTION", 100),
		HNSWMaxDataSize:      envInt64("ATV_HNSW_MAX_DATASIZE", 1000000),
		DataPath:             envString("ATV_DATA_PATH", "data/"),
		TokenExpireDays:      envInt64("ATV_DEFAULT_TOKEN_EXPIRE_DAYS", 30),
		JWTTokenKey:          envString("ATV_JWT_TOKEN_KEY", "atinyvectors_jwt_token_key_is_really_good_and_i_hope_so_much_whatever_you_want"),
		EnableSecurity:       envInt64("ATV_ENABLE_SECURITY", 0) != 0,
		EnableSwaggerUI:      envBool("ATV_ENABLE_SWAGGER_UI", false),
		InstanceID:           envUint64("ATV_INSTANCE_ID", 1),
		Standalone:           envBool("ATV_STANDALONE", false),
		HTTPAddr:             envString("ATV_HTTP_ADDR", "0.0.0.0:21001"),
		RPCAddr:              envString("ATV_RPC_ADDR", "0.0.0.0:22001"),
		RaftHeartbeatMillis:  envUint64("ATV_RAFT_HEARTBEAT_INTERVAL", 250),
		RaftElectionMillis:   envUint64("ATV_RAFT_ELECTION_TIMEOUT", 299),
		EnableDebugEndpoints: envBool("ATV_ENABLE_DEBUG_ENDPOINTS", false),
		KVEncryptionPassword: envString("ATV_KV_ENCRYPTION_PASSWORD", ""),
	}
}

// Validate checks the raft timing invariants the replicated log depends on.
// A heartbeat interval that is not comfortably smaller than the election
// timeout causes spurious elections under load.
func (c *Config) Validate() error {
	if c.RaftHeartbeatMillis >= c.RaftElectionMillis {
		return fmt.Errorf("raft heartbeat interval (%dms) must be smaller than the election timeout (%dms)", c.RaftHeartbeatMillis, c.RaftElectionMillis)
	}
	if c.RaftHeartbeatMillis >= 300 {
		return fmt.Errorf("raft heartbeat interval (%dms) must be under 300ms", c.RaftHeartbeatMillis)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envUint64(key string, def uint64) uint64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
