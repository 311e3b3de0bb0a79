package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.DataPath != "data/" {
		t.Errorf("DataPath = %q, want data/", cfg.DataPath)
	}
	if cfg.DBName != ":memory:" {
		t.Errorf("DBName = %q, want :memory:", cfg.DBName)
	}
	if cfg.RaftHeartbeatMillis != 250 {
		t.Errorf("RaftHeartbeatMillis = %d, want 250", cfg.RaftHeartbeatMillis)
	}
	if cfg.RaftElectionMillis != 299 {
		t.Errorf("RaftElectionMillis = %d, want 299", cfg.RaftElectionMillis)
	}
	if cfg.TokenExpireDays != 30 {
		t.Errorf("TokenExpireDays = %d, want 30", cfg.TokenExpireDays)
	}
	if cfg.HTTPAddr != "0.0.0.0:21001" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.EnableSecurity {
		t.Error("EnableSecurity should default to false")
	}
	if cfg.Standalone {
		t.Error("Standalone should default to false")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ATV_DATA_PATH", "/var/lib/atv")
	t.Setenv("ATV_ENABLE_SECURITY", "1")
	t.Setenv("ATV_STANDALONE", "true")
	t.Setenv("ATV_INSTANCE_ID", "7")
	t.Setenv("ATV_RAFT_HEARTBEAT_INTERVAL", "100")

	cfg := Load()
	if cfg.DataPath != "/var/lib/atv" {
		t.Errorf("DataPath = %q", cfg.DataPath)
	}
	if !cfg.EnableSecurity {
		t.Error("EnableSecurity should be true")
	}
	if !cfg.Standalone {
		t.Error("Standalone should be true")
	}
	if cfg.InstanceID != 7 {
		t.Errorf("InstanceID = %d", cfg.InstanceID)
	}
	if cfg.RaftHeartbeatMillis != 100 {
		t.Errorf("RaftHeartbeatMillis = %d", cfg.RaftHeartbeatMillis)
	}
}

func TestLoadUnparseableFallsBackToDefault(t *testing.T) {
	t.Setenv("ATV_RAFT_HEARTBEAT_INTERVAL", "fast")
	cfg := Load()
	if cfg.RaftHeartbeatMillis != 250 {
		t.Errorf("RaftHeartbeatMillis = %d, want default 250", cfg.RaftHeartbeatMillis)
	}
}

func TestValidateTiming(t *testing.T) {
	cases := []struct {
		name      string
		heartbeat uint64
		election  uint64
		wantErr   bool
	}{
		{"defaults", 250, 299, false},
		{"heartbeat equals election", 250, 250, true},
		{"heartbeat above election", 500, 400, true},
		{"heartbeat at cap", 300, 400, true},
		{"fast cluster", 50, 100, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := &Config{RaftHeartbeatMillis: c.heartbeat, RaftElectionMillis: c.election}
			err := cfg.Validate()
			if c.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !c.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
