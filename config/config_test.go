package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BOARDSYNC_API_BASE_URL", "BOARDSYNC_SYNC_PATH", "BOARDSYNC_TOKEN", "BOARDSYNC_ROLE",
		"BOARDSYNC_SYNC_ENABLED", "BOARDSYNC_RECONNECT_DELAY_MS", "BOARDSYNC_DRIFT_TOLERANCE",
		"BOARDSYNC_HISTORY_LIMIT", "BOARDSYNC_BROADCAST_INTERVAL_MS", "BOARDSYNC_INTENT_POLICY",
		"BOARDSYNC_AUTOPLAY", "BOARDSYNC_DEBUG_ADDR", "BOARDSYNC_FFPROBE_PATH",
		"LOG_LEVEL", "LOG_FILE", "REDIS_HOST", "REDIS_PORT", "REDIS_PASSWORD", "REDIS_DB", "REDIS_LOG_TTL_MIN",
	} {
		if v, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, v) })
		}
	}
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.SyncPath != "/api/v1/ws" {
		t.Fatalf("SyncPath = %q, want /api/v1/ws", cfg.SyncPath)
	}
	if cfg.ReconnectDelay != 3*time.Second {
		t.Fatalf("ReconnectDelay = %v, want 3s", cfg.ReconnectDelay)
	}
	if cfg.DriftTolerance != 0.5 {
		t.Fatalf("DriftTolerance = %v, want 0.5", cfg.DriftTolerance)
	}
	if cfg.Role != RolePlayer || cfg.IntentPolicy != PolicyConfirmed {
		t.Fatalf("role/policy = %q/%q, want player/confirmed", cfg.Role, cfg.IntentPolicy)
	}
	if cfg.SyncEnabled {
		t.Fatal("SyncEnabled should default to false")
	}
	if cfg.RedisEnabled {
		t.Fatal("RedisEnabled should default to false")
	}
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "boardsync.toml")
	content := `
api_base_url = "https://board.example.com"
role = "gm"
drift_tolerance = 0.75
reconnect_delay_ms = 1500
sync_enabled = true
history_limit = 50

[redis]
host = "redis.internal"
db = 3
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("BOARDSYNC_DRIFT_TOLERANCE", "1.25")
	t.Setenv("BOARDSYNC_INTENT_POLICY", "Optimistic")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.APIBaseURL != "https://board.example.com" {
		t.Fatalf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.Role != RoleGM {
		t.Fatalf("Role = %q, want gm", cfg.Role)
	}
	if cfg.DriftTolerance != 1.25 {
		t.Fatalf("DriftTolerance = %v, want env override 1.25", cfg.DriftTolerance)
	}
	if cfg.ReconnectDelay != 1500*time.Millisecond {
		t.Fatalf("ReconnectDelay = %v, want 1.5s", cfg.ReconnectDelay)
	}
	if !cfg.SyncEnabled || cfg.HistoryLimit != 50 {
		t.Fatalf("SyncEnabled/HistoryLimit = %v/%d", cfg.SyncEnabled, cfg.HistoryLimit)
	}
	if cfg.IntentPolicy != PolicyOptimistic {
		t.Fatalf("IntentPolicy = %q, want optimistic", cfg.IntentPolicy)
	}
	if !cfg.RedisEnabled || cfg.RedisAddr() != "redis.internal:6379" || cfg.RedisDB != 3 {
		t.Fatalf("redis = enabled:%v addr:%s db:%d", cfg.RedisEnabled, cfg.RedisAddr(), cfg.RedisDB)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("role = [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad role", mutate: func(c *Config) { c.Role = "dj" }, wantErr: true},
		{name: "bad policy", mutate: func(c *Config) { c.IntentPolicy = "eventual" }, wantErr: true},
		{name: "zero reconnect", mutate: func(c *Config) { c.ReconnectDelay = 0 }, wantErr: true},
		{name: "negative drift", mutate: func(c *Config) { c.DriftTolerance = -1 }, wantErr: true},
		{name: "path without slash", mutate: func(c *Config) { c.SyncPath = "ws" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && cfg.SyncPath[0] != '/' {
				t.Fatalf("SyncPath = %q, want leading slash", cfg.SyncPath)
			}
		})
	}
}
