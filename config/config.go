package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config stores the client configuration.
// Values come from defaults, then the TOML file, then the environment.
type Config struct {
	APIBaseURL string // HTTP(S) base of the server, e.g. https://board.example.com
	SyncPath   string // WebSocket path appended to the API host
	Token      string // bearer token, optional
	Role       string // gm or player

	SyncEnabled       bool          // enable-gate at startup
	ReconnectDelay    time.Duration // delay before the single reconnect attempt
	DriftTolerance    float64       // seconds of drift tolerated before seeking
	HistoryLimit      int           // message log bound, 0 keeps everything
	BroadcastInterval time.Duration // gm only, 0 disables periodic syncAll
	IntentPolicy      string        // confirmed or optimistic
	Autoplay          bool          // whether headless elements accept play without a gesture

	DebugAddr   string // debug HTTP API listen address, empty disables it
	FFprobePath string

	LogLevel string
	LogFile  string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisLogTTL   time.Duration
	RedisEnabled  bool
}

const (
	RoleGM     = "gm"
	RolePlayer = "player"

	PolicyConfirmed  = "confirmed"
	PolicyOptimistic = "optimistic"
)

const (
	defaultSyncPath          = "/api/v1/ws"
	defaultReconnectDelayMs  = 3000
	defaultDriftTolerance    = 0.5
	defaultBroadcastInterval = 0
	defaultRedisLogTTLMin    = 60
)

// fileConfig mirrors the TOML file layout.
type fileConfig struct {
	APIBaseURL          string   `toml:"api_base_url"`
	SyncPath            string   `toml:"sync_path"`
	Token               string   `toml:"token"`
	Role                string   `toml:"role"`
	SyncEnabled         *bool    `toml:"sync_enabled"`
	ReconnectDelayMs    *int     `toml:"reconnect_delay_ms"`
	DriftTolerance      *float64 `toml:"drift_tolerance"`
	HistoryLimit        *int     `toml:"history_limit"`
	BroadcastIntervalMs *int     `toml:"broadcast_interval_ms"`
	IntentPolicy        string   `toml:"intent_policy"`
	Autoplay            *bool    `toml:"autoplay"`
	DebugAddr           string   `toml:"debug_addr"`
	FFprobePath         string   `toml:"ffprobe_path"`
	LogLevel            string   `toml:"log_level"`
	LogFile             string   `toml:"log_file"`

	Redis struct {
		Host      string `toml:"host"`
		Port      string `toml:"port"`
		Password  string `toml:"password"`
		DB        *int   `toml:"db"`
		LogTTLMin *int   `toml:"log_ttl_min"`
	} `toml:"redis"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SyncPath:          defaultSyncPath,
		Role:              RolePlayer,
		ReconnectDelay:    defaultReconnectDelayMs * time.Millisecond,
		DriftTolerance:    defaultDriftTolerance,
		BroadcastInterval: defaultBroadcastInterval,
		IntentPolicy:      PolicyConfirmed,
		Autoplay:          true,
		FFprobePath:       "ffprobe",
		LogLevel:          "info",
		RedisHost:         "127.0.0.1",
		RedisPort:         "6379",
		RedisLogTTL:       defaultRedisLogTTLMin * time.Minute,
	}
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

// Load reads the optional TOML file at path, then applies environment
// variables (a .env file in the working directory is loaded first and never
// overrides variables that are already set).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	resolved, err := expandPath(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var raw fileConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	setString(&c.APIBaseURL, raw.APIBaseURL)
	setString(&c.SyncPath, raw.SyncPath)
	setString(&c.Token, raw.Token)
	setString(&c.Role, raw.Role)
	setString(&c.IntentPolicy, raw.IntentPolicy)
	setString(&c.DebugAddr, raw.DebugAddr)
	setString(&c.FFprobePath, raw.FFprobePath)
	setString(&c.LogLevel, raw.LogLevel)
	setString(&c.LogFile, raw.LogFile)
	setString(&c.RedisHost, raw.Redis.Host)
	setString(&c.RedisPort, raw.Redis.Port)
	setString(&c.RedisPassword, raw.Redis.Password)

	if raw.SyncEnabled != nil {
		c.SyncEnabled = *raw.SyncEnabled
	}
	if raw.ReconnectDelayMs != nil {
		c.ReconnectDelay = time.Duration(*raw.ReconnectDelayMs) * time.Millisecond
	}
	if raw.DriftTolerance != nil {
		c.DriftTolerance = *raw.DriftTolerance
	}
	if raw.HistoryLimit != nil {
		c.HistoryLimit = *raw.HistoryLimit
	}
	if raw.BroadcastIntervalMs != nil {
		c.BroadcastInterval = time.Duration(*raw.BroadcastIntervalMs) * time.Millisecond
	}
	if raw.Autoplay != nil {
		c.Autoplay = *raw.Autoplay
	}
	if raw.Redis.DB != nil {
		c.RedisDB = *raw.Redis.DB
	}
	if raw.Redis.LogTTLMin != nil {
		c.RedisLogTTL = time.Duration(*raw.Redis.LogTTLMin) * time.Minute
	}
	if raw.Redis.Host != "" {
		c.RedisEnabled = true
	}
	return nil
}

func (c *Config) applyEnv() {
	c.APIBaseURL = getEnv("BOARDSYNC_API_BASE_URL", c.APIBaseURL)
	c.SyncPath = getEnv("BOARDSYNC_SYNC_PATH", c.SyncPath)
	c.Token = getEnv("BOARDSYNC_TOKEN", c.Token)
	c.Role = getEnv("BOARDSYNC_ROLE", c.Role)
	c.SyncEnabled = getEnvBool("BOARDSYNC_SYNC_ENABLED", c.SyncEnabled)
	c.ReconnectDelay = time.Duration(getEnvInt("BOARDSYNC_RECONNECT_DELAY_MS", int(c.ReconnectDelay/time.Millisecond))) * time.Millisecond
	c.DriftTolerance = getEnvFloat("BOARDSYNC_DRIFT_TOLERANCE", c.DriftTolerance)
	c.HistoryLimit = getEnvInt("BOARDSYNC_HISTORY_LIMIT", c.HistoryLimit)
	c.BroadcastInterval = time.Duration(getEnvInt("BOARDSYNC_BROADCAST_INTERVAL_MS", int(c.BroadcastInterval/time.Millisecond))) * time.Millisecond
	c.IntentPolicy = getEnv("BOARDSYNC_INTENT_POLICY", c.IntentPolicy)
	c.Autoplay = getEnvBool("BOARDSYNC_AUTOPLAY", c.Autoplay)
	c.DebugAddr = getEnv("BOARDSYNC_DEBUG_ADDR", c.DebugAddr)
	c.FFprobePath = getEnv("BOARDSYNC_FFPROBE_PATH", c.FFprobePath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)

	if _, ok := os.LookupEnv("REDIS_HOST"); ok {
		c.RedisEnabled = true
	}
	c.RedisHost = getEnv("REDIS_HOST", c.RedisHost)
	c.RedisPort = getEnv("REDIS_PORT", c.RedisPort)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RedisLogTTL = time.Duration(getEnvInt("REDIS_LOG_TTL_MIN", int(c.RedisLogTTL/time.Minute))) * time.Minute
}

// Validate rejects values the session cannot run with.
func (c *Config) Validate() error {
	c.Role = strings.ToLower(strings.TrimSpace(c.Role))
	if c.Role != RoleGM && c.Role != RolePlayer {
		return fmt.Errorf("invalid role %q: want %s or %s", c.Role, RoleGM, RolePlayer)
	}
	c.IntentPolicy = strings.ToLower(strings.TrimSpace(c.IntentPolicy))
	if c.IntentPolicy != PolicyConfirmed && c.IntentPolicy != PolicyOptimistic {
		return fmt.Errorf("invalid intent policy %q", c.IntentPolicy)
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay)
	}
	if c.DriftTolerance < 0 {
		return fmt.Errorf("drift tolerance must not be negative, got %v", c.DriftTolerance)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history limit must not be negative, got %d", c.HistoryLimit)
	}
	if !strings.HasPrefix(c.SyncPath, "/") {
		c.SyncPath = "/" + c.SyncPath
	}
	return nil
}

// RedisAddr returns host:port for the Redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
