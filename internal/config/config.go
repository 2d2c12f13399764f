// Package config loads connector configuration from YAML with environment
// variable overrides, the same shape as the teacher backend's
// internal/config: a struct tree decoded by gopkg.in/yaml.v2, a singleton
// accessor guarded by sync.Once, and getEnv*/applyDefaults helpers.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config is the root configuration tree for a library instance.
type Config struct {
	Library   LibraryConfig   `yaml:"library"`
	Engines   EnginesConfig   `yaml:"engines"`
	Replay    ReplayConfig    `yaml:"replay"`
	Admin     AdminConfig     `yaml:"admin"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// LibraryConfig identifies this library instance to the engine cluster.
type LibraryConfig struct {
	LibraryID     int32  `yaml:"library_id"`
	FragmentLimit int    `yaml:"fragment_limit"`
	LogLevel      string `yaml:"log_level"`
}

// EnginesConfig configures the set of candidate control-plane channels and,
// optionally, a Redis-backed discovery source that supplements/overrides the
// static list (§11 DOMAIN STACK).
type EnginesConfig struct {
	Channels []string             `yaml:"channels"`
	Redis    RedisDiscoveryConfig `yaml:"redis_discovery"`
}

// RedisDiscoveryConfig points at a Redis set of engine channel addresses.
type RedisDiscoveryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	SetKey   string `yaml:"set_key"`
}

// ReplayConfig configures the replay index reader (C1).
type ReplayConfig struct {
	LogFileDir      string `yaml:"log_file_dir"`
	StreamID        int32  `yaml:"stream_id"`
	CapacityRecords int    `yaml:"capacity_records"`
	CacheSets       int    `yaml:"cache_sets"`
	CacheWaysPerSet int    `yaml:"cache_ways_per_set"`
}

// AdminConfig configures the read-only operational HTTP/WS surface.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LivenessConfig configures the heartbeat liveness detector (C4).
type LivenessConfig struct {
	TimeoutMs int64 `yaml:"timeout_ms"`
}

// ReconnectConfig configures the connect/failover controller (C6).
type ReconnectConfig struct {
	ReplyTimeoutMs    int64 `yaml:"reply_timeout_ms"`
	ReconnectAttempts int   `yaml:"reconnect_attempts"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton, loading CONFIG_PATH (default
// "fixlib.yaml") on first access. Load failures are logged and defaults
// applied, mirroring the teacher's forgiving Get().
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "fixlib.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads and decodes a YAML config file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := decodeYAML(f, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := getEnvInt("FIXLIB_LIBRARY_ID", -1); v >= 0 {
		c.Library.LibraryID = int32(v)
	}
	if v := getEnvInt("FIXLIB_FRAGMENT_LIMIT", 0); v > 0 {
		c.Library.FragmentLimit = v
	}
	c.Library.LogLevel = getEnv("FIXLIB_LOG_LEVEL", c.Library.LogLevel)

	if channels := getEnv("FIXLIB_ENGINE_CHANNELS", ""); channels != "" {
		c.Engines.Channels = splitCSV(channels)
	}
	c.Engines.Redis.Addr = getEnv("FIXLIB_REDIS_ADDR", c.Engines.Redis.Addr)
	c.Engines.Redis.Enabled = getEnvBool("FIXLIB_REDIS_DISCOVERY_ENABLED", c.Engines.Redis.Enabled)

	c.Replay.LogFileDir = getEnv("FIXLIB_LOG_FILE_DIR", c.Replay.LogFileDir)
	if v := getEnvInt("FIXLIB_REPLAY_CAPACITY_RECORDS", 0); v > 0 {
		c.Replay.CapacityRecords = v
	}

	c.Admin.Addr = getEnv("FIXLIB_ADMIN_ADDR", c.Admin.Addr)
	c.Admin.Enabled = getEnvBool("FIXLIB_ADMIN_ENABLED", c.Admin.Enabled)

	if v := getEnvInt("FIXLIB_LIVENESS_TIMEOUT_MS", 0); v > 0 {
		c.Liveness.TimeoutMs = int64(v)
	}
	if v := getEnvInt("FIXLIB_REPLY_TIMEOUT_MS", 0); v > 0 {
		c.Reconnect.ReplyTimeoutMs = int64(v)
	}
	if v := getEnvInt("FIXLIB_RECONNECT_ATTEMPTS", -1); v >= 0 {
		c.Reconnect.ReconnectAttempts = v
	}

	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Library.FragmentLimit == 0 {
		c.Library.FragmentLimit = 10
	}
	if c.Library.LogLevel == "" {
		c.Library.LogLevel = "info"
	}
	if len(c.Engines.Channels) == 0 {
		c.Engines.Channels = []string{"localhost:9999"}
	}
	if c.Engines.Redis.SetKey == "" {
		c.Engines.Redis.SetKey = "fixlib:engine-channels"
	}
	if c.Replay.LogFileDir == "" {
		c.Replay.LogFileDir = "./replay-index"
	}
	if c.Replay.StreamID == 0 {
		c.Replay.StreamID = 1
	}
	if c.Replay.CapacityRecords == 0 {
		c.Replay.CapacityRecords = 65536
	}
	if c.Replay.CacheSets == 0 {
		c.Replay.CacheSets = 16
	}
	if c.Replay.CacheWaysPerSet == 0 {
		c.Replay.CacheWaysPerSet = 4
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":8090"
	}
	if c.Liveness.TimeoutMs == 0 {
		c.Liveness.TimeoutMs = 5000
	}
	if c.Reconnect.ReplyTimeoutMs == 0 {
		c.Reconnect.ReplyTimeoutMs = 1000
	}
	if c.Reconnect.ReconnectAttempts == 0 {
		c.Reconnect.ReconnectAttempts = 3
	}
}

// ReplyTimeout and LivenessConfig.Timeout expose the durations in the form
// the rest of the connector consumes them.
func (c ReconnectConfig) ReplyTimeout() time.Duration {
	return time.Duration(c.ReplyTimeoutMs) * time.Millisecond
}

func (c LivenessConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
