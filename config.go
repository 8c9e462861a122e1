package questauth

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends accepted by StoreConfig.Backend.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Environment variables overlaid onto a loaded Config.
const (
	EnvAPIURL       = "QUESTAUTH_API_URL"
	EnvStoreBackend = "QUESTAUTH_STORE_BACKEND"
	EnvProfile      = "QUESTAUTH_PROFILE"
	EnvRedisAddr    = "QUESTAUTH_REDIS_ADDR"
	EnvPostgresDSN  = "QUESTAUTH_POSTGRES_DSN"
	EnvLogLevel     = "QUESTAUTH_LOG_LEVEL"
)

// Config is the full client configuration.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Store   StoreConfig   `yaml:"store"`
	Session SessionConfig `yaml:"session"`
	Events  EventsConfig  `yaml:"events"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// APIConfig locates the Quest API and its auth endpoints.
type APIConfig struct {
	BaseURL      string        `yaml:"base_url"`
	LoginPath    string        `yaml:"login_path"`
	RefreshPath  string        `yaml:"refresh_path"`
	IdentityPath string        `yaml:"identity_path"`
	Timeout      time.Duration `yaml:"timeout"`
}

// StoreConfig selects where credentials persist.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Profile string `yaml:"profile"`
	// Dir holds file-backend profiles. Empty means <user config dir>/questauth.
	Dir string `yaml:"dir"`

	RedisAddr   string        `yaml:"redis_addr"`
	RedisPrefix string        `yaml:"redis_prefix"`
	RedisTTL    time.Duration `yaml:"redis_ttl"`

	PostgresDSN string `yaml:"postgres_dsn"`
}

// SessionConfig controls refresh and session holder behavior.
type SessionConfig struct {
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	HydrateOnBuild bool          `yaml:"hydrate_on_build"`
	// LoginRoute is where the default navigator sends the user on teardown.
	LoginRoute string `yaml:"login_route"`
}

// EventsConfig controls the async session event dispatcher.
type EventsConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// LogConfig sets the level of the logger built when none is supplied. Empty
// disables logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			BaseURL:      "http://localhost:8000",
			LoginPath:    "/auth/login",
			RefreshPath:  "/auth/refresh",
			IdentityPath: "/auth/me",
			Timeout:      30 * time.Second,
		},
		Store: StoreConfig{
			Backend:     BackendFile,
			Profile:     "default",
			RedisPrefix: "qa",
		},
		Session: SessionConfig{
			RefreshTimeout: 15 * time.Second,
			HydrateOnBuild: true,
			LoginRoute:     "/login",
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 64,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// LoadConfig reads path over DefaultConfig, then applies environment
// overrides. A missing file is not an error; an empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadFromYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnvOverrides(&cfg)

	return cfg, nil
}

func loadFromYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal config yaml: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv(EnvStoreBackend); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
	if v := os.Getenv(EnvProfile); v != "" {
		cfg.Store.Profile = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Store.RedisAddr = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		cfg.Store.PostgresDSN = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	base, err := url.Parse(c.API.BaseURL)
	if c.API.BaseURL == "" || err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	for name, p := range map[string]string{
		"api.login_path":    c.API.LoginPath,
		"api.refresh_path":  c.API.RefreshPath,
		"api.identity_path": c.API.IdentityPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must start with /, got %q", name, p)
		}
	}
	if c.API.LoginPath == c.API.RefreshPath {
		return errors.New("api.login_path and api.refresh_path must differ")
	}
	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be > 0")
	}
	if c.Session.RefreshTimeout <= 0 {
		return errors.New("session.refresh_timeout must be > 0")
	}

	switch c.Store.Backend {
	case BackendMemory, BackendFile:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("store.redis_addr is required for the redis backend")
		}
		if c.Store.RedisTTL < 0 {
			return errors.New("store.redis_ttl must be >= 0")
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if strings.TrimSpace(c.Store.Profile) == "" {
		return errors.New("store.profile must not be empty")
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return errors.New("events.buffer_size must be > 0 when events are enabled")
	}
	return nil
}

// endpoint joins the base URL and an API path.
func (c *Config) endpoint(path string) string {
	return strings.TrimRight(c.API.BaseURL, "/") + path
}

func (c *Config) storeDir() (string, error) {
	if c.Store.Dir != "" {
		return c.Store.Dir, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve credential directory: %w", err)
	}
	return filepath.Join(dir, "questauth"), nil
}

// LintSeverity ranks a [LintWarning].
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
)

// LintWarning is a configuration that is valid but probably unintended.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list of warnings found by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	codes := make([]string, 0, len(r))
	for _, w := range r {
		codes = append(codes, w.Code)
	}
	return codes
}

// Lint reports settings that pass Validate but weaken the session.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if base, err := url.Parse(c.API.BaseURL); err == nil && base.Scheme == "http" && !loopback(base.Hostname()) {
		add("insecure_base_url", LintWarn, "tokens are sent over plain http to a non-local host")
	}
	if c.Session.RefreshTimeout > c.API.Timeout {
		add("refresh_timeout_exceeds_api_timeout", LintWarn, "the refresh call is cut off by api.timeout before session.refresh_timeout")
	}
	switch c.Store.Backend {
	case BackendMemory:
		add("memory_store", LintInfo, "credentials do not survive a restart")
	case BackendRedis:
		if c.Store.RedisTTL == 0 {
			add("redis_no_ttl", LintWarn, "stored credentials never expire in redis")
		}
	}
	if !c.Events.Enabled {
		add("events_disabled", LintInfo, "session events are not emitted")
	}
	if !c.Metrics.Enabled {
		add("metrics_disabled", LintInfo, "session metrics are not recorded")
	}
	return ws
}

func loopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
