package playground

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the runtime's pass-through configuration surface. Zero values
// fall back to the defaults stated here; DefaultConfig returns them
// explicitly.
type Config struct {
	// RequestTimeout bounds list and invoke calls.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"PLAYGROUND_REQUEST_TIMEOUT,default=30s"`

	// ConnectTimeout bounds the connect handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"PLAYGROUND_CONNECT_TIMEOUT,default=30s"`

	// HeartbeatInterval is the pause between liveness probes while connected.
	// Zero or negative disables the loop.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"PLAYGROUND_HEARTBEAT_INTERVAL,default=30s"`

	// HeartbeatTimeout bounds a single probe; deliberately shorter than
	// RequestTimeout so a dead server is noticed quickly.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" env:"PLAYGROUND_HEARTBEAT_TIMEOUT,default=5s"`

	// CacheTTL is the freshness window for list results.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"PLAYGROUND_CACHE_TTL,default=1m"`

	// ReconnectDebounce coalesces rapid Reconnect calls into one attempt.
	ReconnectDebounce time.Duration `yaml:"reconnect_debounce" env:"PLAYGROUND_RECONNECT_DEBOUNCE,default=300ms"`

	// MaxExecutions bounds each manager's in-memory execution history;
	// oldest entries are dropped past it. Zero means unbounded.
	MaxExecutions int `yaml:"max_executions" env:"PLAYGROUND_MAX_EXECUTIONS,default=1000"`

	// AllowedTools holds glob patterns gating which tools are listed and
	// invocable. Empty admits everything.
	AllowedTools []string `yaml:"allowed_tools" env:"PLAYGROUND_ALLOWED_TOOLS"`

	// HistoryPath, when set, enables the sqlite execution-history store.
	HistoryPath string `yaml:"history_path" env:"PLAYGROUND_HISTORY_PATH"`

	// Retry parameterizes ConnectWithRetry.
	Retry RetryPolicy `yaml:"retry"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:    30 * time.Second,
		ConnectTimeout:    30 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		CacheTTL:          time.Minute,
		ReconnectDebounce: 300 * time.Millisecond,
		MaxExecutions:     1000,
		Retry: RetryPolicy{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   30 * time.Second,
			Factor:     2,
			Jitter:     100 * time.Millisecond,
		},
	}
}

// withDefaults fills zero fields with the documented defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RequestTimeout == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = def.CacheTTL
	}
	if c.ReconnectDebounce == 0 {
		c.ReconnectDebounce = def.ReconnectDebounce
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry = def.Retry
	}
	return c
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	bs, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(bs, &cfg); err != nil {
		return Config{}, configError(fmt.Sprintf("malformed config file %s", path), err)
	}
	return cfg, nil
}

// ConfigFromEnv populates a Config from PLAYGROUND_* environment variables
// via the struct's env tags.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, configError("decode environment", err)
	}
	return cfg, nil
}
