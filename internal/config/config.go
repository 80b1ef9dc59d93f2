// Package config loads process configuration from defaults, an optional
// config file and KRAFTSYNC_ environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KRAFTSYNC"

// FileEnv names the variable holding an explicit config file path.
const FileEnv = "KRAFTSYNC_CONFIG"

// Write failure policies.
const (
	WriteFailureQueue = "queue"
	WriteFailureFail  = "fail"
)

// Backoff names.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Dead-letter sinks.
const (
	SinkLog   = "log"
	SinkStore = "store"
	SinkNSQ   = "nsq"
)

// Config holds application configuration.
type Config struct {
	Sync         SyncConfig         `mapstructure:"sync"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Backend      BackendConfig      `mapstructure:"backend"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	DeadLetter   DeadLetterConfig   `mapstructure:"deadletter"`
	Events       EventsConfig       `mapstructure:"events"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// SyncConfig tunes the facade and the sync engine. It is passed by value
// and never changes after the service is built.
type SyncConfig struct {
	OfflineModeEnabled bool          `mapstructure:"offline_mode_enabled"`
	DrainInterval      time.Duration `mapstructure:"drain_interval"`
	MaxRetries         int           `mapstructure:"max_retries"`
	Backoff            string        `mapstructure:"backoff"`
	BackoffBase        time.Duration `mapstructure:"backoff_base"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
	WriteFailurePolicy string        `mapstructure:"write_failure_policy"`
	RemoteTimeout      time.Duration `mapstructure:"remote_timeout"` // 0 disables
	MaxQueueSize       int           `mapstructure:"max_queue_size"` // 0 is unbounded
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver         string `mapstructure:"driver"`
	Path           string `mapstructure:"path"`
	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	RedisNamespace string `mapstructure:"redis_namespace"`
}

// RemoteConfig points the HTTP client at a backend.
type RemoteConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	Subject   string        `mapstructure:"subject"`
	Device    string        `mapstructure:"device"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// BackendConfig configures the reference REST backend.
type BackendConfig struct {
	Addr string `mapstructure:"addr"`
}

// ConnectivityConfig configures the health prober. An empty HealthURL
// leaves connectivity to SetOnline callers.
type ConnectivityConfig struct {
	HealthURL     string        `mapstructure:"health_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	InitialOnline bool          `mapstructure:"initial_online"`
}

// DeadLetterConfig selects where exhausted outbox items go.
type DeadLetterConfig struct {
	Sink     string `mapstructure:"sink"`
	NSQDAddr string `mapstructure:"nsqd_addr"`
	Topic    string `mapstructure:"topic"`
}

// EventsConfig configures the websocket broadcast. Empty Addr disables it.
type EventsConfig struct {
	Addr       string `mapstructure:"addr"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sync.offline_mode_enabled", true)
	v.SetDefault("sync.drain_interval", 30*time.Second)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.backoff", BackoffFixed)
	v.SetDefault("sync.backoff_base", time.Minute)
	v.SetDefault("sync.backoff_max", time.Hour)
	v.SetDefault("sync.write_failure_policy", WriteFailureQueue)
	v.SetDefault("sync.remote_timeout", time.Duration(0))
	v.SetDefault("sync.max_queue_size", 0)

	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.path", defaultDataDir())
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_namespace", "kraftsync")

	v.SetDefault("remote.base_url", "http://localhost:8080")
	v.SetDefault("remote.jwt_secret", "")
	v.SetDefault("remote.subject", "local-user")
	v.SetDefault("remote.device", "")
	v.SetDefault("remote.token_ttl", time.Hour)

	v.SetDefault("backend.addr", ":8080")

	v.SetDefault("connectivity.health_url", "")
	v.SetDefault("connectivity.probe_interval", 15*time.Second)
	v.SetDefault("connectivity.probe_timeout", 5*time.Second)
	v.SetDefault("connectivity.initial_online", true)

	v.SetDefault("deadletter.sink", SinkLog)
	v.SetDefault("deadletter.nsqd_addr", "localhost:4150")
	v.SetDefault("deadletter.topic", "kraftsync_deadletter")

	v.SetDefault("events.addr", "")
	v.SetDefault("events.buffer_size", 64)

	v.SetDefault("logging.level", string(logging.LevelInfo))
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + string(os.PathSeparator) + "kraftsync"
	}
	return ".kraftsync"
}

// Default returns the built-in configuration.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return c
}

// Load reads configuration from file and env. The file is taken from
// KRAFTSYNC_CONFIG, falling back to ./kraftsync.yaml when present.
func Load() (Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile is Load with an explicit file path. An empty path searches the
// working directory.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("kraftsync")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); path != "" || !notFound {
			return Config{}, apperrors.Wrap(apperrors.ErrInvalid, "read config", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, apperrors.Wrap(apperrors.ErrInvalid, "unmarshal config", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite, DriverRedis:
	default:
		return invalid("storage.driver", c.Storage.Driver)
	}
	if c.Storage.Driver == DriverSQLite && c.Storage.Path == "" {
		return invalid("storage.path", c.Storage.Path)
	}
	switch c.DeadLetter.Sink {
	case SinkLog, SinkStore:
	case SinkNSQ:
		if c.DeadLetter.NSQDAddr == "" || c.DeadLetter.Topic == "" {
			return apperrors.New(apperrors.ErrInvalid, "deadletter.nsq requires nsqd_addr and topic")
		}
	default:
		return invalid("deadletter.sink", c.DeadLetter.Sink)
	}
	if c.Connectivity.HealthURL != "" && c.Connectivity.ProbeInterval <= 0 {
		return invalid("connectivity.probe_interval", c.Connectivity.ProbeInterval.String())
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "logging.level", err)
	}
	return nil
}

// Validate checks the sync knobs.
func (s SyncConfig) Validate() error {
	if s.DrainInterval <= 0 {
		return invalid("sync.drain_interval", s.DrainInterval.String())
	}
	if s.MaxRetries < 1 {
		return invalid("sync.max_retries", fmt.Sprint(s.MaxRetries))
	}
	switch s.Backoff {
	case BackoffFixed:
	case BackoffExponential:
		if s.BackoffBase <= 0 {
			return invalid("sync.backoff_base", s.BackoffBase.String())
		}
	default:
		return invalid("sync.backoff", s.Backoff)
	}
	switch s.WriteFailurePolicy {
	case WriteFailureQueue, WriteFailureFail:
	default:
		return invalid("sync.write_failure_policy", s.WriteFailurePolicy)
	}
	if s.RemoteTimeout < 0 {
		return invalid("sync.remote_timeout", s.RemoteTimeout.String())
	}
	if s.MaxQueueSize < 0 {
		return invalid("sync.max_queue_size", fmt.Sprint(s.MaxQueueSize))
	}
	return nil
}

func invalid(key, value string) error {
	return apperrors.Newf(apperrors.ErrInvalid, "invalid %s: %q", key, value)
}
