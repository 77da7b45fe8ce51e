package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/kestrelproxy/kestrel/internal/runtimeenv"
	"github.com/kestrelproxy/kestrel/internal/util"
)

const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 8999
	DefaultWorkerPoolSize = 8
	DefaultPreambleLimit  = 64 * 1024
	DefaultSpliceDeadline = 24 * time.Hour

	DefaultFileWriteDelay = 150 * time.Millisecond // small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// ConfigValidationError reports an invalid configuration value.
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config: invalid %s: %s", e.Field, e.Reason)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			WorkerPoolSize:  DefaultWorkerPoolSize,
			MaxSessions:     0,
			PreambleLimit:   DefaultPreambleLimit,
			SpliceDeadline:  DefaultSpliceDeadline,
			ShutdownTimeout: 10 * time.Second,
		},
		Relay: RelayConfig{
			QueueSize:         4096,
			PacketLogCapacity: 4096,
			EnableLogObserver: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			FileOutput: !runtimeenv.IsContainerised(),
			PrettyLogs: util.ShouldUseColors(),
		},
		Theme: ThemeConfig{
			Name: "default",
		},
	}
}

// Load loads configuration from file and environment variables, layered
// over DefaultConfig. onConfigChange, if non-nil, is invoked (debounced)
// whenever the config file changes on disk after a successful initial
// load; socket-affecting fields (listener host/port, worker pool size)
// are read once at startup and are not hot-reloaded.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("PROXY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// Unmarshal only sees keys viper already knows about, so bind each one
	// explicitly for its PROXY_* variable to be picked up.
	for _, key := range []string{
		"listener.host", "listener.port", "listener.worker_pool_size", "listener.max_sessions",
		"listener.preamble_limit", "listener.splice_deadline", "listener.shutdown_timeout",
		"relay.queue_size", "relay.packet_log_capacity", "relay.enable_log_observer",
		"logging.level", "logging.log_dir", "logging.max_size", "logging.max_backups",
		"logging.max_age", "logging.file_output", "logging.pretty_logs", "theme.name",
	} {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("PROXY_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			// lame debounce to avoid rapid-fire reloads
			now := time.Now()
			if now.Sub(lastReload) < 500*time.Millisecond {
				return
			}
			lastReload = now

			// looks like on some platforms this event fires before the
			// file is fully written
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

// Validate checks the fields that would otherwise fail obscurely once
// the acceptor or relay tries to use them.
func Validate(cfg *Config) error {
	if cfg.Listener.Port <= 0 || cfg.Listener.Port > 65535 {
		return &ConfigValidationError{Field: "listener.port", Reason: "must be between 1 and 65535"}
	}
	if cfg.Listener.WorkerPoolSize <= 0 {
		return &ConfigValidationError{Field: "listener.worker_pool_size", Reason: "must be positive"}
	}
	if cfg.Listener.PreambleLimit <= 0 {
		return &ConfigValidationError{Field: "listener.preamble_limit", Reason: "must be positive"}
	}
	if cfg.Listener.MaxSessions < 0 {
		return &ConfigValidationError{Field: "listener.max_sessions", Reason: "must not be negative"}
	}
	return nil
}
