package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Listener.Host != DefaultHost {
		t.Errorf("expected host %s, got %s", DefaultHost, cfg.Listener.Host)
	}
	if cfg.Listener.Port != DefaultPort {
		t.Errorf("expected port %d, got %d", DefaultPort, cfg.Listener.Port)
	}
	if cfg.Listener.WorkerPoolSize != DefaultWorkerPoolSize {
		t.Errorf("expected worker pool size %d, got %d", DefaultWorkerPoolSize, cfg.Listener.WorkerPoolSize)
	}
	if cfg.Listener.PreambleLimit != DefaultPreambleLimit {
		t.Errorf("expected preamble limit %d, got %d", DefaultPreambleLimit, cfg.Listener.PreambleLimit)
	}
	if cfg.Listener.SpliceDeadline != DefaultSpliceDeadline {
		t.Errorf("expected splice deadline %v, got %v", DefaultSpliceDeadline, cfg.Listener.SpliceDeadline)
	}
	if cfg.Listener.MaxSessions != 0 {
		t.Errorf("expected unbounded max sessions by default, got %d", cfg.Listener.MaxSessions)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
	if !cfg.Relay.EnableLogObserver {
		t.Error("expected log observer enabled by default")
	}
}

func TestValidateDefaultConfigIsValid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Errorf("DefaultConfig() should validate cleanly, got: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero port", func(c *Config) { c.Listener.Port = 0 }},
		{"negative port", func(c *Config) { c.Listener.Port = -1 }},
		{"port above 65535", func(c *Config) { c.Listener.Port = 70000 }},
		{"zero worker pool", func(c *Config) { c.Listener.WorkerPoolSize = 0 }},
		{"negative preamble limit", func(c *Config) { c.Listener.PreambleLimit = -1 }},
		{"negative max sessions", func(c *Config) { c.Listener.MaxSessions = -5 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)

			if err := Validate(cfg); err == nil {
				t.Fatalf("expected a ConfigValidationError, got nil")
			} else if _, ok := err.(*ConfigValidationError); !ok {
				t.Fatalf("expected *ConfigValidationError, got %T", err)
			}
		})
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listener.Port != DefaultPort {
		t.Errorf("expected default port %d, got %d", DefaultPort, cfg.Listener.Port)
	}
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	os.Setenv("PROXY_LISTENER_PORT", "9100")
	os.Setenv("PROXY_LOGGING_LEVEL", "debug")
	defer os.Unsetenv("PROXY_LISTENER_PORT")
	defer os.Unsetenv("PROXY_LOGGING_LEVEL")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Listener.Port != 9100 {
		t.Errorf("expected port 9100 from env var, got %d", cfg.Listener.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug from env var, got %s", cfg.Logging.Level)
	}
}

func TestConfigValidationErrorMessage(t *testing.T) {
	err := &ConfigValidationError{Field: "listener.port", Reason: "must be positive"}
	want := "config: invalid listener.port: must be positive"
	if got := err.Error(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestDurationFieldsAreTyped(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Listener.SpliceDeadline <= 0 {
		t.Error("splice deadline should be positive")
	}
	if cfg.Listener.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected shutdown timeout 10s, got %v", cfg.Listener.ShutdownTimeout)
	}
}
