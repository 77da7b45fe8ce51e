package config

import "time"

// Config holds all configuration for the proxy.
type Config struct {
	Listener ListenerConfig `yaml:"listener"`
	Relay    RelayConfig    `yaml:"relay"`
	Logging  LoggingConfig  `yaml:"logging"`
	Theme    ThemeConfig    `yaml:"theme"`
}

// ListenerConfig holds the raw TCP acceptor's settings.
type ListenerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	WorkerPoolSize  int           `yaml:"worker_pool_size"`
	MaxSessions     int           `yaml:"max_sessions"` // 0 = no cap beyond WorkerPoolSize
	PreambleLimit   int64         `yaml:"preamble_limit"`
	SpliceDeadline  time.Duration `yaml:"splice_deadline"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RelayConfig holds the Observer bus's dispatch and packet-log settings.
type RelayConfig struct {
	QueueSize         int  `yaml:"queue_size"`
	PacketLogCapacity int  `yaml:"packet_log_capacity"`
	EnableLogObserver bool `yaml:"enable_log_observer"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	FileOutput bool   `yaml:"file_output"`
	PrettyLogs bool   `yaml:"pretty_logs"`
}

// ThemeConfig selects the styled console logger's colour theme.
type ThemeConfig struct {
	Name string `yaml:"name"`
}
