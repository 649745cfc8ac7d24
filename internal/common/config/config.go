package config

import (
	"os"
	"regexp"
	"time"

	"github.com/amoylab/gameroom/pkg/helper"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// GameRoomConfig is the root configuration of the gameroom service
	GameRoomConfig struct {
		Server    ServerConfig    `yaml:"server"`
		Logger    LoggerConfig    `yaml:"logger"`
		Store     StoreConfig     `yaml:"store"`
		JWT       JWTConfig       `yaml:"jwt"`
		Rules     RulesConfig     `yaml:"rules"`
		Lifecycle LifecycleConfig `yaml:"lifecycle"`
		Metrics   MetricsConfig   `yaml:"metrics"`
		Tracing   TracingConfig   `yaml:"tracing"`
	}

	// ServerConfig represents the HTTP/websocket listener configuration
	ServerConfig struct {
		Port            int           `yaml:"port"`
		AllowedOrigins  []string      `yaml:"allowed_origins"` // empty allows every origin
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongWait        time.Duration `yaml:"pong_wait"`
		SendQueueSize   int           `yaml:"send_queue_size"`
		PIDFile         string        `yaml:"pid_file"` // receives SIGUSR1 sweep requests
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}

	// JWTConfig represents the identity token configuration
	JWTConfig struct {
		SecretKey string        `yaml:"secret_key"`
		Duration  time.Duration `yaml:"duration"`
	}

	// RulesConfig selects the rules engine
	RulesConfig struct {
		Engine string `yaml:"engine"` // chess
	}

	// LifecycleConfig holds the session timing knobs
	LifecycleConfig struct {
		IdleTimeout     time.Duration `yaml:"idle_timeout"`     // open/active sessions idle longer than this are abandoned
		Retention       time.Duration `yaml:"retention"`        // closed sessions older than this are deleted
		ReclaimInterval time.Duration `yaml:"reclaim_interval"` // how often idle sessions are swept
		PurgeInterval   time.Duration `yaml:"purge_interval"`   // how often closed sessions are purged
		StoreTimeout    time.Duration `yaml:"store_timeout"`    // bound on every store call
	}

	// MetricsConfig represents the prometheus configuration
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Path      string    `yaml:"path"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}

	// TracingConfig represents the OpenTelemetry configuration
	TracingConfig struct {
		Enabled     bool              `yaml:"enabled"`
		ServiceName string            `yaml:"service_name"`
		Endpoint    string            `yaml:"endpoint"`     // e.g. localhost:4317 or http://localhost:4318
		Protocol    string            `yaml:"protocol"`     // grpc or http
		Insecure    bool              `yaml:"insecure"`     // allow insecure connection
		SamplerRate float64           `yaml:"sampler_rate"` // 0.0~1.0
		Environment string            `yaml:"environment"`  // env tag: dev/staging/prod
		Headers     map[string]string `yaml:"headers"`
	}
)

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*GameRoomConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg GameRoomConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, err
	}
	return &cfg, cfgPath, nil
}

// ApplyDefaults fills zero values with the service defaults
func (c *GameRoomConfig) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.PingInterval <= 0 {
		c.Server.PingInterval = 30 * time.Second
	}
	if c.Server.PongWait <= c.Server.PingInterval {
		c.Server.PongWait = 2 * c.Server.PingInterval
	}
	if c.Server.SendQueueSize <= 0 {
		c.Server.SendQueueSize = 256
	}
	if c.Server.PIDFile == "" {
		c.Server.PIDFile = "gameroom.pid"
	}
	if c.Rules.Engine == "" {
		c.Rules.Engine = "chess"
	}
	if c.Store.Type == "" {
		c.Store.Type = "memory"
	}
	if c.Store.Redis.Prefix == "" {
		c.Store.Redis.Prefix = "gameroom"
	}
	if c.JWT.Duration <= 0 {
		c.JWT.Duration = 24 * time.Hour
	}
	c.Lifecycle.ApplyDefaults()
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "gameroom"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "gameroom"
	}
}

// ApplyDefaults fills zero durations with the lifecycle defaults
func (l *LifecycleConfig) ApplyDefaults() {
	if l.IdleTimeout <= 0 {
		l.IdleTimeout = 30 * time.Minute
	}
	if l.Retention <= 0 {
		l.Retention = 7 * 24 * time.Hour
	}
	if l.ReclaimInterval <= 0 {
		l.ReclaimInterval = time.Minute
	}
	if l.PurgeInterval <= 0 {
		l.PurgeInterval = time.Hour
	}
	if l.StoreTimeout <= 0 {
		l.StoreTimeout = 5 * time.Second
	}
}

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	regex := regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

	return regex.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := regex.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
