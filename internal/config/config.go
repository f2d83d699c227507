// Package config loads and validates progressrelay configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. PROGRESSRELAY_SERVER_PORT.
const EnvPrefix = "PROGRESSRELAY"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging      LoggingConfig      `mapstructure:"logging"`
	Presentation PresentationConfig `mapstructure:"presentation"`
	Session      SessionConfig      `mapstructure:"session"`
	Relay        RelayConfig        `mapstructure:"relay"`
	Server       ServerConfig       `mapstructure:"server"`
	DB           DBConfig           `mapstructure:"db"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Demo         DemoConfig         `mapstructure:"demo"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// PresentationConfig picks how progress is rendered.
type PresentationConfig struct {
	Mode           string        `mapstructure:"mode"`
	Width          int           `mapstructure:"width"`
	LineInterval   time.Duration `mapstructure:"line_interval"`
	StoreInterval  time.Duration `mapstructure:"store_interval"`
	PresentTimeout time.Duration `mapstructure:"present_timeout"`
	Metrics        bool          `mapstructure:"metrics"`
}

// SessionConfig tunes session teardown.
type SessionConfig struct {
	StallWarning time.Duration `mapstructure:"stall_warning"`
}

// RelayConfig controls the listener worker processes report through.
type RelayConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Network string `mapstructure:"network"`
	Address string `mapstructure:"address"`
	// DrainTimeout bounds how long teardown keeps reading frames workers
	// already wrote.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DBConfig controls access to the task database. An empty DSN disables it.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// PubSubConfig holds the topic task notices are published to. An empty
// project disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DemoConfig shapes the simulated workload of the demo command.
type DemoConfig struct {
	Loops    int           `mapstructure:"loops"`
	Workers  int           `mapstructure:"workers"`
	Steps    int           `mapstructure:"steps"`
	Interval time.Duration `mapstructure:"interval"`
	FailRate float64       `mapstructure:"fail_rate"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("presentation.mode", "auto")
	v.SetDefault("presentation.width", 30)
	v.SetDefault("presentation.line_interval", time.Second)
	v.SetDefault("presentation.store_interval", 500*time.Millisecond)
	v.SetDefault("presentation.present_timeout", 10*time.Second)
	v.SetDefault("presentation.metrics", true)
	v.SetDefault("session.stall_warning", 0)
	v.SetDefault("relay.enabled", true)
	v.SetDefault("relay.network", "unix")
	v.SetDefault("relay.address", "")
	v.SetDefault("relay.drain_timeout", "250ms")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "task_runs")
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("demo.loops", 3)
	v.SetDefault("demo.workers", 2)
	v.SetDefault("demo.steps", 20)
	v.SetDefault("demo.interval", 50*time.Millisecond)
	v.SetDefault("demo.fail_rate", 0.0)
}

var presentationModes = map[string]bool{
	"auto":  true,
	"bars":  true,
	"lines": true,
	"log":   true,
	"none":  true,
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if !presentationModes[c.Presentation.Mode] {
		return fmt.Errorf("presentation.mode must be one of auto, bars, lines, log, none")
	}
	if c.Presentation.PresentTimeout < 0 {
		return fmt.Errorf("presentation.present_timeout must be >= 0")
	}
	if c.Session.StallWarning < 0 {
		return fmt.Errorf("session.stall_warning must be >= 0")
	}
	if c.Relay.Enabled && c.Relay.Network != "unix" && c.Relay.Network != "tcp" {
		return fmt.Errorf("relay.network must be unix or tcp")
	}
	if c.Relay.DrainTimeout < 0 {
		return fmt.Errorf("relay.drain_timeout must be >= 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	if c.Demo.Loops < 0 || c.Demo.Workers < 0 {
		return fmt.Errorf("demo.loops and demo.workers must be >= 0")
	}
	if c.Demo.Steps <= 0 {
		return fmt.Errorf("demo.steps must be > 0")
	}
	if c.Demo.FailRate < 0 || c.Demo.FailRate > 1 {
		return fmt.Errorf("demo.fail_rate must be between 0 and 1")
	}
	if c.Demo.Workers > 0 && !c.Relay.Enabled {
		return fmt.Errorf("relay.enabled is required when demo.workers > 0")
	}
	return nil
}
