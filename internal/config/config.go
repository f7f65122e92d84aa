package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete zektor configuration
type Config struct {
	// Env selects the state profile, e.g. "development" or "production".
	// The profile name is part of the state file name.
	Env         string            `mapstructure:"env" yaml:"env"`
	Stages      []StageConfig     `mapstructure:"stages" yaml:"stages"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Persistence PersistenceConfig `mapstructure:"persistence" yaml:"persistence"`
	MQTT        MQTTConfig        `mapstructure:"mqtt" yaml:"mqtt"`
	Triggers    TriggersConfig    `mapstructure:"triggers" yaml:"triggers"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// StageConfig describes one stage of the pipeline. The number of entries
// in Config.Stages is the number of stages.
type StageConfig struct {
	// Label is the display name of the stage
	Label string `mapstructure:"label" yaml:"label"`
	// Color is a hex color such as "#228B22" used by the stage board
	Color string `mapstructure:"color" yaml:"color"`
}

// SessionConfig controls session rules
type SessionConfig struct {
	// ScoreUnplaced allows score changes for sessions still waiting for
	// stage 1 (default: true)
	ScoreUnplaced bool `mapstructure:"score_unplaced" yaml:"score_unplaced"`
}

// PersistenceConfig controls where and how state is saved
type PersistenceConfig struct {
	// Backend is "json" (default) or "sqlite"
	Backend string `mapstructure:"backend" yaml:"backend"`
	// DataDir holds the state file, the log file and the lock files.
	// Empty means the current directory.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// FailClosed rejects a command whose state could not be saved. When
	// false the change is kept in memory and the failure is reported.
	FailClosed bool `mapstructure:"fail_closed" yaml:"fail_closed"`
	// Timeout bounds each save (0 = no bound)
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// MQTTConfig controls the broker connection used for notifications and
// triggers
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	// ClientID defaults to "zektor-<pid>" when empty
	ClientID string `mapstructure:"client_id" yaml:"client_id,omitempty"`
	// TopicPrefix is prepended to every outbound notification topic
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	// QoS is the MQTT quality of service level (0, 1 or 2)
	QoS            int           `mapstructure:"qos" yaml:"qos"`
	Retain         bool          `mapstructure:"retain" yaml:"retain"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	// QueueSize bounds both the outbound notification queue and the
	// inbound trigger queue. Full queues drop new messages.
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// TriggersConfig maps inbound broker messages to lifecycle commands
type TriggersConfig struct {
	Progression []ProgressionRule `mapstructure:"progression" yaml:"progression"`
	Scoring     []ScoringRule     `mapstructure:"scoring" yaml:"scoring"`
}

// ProgressionRule advances the session in Stage when Message arrives on
// Topic, unless one of the BlockedBy stages is occupied.
type ProgressionRule struct {
	Stage     int    `mapstructure:"stage" yaml:"stage"`
	Topic     string `mapstructure:"topic" yaml:"topic"`
	Message   string `mapstructure:"message" yaml:"message"`
	BlockedBy []int  `mapstructure:"blocked_by" yaml:"blocked_by,omitempty"`
}

// ScoringRule adjusts the score of the session in Stage. A "positive"
// payload on Topic adds Positive; a "negative" payload subtracts Negative.
type ScoringRule struct {
	Stage    int    `mapstructure:"stage" yaml:"stage"`
	Topic    string `mapstructure:"topic" yaml:"topic"`
	Positive int    `mapstructure:"positive" yaml:"positive"`
	Negative int    `mapstructure:"negative" yaml:"negative"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled writes logs to <data_dir>/zektor.log; when false logs go to
	// stderr (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB is the size that triggers rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// DefaultStages returns the five themed stages used when none are
// configured.
func DefaultStages() []StageConfig {
	return []StageConfig{
		{Label: "Forest", Color: "#228B22"},
		{Label: "Hallway", Color: "#FFD700"},
		{Label: "Electricity", Color: "#1E90FF"},
		{Label: "Zektor", Color: "#8A2BE2"},
		{Label: "Pixels", Color: "#FF4500"},
	}
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Env:    "development",
		Stages: DefaultStages(),
		Session: SessionConfig{
			ScoreUnplaced: true,
		},
		Persistence: PersistenceConfig{
			Backend:    "json",
			DataDir:    "",
			FailClosed: false,
			Timeout:    5 * time.Second,
		},
		MQTT: MQTTConfig{
			Enabled:        false,
			Broker:         "localhost",
			Port:           1883,
			TopicPrefix:    "zektor",
			QoS:            0,
			Retain:         false,
			ConnectTimeout: 10 * time.Second,
			QueueSize:      256,
		},
		Triggers: TriggersConfig{
			Progression: []ProgressionRule{},
			Scoring:     []ScoringRule{},
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// NumStages returns the number of configured stages.
func (c *Config) NumStages() int {
	return len(c.Stages)
}

// StageLabel returns the label of stage n, or "Stage n" when it has none.
func (c *Config) StageLabel(n int) string {
	if n >= 1 && n <= len(c.Stages) && c.Stages[n-1].Label != "" {
		return c.Stages[n-1].Label
	}
	return "Stage " + strconv.Itoa(n)
}

// StageLabels returns the labels of all stages in order.
func (c *Config) StageLabels() []string {
	labels := make([]string, len(c.Stages))
	for i := range c.Stages {
		labels[i] = c.StageLabel(i + 1)
	}
	return labels
}

// ResolveDataDir returns the data directory with ~ expanded. An empty
// DataDir resolves to the current directory.
func (p *PersistenceConfig) ResolveDataDir() string {
	path := p.DataDir
	if path == "" {
		return "."
	}

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}
	return path
}

// ClientIDOrDefault returns ClientID, or "zektor-<pid>" when it is empty.
func (m *MQTTConfig) ClientIDOrDefault() string {
	if m.ClientID != "" {
		return m.ClientID
	}
	return "zektor-" + strconv.Itoa(os.Getpid())
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("env", defaults.Env)

	stages := make([]map[string]any, 0, len(defaults.Stages))
	for _, s := range defaults.Stages {
		stages = append(stages, map[string]any{"label": s.Label, "color": s.Color})
	}
	viper.SetDefault("stages", stages)

	// Session defaults
	viper.SetDefault("session.score_unplaced", defaults.Session.ScoreUnplaced)

	// Persistence defaults
	viper.SetDefault("persistence.backend", defaults.Persistence.Backend)
	viper.SetDefault("persistence.data_dir", defaults.Persistence.DataDir)
	viper.SetDefault("persistence.fail_closed", defaults.Persistence.FailClosed)
	viper.SetDefault("persistence.timeout", defaults.Persistence.Timeout)

	// MQTT defaults
	viper.SetDefault("mqtt.enabled", defaults.MQTT.Enabled)
	viper.SetDefault("mqtt.broker", defaults.MQTT.Broker)
	viper.SetDefault("mqtt.port", defaults.MQTT.Port)
	viper.SetDefault("mqtt.username", defaults.MQTT.Username)
	viper.SetDefault("mqtt.password", defaults.MQTT.Password)
	viper.SetDefault("mqtt.client_id", defaults.MQTT.ClientID)
	viper.SetDefault("mqtt.topic_prefix", defaults.MQTT.TopicPrefix)
	viper.SetDefault("mqtt.qos", defaults.MQTT.QoS)
	viper.SetDefault("mqtt.retain", defaults.MQTT.Retain)
	viper.SetDefault("mqtt.connect_timeout", defaults.MQTT.ConnectTimeout)
	viper.SetDefault("mqtt.queue_size", defaults.MQTT.QueueSize)

	// Trigger defaults
	viper.SetDefault("triggers.progression", []map[string]any{})
	viper.SetDefault("triggers.scoring", []map[string]any{})

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "zektor")
	}
	// Fall back to ~/.config/zektor
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zektor"
	}
	return filepath.Join(home, ".config", "zektor")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidBackends returns the list of valid persistence backends
func ValidBackends() []string {
	return []string{"json", "sqlite"}
}
