package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Env != "development" {
		t.Errorf("Env = %q, want %q", cfg.Env, "development")
	}
	if cfg.NumStages() != 5 {
		t.Errorf("NumStages() = %d, want 5", cfg.NumStages())
	}
	if !cfg.Session.ScoreUnplaced {
		t.Error("Session.ScoreUnplaced should be true by default")
	}

	if cfg.Persistence.Backend != "json" {
		t.Errorf("Persistence.Backend = %q, want %q", cfg.Persistence.Backend, "json")
	}
	if cfg.Persistence.FailClosed {
		t.Error("Persistence.FailClosed should be false by default")
	}
	if cfg.Persistence.Timeout != 5*time.Second {
		t.Errorf("Persistence.Timeout = %v, want 5s", cfg.Persistence.Timeout)
	}

	if cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled should be false by default")
	}
	if cfg.MQTT.Port != 1883 {
		t.Errorf("MQTT.Port = %d, want 1883", cfg.MQTT.Port)
	}
	if cfg.MQTT.TopicPrefix != "zektor" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "zektor")
	}

	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be true by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestStageLabel(t *testing.T) {
	cfg := &Config{Stages: []StageConfig{{Label: "Forest"}, {Label: ""}}}

	tests := []struct {
		stage int
		want  string
	}{
		{1, "Forest"},
		{2, "Stage 2"},
		{3, "Stage 3"},
		{0, "Stage 0"},
	}
	for _, tt := range tests {
		if got := cfg.StageLabel(tt.stage); got != tt.want {
			t.Errorf("StageLabel(%d) = %q, want %q", tt.stage, got, tt.want)
		}
	}

	if diff := cmp.Diff([]string{"Forest", "Stage 2"}, cfg.StageLabels()); diff != "" {
		t.Errorf("StageLabels() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveDataDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in, want string
	}{
		{"", "."},
		{"/var/lib/zektor", "/var/lib/zektor"},
		{"data", "data"},
		{"~", home},
		{"~/zektor", filepath.Join(home, "zektor")},
	}
	for _, tt := range tests {
		p := PersistenceConfig{DataDir: tt.in}
		if got := p.ResolveDataDir(); got != tt.want {
			t.Errorf("ResolveDataDir(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClientIDOrDefault(t *testing.T) {
	m := MQTTConfig{ClientID: "board-1"}
	if got := m.ClientIDOrDefault(); got != "board-1" {
		t.Errorf("ClientIDOrDefault() = %q, want %q", got, "board-1")
	}
	m.ClientID = ""
	if got := m.ClientIDOrDefault(); got == "" || got == "zektor-" {
		t.Errorf("ClientIDOrDefault() = %q, want zektor-<pid>", got)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got, want := ConfigDir(), "/custom/config/zektor"; got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		if got, want := ConfigDir(), filepath.Join(home, ".config", "zektor"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := ConfigFile(), "/custom/config/zektor/config.yaml"; got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if diff := cmp.Diff(Default(), cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Get() with no file mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
env: production
stages:
  - label: Intake
    color: "#112233"
  - label: Review
  - label: Done
persistence:
  backend: sqlite
  fail_closed: true
  timeout: 2s
mqtt:
  enabled: true
  broker: mqtt.local
  qos: 1
triggers:
  progression:
    - stage: 1
      topic: sensors/door
      message: open
      blocked_by: [2, 3]
  scoring:
    - stage: 2
      topic: sensors/button
      positive: 5
      negative: 2
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("ReadInConfig() error = %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Env != "production" {
		t.Errorf("Env = %q, want production", cfg.Env)
	}
	if cfg.NumStages() != 3 {
		t.Errorf("NumStages() = %d, want 3", cfg.NumStages())
	}
	if cfg.Persistence.Backend != "sqlite" || !cfg.Persistence.FailClosed {
		t.Errorf("Persistence = %+v", cfg.Persistence)
	}
	if cfg.Persistence.Timeout != 2*time.Second {
		t.Errorf("Persistence.Timeout = %v, want 2s", cfg.Persistence.Timeout)
	}
	if cfg.MQTT.Port != 1883 {
		t.Errorf("MQTT.Port = %d, want default 1883", cfg.MQTT.Port)
	}

	wantTriggers := TriggersConfig{
		Progression: []ProgressionRule{{Stage: 1, Topic: "sensors/door", Message: "open", BlockedBy: []int{2, 3}}},
		Scoring:     []ScoringRule{{Stage: 2, Topic: "sensors/button", Positive: 5, Negative: 2}},
	}
	if diff := cmp.Diff(wantTriggers, cfg.Triggers); diff != "" {
		t.Errorf("Triggers mismatch (-want +got):\n%s", diff)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	viper.Set("persistence.backend", "redis")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() should fail for unknown backend")
	}
	if cfg != nil {
		t.Errorf("Load() returned config alongside error: %+v", cfg)
	}
	if _, ok := err.(ValidationErrors); !ok {
		t.Errorf("Load() error type = %T, want ValidationErrors", err)
	}
}
