// Package config provides CLI commands for managing zektor configuration.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	appconfig "github.com/Iron-Ham/zektor/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify zektor configuration",
	Long: `View or modify zektor configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  zektor config set persistence.backend sqlite
  zektor config set mqtt.enabled true
  zektor config set logging.level debug

Valid keys:
  env                       - State profile (development, production, ...)
  session.score_unplaced    - Allow scoring sessions waiting for stage 1 (true/false)
  persistence.backend       - json or sqlite
  persistence.data_dir      - Directory for state, logs and locks
  persistence.fail_closed   - Reject commands whose state cannot be saved (true/false)
  persistence.timeout       - Bound on each save, e.g. 5s
  mqtt.enabled              - Connect to the broker in 'serve' (true/false)
  mqtt.broker               - Broker host name
  mqtt.port                 - Broker port
  mqtt.topic_prefix         - Prefix for outbound notification topics
  mqtt.qos                  - MQTT quality of service (0, 1 or 2)
  logging.enabled           - Write logs to <data_dir>/zektor.log (true/false)
  logging.level             - debug, info, warn or error

Stages and triggers are lists; edit them in the config file.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/zektor/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE:  runConfigValidate,
}

var initForce bool

// settableKeys maps each key accepted by 'config set' to its value type.
var settableKeys = map[string]string{
	"env":                     "string",
	"session.score_unplaced":  "bool",
	"persistence.backend":     "string",
	"persistence.data_dir":    "string",
	"persistence.fail_closed": "bool",
	"persistence.timeout":     "duration",
	"mqtt.enabled":            "bool",
	"mqtt.broker":             "string",
	"mqtt.port":               "int",
	"mqtt.topic_prefix":       "string",
	"mqtt.qos":                "int",
	"logging.enabled":         "bool",
	"logging.level":           "string",
}

func init() {
	configInitCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)
}

// Register adds the config command tree to the given parent command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

// encodeYAML renders v with two-space indentation.
func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	shown := *cfg
	if shown.MQTT.Password != "" {
		shown.MQTT.Password = "********"
	}
	data, err := encodeYAML(&shown)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func parseValue(key, kind, value string) (any, error) {
	switch kind {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return n, nil
	case "duration":
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a duration such as 5s", key)
		}
		return d.String(), nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	kind, ok := settableKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'zektor config set --help' to see valid keys", key)
	}
	typedValue, err := parseValue(key, kind, value)
	if err != nil {
		return err
	}

	// Set the value in viper and make sure the result is still valid
	viper.Set(key, typedValue)
	if _, err := appconfig.Load(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	// Ensure config directory exists
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = appconfig.ConfigFile()
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := writeSettings(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

// writeSettings saves the current configuration, without flag-only keys,
// to path.
func writeSettings(path string) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return err
	}
	data, err := encodeYAML(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// DefaultFile returns the contents written by 'config init'.
func DefaultFile() ([]byte, error) {
	body, err := encodeYAML(appconfig.Default())
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`# zektor configuration
#
# stages: one entry per stage, in order; the list length is the number
#   of stages. Colors are used by the stage board.
# persistence.backend: json (one file) or sqlite (one database)
# persistence.data_dir: state, log and lock files; empty means the
#   current directory. The state file is sessions_data_<env>.<ext>.
# persistence.fail_closed: reject a command whose state cannot be saved
# mqtt: broker used by 'zektor serve' for notifications and triggers
# triggers.progression: {stage, topic, message, blocked_by: [stages]}
#   advances the session in stage when message arrives on topic
# triggers.scoring: {stage, topic, positive, negative} adds positive on a
#   "positive" payload and subtracts negative on a "negative" payload
#
# Every key can be overridden with ZEKTOR_<KEY>, e.g. ZEKTOR_MQTT_ENABLED.

`)
	sb.Write(body)
	return []byte(sb.String()), nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := appconfig.ConfigDir()
	configFile := appconfig.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s\nUse 'zektor config set' to modify values or --force to overwrite", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := DefaultFile()
	if err != nil {
		return fmt.Errorf("failed to render default config: %w", err)
	}
	if err := os.WriteFile(configFile, content, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Edit this file to customize stages, persistence and triggers.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := appconfig.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/zektor/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: ZEKTOR_* (e.g., ZEKTOR_PERSISTENCE_BACKEND), ENVIRONMENT for the profile")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := appconfig.Load()
	if err != nil {
		printValidation(cmd.ErrOrStderr(), err)
		return fmt.Errorf("configuration is invalid")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d stages (%s), %s backend, profile %q\n",
		cfg.NumStages(), strings.Join(cfg.StageLabels(), ", "), cfg.Persistence.Backend, cfg.Env)
	return nil
}

func printValidation(w io.Writer, err error) {
	if verrs, ok := err.(appconfig.ValidationErrors); ok {
		for _, v := range verrs {
			fmt.Fprintf(w, "  - %s\n", v.Error())
		}
		return
	}
	fmt.Fprintf(w, "  - %v\n", err)
}
