package cmd

import (
	"strings"

	cfgcmd "github.com/Iron-Ham/zektor/internal/cmd/config"
	"github.com/Iron-Ham/zektor/internal/cmd/session"
	"github.com/Iron-Ham/zektor/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "zektor",
	Short: "Session lifecycle and stage occupancy manager",
	Long: `Zektor tracks sessions as they move through an ordered line of stages.
Each stage holds at most one session at a time. Sessions are started,
advanced one stage at a time and scored, and the state is saved after
every change so a restart picks up where the last run stopped.

Run 'zektor serve' for the interactive console with broker triggers and
notifications, or use the one-shot commands below.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/zektor/config.yaml)")
	flags.StringP("env", "e", "", "state profile, e.g. development or production (env: ENVIRONMENT)")
	flags.StringP("data-dir", "d", "", "directory for state, logs and locks (default: current directory)")
	flags.String("backend", "", "persistence backend: json or sqlite")
	flags.Bool("no-color", false, "disable colors in the stage board")

	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("env", flags.Lookup("env"))
	_ = viper.BindPFlag("persistence.data_dir", flags.Lookup("data-dir"))
	_ = viper.BindPFlag("persistence.backend", flags.Lookup("backend"))
	_ = viper.BindPFlag("no_color", flags.Lookup("no-color"))

	session.Register(rootCmd)
	cfgcmd.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/zektor")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ZEKTOR")
	// Replace dots with underscores for nested keys in env vars
	// e.g., ZEKTOR_PERSISTENCE_BACKEND for persistence.backend
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// The profile also follows the conventional ENVIRONMENT variable
	_ = viper.BindEnv("env", "ZEKTOR_ENV", "ENVIRONMENT")

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
