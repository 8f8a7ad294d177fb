// Package cmd implements the hive command-line interface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/silhouette/hive/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "Adaptive task-to-team scheduler",
	Long: `Hive schedules prioritized tasks across worker teams, matching work
to the team with the best capability fit, available headroom, and track
record. A background optimizer rebalances queued work and tunes team
capacity as load shifts.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/hive/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
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
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HIVE")
	// Replace dots with underscores for nested keys in env vars
	// e.g., HIVE_DISPATCH_INTERVAL_MS for dispatch.interval_ms
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
