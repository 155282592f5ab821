package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "RACESIM"

// configKeys maps persistent flags onto config keys.
var configKeys = map[string]string{
	"database-url": "DATABASE_URL",
	"redis-url":    "REDIS_URL",
	"log-level":    "LOG_LEVEL",
	"workers":      "SIMULATION_WORKERS",
}

// NewRootCmd builds the racesim command tree around its own viper instance.
func NewRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "racesim",
		Short:         "Monte Carlo race simulation and DFS lineup building for NASCAR and F1",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd, v, cfgFile)
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.racesim.yml)")
	rootCmd.PersistentFlags().String("database-url", "",
		"postgres:// URL or sqlite path for stored runs")
	rootCmd.PersistentFlags().String("redis-url", "",
		"Redis URL for the result cache")
	rootCmd.PersistentFlags().String("log-level", "",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("workers", 0,
		"simulation workers (0 = one per CPU)")

	rootCmd.AddCommand(
		newSimulateCmd(v),
		newGTOCmd(v),
		newBuildCmd(v),
		newMigrateCmd(v),
		newPruneCmd(v),
		newSampleCmd(),
	)
	return rootCmd
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".racesim")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", v.ConfigFileUsed())
	} else if cfgFile != "" {
		return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
	}

	bindFlags(cmd, v)
	return nil
}

// Bind each cobra flag to its associated viper configuration
// (config file and environment variable)
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// --database-url is bound to RACESIM_DATABASE_URL
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name, fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Could not bind env var %s: %v\n", f.Name, err)
			}
		}
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Could not set flag value for %s: %v\n", f.Name, err)
			}
		}
	})
}
