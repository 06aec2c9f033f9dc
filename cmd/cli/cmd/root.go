package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"snakeplane/internal/backends"
	"snakeplane/internal/config"
	"snakeplane/internal/registry"
)

var cfgFile string

// plugins holds the executor plugins whose flags are registered on the run command.
var plugins = loadPlugins()

var rootCmd = &cobra.Command{
	Use:   "snakeplane",
	Short: "Snakeplane runs workflow jobs through pluggable remote executors",
	Long: `snakeplane submits workflow jobs to remote execution backends and tracks
them until they reach a terminal state.

Executors are plugins. Every plugin declares its own settings, exposed as
--<plugin>-<setting> flags on the run command and, where allowed, as
SNAKEMAKE_<PLUGIN>_<SETTING> environment variables.

Common workflows:

  List available executor plugins:
    snakeplane plugins

  Run a job file on a cluster:
    snakeplane run jobs.yaml --executor cluster-generic \
      --cluster-generic-submit-cmd "sbatch --parsable"

  Inspect a running host:
    snakeplane status --url http://localhost:6262

Configuration:
  Host settings are read from snakeplane.yaml (or --config) and can be
  overridden with SNAKEPLANE_ prefixed environment variables, e.g.
    SNAKEPLANE_REMOTE_JOBNAME    Jobscript name pattern
    SNAKEPLANE_URL               Status API endpoint (default: http://localhost:6262)
    SNAKEPLANE_TOKEN             Status API token`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search config in the working directory with name "snakeplane"
		viper.AddConfigPath(".")
		viper.SetConfigName("snakeplane")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "SNAKEPLANE_VARNAME"
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func loadPlugins() *registry.Registry {
	reg := registry.New()
	if err := reg.Collect(context.Background(), backends.Builtin()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load executor plugins: %v\n", err)
	}
	return reg
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./snakeplane.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6262", "Status API URL of a running host")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for the status API")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
