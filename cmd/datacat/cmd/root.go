package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/danmuck/datacat/internal/config"
	"github.com/danmuck/datacat/internal/logging"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "datacat.toml"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "datacat",
	Short: "datacat - database connection browser",
	Long: `datacat keeps a list of database connections and opens one panel per
table in the browser. Panels are served by a local HTTP host.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.ConfigureRuntime()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file")
}

// loadConfig reads --config. A missing default file falls back to defaults;
// a missing explicit file is an error.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		return config.DefaultConfig(), nil
	}
	return config.Config{}, err
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "datacat: %s: %v\n", msg, err)
}
