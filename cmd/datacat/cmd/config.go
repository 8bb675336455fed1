package cmd

import (
	"fmt"

	"github.com/danmuck/datacat/internal/config"
	"github.com/spf13/cobra"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write or check the config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config template to --config",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteTemplate(cfgFile, configForce); err != nil {
			printError("config init", err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", cfgFile)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate --config",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(cfgFile); err != nil {
			printError("config validate", err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "validated config at %s\n", cfgFile)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
