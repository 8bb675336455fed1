package cmd

import (
	"github.com/danmuck/datacat/internal/app"
	"github.com/spf13/cobra"
)

var (
	serveAddr string
	serveRoot string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the panel host",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			printError("config", err)
			return err
		}
		if cmd.Flags().Changed("addr") {
			cfg.Addr = serveAddr
		}
		if cmd.Flags().Changed("root") {
			cfg.ExtensionRoot = serveRoot
		}
		if err := app.NewService(cfg).Run(); err != nil {
			printError("serve", err)
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveRoot, "root", "", "extension root (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
