package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/danmuck/datacat/internal/connstore"
	"github.com/spf13/cobra"
)

var (
	connDriver string
	connDSN    string
)

var connCmd = &cobra.Command{
	Use:   "conn",
	Short: "Manage stored connections",
}

var connAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a connection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *connstore.Store) error {
			conn, err := store.Add(cmd.Context(), connstore.Connection{
				Name:   args[0],
				Driver: connDriver,
				DSN:    connDSN,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", conn.Name, conn.Driver)
			return nil
		})
	},
}

var connListCmd = &cobra.Command{
	Use:   "list",
	Short: "List connections and their tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *connstore.Store) error {
			conns, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDRIVER\tTABLES")
			for _, conn := range conns {
				tables, err := store.TableNames(cmd.Context(), conn.Name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%d\n", conn.Name, conn.Driver, len(tables))
			}
			return w.Flush()
		})
	},
}

var connRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a connection and its cached tables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *connstore.Store) error {
			if err := store.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		})
	},
}

var connImportCmd = &cobra.Command{
	Use:   "import-table <connection> <table> <rows.json|->",
	Short: "Store the row payload shown when a table panel opens",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(cmd, args[2])
		if err != nil {
			return err
		}
		return withStore(cmd, func(store *connstore.Store) error {
			if err := store.PutTable(cmd.Context(), args[0], args[1], json.RawMessage(raw)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s.%s (%d bytes)\n", args[0], args[1], len(raw))
			return nil
		})
	},
}

func init() {
	connAddCmd.Flags().StringVar(&connDriver, "driver", "", "database driver name")
	connAddCmd.Flags().StringVar(&connDSN, "dsn", "", "connection string")
	_ = connAddCmd.MarkFlagRequired("driver")
	connCmd.AddCommand(connAddCmd, connListCmd, connRemoveCmd, connImportCmd)
	rootCmd.AddCommand(connCmd)
}

func withStore(cmd *cobra.Command, fn func(store *connstore.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		printError("config", err)
		return err
	}
	store, err := connstore.Open(cfg.DatabasePath)
	if err != nil {
		printError("store", err)
		return err
	}
	defer store.Close()
	if err := fn(store); err != nil {
		printError(cmd.Name(), err)
		return err
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
