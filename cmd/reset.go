package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/andresmejia3/facewatch/internal/store"
	"github.com/andresmejia3/facewatch/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetTables bool
	resetYes    bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the published top match, and optionally the database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runReset(cmd.Context(), cfg, bufio.NewReader(os.Stdin))
	},
}

func init() {
	addStateFlags(resetCmd.Flags())
	resetCmd.Flags().BoolVar(&resetTables, "tables", false, "Also DROP the gallery cache and state tables in PostgreSQL")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func runReset(ctx context.Context, c *config.Config, in *bufio.Reader) error {
	switch c.StateBackend {
	case config.BackendMemory:
		fmt.Println("ℹ️  Memory state backend: nothing persisted to clear.")
	default:
		if resetYes || confirm(os.Stdout, in, fmt.Sprintf("⚠️  Clear the top match in the %s backend?", c.StateBackend)) {
			backend, release, err := openStateStore(ctx, c)
			if err != nil {
				utils.ShowError("Failed to open state backend", err, nil)
				return err
			}
			err = backend.ClearTopMatch(ctx)
			release()
			if err != nil {
				utils.ShowError("Failed to clear top match", err, nil)
				return err
			}
			fmt.Println("🗑️  Top match cleared.")
		}
	}

	if resetTables && (resetYes || confirm(os.Stdout, in, "⚠️  Are you sure you want to DROP all database tables?")) {
		db, err := store.New(ctx, c.DBURL)
		if err != nil {
			utils.ShowError("Failed to connect to database", err, nil)
			return err
		}
		defer db.Close()
		fmt.Println("🗑️  Dropping tables...")
		if err := db.Reset(ctx); err != nil {
			utils.ShowError("Failed to reset database", err, nil)
			return err
		}
	}

	fmt.Println("✨ Reset Complete.")
	return nil
}

func confirm(out io.Writer, r *bufio.Reader, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
