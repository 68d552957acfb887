package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/andresmejia3/facewatch/internal/matchstate"
	"github.com/andresmejia3/facewatch/internal/utils"
	"github.com/spf13/cobra"
)

var watchJSON bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the top match published by a running `facewatch run`",
	Long: `Polls the file or postgres state backend and prints every new top match.
The memory backend lives inside the run process and cannot be watched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runWatch(cmd.Context(), cfg, os.Stdout)
	},
}

func init() {
	addStateFlags(watchCmd.Flags())
	watchCmd.Flags().Duration("status-interval", config.New().StatusInterval, "Polling interval")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print one JSON record per line")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(ctx context.Context, c *config.Config, out io.Writer) error {
	if c.StateBackend == config.BackendMemory {
		err := fmt.Errorf("%w: watch needs the file or postgres state backend", config.ErrInvalidConfig)
		utils.ShowError("Nothing to watch", err, nil)
		return err
	}

	if c.StatusInterval <= 0 {
		err := fmt.Errorf("%w: status_interval must be positive to watch, got %s", config.ErrInvalidConfig, c.StatusInterval)
		utils.ShowError("Invalid polling interval", err, nil)
		return err
	}

	backend, release, err := openStateStore(ctx, c)
	if err != nil {
		utils.ShowError("Failed to open state backend", err, nil)
		return err
	}
	defer release()

	fmt.Fprintf(os.Stderr, "👀 Watching %s state every %s (Ctrl+C to stop)\n", c.StateBackend, c.StatusInterval)
	return matchstate.Poll(ctx, backend, c.StatusInterval, func(rec matchstate.Record) {
		printRecord(out, rec, watchJSON)
	})
}

func printRecord(out io.Writer, rec matchstate.Record, asJSON bool) {
	if asJSON {
		_ = json.NewEncoder(out).Encode(rec)
		return
	}
	fmt.Fprintf(out, "%s  👤 %-20s %6.2f%%  %s\n",
		rec.UpdatedAt.Local().Format(time.TimeOnly), rec.DisplayName, rec.Similarity, rec.ReferenceImage)
}
