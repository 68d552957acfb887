package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// cfg is the layered configuration, loaded in PersistentPreRunE.
	cfg        *config.Config
	configPath string
)

// Version is the application version.
const Version = "0.1.0"

// flagKeys maps flags whose name does not match their config key.
var flagKeys = map[string]string{
	"db": "db_url",
}

var rootCmd = &cobra.Command{
	Use:     "facewatch",
	Short:   "Live face matching against a gallery of known identities",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath, flagOverrides(cmd.Flags()))
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return err
		}

		// stdout may carry MJPEG, so logs always go to stderr.
		if err := logger.Init(os.Stderr, loaded.LogFormat, false); err != nil {
			return err
		}
		if err := logger.SetLevelString(loaded.LogLevel); err != nil {
			return fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
		}
		cfg = loaded
		return nil
	},
}

// flagOverrides returns the explicitly set flags keyed by config key,
// so an unset flag never masks the file or the environment.
func flagOverrides(fs *pflag.FlagSet) map[string]string {
	out := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		key, ok := flagKeys[f.Name]
		if !ok {
			key = strings.ReplaceAll(f.Name, "-", "_")
		}
		out[key] = f.Value.String()
	})
	return out
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaults := config.New()
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $FACEWATCH_CONFIG)")
	rootCmd.PersistentFlags().String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", defaults.LogFormat, "Log format: text or json")
	rootCmd.PersistentFlags().String("db", defaults.DBURL, "PostgreSQL connection string")
}
