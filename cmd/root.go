package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	verbose     bool
	configDir   string
	projectRoot string

	logLevel = new(slog.LevelVar)
	logger   = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
)

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Recall - capture and search your memories",
	Long: `Recall stores notes, decisions and snippets and finds them again with
full-text, semantic and entity-graph search.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			logLevel.Set(slog.LevelDebug)
		}
		if configDir != "" {
			// storage.ResolveDirs reads this once on first use
			return os.Setenv("RECALL_CONFIG_DIR", configDir)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Override the configuration directory")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project-root", ".", "Project root searched for .recall/config.yaml")

	slog.SetDefault(logger)
}

// Execute runs the root command, cancelling its context on SIGINT or
// SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
