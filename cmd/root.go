package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abhisek/triplehelix/internal/app"
	"github.com/abhisek/triplehelix/internal/config"
	"github.com/abhisek/triplehelix/internal/logging"
)

var (
	cfg    config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "helix",
	Short: "Triple-Helix spaced repetition scheduler",
	Long: `helix schedules practice across three parallel tubes of content.

Each tube is an ordered queue of stitches. Completing the active stitch
perfectly pushes it back by its skip number; anything less keeps it in front.
The active tube rotates 1 → 2 → 3 → 1.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (overrides HELIX_CONFIG env var)")
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides HELIX_DB env var)")
	rootCmd.PersistentFlags().String("learner", "", "Learner id (overrides HELIX_LEARNER env var)")
	rootCmd.PersistentFlags().String("catalog", "", "Path to a content catalog YAML file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging to stderr")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup resolves the configuration (flags over env over file over defaults)
// and builds the logger.
func setup(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		loaded.DBPath = p
	}
	if l, _ := cmd.Flags().GetString("learner"); l != "" {
		loaded.LearnerID = l
	}
	if c, _ := cmd.Flags().GetString("catalog"); c != "" {
		loaded.CatalogPath = c
	}
	cfg = loaded

	verbose, _ := cmd.Flags().GetBool("verbose")
	l, err := logging.New(cfg.LogLevel, verbose)
	if err != nil {
		return err
	}
	logger = l
	return nil
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.Open(app.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, a)
}

// printRecovered tells the user a broken snapshot was replaced.
func printRecovered(cmd *cobra.Command, recovered error) {
	if recovered != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s stored progress was unreadable and has been reset: %v\n", warnMark(), recovered)
	}
}
