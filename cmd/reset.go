package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/triplehelix/internal/app"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset learner data",
	Long: `Delete every stored snapshot and the attempt history of the learner.
The next command starts from a fresh content assignment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return errors.New("refusing to reset without --yes")
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Outbox.Remove(cfg.LearnerID); err != nil {
				return fmt.Errorf("clear outbox: %w", err)
			}
			if err := a.Snapshots.Delete(ctx, cfg.LearnerID); err != nil {
				return fmt.Errorf("delete snapshots: %w", err)
			}
			if err := a.Events.DeleteCompletions(ctx, cfg.LearnerID); err != nil {
				return fmt.Errorf("delete history: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s reset learner %s\n", okMark(), cfg.LearnerID)
			return nil
		})
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "Confirm the reset")
}
