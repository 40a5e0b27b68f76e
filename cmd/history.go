package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/triplehelix/internal/app"
	"github.com/abhisek/triplehelix/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent graded attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		stitch, _ := cmd.Flags().GetString("stitch")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			events, err := a.Events.QueryCompletions(ctx, cfg.LearnerID, store.QueryOpts{Limit: limit})
			if err != nil {
				return fmt.Errorf("query events: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, "No attempts recorded.")
				return nil
			}

			// Header.
			fmt.Fprintf(out, "%-19s  %-4s  %-18s  %-7s  %-9s  %-7s  %s\n",
				"Timestamp", "Tube", "Stitch", "Score", "Skip", "Level", "OK")
			fmt.Fprintln(out, strings.Repeat("─", 80))

			for _, e := range events {
				if stitch != "" && e.StitchID != stitch {
					continue
				}
				ok := okMark()
				if !e.Perfect {
					ok = failMark()
				}
				fmt.Fprintf(out, "%-19s  %-4d  %-18s  %-7s  %-9s  %-7s  %s\n",
					e.Timestamp.Local().Format("2006-01-02 15:04:05"),
					e.TubeNumber,
					e.StitchID,
					fmt.Sprintf("%d/%d", e.Score, e.Total),
					fmt.Sprintf("%d→%d", e.SkipBefore, e.SkipAfter),
					e.DistractorBefore+"→"+e.DistractorAfter,
					ok,
				)
			}
			return nil
		})
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Max attempts to show (0 = all)")
	historyCmd.Flags().String("stitch", "", "Only show attempts of this stitch")
}
