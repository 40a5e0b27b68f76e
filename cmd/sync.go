package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/abhisek/triplehelix/internal/app"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Deliver snapshots queued while the database was unavailable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			out := cmd.OutOrStdout()

			pending, err := a.Outbox.Pending()
			if err != nil {
				return err
			}
			history, err := a.Outbox.PendingHistory()
			if err != nil {
				return err
			}
			if len(pending) == 0 && len(history) == 0 {
				fmt.Fprintln(out, "Nothing to sync.")
				return nil
			}

			res, err := a.Outbox.Drain(ctx, a.Snapshots)
			if err != nil {
				return err
			}
			hres, err := a.Outbox.DrainHistory(ctx, a.Events)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s delivered %d snapshot(s), %d attempt(s)\n", okMark(), res.Delivered, hres.Delivered)
			if dropped := res.Dropped + hres.Dropped; dropped > 0 {
				fmt.Fprintf(out, "%s dropped %d unreadable queue entries\n", warnMark(), dropped)
			}
			for l, err := range hres.Failed {
				if _, seen := res.Failed[l]; !seen {
					res.Failed[l] = err
				}
			}

			learners := make([]string, 0, len(res.Failed))
			for l := range res.Failed {
				learners = append(learners, l)
			}
			sort.Strings(learners)
			for _, l := range learners {
				fmt.Fprintf(out, "%s %s: %v\n", failMark(), l, res.Failed[l])
			}
			if len(learners) > 0 {
				return fmt.Errorf("%d learner(s) still pending", len(learners))
			}
			return nil
		})
	},
}
