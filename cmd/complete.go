package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/abhisek/triplehelix/internal/app"
	"github.com/abhisek/triplehelix/internal/session"
	"github.com/abhisek/triplehelix/internal/snapshot"
)

var completeCmd = &cobra.Command{
	Use:   "complete <stitch-id> <score> <total>",
	Short: "Record a graded attempt of the active stitch",
	Long: `Record a graded attempt of the active stitch of the active tube.

A perfect score (score == total) advances the stitch's skip number and moves
it back in its tube; anything less resets the skip number and keeps it at
the front. The active tube then rotates unless rotate_on_complete is off.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		score, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("score: %w", err)
		}
		total, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("total: %w", err)
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, recovered, err := a.OpenSession(ctx, cfg.LearnerID)
			if err != nil {
				return err
			}
			printRecovered(cmd, recovered)

			out, err := s.Complete(ctx, args[0], score, total)
			if err := a.Settle(s, err); err != nil {
				return err
			}
			printOutcome(cmd, out)
			return nil
		})
	},
}

func printOutcome(cmd *cobra.Command, out session.Outcome) {
	w := cmd.OutOrStdout()
	c := out.Completion
	mark := okMark()
	if !c.Perfect {
		mark = failMark()
	}
	fmt.Fprintf(w, "%s %s %d/%d  skip %d→%d  %s→%s  now at slot %d of %s\n",
		mark, c.StitchID, c.Score, c.Total,
		c.SkipBefore, c.SkipAfter, c.DistractorBefore, c.DistractorAfter,
		c.Slot, tubeLabel(int(c.Tube)))
	if out.Rotated {
		fmt.Fprintf(w, "  active: %s  cycles: %d  points: %d\n", tubeLabel(int(out.ActiveTube)), out.CycleCount, out.TotalPoints)
	}
}

func printSnapshotJSON(cmd *cobra.Command, snap snapshot.Snapshot) error {
	raw, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}
	var pretty any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}
