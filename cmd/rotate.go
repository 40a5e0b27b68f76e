package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/abhisek/triplehelix/internal/app"
	"github.com/abhisek/triplehelix/internal/snapshot"
	"github.com/abhisek/triplehelix/internal/spacedrep"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Advance the active tube (1 → 2 → 3 → 1)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, recovered, err := a.OpenSession(ctx, cfg.LearnerID)
			if err != nil {
				return err
			}
			printRecovered(cmd, recovered)

			snap, err := s.Cycle(ctx)
			if err := a.Settle(s, err); err != nil {
				return err
			}
			printActive(cmd, snap)
			return nil
		})
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <tube>",
	Short: "Make a tube active without counting a cycle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("tube: %w", err)
		}

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, recovered, err := a.OpenSession(ctx, cfg.LearnerID)
			if err != nil {
				return err
			}
			printRecovered(cmd, recovered)

			snap, err := s.Select(ctx, spacedrep.TubeNumber(n))
			if err := a.Settle(s, err); err != nil {
				return err
			}
			printActive(cmd, snap)
			return nil
		})
	},
}

func printActive(cmd *cobra.Command, snap snapshot.Snapshot) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s active: %s  cycles: %d\n", okMark(), tubeLabel(snap.ActiveTube), snap.CycleCount)
}
