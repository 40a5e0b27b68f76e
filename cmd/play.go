package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/abhisek/triplehelix/internal/app"
	"github.com/abhisek/triplehelix/internal/ui/theme"
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Start a practice session",
	Long: `Practice the active stitch, round after round.

Each round asks every item of the active stitch, grades the answers and
records the attempt. Rotation moves to the next tube between rounds.
An empty answer or end of input stops the session.`,
	RunE: runPlay,
}

func init() {
	playCmd.Flags().Int("rounds", 3, "Number of stitches to practice")
	playCmd.Flags().Bool("metrics", false, "Print session metrics to stderr when done")
}

func runPlay(cmd *cobra.Command, args []string) error {
	rounds, _ := cmd.Flags().GetInt("rounds")
	showMetrics, _ := cmd.Flags().GetBool("metrics")

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		s, recovered, err := a.OpenSession(ctx, cfg.LearnerID)
		if err != nil {
			return err
		}
		printRecovered(cmd, recovered)

		out := cmd.OutOrStdout()
		scanner := bufio.NewScanner(cmd.InOrStdin())

		played := 0
	practice:
		for round := 1; round <= rounds; round++ {
			active, ok := s.TubeSet().ActiveStitch()
			if !ok {
				return fmt.Errorf("active tube is empty")
			}
			st, err := a.Catalog.Stitch(active.ID)
			if err != nil {
				return fmt.Errorf("stitch %s: %w", active.ID, err)
			}

			fmt.Fprintf(out, "── Round %d/%d · %s · %s ──\n", round, rounds, tubeLabel(int(s.TubeSet().ActiveTube)), theme.Title.Render(st.Title))

			score := 0
			for i, item := range st.Items {
				fmt.Fprintf(out, "%d) %s\nYour answer: ", i+1, item.Prompt)
				if !scanner.Scan() {
					fmt.Fprintln(out, "\n(input closed)")
					break practice
				}
				answer := strings.TrimSpace(scanner.Text())
				if answer == "" {
					fmt.Fprintln(out, "(stopped)")
					break practice
				}
				if item.Correct(answer) {
					score++
					fmt.Fprintln(out, theme.Correct.Render("✓ Correct!"))
				} else {
					fmt.Fprintf(out, "%s Answer: %s\n", theme.Incorrect.Render("✗ Wrong."), item.Answer)
				}
			}

			res, err := s.Complete(ctx, active.ID, score, len(st.Items))
			if err := a.Settle(s, err); err != nil {
				return err
			}
			printOutcome(cmd, res)
			fmt.Fprintln(out)
			played++
		}

		if err := a.Checkpoint(ctx, s); err != nil {
			return err
		}
		snap := s.Snapshot()
		fmt.Fprintf(out, "── %d rounds · %s points ──\n", played, theme.Score.Render(fmt.Sprint(snap.TotalPoints)))

		if showMetrics {
			return writeMetrics(cmd.ErrOrStderr(), a)
		}
		return nil
	})
}

func writeMetrics(w io.Writer, a *app.App) error {
	families, err := a.Registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
