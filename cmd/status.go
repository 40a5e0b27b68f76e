package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/triplehelix/internal/app"
	"github.com/abhisek/triplehelix/internal/ui/layout"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the learner's tubes and the active stitch",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, _ := cmd.Flags().GetInt("rows")
		asJSON, _ := cmd.Flags().GetBool("json")

		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, recovered, err := a.OpenSession(ctx, cfg.LearnerID)
			if err != nil {
				return err
			}
			printRecovered(cmd, recovered)

			if asJSON {
				return printSnapshotJSON(cmd, s.Snapshot())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, layout.RenderTubeSet(s.TubeSet(), titleLookup(a), rows))
			if active, ok := s.TubeSet().ActiveStitch(); ok {
				fmt.Fprintf(out, "\nNext: %s (%s)\n", active.ID, titleLookup(a)(active.ID))
			}
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().Int("rows", 8, "Max slots shown per tube (0 = all)")
	statusCmd.Flags().Bool("json", false, "Print the snapshot as JSON")
}

func titleLookup(a *app.App) layout.TitleFunc {
	return func(id string) string {
		st, err := a.Catalog.Stitch(id)
		if err != nil {
			return ""
		}
		return st.Title
	}
}
