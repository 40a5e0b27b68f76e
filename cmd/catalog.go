package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abhisek/triplehelix/internal/app"
	"github.com/abhisek/triplehelix/internal/spacedrep"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Browse the content catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stitches per tube (optionally a single tube)",
	RunE: func(cmd *cobra.Command, args []string) error {
		tube, _ := cmd.Flags().GetInt("tube")

		c, err := app.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return err
		}

		tubes := []spacedrep.TubeNumber{spacedrep.Tube1, spacedrep.Tube2, spacedrep.Tube3}
		if tube != 0 {
			n := spacedrep.TubeNumber(tube)
			if !n.Valid() {
				return fmt.Errorf("tube must be 1, 2 or 3, got %d", tube)
			}
			tubes = []spacedrep.TubeNumber{n}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-6s  %-24s  %-36s  %s\n", "Tube", "ID", "Title", "Items")
		fmt.Fprintln(out, strings.Repeat("─", 80))

		count := 0
		for _, n := range tubes {
			th, _ := c.Thread(n)
			for _, st := range th.Stitches {
				title := st.Title
				if len(title) > 36 {
					title = title[:33] + "..."
				}
				fmt.Fprintf(out, "%-6d  %-24s  %-36s  %d\n", n, st.ID, title, len(st.Items))
				count++
			}
		}

		fmt.Fprintf(out, "\n%d stitches\n", count)
		return nil
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show <stitch-id>",
	Short: "Show a stitch and its practice items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := app.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return err
		}
		meta, err := c.ResolveStitchMetadata(args[0])
		if err != nil {
			return err
		}
		st, err := c.Stitch(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s  %s\n", st.ID, st.Title)
		fmt.Fprintf(out, "%s, thread %s, position %d\n\n", tubeLabel(int(meta.Tube)), meta.ThreadID, meta.Order+1)
		for i, it := range st.Items {
			fmt.Fprintf(out, "%3d. %-28s %s\n", i+1, it.Prompt, it.Answer)
		}
		return nil
	},
}

func init() {
	catalogListCmd.Flags().Int("tube", 0, "Only list stitches of this tube (1, 2 or 3)")

	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogShowCmd)
}
