package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abhisek/triplehelix/internal/content"
	"github.com/abhisek/triplehelix/internal/snapshot"
)

// version is set via -ldflags at build time.
var version = "(devel)"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the binary version and the data formats it reads",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "helix", version)
		fmt.Fprintf(out, "snapshot format v%d (reads v%d)\n", snapshot.FormatVersion, snapshot.LegacyFormatVersion)
		fmt.Fprintf(out, "catalog format v%d\n", content.CatalogVersion)
	},
}
