package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show node and edge counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.Close()

		stats, err := rt.store.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "store: %s\n", rt.where)
		fmt.Fprintf(out, "nodes: %s\n", humanize.Comma(int64(stats.Nodes)))
		fmt.Fprintf(out, "edges: %s\n", humanize.Comma(int64(stats.Edges)))
		return nil
	},
}
