package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/telefonbuch-scraper/internal/queryspace"
)

// newStatusCmd creates the 'status' subcommand, which reports how much of
// the key space is already stored.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Shows how many keys and records are stored",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			space, err := queryspace.New(rt.cfg.Query.Alphabet, rt.cfg.Query.Length)
			if err != nil {
				return fmt.Errorf("key space: %w", err)
			}
			a, err := newApp(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			defer a.Close()

			stats, err := a.Store().Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "table:   %s (%s)\n", rt.cfg.Store.Table, rt.cfg.Store.Driver)
			fmt.Fprintf(out, "keys:    %d of %d\n", stats.Keys, space.Len())
			fmt.Fprintf(out, "records: %d\n", stats.Records)
			fmt.Fprintf(out, "max id:  %d\n", stats.MaxID)
			return nil
		},
	}
}
