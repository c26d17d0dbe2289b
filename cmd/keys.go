package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/telefonbuch-scraper/internal/queryspace"
)

// newKeysCmd creates the 'keys' subcommand, which prints the key space in
// scrape order.
func newKeysCmd() *cobra.Command {
	var count bool
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Prints the search keys in the order they are scraped",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			space, err := queryspace.New(rt.cfg.Query.Alphabet, rt.cfg.Query.Length)
			if err != nil {
				return fmt.Errorf("key space: %w", err)
			}
			out := cmd.OutOrStdout()
			if count {
				fmt.Fprintln(out, space.Len())
				return nil
			}
			for key := range space.All() {
				fmt.Fprintln(out, key)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&count, "count", false, "print only the number of keys")
	return cmd
}
