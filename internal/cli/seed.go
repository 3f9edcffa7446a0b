package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qninhdt/storycards/internal/seed"
)

func newSeedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Install the built-in system and starter cards",
		Long:  "Install the built-in system and starter cards. Cards already present are skipped, so seeding twice is safe.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), func(ctx context.Context, a *app) error {
				res, err := seed.Seed(ctx, a.cards, a.logger.Named("seed"))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d cards (%d already present)\n", res.Added, res.Skipped)
				return nil
			})
		},
	}
}
