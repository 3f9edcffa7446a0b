package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qninhdt/storycards/internal/agents"
)

func newGenerateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "generate [theme]",
		Short: "Draft a world and its cards with the LLM",
		Long:  "Ask the active LLM provider for a world card and a handful of linked cards around a theme. Without a theme the model picks one.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), func(ctx context.Context, a *app) error {
				arch := agents.NewArchitect(a.llm, a.cards, a.logger.Named("architect"))
				res, err := arch.Build(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%4d  %-9s %s\n", res.World.ID, res.World.Type, res.World.Name)
				for _, c := range res.Cards {
					fmt.Fprintf(out, "%4d  %-9s %s (parent %d)\n", c.ID, c.Type, c.Name, c.PrimaryParent())
				}
				fmt.Fprintf(out, "%s cards, %s tokens\n",
					humanize.Comma(int64(len(res.Cards)+1)), humanize.Comma(int64(res.Usage.TotalTokens)))
				return nil
			})
		},
	}
}
