package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newPromptCmd(opts *options) *cobra.Command {
	var sessionID, focusID int64
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the system prompt the next turn would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), func(ctx context.Context, a *app) error {
				preview, err := a.orchestrator.Preview(ctx, sessionID, focusID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, preview.SystemPrompt)
				fmt.Fprintf(out, "\n-- %s mode, %d active cards, ~%s tokens",
					preview.Composition.Mode, preview.ActiveCardCount, humanize.Comma(int64(preview.TokenReport.Total)))
				if preview.Composition.Degraded {
					fmt.Fprint(out, ", trimmed to budget")
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}
	cmd.Flags().Int64VarP(&sessionID, "session", "s", 0, "Session id")
	cmd.Flags().Int64Var(&focusID, "focus", 0, "Card to focus on (default: chosen by type priority)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
