package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *options) *cobra.Command {
	var sessionID int64
	var full bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a session's turns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), func(ctx context.Context, a *app) error {
				sess, err := a.sessions.Get(ctx, sessionID)
				if err != nil {
					return err
				}
				turns, err := a.orchestrator.History(ctx, sessionID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s (%s, updated %s)\n", sess.Name,
					plural(len(turns), "turn"), humanize.Time(sess.UpdatedAt))
				for _, t := range turns {
					fmt.Fprintf(out, "\n#%d  %s  %s tokens\n", t.TurnNumber, humanize.Time(t.CreatedAt), humanize.Comma(int64(t.TokenCount)))
					fmt.Fprintf(out, "> %s\n", t.PlayerInput)
					response := t.LLMResponse
					if !full {
						response = truncate(response, 240)
					}
					fmt.Fprintln(out, response)
				}

				mem := sess.Memory()
				if loc := mem.Location(); loc != "" {
					fmt.Fprintf(out, "\nLocation: %s\n", loc)
				}
				if events := mem.RecentEvents(); len(events) > 0 {
					fmt.Fprintln(out, "\nRecent events:")
					for _, e := range events {
						fmt.Fprintf(out, "  - %s\n", e.Description)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64VarP(&sessionID, "session", "s", 0, "Session id")
	cmd.Flags().BoolVar(&full, "full", false, "Print responses untruncated")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}

// truncate shortens s to at most n runes, collapsing newlines
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
