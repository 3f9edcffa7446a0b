package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/llm"
	"github.com/qninhdt/storycards/internal/session"
	"github.com/qninhdt/storycards/internal/turn"
)

const playHelp = `Type what your character does and press enter.
  /cards   list the active cards
  /prompt  print the current system prompt
  /quit    leave (or Ctrl-D)`

type playFlags struct {
	sessionID int64
	name      string
	activate  []int64
	focusID   int64
	model     string
}

func newPlayCmd(opts *options) *cobra.Command {
	var f playFlags
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a story in the terminal",
		Long:  "Play a story line by line. Without --session a new session is started.\n\n" + playHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd.Context(), func(ctx context.Context, a *app) error {
				return play(ctx, a, f, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().Int64VarP(&f.sessionID, "session", "s", 0, "Session to continue")
	cmd.Flags().StringVar(&f.name, "name", "", "Name of the new session")
	cmd.Flags().Int64SliceVar(&f.activate, "card", nil, "Card ids to activate before playing")
	cmd.Flags().Int64Var(&f.focusID, "focus", 0, "Card to focus the prompt on")
	cmd.Flags().StringVar(&f.model, "model", "", "Model override for the active provider")
	return cmd
}

func play(ctx context.Context, a *app, f playFlags, in io.Reader, out io.Writer) error {
	sess, err := openSession(ctx, a, f)
	if err != nil {
		return err
	}
	for _, id := range f.activate {
		if sess, err = a.sessions.ActivateCard(ctx, sess.ID, id); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "%s (session %d, %s, provider %s)\n%s\n\n",
		sess.Name, sess.ID, plural(len(sess.ActiveCards), "active card"), a.llm.ActiveName(), playHelp)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/cards":
			if err := printActive(ctx, a, sess.ID, out); err != nil {
				return err
			}
			continue
		case "/prompt":
			preview, err := a.orchestrator.Preview(ctx, sess.ID, f.focusID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, preview.SystemPrompt)
			continue
		}

		res, err := a.orchestrator.Play(ctx, turn.Request{
			SessionID: sess.ID,
			Input:     line,
			FocusID:   f.focusID,
			Options:   llm.Options{Model: f.model},
		})
		if err != nil {
			// Failed generations leave the session untouched; the player
			// can retry.
			if apperr.IsCode(err, apperr.CodeGeneration) || apperr.IsCode(err, apperr.CodeValidation) {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			return err
		}

		fmt.Fprintf(out, "\n%s\n\n", res.Response)
		fmt.Fprintf(out, "[turn %d, %s tokens] %s\n", res.TurnNumber, humanize.Comma(int64(res.TokenUsage.TotalTokens)), res.ExtractedEvent)
		for _, c := range res.NewCards {
			fmt.Fprintf(out, "[new card] %s (%s)\n", c.Name, c.Type)
		}
		fmt.Fprintln(out)
	}
}

func openSession(ctx context.Context, a *app, f playFlags) (*session.Session, error) {
	if f.sessionID != 0 {
		return a.sessions.Get(ctx, f.sessionID)
	}
	return a.sessions.Create(ctx, f.name)
}

func printActive(ctx context.Context, a *app, sessionID int64, out io.Writer) error {
	sess, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	active, err := a.cards.GetMany(ctx, sess.ActiveCards)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		fmt.Fprintln(out, "no active cards")
		return nil
	}
	for _, c := range active {
		fmt.Fprintf(out, "  %4d  %-9s %-7s %s (used %s)\n", c.ID, c.Type, c.Rarity, c.Name, humanize.Comma(int64(c.TimesUsed)))
	}
	return nil
}
