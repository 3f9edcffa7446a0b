package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qninhdt/storycards/internal/llm"
)

type echoProvider struct{}

func (echoProvider) Name() string { return llm.ProviderOpenAI }

func (echoProvider) GenerateResponse(_ context.Context, _, input string, _ []llm.Message, _ llm.Options) (*llm.Response, error) {
	content := "You " + input + " and the fog parts."
	return &llm.Response{Content: content, Usage: llm.EstimateUsage(input, content)}, nil
}

func (echoProvider) ExtractKeyEvent(context.Context, string) (string, error) {
	return "The fog parted", nil
}

func (echoProvider) TestConnection(context.Context) llm.Status {
	return llm.Status{Provider: llm.ProviderOpenAI, Success: true}
}

func (echoProvider) Models(context.Context) ([]llm.Model, error) { return nil, nil }

// execute runs one command against dbPath and returns its stdout
func execute(t *testing.T, dbPath, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "error")
	root := newRootCmd(&options{stub: echoProvider{}})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--db", dbPath, "--driver", "sqlite"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeedIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cards.db")

	out, err := execute(t, dbPath, "", "seed")
	require.NoError(t, err)
	assert.Equal(t, "seeded 30 cards (0 already present)\n", out)

	out, err = execute(t, dbPath, "", "seed")
	require.NoError(t, err)
	assert.Equal(t, "seeded 0 cards (30 already present)\n", out)
}

func TestPlayThenInspect(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "story.db")
	_, err := execute(t, dbPath, "", "seed")
	require.NoError(t, err)

	out, err := execute(t, dbPath, "look around\n\n/cards\n/quit\n", "play", "--name", "Foggy Night", "--card", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Foggy Night (session 1, 1 active card")
	assert.Contains(t, out, "You look around and the fog parts.")
	assert.Contains(t, out, "[turn 1, ")
	assert.Contains(t, out, "The fog parted")
	assert.Contains(t, out, "(used 1)")

	out, err = execute(t, dbPath, "wait\n", "play", "--session", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "[turn 2, ")

	out, err = execute(t, dbPath, "", "history", "--session", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Foggy Night (2 turns")
	assert.Contains(t, out, "#1 ")
	assert.Contains(t, out, "> look around")
	assert.Contains(t, out, "> wait")
	assert.Contains(t, out, "Recent events:")

	out, err = execute(t, dbPath, "", "prompt", "--session", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 active cards")
	assert.Contains(t, out, " mode, ")
}

func TestPlayReportsRejectedInputWithoutStopping(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "story.db")
	out, err := execute(t, dbPath, strings.Repeat("x", 5000)+"\nhello\n", "play")
	require.NoError(t, err)
	assert.Contains(t, out, "! ")
	assert.Contains(t, out, "[turn 1, ")
}

func TestCommandErrors(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "story.db")

	_, err := execute(t, dbPath, "", "history", "--session", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	_, err = execute(t, dbPath, "", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "session" not set`)

	_, err = execute(t, dbPath, "", "--provider", "skynet", "seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

type architectProvider struct{ echoProvider }

func (architectProvider) GenerateResponse(context.Context, string, string, []llm.Message, llm.Options) (*llm.Response, error) {
	return &llm.Response{Content: `{"name": "Dunmoor", "description": "Moors under a red sky.",
		"cards": [{"name": "Cairn Hill", "type": "Location", "prompt": "Stones older than memory."}]}`}, nil
}

func TestGenerate(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	dbPath := filepath.Join(t.TempDir(), "gen.db")
	root := newRootCmd(&options{stub: architectProvider{}})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--db", dbPath, "--driver", "sqlite", "generate", "red", "moors"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "World     Dunmoor")
	assert.Contains(t, out.String(), "Cairn Hill (parent 1)")
	assert.Contains(t, out.String(), "2 cards, 0 tokens")
}
