package script

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stageFunc adapts a function to the Stage interface
type stageFunc func(ctx context.Context, sc Context) (*Output, error)

func (f stageFunc) Execute(ctx context.Context, sc Context) (*Output, error) {
	return f(ctx, sc)
}

func recorder(calls *[]string, name string) stageFunc {
	return func(_ context.Context, _ Context) (*Output, error) {
		*calls = append(*calls, name)
		return &Output{}, nil
	}
}

func strPtr(s string) *string { return &s }

// TestRunOrder tests ascending order with ties kept in registration order
func TestRunOrder(t *testing.T) {
	var calls []string
	p := NewPipeline(nil)
	p.Register("late", recorder(&calls, "late"), 50)
	p.Register("tie-a", recorder(&calls, "tie-a"), 10)
	p.Register("tie-b", recorder(&calls, "tie-b"), 10)
	p.Register("default", recorder(&calls, "default"), DefaultOrder)

	if _, err := p.Run(context.Background(), Context{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"tie-a", "tie-b", "late", "default"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("Expected order %v, got %v", want, calls)
	}
}

// TestContextAccumulates tests that later stages see earlier updates
func TestContextAccumulates(t *testing.T) {
	var seen string
	p := NewPipeline(nil,
		Registration{Name: "first", Order: 1, Stage: stageFunc(func(_ context.Context, _ Context) (*Output, error) {
			return &Output{ContextUpdates: Updates{MemorySummary: strPtr("from first")}}, nil
		})},
		Registration{Name: "second", Order: 2, Stage: stageFunc(func(_ context.Context, sc Context) (*Output, error) {
			seen = sc.MemorySummary
			return nil, nil
		})},
	)

	run, err := p.Run(context.Background(), Context{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if seen != "from first" {
		t.Errorf("Second stage saw %q", seen)
	}
	if run.Context.MemorySummary != "from first" {
		t.Errorf("Final context lost update: %q", run.Context.MemorySummary)
	}
}

// TestFaultContainment tests that a failing or panicking stage does not stop
// later stages
func TestFaultContainment(t *testing.T) {
	p := NewPipeline(nil,
		Registration{Name: "a", Order: 1, Stage: stageFunc(func(_ context.Context, _ Context) (*Output, error) {
			return &Output{ContextUpdates: Updates{Extra: map[string]any{"a": true}}}, nil
		})},
		Registration{Name: "b", Order: 2, Stage: stageFunc(func(_ context.Context, sc Context) (*Output, error) {
			sc.Inventory = &Inventory{Items: []Item{{Name: "leaked"}}}
			return nil, errors.New("boom")
		})},
		Registration{Name: "panics", Order: 3, Stage: stageFunc(func(_ context.Context, _ Context) (*Output, error) {
			panic("stage exploded")
		})},
		Registration{Name: "c", Order: 4, Stage: stageFunc(func(_ context.Context, sc Context) (*Output, error) {
			if sc.Inventory != nil {
				return nil, errors.New("saw partial mutation from failed stage")
			}
			return &Output{ContextUpdates: Updates{Extra: map[string]any{"c": true}}}, nil
		})},
	)

	run, err := p.Run(context.Background(), Context{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(run.Results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(run.Results))
	}
	failed := run.Failed()
	if len(failed) != 2 || failed[0] != "b" || failed[1] != "panics" {
		t.Errorf("Expected b and panics to fail, got %v", failed)
	}
	if run.Results[1].Error != "boom" {
		t.Errorf("Expected error message to be recorded, got %q", run.Results[1].Error)
	}
	if run.Context.Extra["a"] != true || run.Context.Extra["c"] != true {
		t.Errorf("Expected updates from a and c, got %v", run.Context.Extra)
	}
	if run.Context.Inventory != nil {
		t.Error("Failed stage leaked its mutation")
	}

	if len(run.Logs) != 4 {
		t.Fatalf("Expected 4 log entries for the run, got %d", len(run.Logs))
	}
	if run.Logs[1].Success || run.Logs[1].Error != "boom" {
		t.Errorf("Unexpected failed log entry %+v", run.Logs[1])
	}
}

// TestEnableDisable tests runtime toggling and unknown names
func TestEnableDisable(t *testing.T) {
	var calls []string
	p := NewPipeline(nil)
	p.Register("x", recorder(&calls, "x"), 1)
	p.Register("y", recorder(&calls, "y"), 2)

	p.Disable("x")
	if p.IsEnabled("x") {
		t.Error("x should be disabled")
	}
	if _, err := p.Run(context.Background(), Context{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(calls) != 1 || calls[0] != "y" {
		t.Errorf("Expected only y to run, got %v", calls)
	}

	if p.UpdateSettings("missing", Settings{}) {
		t.Error("UpdateSettings on an unknown stage should return false")
	}
	p.Enable("missing")
	if p.IsEnabled("missing") {
		t.Error("Enable must not create stages")
	}

	on, order := true, 5
	if !p.UpdateSettings("x", Settings{Enabled: &on, Order: &order}) {
		t.Fatal("UpdateSettings failed")
	}
	stages := p.Stages()
	if stages[0].Name != "y" || stages[1].Name != "x" || !stages[1].Enabled || stages[1].Order != 5 {
		t.Errorf("Unexpected stage list %+v", stages)
	}
}

// TestRegisterReplaces tests same-name registration
func TestRegisterReplaces(t *testing.T) {
	var calls []string
	p := NewPipeline(nil)
	p.Register("s", recorder(&calls, "old"), 1)
	p.Disable("s")
	p.Register("s", recorder(&calls, "new"), 1)

	if len(p.Stages()) != 1 {
		t.Fatalf("Expected one stage, got %d", len(p.Stages()))
	}
	if _, err := p.Run(context.Background(), Context{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(calls) != 1 || calls[0] != "new" {
		t.Errorf("Expected replacement to run enabled, got %v", calls)
	}

	p.Unregister("s")
	if len(p.Stages()) != 0 {
		t.Error("Unregister left the stage behind")
	}
}

// TestLogRingBounded tests eviction of the oldest entries
func TestLogRingBounded(t *testing.T) {
	var calls []string
	p := NewPipeline(nil)
	p.Register("only", recorder(&calls, "only"), 1)

	first, err := p.Run(context.Background(), Context{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	var last *RunResult
	for range MaxLogEntries + 20 {
		last, err = p.Run(context.Background(), Context{})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	}

	if n := len(p.Logs()); n != MaxLogEntries {
		t.Errorf("Expected %d log entries, got %d", MaxLogEntries, n)
	}
	if len(p.LogsForTurn(first.TurnID)) != 0 {
		t.Error("Oldest run should have been evicted")
	}
	if len(p.LogsForTurn(last.TurnID)) != 1 {
		t.Error("Newest run missing from the log")
	}
	recent := p.RecentLogs(3)
	if len(recent) != 3 || recent[2].TurnID != last.TurnID {
		t.Errorf("RecentLogs should end with the newest entry, got %+v", recent)
	}

	p.ClearLogs()
	if len(p.Logs()) != 0 {
		t.Error("ClearLogs left entries behind")
	}
}

// TestLogTruncatesLongStrings tests log sanitization
func TestLogTruncatesLongStrings(t *testing.T) {
	var calls []string
	p := NewPipeline(nil)
	p.Register("only", recorder(&calls, "only"), 1)

	run, err := p.Run(context.Background(), Context{CurrentInput: strings.Repeat("a", 600)})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	input, ok := run.Logs[0].Input.(map[string]any)
	if !ok {
		t.Fatalf("Expected map input, got %T", run.Logs[0].Input)
	}
	got, _ := input["currentInput"].(string)
	if len(got) != MaxLoggedString || !strings.HasSuffix(got, "...") {
		t.Errorf("Expected %d-char truncated input, got %d chars", MaxLoggedString, len(got))
	}
}

// TestRunAggregatesActivations tests deduplicated activation lists
func TestRunAggregatesActivations(t *testing.T) {
	activate := func(ids ...int64) stageFunc {
		return func(_ context.Context, _ Context) (*Output, error) {
			return &Output{CardsToActivate: ids}, nil
		}
	}
	p := NewPipeline(nil,
		Registration{Name: "a", Order: 1, Stage: activate(1, 2)},
		Registration{Name: "b", Order: 2, Stage: activate(2, 3)},
	)

	run, err := p.Run(context.Background(), Context{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(run.CardsToActivate) != 3 {
		t.Errorf("Expected [1 2 3], got %v", run.CardsToActivate)
	}
}

// TestRunCanceledContext tests that a canceled context runs nothing
func TestRunCanceledContext(t *testing.T) {
	var calls []string
	p := NewPipeline(nil)
	p.Register("only", recorder(&calls, "only"), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Run(ctx, Context{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(calls) != 0 {
		t.Error("No stage should run on a canceled context")
	}
}

// TestRunWithNullStateEntries tests that nil map entries in loaded state do
// not stop the run
func TestRunWithNullStateEntries(t *testing.T) {
	var seen int
	p := NewPipeline(nil)
	p.Register("count", stageFunc(func(_ context.Context, sc Context) (*Output, error) {
		seen = len(sc.QuestState.Objectives)
		return &Output{}, nil
	}), 1)

	sc := Context{QuestState: &QuestState{Objectives: map[string]*Objective{"card-1": nil, "card-2": {CardID: 2}}}}
	res, err := p.Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Failed()) != 0 {
		t.Errorf("Unexpected failures %v", res.Failed())
	}
	if seen != 1 {
		t.Errorf("Expected 1 objective, got %d", seen)
	}
}
