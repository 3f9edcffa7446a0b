// Package script runs the ordered, toggleable stages that post-process every
// story turn: card auto-activation, memory, quest and possession tracking.
package script

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/qninhdt/storycards/internal/cards"
)

// DefaultOrder is used when a stage is registered without an explicit order
const DefaultOrder = 100

// Stage is one unit of turn post-processing
type Stage interface {
	Execute(ctx context.Context, sc Context) (*Output, error)
}

// Describer is implemented by stages that carry a human description
type Describer interface {
	Description() string
}

// Registration pairs a stage with its name and order
type Registration struct {
	Name  string
	Stage Stage
	Order int
}

// StageInfo describes a registered stage
type StageInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Order       int    `json:"order"`
	Enabled     bool   `json:"enabled"`
}

// Settings changes a stage at runtime; nil fields are left alone
type Settings struct {
	Enabled *bool `json:"enabled,omitempty"`
	Order   *int  `json:"order,omitempty"`
}

// StageResult is the outcome of one stage in a run
type StageResult struct {
	Name    string  `json:"name"`
	Success bool    `json:"success"`
	Error   string  `json:"error,omitempty"`
	Output  *Output `json:"output,omitempty"`
}

// RunResult is the outcome of one pipeline run
type RunResult struct {
	TurnID            string         `json:"turnId"`
	Context           Context        `json:"-"`
	Results           []StageResult  `json:"results"`
	Logs              []LogEntry     `json:"logs"`
	Events            []Event        `json:"events"`
	Notifications     []Notification `json:"notifications"`
	CardsToActivate   []int64        `json:"cardsToActivate"`
	CardsToDeactivate []int64        `json:"cardsToDeactivate"`
	NewCards          []cards.Input  `json:"newCards,omitempty"`
}

// Failed returns the names of stages that failed
func (r *RunResult) Failed() []string {
	var names []string
	for _, res := range r.Results {
		if !res.Success {
			names = append(names, res.Name)
		}
	}
	return names
}

type entry struct {
	name    string
	stage   Stage
	order   int
	seq     int
	enabled bool
}

// Pipeline runs registered stages sequentially in ascending order. Ties keep
// registration order. Runs are serialized.
type Pipeline struct {
	mu     sync.RWMutex
	stages map[string]*entry
	order  []*entry
	seq    int

	runMu sync.Mutex

	logMu sync.RWMutex
	logs  *logRing

	logger *zap.Logger
	now    func() time.Time
}

// NewPipeline creates a pipeline with the given stages registered
func NewPipeline(logger *zap.Logger, regs ...Registration) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		stages: make(map[string]*entry),
		logs:   newLogRing(MaxLogEntries),
		logger: logger,
		now:    time.Now,
	}
	for _, r := range regs {
		p.Register(r.Name, r.Stage, r.Order)
	}
	return p
}

// Register adds or replaces a stage and enables it. A replaced stage keeps
// its original registration position for tie-breaking.
func (p *Pipeline) Register(name string, stage Stage, order int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.stages[name]; ok {
		e.stage = stage
		e.order = order
		e.enabled = true
	} else {
		p.seq++
		p.stages[name] = &entry{name: name, stage: stage, order: order, seq: p.seq, enabled: true}
	}
	p.reorder()
}

// Unregister removes a stage
func (p *Pipeline) Unregister(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.stages, name)
	p.reorder()
}

// Enable turns a registered stage on. Unknown names are ignored.
func (p *Pipeline) Enable(name string) {
	p.setEnabled(name, true)
}

// Disable turns a stage off
func (p *Pipeline) Disable(name string) {
	p.setEnabled(name, false)
}

func (p *Pipeline) setEnabled(name string, on bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.stages[name]
	if !ok {
		return false
	}
	e.enabled = on
	return true
}

// IsEnabled reports whether a stage is registered and enabled
func (p *Pipeline) IsEnabled(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.stages[name]
	return ok && e.enabled
}

// UpdateSettings applies settings to a stage and reports whether it exists
func (p *Pipeline) UpdateSettings(name string, s Settings) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.stages[name]
	if !ok {
		return false
	}
	if s.Enabled != nil {
		e.enabled = *s.Enabled
	}
	if s.Order != nil {
		e.order = *s.Order
		p.reorder()
	}
	return true
}

// Stages lists registered stages in execution order
func (p *Pipeline) Stages() []StageInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]StageInfo, 0, len(p.order))
	for _, e := range p.order {
		info := StageInfo{Name: e.name, Order: e.order, Enabled: e.enabled}
		if d, ok := e.stage.(Describer); ok {
			info.Description = d.Description()
		}
		out = append(out, info)
	}
	return out
}

// reorder recomputes execution order. Callers hold p.mu.
func (p *Pipeline) reorder() {
	p.order = p.order[:0]
	for _, e := range p.stages {
		p.order = append(p.order, e)
	}
	slices.SortStableFunc(p.order, func(a, b *entry) int {
		if a.order != b.order {
			return a.order - b.order
		}
		return a.seq - b.seq
	})
}

func (p *Pipeline) enabled() []entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]entry, 0, len(p.order))
	for _, e := range p.order {
		if e.enabled {
			out = append(out, *e)
		}
	}
	return out
}

// Run executes every enabled stage in order. Each stage sees the context as
// updated by the stages before it. A failing stage is logged and skipped;
// later stages still run against the last successful context.
func (p *Pipeline) Run(ctx context.Context, sc Context) (*RunResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.runMu.Lock()
	defer p.runMu.Unlock()

	current, err := p.snapshot(sc)
	if err != nil {
		return nil, err
	}
	turnID := ulid.Make().String()
	effect := &cards.Effect{}
	result := &RunResult{
		TurnID:        turnID,
		Results:       []StageResult{},
		Events:        []Event{},
		Notifications: []Notification{},
	}

	for _, e := range p.enabled() {
		input := current.Clone()
		logged := sanitize(input)
		start := p.now()

		out, err := p.execute(ctx, &e, input)
		duration := p.now().Sub(start)

		logEntry := LogEntry{
			TurnID:    turnID,
			StageName: e.name,
			Timestamp: start.UnixMilli(),
			Duration:  duration.Milliseconds(),
		}
		if err != nil {
			logEntry.Error = err.Error()
			p.appendLog(logEntry)
			result.Results = append(result.Results, StageResult{Name: e.name, Error: err.Error()})
			p.logger.Warn("script stage failed",
				zap.String("stage", e.name),
				zap.String("turn_id", turnID),
				zap.Error(err),
			)
			continue
		}

		out.ContextUpdates.apply(&current)

		logEntry.Success = true
		logEntry.Input = logged
		logEntry.Output = sanitize(out)
		p.appendLog(logEntry)

		result.Results = append(result.Results, StageResult{Name: e.name, Success: true, Output: out})
		result.Events = append(result.Events, out.Events...)
		result.Notifications = append(result.Notifications, out.Notifications...)
		result.NewCards = append(result.NewCards, out.NewCards...)
		effect.Merge(&cards.Effect{Activate: out.CardsToActivate, Deactivate: out.CardsToDeactivate})
	}

	result.Context = current
	result.CardsToActivate = orEmpty(effect.Activate)
	result.CardsToDeactivate = orEmpty(effect.Deactivate)
	result.Logs = p.LogsForTurn(turnID)

	p.logger.Debug("script pipeline finished",
		zap.String("turn_id", turnID),
		zap.Int("stages", len(result.Results)),
		zap.Strings("failed", result.Failed()),
	)
	return result, nil
}

// snapshot copies the caller's context, turning a panic on malformed state
// into an error
func (p *Pipeline) snapshot(sc Context) (out Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("script context unreadable", zap.Any("panic", r))
			err = fmt.Errorf("copy script context: %v", r)
		}
	}()
	return sc.Clone(), nil
}

// execute runs one stage, turning panics into errors
func (p *Pipeline) execute(ctx context.Context, e *entry, input Context) (out *Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("script stage panicked",
				zap.String("stage", e.name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			out, err = nil, fmt.Errorf("stage %s panicked: %v", e.name, r)
		}
	}()

	out, err = e.stage.Execute(ctx, input)
	if err == nil && out == nil {
		out = &Output{}
	}
	return out, err
}

func (p *Pipeline) appendLog(e LogEntry) {
	p.logMu.Lock()
	defer p.logMu.Unlock()
	p.logs.Push(e)
}

// Logs returns all retained log entries, oldest first
func (p *Pipeline) Logs() []LogEntry {
	p.logMu.RLock()
	defer p.logMu.RUnlock()
	return p.logs.All()
}

// LogsForTurn returns the entries of one run
func (p *Pipeline) LogsForTurn(turnID string) []LogEntry {
	p.logMu.RLock()
	defer p.logMu.RUnlock()
	return p.logs.ForTurn(turnID)
}

// RecentLogs returns up to n of the newest entries
func (p *Pipeline) RecentLogs(n int) []LogEntry {
	p.logMu.RLock()
	defer p.logMu.RUnlock()
	return p.logs.Recent(n)
}

// ClearLogs drops every log entry
func (p *Pipeline) ClearLogs() {
	p.logMu.Lock()
	defer p.logMu.Unlock()
	p.logs.Clear()
}

func orEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
