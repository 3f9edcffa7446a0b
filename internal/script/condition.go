package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ConditionTimeout bounds a single on_condition evaluation
const ConditionTimeout = 100 * time.Millisecond

// ErrConditionTimeout is returned when an expression runs too long
var ErrConditionTimeout = errors.New("condition evaluation timeout")

// Conditions compiles and evaluates on_condition trigger expressions.
// Programs are cached by source text.
type Conditions struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
	timeout  time.Duration
}

// NewConditions creates an evaluator with the default timeout
func NewConditions() *Conditions {
	return &Conditions{
		programs: make(map[string]*vm.Program),
		timeout:  ConditionTimeout,
	}
}

// Compile checks that src is a valid expression
func (c *Conditions) Compile(src string) error {
	_, err := c.program(src)
	return err
}

func (c *Conditions) program(src string) (*vm.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.programs[src]; ok {
		return p, nil
	}
	p, err := expr.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("invalid condition: %w", err)
	}
	c.programs[src] = p
	return p, nil
}

// Eval runs src against env. An empty expression is true.
func (c *Conditions) Eval(ctx context.Context, src string, env map[string]any) (bool, error) {
	if src == "" {
		return true, nil
	}
	program, err := c.program(src)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resultChan := make(chan any, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := vm.Run(program, env)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case <-ctx.Done():
		return false, ErrConditionTimeout
	case err := <-errChan:
		return false, fmt.Errorf("condition evaluation error: %w", err)
	case result := <-resultChan:
		b, ok := result.(bool)
		if !ok {
			return false, fmt.Errorf("condition %q returned %T, not bool", src, result)
		}
		return b, nil
	}
}

// conditionEnv exposes the turn to on_condition expressions
func conditionEnv(sc *Context) map[string]any {
	active := make([]string, 0, len(sc.ActiveCards))
	for _, c := range sc.ActiveCards {
		active = append(active, c.Name)
	}
	completed := []string{}
	if sc.QuestState != nil {
		completed = append(completed, sc.QuestState.CompletedQuests...)
	}
	return map[string]any{
		"input":     sc.CurrentInput,
		"response":  sc.CurrentResponse,
		"turn":      sc.Turn,
		"active":    active,
		"inventory": sc.Inventory.ItemNames(),
		"completed": completed,
	}
}
