package cards

import (
	"fmt"
	"slices"
)

// Effect is the outcome of firing one or more triggers
type Effect struct {
	Activate   []int64
	Deactivate []int64
}

// Empty reports whether the effect changes nothing
func (e *Effect) Empty() bool {
	return len(e.Activate) == 0 && len(e.Deactivate) == 0
}

// TriggerResolver turns fired triggers into activation changes against the
// currently active card set
type TriggerResolver struct {
	active map[int64]bool
}

// NewTriggerResolver creates a resolver for the given active card ids
func NewTriggerResolver(active []int64) *TriggerResolver {
	set := make(map[int64]bool, len(active))
	for _, id := range active {
		set[id] = true
	}
	return &TriggerResolver{active: set}
}

// Resolve executes one trigger owned by owner
func (r *TriggerResolver) Resolve(owner *Card, t Trigger) (*Effect, error) {
	result := &Effect{}

	target := t.Target
	if target == 0 {
		target = owner.ID
	}

	switch t.Action {
	case "", ActionActivate:
		if !r.active[target] {
			result.Activate = append(result.Activate, target)
		}
	case ActionDeactivate:
		if r.active[target] {
			result.Deactivate = append(result.Deactivate, target)
		}
	default:
		return nil, fmt.Errorf("trigger on card %d: unknown action %q", owner.ID, t.Action)
	}
	return result, nil
}

// ResolveAll executes a batch of fired triggers and merges their effects.
// An id is never both activated and deactivated; activation wins.
func (r *TriggerResolver) ResolveAll(owner *Card, triggers []Trigger) (*Effect, error) {
	result := &Effect{}
	for _, t := range triggers {
		res, err := r.Resolve(owner, t)
		if err != nil {
			return nil, err
		}
		result.Merge(res)
	}
	return result, nil
}

// Merge folds other into e without duplicates
func (e *Effect) Merge(other *Effect) {
	for _, id := range other.Activate {
		if !slices.Contains(e.Activate, id) {
			e.Activate = append(e.Activate, id)
		}
		if i := slices.Index(e.Deactivate, id); i >= 0 {
			e.Deactivate = slices.Delete(e.Deactivate, i, i+1)
		}
	}
	for _, id := range other.Deactivate {
		if !slices.Contains(e.Deactivate, id) && !slices.Contains(e.Activate, id) {
			e.Deactivate = append(e.Deactivate, id)
		}
	}
}
