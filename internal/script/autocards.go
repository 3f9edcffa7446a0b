package script

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/qninhdt/storycards/internal/cards"
)

// CardLister lists every card known to the store
type CardLister interface {
	All(ctx context.Context) ([]*cards.Card, error)
}

// AutoCards activates inactive cards whose name, on_mention condition or
// on_condition expression matches the turn
type AutoCards struct {
	cards      CardLister
	conditions *Conditions
	logger     *zap.Logger
}

// NewAutoCards creates the auto-cards stage
func NewAutoCards(lister CardLister, conditions *Conditions, logger *zap.Logger) *AutoCards {
	if conditions == nil {
		conditions = NewConditions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoCards{cards: lister, conditions: conditions, logger: logger}
}

// Description implements Describer
func (s *AutoCards) Description() string {
	return "Automatically activate cards based on mentions and triggers"
}

// Execute implements Stage
func (s *AutoCards) Execute(ctx context.Context, sc Context) (*Output, error) {
	all, err := s.cards.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}

	text := turnText(&sc)
	resolver := cards.NewTriggerResolver(sc.ActiveIDs())
	active := make(map[int64]bool, len(sc.ActiveCards))
	for _, c := range sc.ActiveCards {
		active[c.ID] = true
	}

	out := &Output{}
	effect := &cards.Effect{}
	var env map[string]any

	for _, card := range all {
		if !active[card.ID] && containsKeyword(text, card.Name) {
			effect.Merge(&cards.Effect{Activate: []int64{card.ID}})
			out.Events = append(out.Events, newEvent("card_mentioned", map[string]any{
				"cardId":   card.ID,
				"cardName": card.Name,
			}))
			out.Notifications = append(out.Notifications,
				newNotification(LevelInfo, "Card %q mentioned - activating", card.Name))
			continue
		}

		for _, t := range card.Triggers {
			fired := false
			switch t.Type {
			case cards.TriggerOnMention:
				fired = containsKeyword(text, t.Condition)
			case cards.TriggerOnCondition:
				if env == nil {
					env = conditionEnv(&sc)
				}
				ok, err := s.conditions.Eval(ctx, t.Condition, env)
				if err != nil {
					s.logger.Warn("skipping trigger condition",
						zap.Int64("card_id", card.ID),
						zap.String("condition", t.Condition),
						zap.Error(err),
					)
					continue
				}
				fired = ok
			}
			if !fired {
				continue
			}

			res, err := resolver.Resolve(card, t)
			if err != nil {
				s.logger.Warn("skipping trigger", zap.Int64("card_id", card.ID), zap.Error(err))
				continue
			}
			if res.Empty() {
				continue
			}
			effect.Merge(res)
			out.Events = append(out.Events, newEvent("trigger_activated", map[string]any{
				"cardId":      card.ID,
				"triggerType": t.Type,
				"condition":   t.Condition,
			}))
			out.Notifications = append(out.Notifications,
				newNotification(LevelInfo, "Trigger activated for %q: %s", card.Name, t.Condition))
			break
		}
	}

	out.CardsToActivate = effect.Activate
	out.CardsToDeactivate = effect.Deactivate
	out.ContextUpdates.AutoActivatedCards = orEmpty(effect.Activate)
	return out, nil
}
