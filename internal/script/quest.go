package script

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/qninhdt/storycards/internal/cards"
)

// Objective statuses
const (
	ObjectiveActive = "active"
)

var questKeywords = []string{
	"must find", "needs to", "has to", "quest", "mission",
	"objective", "goal", "task", "journey to", "search for",
	"rescue", "defeat", "discover", "collect",
}

// QuestID identifies the quest completed by a card's trigger
func QuestID(cardID int64, condition string) string {
	return fmt.Sprintf("%d-%s", cardID, condition)
}

// QuestTracking completes on_quest_complete triggers of active cards and
// counts mentions of active characters and quest-tagged cards
type QuestTracking struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewQuestTracking creates the quest-tracking stage
func NewQuestTracking(logger *zap.Logger) *QuestTracking {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuestTracking{logger: logger, now: time.Now}
}

// Description implements Describer
func (s *QuestTracking) Description() string {
	return "Track quest objectives and story progress"
}

// Execute implements Stage
func (s *QuestTracking) Execute(_ context.Context, sc Context) (*Output, error) {
	state := sc.QuestState
	if state == nil {
		state = &QuestState{}
	}
	if state.ActiveQuests == nil {
		state.ActiveQuests = []string{}
	}
	if state.CompletedQuests == nil {
		state.CompletedQuests = []string{}
	}
	if state.Objectives == nil {
		state.Objectives = map[string]*Objective{}
	}

	text := turnText(&sc)
	now := s.now().UnixMilli()
	resolver := cards.NewTriggerResolver(sc.ActiveIDs())
	effect := &cards.Effect{}
	out := &Output{}

	for _, card := range sc.ActiveCards {
		for _, t := range card.Triggers {
			if t.Type != cards.TriggerOnQuestComplete || t.Condition == "" {
				continue
			}
			if !containsKeyword(text, t.Condition) {
				continue
			}
			questID := QuestID(card.ID, t.Condition)
			if slices.Contains(state.CompletedQuests, questID) {
				continue
			}
			state.CompletedQuests = append(state.CompletedQuests, questID)
			state.ActiveQuests = slices.DeleteFunc(state.ActiveQuests, func(q string) bool { return q == questID })

			out.Events = append(out.Events, newEvent("quest_completed", map[string]any{
				"questId":   questID,
				"cardId":    card.ID,
				"cardName":  card.Name,
				"condition": t.Condition,
			}))
			out.Notifications = append(out.Notifications,
				newNotification(LevelSuccess, "Quest completed: %s", t.Condition))

			res, err := resolver.Resolve(card, t)
			if err != nil {
				s.logger.Warn("skipping quest trigger action", zap.Int64("card_id", card.ID), zap.Error(err))
				continue
			}
			effect.Merge(res)
		}

		if card.Type != cards.TypeCharacter && !card.HasTag("quest") {
			continue
		}
		key := fmt.Sprintf("card-%d", card.ID)
		obj, ok := state.Objectives[key]
		if !ok {
			obj = &Objective{CardID: card.ID, CardName: card.Name, FirstSeen: now, Status: ObjectiveActive}
			state.Objectives[key] = obj
		}
		if containsKeyword(text, card.Name) {
			obj.MentionCount++
			obj.LastSeen = now
		}
	}

	for _, kw := range questKeywords {
		if containsKeyword(text, kw) {
			out.Events = append(out.Events, newEvent("potential_quest_detected", map[string]any{"keyword": kw}))
			break
		}
	}

	out.CardsToActivate = effect.Activate
	out.CardsToDeactivate = effect.Deactivate
	out.ContextUpdates.QuestState = state
	return out, nil
}

// CompletedQuests returns the quest_completed events of a run as quest id to
// trigger condition
func CompletedQuests(events []Event) map[string]string {
	out := map[string]string{}
	for _, e := range events {
		if e.Type != "quest_completed" {
			continue
		}
		id, _ := e.Data["questId"].(string)
		cond, _ := e.Data["condition"].(string)
		if id != "" {
			out[id] = cond
		}
	}
	return out
}
