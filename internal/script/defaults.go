package script

import "go.uber.org/zap"

// Built-in stage names
const (
	StageAutoCards  = "auto-cards"
	StageMemory     = "story-memory"
	StageQuests     = "quest-tracking"
	StagePossession = "possession-tracking"
)

// DefaultStages returns the built-in stages in their standard order
func DefaultStages(lister CardLister, logger *zap.Logger) []Registration {
	if logger == nil {
		logger = zap.NewNop()
	}
	return []Registration{
		{Name: StageAutoCards, Stage: NewAutoCards(lister, NewConditions(), logger.Named(StageAutoCards)), Order: 10},
		{Name: StageMemory, Stage: NewStoryMemory(), Order: 20},
		{Name: StageQuests, Stage: NewQuestTracking(logger.Named(StageQuests)), Order: 30},
		{Name: StagePossession, Stage: NewPossession(), Order: 40},
	}
}
