package prompt

import "github.com/qninhdt/storycards/internal/cards"

// CardTokens is the estimated size of one card's prompt text
type CardTokens struct {
	ID     int64      `json:"id"`
	Name   string     `json:"name"`
	Type   cards.Type `json:"type"`
	Tokens int        `json:"tokens"`
}

// Breakdown splits a token report by contributor
type Breakdown struct {
	BaseInstructions int          `json:"baseInstructions"`
	Cards            []CardTokens `json:"cards"`
}

// TokenReport is a diagnostic size estimate of a system prompt
type TokenReport struct {
	Total     int       `json:"total"`
	Breakdown Breakdown `json:"breakdown"`
}

// Report estimates the size of systemPrompt and of each active card
func Report(systemPrompt string, active []*cards.Card) TokenReport {
	report := TokenReport{
		Total: EstimateTokens(systemPrompt),
		Breakdown: Breakdown{
			BaseInstructions: EstimateTokens(BaseInstructions),
			Cards:            make([]CardTokens, 0, len(active)),
		},
	}
	for _, c := range active {
		report.Breakdown.Cards = append(report.Breakdown.Cards, CardTokens{
			ID:     c.ID,
			Name:   c.Name,
			Type:   c.Type,
			Tokens: EstimateTokens(c.PromptText),
		})
	}
	return report
}
