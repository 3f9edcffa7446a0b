package script

import (
	"context"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/qninhdt/storycards/internal/cards"
)

// Item sources
const (
	ItemFromStory = "story"
	ItemFromCard  = "card"
)

var (
	acquirePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:receives?|obtains?|finds?|picks?\s*up|takes?|grabs?|gets?)\s+(?:a\s+|an\s+|the\s+)?([a-zA-Z\s]+?)(?:\.|,|!|\?|$)`),
		regexp.MustCompile(`(?i)(?:given|handed|awarded)\s+(?:a\s+|an\s+|the\s+)?([a-zA-Z\s]+?)(?:\.|,|!|\?|$)`),
	}
	losePattern     = regexp.MustCompile(`(?i)(?:loses?|drops?|gives?\s*away|uses?\s*up|breaks?|destroys?)\s+(?:the\s+)?([a-zA-Z\s]+?)(?:\.|,|!|\?|$)`)
	currencyPattern = regexp.MustCompile(`(?i)(\d+)\s*(gold|silver|copper|coins?|dollars?|credits?|gems?)`)
)

var commonWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "of": true, "with": true, "by": true, "from": true, "it": true,
	"this": true, "that": true, "these": true, "those": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true, "have": true, "has": true, "had": true,
	"do": true, "does": true, "did": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "must": true, "shall": true, "can": true, "need": true, "dare": true,
	"ought": true, "used": true, "way": true, "look": true, "something": true, "nothing": true,
	"everything": true, "anything": true,
}

// Possession tracks items gained and lost in the story, currency mentions
// and cards tagged "item"
type Possession struct {
	now func() time.Time
}

// NewPossession creates the possession-tracking stage
func NewPossession() *Possession {
	return &Possession{now: time.Now}
}

// Description implements Describer
func (s *Possession) Description() string {
	return "Track items and possessions mentioned in the story"
}

// Execute implements Stage
func (s *Possession) Execute(_ context.Context, sc Context) (*Output, error) {
	inv := sc.Inventory
	if inv == nil {
		inv = &Inventory{}
	}
	if inv.Items == nil {
		inv.Items = []Item{}
	}
	if inv.Currencies == nil {
		inv.Currencies = map[string]int{}
	}

	text := turnText(&sc)
	now := s.now().UnixMilli()
	out := &Output{}

	hasItem := func(name string) bool {
		return slices.ContainsFunc(inv.Items, func(it Item) bool { return it.Name == name })
	}

	for _, re := range acquirePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := lower(strings.TrimSpace(m[1]))
			if len(name) <= 2 || len(name) >= 30 || commonWords[name] || hasItem(name) {
				continue
			}
			inv.Items = append(inv.Items, Item{Name: name, Acquired: now, Source: ItemFromStory})
			out.Events = append(out.Events, newEvent("item_acquired", map[string]any{"item": name}))
			out.Notifications = append(out.Notifications, newNotification(LevelInfo, "Item acquired: %s", name))
		}
	}

	for _, m := range losePattern.FindAllStringSubmatch(text, -1) {
		name := lower(strings.TrimSpace(m[1]))
		i := slices.IndexFunc(inv.Items, func(it Item) bool { return it.Name == name })
		if i < 0 {
			continue
		}
		inv.Items = slices.Delete(inv.Items, i, i+1)
		out.Events = append(out.Events, newEvent("item_lost", map[string]any{"item": name}))
		out.Notifications = append(out.Notifications, newNotification(LevelWarning, "Item lost: %s", name))
	}

	for _, m := range currencyPattern.FindAllStringSubmatch(text, -1) {
		amount, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		currency := strings.TrimSuffix(lower(m[2]), "s")
		if _, ok := inv.Currencies[currency]; !ok {
			inv.Currencies[currency] = 0
		}
		out.Events = append(out.Events, newEvent("currency_mentioned", map[string]any{
			"currency": currency,
			"amount":   amount,
		}))
	}

	for _, card := range itemCards(sc.ActiveCards) {
		if slices.ContainsFunc(inv.Items, func(it Item) bool { return it.CardID == card.ID }) {
			continue
		}
		inv.Items = append(inv.Items, Item{Name: card.Name, CardID: card.ID, Acquired: now, Source: ItemFromCard})
	}

	out.ContextUpdates.Inventory = inv
	return out, nil
}

// itemCards lists active cards that represent inventory items
func itemCards(active []*cards.Card) []*cards.Card {
	var out []*cards.Card
	for _, c := range active {
		if c.HasTag("item") {
			out = append(out, c)
		}
	}
	return out
}
