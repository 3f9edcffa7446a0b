package cards

import (
	"sort"
)

// focusPriority ranks card types when picking a focus card; higher wins
var focusPriority = map[Type]int{
	TypeLocation:  5,
	TypeCharacter: 4,
	TypeTime:      3,
	TypeWorld:     2,
	TypeMood:      1,
}

// FocusPriority returns the focus rank of a card type
func FocusPriority(t Type) int {
	return focusPriority[t]
}

// Deck is the set of cards active in a session, kept in the order they were
// activated
type Deck struct {
	cards []*Card
	byID  map[int64]*Card
}

// NewDeck creates a deck over the active cards
func NewDeck(active []*Card) *Deck {
	d := &Deck{
		cards: make([]*Card, 0, len(active)),
		byID:  make(map[int64]*Card, len(active)),
	}
	for _, c := range active {
		if c == nil {
			continue
		}
		if _, exists := d.byID[c.ID]; exists {
			continue
		}
		d.cards = append(d.cards, c)
		d.byID[c.ID] = c
	}
	return d
}

// Get returns an active card by id
func (d *Deck) Get(id int64) (*Card, bool) {
	c, ok := d.byID[id]
	return c, ok
}

// Contains reports whether id is active
func (d *Deck) Contains(id int64) bool {
	_, ok := d.byID[id]
	return ok
}

// Size returns the number of active cards
func (d *Deck) Size() int {
	return len(d.cards)
}

// GetAll returns the active cards in activation order
func (d *Deck) GetAll() []*Card {
	result := make([]*Card, len(d.cards))
	copy(result, d.cards)
	return result
}

// ByType returns the active cards of type t in activation order
func (d *Deck) ByType(t Type) []*Card {
	var result []*Card
	for _, c := range d.cards {
		if c.Type == t {
			result = append(result, c)
		}
	}
	return result
}

// IDs returns the active card ids
func (d *Deck) IDs() []int64 {
	ids := make([]int64, 0, len(d.cards))
	for _, c := range d.cards {
		ids = append(ids, c.ID)
	}
	return ids
}

// Peek returns the card with the highest focus priority, ties going to the
// earliest activated. It returns nil for an empty deck.
func (d *Deck) Peek() *Card {
	if len(d.cards) == 0 {
		return nil
	}
	ranked := d.GetAll()
	sort.SliceStable(ranked, func(i, j int) bool {
		return FocusPriority(ranked[i].Type) > FocusPriority(ranked[j].Type)
	})
	return ranked[0]
}
