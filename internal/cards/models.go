package cards

import (
	"slices"
	"time"
)

// Type is the closed set of card kinds
type Type string

const (
	TypeCharacter Type = "Character"
	TypeLocation  Type = "Location"
	TypeWorld     Type = "World"
	TypeTime      Type = "Time"
	TypeMood      Type = "Mood"
)

// Types lists every card type in declaration order
var Types = []Type{TypeCharacter, TypeLocation, TypeWorld, TypeTime, TypeMood}

// Valid reports whether t is a known card type
func (t Type) Valid() bool {
	return slices.Contains(Types, t)
}

// Rarity determines how far a card's knowledge can grow
type Rarity string

const (
	RarityCommon Rarity = "Common"
	RarityBronze Rarity = "Bronze"
	RaritySilver Rarity = "Silver"
	RarityGold   Rarity = "Gold"
)

// Rarities lists every rarity from lowest to highest
var Rarities = []Rarity{RarityCommon, RarityBronze, RaritySilver, RarityGold}

// Valid reports whether r is a known rarity
func (r Rarity) Valid() bool {
	return slices.Contains(Rarities, r)
}

// MaxKnowledgeLevel returns the knowledge cap for a rarity
func (r Rarity) MaxKnowledgeLevel() int {
	switch r {
	case RarityBronze:
		return 3
	case RaritySilver:
		return 4
	case RarityGold:
		return 5
	default:
		return 2
	}
}

// Source records where a card came from
type Source string

const (
	SourceUser          Source = "user"
	SourceSystem        Source = "system"
	SourceDefault       Source = "default"
	SourceAutoGenerated Source = "auto_generated"
)

// Sources lists every card source
var Sources = []Source{SourceUser, SourceSystem, SourceDefault, SourceAutoGenerated}

// Valid reports whether s is a known source
func (s Source) Valid() bool {
	return slices.Contains(Sources, s)
}

// Protected reports whether cards of this source are read-only
func (s Source) Protected() bool {
	return s == SourceSystem || s == SourceDefault
}

// Trigger types understood by the script pipeline
const (
	TriggerOnMention       = "on_mention"
	TriggerOnQuestComplete = "on_quest_complete"
	TriggerOnCondition     = "on_condition"
)

// Trigger actions
const (
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
)

// Trigger is a declarative rule consumed by the script pipeline.
// Target is a card id; zero targets the owning card.
type Trigger struct {
	Type      string `json:"type"`
	Condition string `json:"condition"`
	Action    string `json:"action,omitempty"`
	Target    int64  `json:"target,omitempty"`
}

// Card is a reusable narrative fragment injected into prompts
type Card struct {
	ID                int64          `json:"id"`
	Name              string         `json:"name"`
	Type              Type           `json:"type"`
	Rarity            Rarity         `json:"rarity"`
	Source            Source         `json:"source"`
	PromptText        string         `json:"prompt_text"`
	CompressedPrompt  string         `json:"compressed_prompt,omitempty"`
	KnowledgeLevel    int            `json:"knowledge_level"`
	MaxKnowledgeLevel int            `json:"max_knowledge_level"`
	ProgressionPoints int            `json:"progression_points"`
	PossessionState   bool           `json:"possession_state"`
	ParentCardIDs     []int64        `json:"parent_card_ids"`
	LinkedCardIDs     []int64        `json:"linked_card_ids"`
	Tags              []string       `json:"tags"`
	Triggers          []Trigger      `json:"triggers"`
	UnlockConditions  map[string]any `json:"unlock_conditions"`
	TimesUsed         int            `json:"times_used"`
	LastUsed          *time.Time     `json:"last_used,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// IsEditable reports whether the card accepts content edits
func (c *Card) IsEditable() bool {
	return !c.Source.Protected()
}

// IsDeletable reports whether the card may be deleted
func (c *Card) IsDeletable() bool {
	return !c.Source.Protected()
}

// HasTag reports whether the card carries tag
func (c *Card) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// PrimaryParent returns the first parent id, or 0 when the card is top-level
func (c *Card) PrimaryParent() int64 {
	if len(c.ParentCardIDs) == 0 {
		return 0
	}
	return c.ParentCardIDs[0]
}

// Clone returns a deep copy of the card
func (c *Card) Clone() *Card {
	if c == nil {
		return nil
	}
	cp := *c
	cp.ParentCardIDs = slices.Clone(c.ParentCardIDs)
	cp.LinkedCardIDs = slices.Clone(c.LinkedCardIDs)
	cp.Tags = slices.Clone(c.Tags)
	cp.Triggers = slices.Clone(c.Triggers)
	cp.UnlockConditions = cloneMap(c.UnlockConditions)
	if c.LastUsed != nil {
		t := *c.LastUsed
		cp.LastUsed = &t
	}
	return &cp
}

// Normalize fills nil collections so cards always serialize as [] and {}
func (c *Card) Normalize() {
	if c.ParentCardIDs == nil {
		c.ParentCardIDs = []int64{}
	}
	if c.LinkedCardIDs == nil {
		c.LinkedCardIDs = []int64{}
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	if c.Triggers == nil {
		c.Triggers = []Trigger{}
	}
	if c.UnlockConditions == nil {
		c.UnlockConditions = map[string]any{}
	}
}

// Input describes a card to create
type Input struct {
	Name             string         `json:"name"`
	Type             Type           `json:"type"`
	Rarity           Rarity         `json:"rarity"`
	Source           Source         `json:"source,omitempty"`
	PromptText       string         `json:"prompt_text"`
	CompressedPrompt string         `json:"compressed_prompt,omitempty"`
	KnowledgeLevel   *int           `json:"knowledge_level,omitempty"`
	PossessionState  bool           `json:"possession_state"`
	ParentCardIDs    []int64        `json:"parent_card_ids,omitempty"`
	LinkedCardIDs    []int64        `json:"linked_card_ids,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	Triggers         []Trigger      `json:"triggers,omitempty"`
	UnlockConditions map[string]any `json:"unlock_conditions,omitempty"`
}

// Patch is a partial update; nil fields are left untouched
type Patch struct {
	Name              *string         `json:"name,omitempty"`
	Type              *Type           `json:"type,omitempty"`
	Rarity            *Rarity         `json:"rarity,omitempty"`
	PromptText        *string         `json:"prompt_text,omitempty"`
	CompressedPrompt  *string         `json:"compressed_prompt,omitempty"`
	KnowledgeLevel    *int            `json:"knowledge_level,omitempty"`
	ProgressionPoints *int            `json:"progression_points,omitempty"`
	PossessionState   *bool           `json:"possession_state,omitempty"`
	ParentCardIDs     *[]int64        `json:"parent_card_ids,omitempty"`
	LinkedCardIDs     *[]int64        `json:"linked_card_ids,omitempty"`
	Tags              *[]string       `json:"tags,omitempty"`
	Triggers          *[]Trigger      `json:"triggers,omitempty"`
	UnlockConditions  *map[string]any `json:"unlock_conditions,omitempty"`
	TimesUsed         *int            `json:"times_used,omitempty"`
	LastUsed          *time.Time      `json:"last_used,omitempty"`
}

// Fields returns the names of the fields the patch touches
func (p Patch) Fields() []string {
	var fields []string
	add := func(set bool, name string) {
		if set {
			fields = append(fields, name)
		}
	}
	add(p.Name != nil, "name")
	add(p.Type != nil, "type")
	add(p.Rarity != nil, "rarity")
	add(p.PromptText != nil, "prompt_text")
	add(p.CompressedPrompt != nil, "compressed_prompt")
	add(p.KnowledgeLevel != nil, "knowledge_level")
	add(p.ProgressionPoints != nil, "progression_points")
	add(p.PossessionState != nil, "possession_state")
	add(p.ParentCardIDs != nil, "parent_card_ids")
	add(p.LinkedCardIDs != nil, "linked_card_ids")
	add(p.Tags != nil, "tags")
	add(p.Triggers != nil, "triggers")
	add(p.UnlockConditions != nil, "unlock_conditions")
	add(p.TimesUsed != nil, "times_used")
	add(p.LastUsed != nil, "last_used")
	return fields
}

// UsageOnly reports whether the patch only touches usage statistics
func (p Patch) UsageOnly() bool {
	for _, f := range p.Fields() {
		if f != "times_used" && f != "last_used" {
			return false
		}
	}
	return true
}

// Filter narrows List results; zero values match everything
type Filter struct {
	Type     Type
	Rarity   Rarity
	Source   Source
	Tag      string
	TopLevel bool
	ParentID int64
}

// Match reports whether c satisfies the filter
func (f Filter) Match(c *Card) bool {
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	if f.Rarity != "" && c.Rarity != f.Rarity {
		return false
	}
	if f.Source != "" && c.Source != f.Source {
		return false
	}
	if f.Tag != "" && !c.HasTag(f.Tag) {
		return false
	}
	if f.TopLevel && len(c.ParentCardIDs) > 0 {
		return false
	}
	if f.ParentID != 0 && !slices.Contains(c.ParentCardIDs, f.ParentID) {
		return false
	}
	return true
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
