package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/cards"
	"github.com/qninhdt/storycards/internal/validation"
)

// cardFilter reads list filters from the query string
func cardFilter(q url.Values) (cards.Filter, error) {
	f := cards.Filter{
		Type:   cards.Type(q.Get("type")),
		Rarity: cards.Rarity(q.Get("rarity")),
		Source: cards.Source(q.Get("source")),
		Tag:    q.Get("tag"),
	}
	if f.Type != "" && !f.Type.Valid() {
		return f, apperr.Validation("invalid type: %q", f.Type)
	}
	if f.Rarity != "" && !f.Rarity.Valid() {
		return f, apperr.Validation("invalid rarity: %q", f.Rarity)
	}
	if f.Source != "" && !f.Source.Valid() {
		return f, apperr.Validation("invalid source: %q", f.Source)
	}
	if raw := q.Get("top_level"); raw != "" {
		top, err := strconv.ParseBool(raw)
		if err != nil {
			return f, apperr.Validation("invalid top_level: %q", raw)
		}
		f.TopLevel = top
	}
	if raw := q.Get("parent_id"); raw != "" {
		id, err := validation.ParseID("parent", raw)
		if err != nil {
			return f, err
		}
		f.ParentID = id
	}
	return f, nil
}

// tagParam returns the decoded {tag} path segment
func tagParam(r *http.Request) string {
	raw := chi.URLParam(r, "tag")
	if tag, err := url.PathUnescape(raw); err == nil {
		return tag
	}
	return raw
}

// depthParam reads the optional traversal depth; 0 means the store default
func depthParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("depth")
	if raw == "" {
		return 0, nil
	}
	d, err := strconv.Atoi(raw)
	if err != nil || d < 0 {
		return 0, apperr.Validation("invalid depth: %q", raw)
	}
	return d, nil
}

// listCards lists cards matching the query filters
func (s *Server) listCards(w http.ResponseWriter, r *http.Request) {
	filter, err := cardFilter(r.URL.Query())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.cards.List(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

// listTags lists every tag in use
func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.cards.AllTags(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, tags)
}

// createCard creates a user card
func (s *Server) createCard(w http.ResponseWriter, r *http.Request) {
	var in cards.Input
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validation.ValidateName(in.Name, false); err != nil {
		s.fail(w, r, err)
		return
	}
	for _, tag := range in.Tags {
		if err := validation.ValidateTag(tag); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	// Seeded sources are reserved for the seeder.
	if in.Source != "" && in.Source.Protected() {
		s.fail(w, r, apperr.Validation("source %q cannot be created over the API", in.Source))
		return
	}
	card, err := s.cards.Create(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, card)
}

// generateWorld drafts a world and its cards from a theme with the LLM
func (s *Server) generateWorld(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Theme string `json:"theme"`
	}
	if err := decodeOptional(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if utf8.RuneCountInString(req.Theme) > validation.MaxPlayerInput {
		s.fail(w, r, apperr.Validation("theme must be at most %d characters", validation.MaxPlayerInput))
		return
	}
	res, err := s.architect.Build(r.Context(), req.Theme)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, res)
}

// getCard returns one card
func (s *Server) getCard(w http.ResponseWriter, r *http.Request) {
	s.withCard(w, r, func(id int64) (any, error) {
		return s.cards.Get(r.Context(), id)
	})
}

// updateCard applies a partial update
func (s *Server) updateCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "card")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var patch cards.Patch
	if err := decode(r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}
	if patch.Name != nil {
		if err := validation.ValidateName(*patch.Name, false); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	card, err := s.cards.Update(r.Context(), id, patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, card)
}

// deleteCard removes a user or auto-generated card
func (s *Server) deleteCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "card")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.cards.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"deleted": id})
}

// cloneCard copies a card into an editable user card. The body is optional.
func (s *Server) cloneCard(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "card")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var overrides cards.Patch
	if err := decodeOptional(r, &overrides); err != nil {
		s.fail(w, r, err)
		return
	}
	card, err := s.cards.Clone(r.Context(), id, overrides)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, card)
}

// recordUsage bumps usage statistics
func (s *Server) recordUsage(w http.ResponseWriter, r *http.Request) {
	s.withCard(w, r, func(id int64) (any, error) {
		return s.cards.IncrementUsage(r.Context(), id)
	})
}

// addProgress awards progression points
func (s *Server) addProgress(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "card")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req struct {
		Points int `json:"points"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validation.ValidateProgress(req.Points); err != nil {
		s.fail(w, r, err)
		return
	}
	card, err := s.cards.AddProgress(r.Context(), id, req.Points)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, card)
}

// listParents returns the card's direct parents
func (s *Server) listParents(w http.ResponseWriter, r *http.Request) {
	s.withCard(w, r, func(id int64) (any, error) {
		return s.cards.Parents(r.Context(), id)
	})
}

// addParent adds a parent edge, rejecting cycles
func (s *Server) addParent(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, "parentId", "parent", s.cards.AddParent)
}

// removeParent removes a parent edge
func (s *Server) removeParent(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, "parentId", "parent", s.cards.RemoveParent)
}

// listChildren returns the cards naming this card as a parent
func (s *Server) listChildren(w http.ResponseWriter, r *http.Request) {
	s.withCard(w, r, func(id int64) (any, error) {
		return s.cards.Children(r.Context(), id)
	})
}

// listAncestors walks parent edges breadth first
func (s *Server) listAncestors(w http.ResponseWriter, r *http.Request) {
	depth, err := depthParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.withCard(w, r, func(id int64) (any, error) {
		return s.cards.Ancestors(r.Context(), id, depth)
	})
}

// listDescendants walks child edges breadth first
func (s *Server) listDescendants(w http.ResponseWriter, r *http.Request) {
	depth, err := depthParam(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.withCard(w, r, func(id int64) (any, error) {
		return s.cards.Descendants(r.Context(), id, depth)
	})
}

// addTag tags a card
func (s *Server) addTag(w http.ResponseWriter, r *http.Request) {
	tag := tagParam(r)
	if err := validation.ValidateTag(tag); err != nil {
		s.fail(w, r, err)
		return
	}
	s.withCard(w, r, func(id int64) (any, error) {
		return s.cards.AddTag(r.Context(), id, tag)
	})
}

// removeTag untags a card
func (s *Server) removeTag(w http.ResponseWriter, r *http.Request) {
	tag := tagParam(r)
	s.withCard(w, r, func(id int64) (any, error) {
		return s.cards.RemoveTag(r.Context(), id, tag)
	})
}

// listLinks returns the cards this card links to
func (s *Server) listLinks(w http.ResponseWriter, r *http.Request) {
	s.withCard(w, r, func(id int64) (any, error) {
		return s.cards.Linked(r.Context(), id)
	})
}

// addLink links two cards
func (s *Server) addLink(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, "linkId", "link", s.cards.AddLink)
}

// removeLink unlinks two cards
func (s *Server) removeLink(w http.ResponseWriter, r *http.Request) {
	s.withPair(w, r, "linkId", "link", s.cards.RemoveLink)
}

// addTrigger appends a trigger
func (s *Server) addTrigger(w http.ResponseWriter, r *http.Request) {
	var t cards.Trigger
	if err := decode(r, &t); err != nil {
		s.fail(w, r, err)
		return
	}
	s.withCard(w, r, func(id int64) (any, error) {
		return s.cards.AddTrigger(r.Context(), id, t)
	})
}

// updateTrigger replaces the trigger at an index
func (s *Server) updateTrigger(w http.ResponseWriter, r *http.Request) {
	index, err := validation.ValidateTriggerIndex(chi.URLParam(r, "index"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var t cards.Trigger
	if err := decode(r, &t); err != nil {
		s.fail(w, r, err)
		return
	}
	s.withCard(w, r, func(id int64) (any, error) {
		return s.cards.UpdateTrigger(r.Context(), id, index, t)
	})
}

// removeTrigger deletes the trigger at an index
func (s *Server) removeTrigger(w http.ResponseWriter, r *http.Request) {
	index, err := validation.ValidateTriggerIndex(chi.URLParam(r, "index"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.withCard(w, r, func(id int64) (any, error) {
		return s.cards.RemoveTrigger(r.Context(), id, index)
	})
}

// withCard parses the card id and writes fn's result
func (s *Server) withCard(w http.ResponseWriter, r *http.Request, fn func(id int64) (any, error)) {
	id, err := pathID(r, "id", "card")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data, err := fn(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, data)
}

// withPair parses the card id and a second card id from param
func (s *Server) withPair(w http.ResponseWriter, r *http.Request, param, kind string,
	fn func(ctx context.Context, id, other int64) (*cards.Card, error)) {
	other, err := pathID(r, param, kind)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.withCard(w, r, func(id int64) (any, error) {
		return fn(r.Context(), id, other)
	})
}
