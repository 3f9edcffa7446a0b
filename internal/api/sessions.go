package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/llm"
	"github.com/qninhdt/storycards/internal/session"
	"github.com/qninhdt/storycards/internal/turn"
	"github.com/qninhdt/storycards/internal/validation"
)

// listSessions lists sessions, most recently updated first
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.sessions.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, list)
}

// createSession starts a story. The body and its name are optional.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeOptional(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validation.ValidateName(req.Name, true); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.sessions.Create(r.Context(), req.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, sess)
}

// getSession returns one session
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "session")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sess)
}

// updateSession applies a partial update
func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "session")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var patch session.Patch
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
	if patch.ActiveCards != nil {
		seen := make(map[int64]bool, len(*patch.ActiveCards))
		for _, cardID := range *patch.ActiveCards {
			if seen[cardID] {
				s.fail(w, r, apperr.Validation("active_cards lists card %d twice", cardID))
				return
			}
			seen[cardID] = true
		}
		found, err := s.cards.GetMany(r.Context(), *patch.ActiveCards)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if len(found) != len(*patch.ActiveCards) {
			s.fail(w, r, apperr.Validation("active_cards references an unknown card"))
			return
		}
	}
	sess, err := s.sessions.Update(r.Context(), id, patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sess)
}

// deleteSession removes a session and its history
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "session")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]int64{"deleted": id})
}

// activateCard adds a card to the session context
func (s *Server) activateCard(w http.ResponseWriter, r *http.Request) {
	s.withSessionCard(w, r, s.sessions.ActivateCard)
}

// deactivateCard removes a card from the session context
func (s *Server) deactivateCard(w http.ResponseWriter, r *http.Request) {
	s.withSessionCard(w, r, s.sessions.DeactivateCard)
}

func (s *Server) withSessionCard(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, id, cardID int64) (*session.Session, error)) {
	id, err := pathID(r, "id", "session")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cardID, err := pathID(r, "cardId", "card")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := fn(r.Context(), id, cardID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, sess)
}

type playRequest struct {
	PlayerInput string   `json:"playerInput"`
	FocusCardID int64    `json:"focusCardId"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   int      `json:"maxTokens"`
}

// playTurn plays one story turn
func (s *Server) playTurn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "session")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req playRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		s.fail(w, r, apperr.Validation("temperature must be between 0 and 2"))
		return
	}
	if req.MaxTokens < 0 {
		s.fail(w, r, apperr.Validation("maxTokens must not be negative"))
		return
	}

	res, err := s.turns.Play(r.Context(), turn.Request{
		SessionID: id,
		Input:     req.PlayerInput,
		FocusID:   req.FocusCardID,
		Options: llm.Options{
			Model:       req.Model,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// listTurns returns the session's turn history
func (s *Server) listTurns(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "session")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	turns, err := s.turns.History(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, turns)
}

// previewPrompt returns the system prompt the next turn would use
func (s *Server) previewPrompt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id", "session")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var focus int64
	if raw := r.URL.Query().Get("focus"); raw != "" {
		if focus, err = strconv.ParseInt(raw, 10, 64); err != nil || focus < 0 {
			s.fail(w, r, apperr.Validation("invalid focus: %q", raw))
			return
		}
	}
	preview, err := s.turns.Preview(r.Context(), id, focus)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, preview)
}
