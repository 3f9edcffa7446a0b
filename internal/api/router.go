// Package api exposes cards, sessions, story turns, scripts and LLM settings
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/qninhdt/storycards/internal/agents"
	"github.com/qninhdt/storycards/internal/apperr"
	"github.com/qninhdt/storycards/internal/cards"
	"github.com/qninhdt/storycards/internal/llm"
	mw "github.com/qninhdt/storycards/internal/middleware"
	"github.com/qninhdt/storycards/internal/script"
	"github.com/qninhdt/storycards/internal/session"
	"github.com/qninhdt/storycards/internal/turn"
	"github.com/qninhdt/storycards/internal/validation"
)

// MaxBodyBytes caps request bodies
const MaxBodyBytes = 1 << 20

// Pinger reports storage health
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the server routes to
type Deps struct {
	Cards        *cards.Store
	Sessions     *session.Service
	Orchestrator *turn.Orchestrator
	Pipeline     *script.Pipeline
	LLM          *llm.Service
	Storage      Pinger
	Logger       *zap.Logger
	RateLimitRPS int
}

// Server handles HTTP requests
type Server struct {
	router      chi.Router
	cards       *cards.Store
	sessions    *session.Service
	turns       *turn.Orchestrator
	pipeline    *script.Pipeline
	llm         *llm.Service
	architect   *agents.Architect
	storage     Pinger
	logger      *zap.Logger
	rateLimiter *mw.RateLimiter
}

// NewServer creates a new API server
func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	s := &Server{
		router:      chi.NewRouter(),
		cards:       d.Cards,
		sessions:    d.Sessions,
		turns:       d.Orchestrator,
		pipeline:    d.Pipeline,
		llm:         d.LLM,
		architect:   agents.NewArchitect(d.LLM, d.Cards, d.Logger.Named("architect")),
		storage:     d.Storage,
		logger:      d.Logger,
		rateLimiter: mw.NewRateLimiter(d.RateLimitRPS),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.SetHeader("Content-Type", "application/json"))
	s.router.Use(s.rateLimiter.Middleware)
	s.router.Use(mw.SecurityHeadersMiddleware)
	s.router.Use(mw.MaxBodySizeMiddleware(MaxBodyBytes))

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, apperr.New(apperr.CodeNotFound, "route not found"))
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
	})

	s.router.Get("/health", s.health)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/cards", func(r chi.Router) {
			r.Get("/", s.listCards)
			r.Post("/", s.createCard)
			r.Get("/tags", s.listTags)
			r.Post("/generate", s.generateWorld)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getCard)
				r.Put("/", s.updateCard)
				r.Delete("/", s.deleteCard)
				r.Post("/clone", s.cloneCard)
				r.Post("/usage", s.recordUsage)
				r.Post("/progress", s.addProgress)

				r.Get("/parents", s.listParents)
				r.Post("/parents/{parentId}", s.addParent)
				r.Delete("/parents/{parentId}", s.removeParent)
				r.Get("/children", s.listChildren)
				r.Get("/ancestors", s.listAncestors)
				r.Get("/descendants", s.listDescendants)

				r.Post("/tags/{tag}", s.addTag)
				r.Delete("/tags/{tag}", s.removeTag)

				r.Get("/links", s.listLinks)
				r.Post("/links/{linkId}", s.addLink)
				r.Delete("/links/{linkId}", s.removeLink)

				r.Post("/triggers", s.addTrigger)
				r.Put("/triggers/{index}", s.updateTrigger)
				r.Delete("/triggers/{index}", s.removeTrigger)
			})
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Put("/", s.updateSession)
				r.Delete("/", s.deleteSession)
				r.Post("/cards/{cardId}", s.activateCard)
				r.Delete("/cards/{cardId}", s.deactivateCard)

				r.Post("/turns", s.playTurn)
				r.Get("/turns", s.listTurns)
				r.Get("/prompt", s.previewPrompt)
			})
		})

		r.Route("/scripts", func(r chi.Router) {
			r.Get("/", s.listScripts)
			r.Get("/logs", s.scriptLogs)
			r.Delete("/logs", s.clearScriptLogs)
			r.Put("/{name}", s.updateScript)
		})

		r.Route("/settings/llm", func(r chi.Router) {
			r.Get("/", s.getLLMSettings)
			r.Put("/", s.updateLLMSettings)
			r.Get("/test", s.testLLM)
			r.Get("/models", s.listModels)
			r.Get("/status", s.llmStatuses)
		})
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SweepVisitors evicts idle rate limiter entries and returns how many were
// removed
func (s *Server) SweepVisitors() int {
	return s.rateLimiter.Sweep()
}

// Response wraps API responses
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Success: true, Data: data})
}

// writeError maps err to its status. Messages of unclassified errors are not
// exposed.
func writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := code.HTTPStatus()
	message := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if code == apperr.CodeUnknown {
		message = "Internal server error"
	}
	writeJSON(w, status, Response{Error: message, Code: string(code)})
}

// fail logs unexpected errors before writing them
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if code := apperr.CodeOf(err); code == apperr.CodeUnknown || code == apperr.CodeGeneration {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, err)
}

// decode reads a JSON body into dst
func decode(r *http.Request, dst any) error {
	return decodeBody(r, dst, false)
}

// decodeOptional is decode for endpoints where the body may be absent
func decodeOptional(r *http.Request, dst any) error {
	return decodeBody(r, dst, true)
}

func decodeBody(r *http.Request, dst any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return apperr.Validation("request body is required")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation("request body too large")
		}
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

// pathID parses a positive integer URL parameter
func pathID(r *http.Request, param, kind string) (int64, error) {
	return validation.ParseID(kind, chi.URLParam(r, param))
}

// health reports liveness and storage reachability
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok", "time": time.Now().UTC()}
	if s.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.storage.Ping(ctx); err != nil {
			s.logger.Warn("storage ping failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, Response{Error: "storage unavailable"})
			return
		}
	}
	writeData(w, http.StatusOK, status)
}
