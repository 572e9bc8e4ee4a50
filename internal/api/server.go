// Package api exposes the triage service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/h1v3-io/logtriage/internal/agent"
	"github.com/h1v3-io/logtriage/internal/history"
	"github.com/h1v3-io/logtriage/internal/ingest"
	"github.com/h1v3-io/logtriage/internal/logbuf"
	"github.com/h1v3-io/logtriage/internal/logsource"
	"github.com/h1v3-io/logtriage/internal/scheduler"
	"github.com/h1v3-io/logtriage/internal/session"
	"github.com/h1v3-io/logtriage/internal/ticket"
	"github.com/h1v3-io/logtriage/internal/triage"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// TriageService is what the server needs from the triage facade.
type TriageService interface {
	Running() bool
	Settings() triage.ProviderSettings
	SetProvider(p triage.ProviderSettings) (triage.ProviderSettings, error)

	ListLogSets(ctx context.Context) ([]string, error)
	GetLogSet(ctx context.Context, id string, q triage.LogQuery) (*triage.LogPage, error)
	SummarizeLogSet(ctx context.Context, id string) (*triage.LogSummary, error)

	StartInvestigation(ctx context.Context, req triage.InvestigateRequest) (*agent.Result, error)
	ListInvestigations(f history.Filter) ([]*history.Run, error)
	GetInvestigation(id string) (*history.Run, error)

	StartConversation(ctx context.Context, req triage.StartChatRequest) (*triage.ChatStarted, error)
	SendMessage(ctx context.Context, sessionID, message string) (*triage.ChatReply, error)
	GetConversation(sessionID string) (*triage.Conversation, error)
	EndConversation(sessionID string) bool

	CreateTicket(nt triage.NewTicket) (*protocol.Ticket, error)
	ListTickets(f ticket.Filter) triage.TicketList
	GetTicket(id string) (*protocol.Ticket, error)
	UpdateTicketStatus(id string, status protocol.TicketStatus) (*protocol.Ticket, error)
	AddComment(id, author, text string) (*protocol.Ticket, error)
	CloseTicket(id, finalComment string) (*protocol.Ticket, error)
	DeleteTicket(id string) error
	TicketStats() ticket.Stats
}

// LogQuerier serves the daemon's own recent log records.
type LogQuerier interface {
	Query(q logbuf.Query) []logbuf.Entry
}

// JobLister reports the daemon's scheduled jobs.
type JobLister interface {
	Jobs() []scheduler.Job
}

// Config holds API server configuration.
type Config struct {
	Host        string
	Port        int
	Key         string // API key for Bearer auth
	RateLimit   int    // requests per minute per client IP; 0 disables
	CORSOrigins []string
	// Ingest handles POST /api/ingest/{name}. It authenticates on its own.
	Ingest *ingest.Handler
	// Logs backs GET /api/runtime/logs when set.
	Logs LogQuerier
	// Schedules backs GET /api/schedules when set.
	Schedules JobLister
}

// Server is the logtriage REST API server.
type Server struct {
	svc    TriageService
	cfg    Config
	logger *slog.Logger
	srv    *http.Server
}

// NewServer creates a new API server.
func NewServer(svc TriageService, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With("component", "api"),
	}
	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Signature-256", "X-Hub-Signature-256"},
		MaxAge:         300,
	}))
	if s.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
	}

	r.Get("/api/health", s.handleHealth)
	if s.cfg.Ingest != nil {
		r.Method(http.MethodPost, "/api/ingest/{name}", s.cfg.Ingest)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/api/settings", s.handleGetSettings)
		r.Post("/api/settings/provider", s.handleSetProvider)
		r.Get("/api/runtime/logs", s.handleRuntimeLogs)
		r.Get("/api/schedules", s.handleSchedules)

		r.Route("/api/logs", func(r chi.Router) {
			r.Get("/", s.handleListLogSets)
			r.Get("/{id}", s.handleGetLogSet)
			r.Get("/{id}/summary", s.handleLogSummary)
		})

		r.Post("/api/triage/run", s.handleRunTriage)
		r.Get("/api/investigations", s.handleListInvestigations)
		r.Get("/api/investigations/{id}", s.handleGetInvestigation)

		r.Route("/api/tickets", func(r chi.Router) {
			r.Get("/", s.handleListTickets)
			r.Post("/", s.handleCreateTicket)
			r.Get("/stats", s.handleTicketStats)
			r.Get("/{id}", s.handleGetTicket)
			r.Patch("/{id}", s.handleUpdateTicket)
			r.Delete("/{id}", s.handleDeleteTicket)
			r.Post("/{id}/comments", s.handleAddComment)
			r.Post("/{id}/close", s.handleCloseTicket)
		})

		r.Route("/api/chat", func(r chi.Router) {
			r.Post("/start", s.handleStartChat)
			r.Post("/{sessionID}/message", s.handleChatMessage)
			r.Get("/{sessionID}", s.handleGetChat)
			r.Delete("/{sessionID}", s.handleEndChat)
		})
	})
	return r
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps service errors to status codes. Errors without a mapping
// are reported as 500 with prefix in front of the message.
func (s *Server) writeError(w http.ResponseWriter, err error, prefix string) {
	switch {
	case errors.Is(err, triage.ErrInvalid):
		writeMessage(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), triage.ErrInvalid.Error()+": "))
	case errors.Is(err, triage.ErrBusy):
		writeMessage(w, http.StatusTooManyRequests, "Triage already running")
	case errors.Is(err, logsource.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Log set not found")
	case errors.Is(err, session.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Session not found or expired")
	case errors.Is(err, triage.ErrTicketNotFound):
		writeMessage(w, http.StatusNotFound, "Ticket not found")
	case errors.Is(err, history.ErrNotFound):
		writeMessage(w, http.StatusNotFound, "Investigation not found")
	default:
		s.logger.Error("request failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, prefix+err.Error())
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}
