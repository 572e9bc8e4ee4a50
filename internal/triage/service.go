// Package triage is the application facade: investigations, chat sessions,
// tickets and log sets behind one set of operations the API and the
// command-line tools share.
package triage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/h1v3-io/logtriage/internal/agent"
	"github.com/h1v3-io/logtriage/internal/alert"
	"github.com/h1v3-io/logtriage/internal/history"
	"github.com/h1v3-io/logtriage/internal/logsource"
	"github.com/h1v3-io/logtriage/internal/provider"
	"github.com/h1v3-io/logtriage/internal/session"
	"github.com/h1v3-io/logtriage/internal/ticket"
	"github.com/h1v3-io/logtriage/internal/tool"
)

const (
	DefaultProvider    = "gemini"
	DefaultModel       = "gemini-2.0-flash"
	DefaultInitialLogs = 5
)

var (
	// ErrBusy is returned when an investigation is already running.
	ErrBusy = errors.New("triage: investigation already running")
	// ErrInvalid wraps request validation failures.
	ErrInvalid = errors.New("triage: invalid request")
	// ErrTicketNotFound is returned for unknown ticket IDs.
	ErrTicketNotFound = errors.New("triage: ticket not found")
)

// ProviderFactory builds a completion provider. An empty apiKey means the
// configured key for that provider.
type ProviderFactory func(kind, model, apiKey string) (provider.Provider, error)

// AgentSettings tune every agent the service creates.
type AgentSettings struct {
	MaxIterations  int
	IterationDelay time.Duration
	BackoffInitial time.Duration
	TokenBudget    int
	MaxTokens      int
	Temperature    float64
	InitialLogs    int
}

// Config wires a Service. Sources, Tickets, Sessions and NewProvider are
// required.
type Config struct {
	Sources     logsource.Source
	Uploads     *logsource.Dir // optional; target of ingested log sets
	Tickets     *ticket.FileStore
	Sessions    *session.Store
	History     *history.SQLiteStore // optional
	Notifier    alert.Notifier       // optional
	NewProvider ProviderFactory

	DefaultProvider string
	DefaultModel    string
	Agent           AgentSettings
	Logger          *slog.Logger
}

// Service implements the triage operations.
type Service struct {
	cfg     Config
	logger  *slog.Logger
	running atomic.Bool
	bg      sync.WaitGroup

	mu       sync.RWMutex // guards settings
	settings ProviderSettings
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Sources == nil:
		return nil, errors.New("triage: a log source is required")
	case cfg.Tickets == nil:
		return nil, errors.New("triage: a ticket store is required")
	case cfg.Sessions == nil:
		return nil, errors.New("triage: a session store is required")
	case cfg.NewProvider == nil:
		return nil, errors.New("triage: a provider factory is required")
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = DefaultProvider
	}
	if cfg.DefaultModel == "" && cfg.DefaultProvider == DefaultProvider {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.Agent.InitialLogs <= 0 {
		cfg.Agent.InitialLogs = DefaultInitialLogs
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		logger:   logger.With("component", "triage"),
		settings: ProviderSettings{Provider: cfg.DefaultProvider, Model: cfg.DefaultModel},
	}, nil
}

// Wait blocks until background investigations started by Ingest finish.
func (s *Service) Wait() {
	s.bg.Wait()
}

// Running reports whether an investigation is in progress.
func (s *Service) Running() bool {
	return s.running.Load()
}

// ProviderSettings names the provider and model new work uses by default.
type ProviderSettings struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Settings returns the current default provider and model.
func (s *Service) Settings() ProviderSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetProvider changes the default provider and model. The provider must be
// constructible with its configured credentials.
func (s *Service) SetProvider(p ProviderSettings) (ProviderSettings, error) {
	if p.Provider == "" {
		return ProviderSettings{}, fmt.Errorf("%w: provider is required", ErrInvalid)
	}
	if _, err := s.cfg.NewProvider(p.Provider, p.Model, ""); err != nil {
		return ProviderSettings{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	s.mu.Lock()
	s.settings = p
	s.mu.Unlock()
	s.logger.Info("default provider changed", "provider", p.Provider, "model", p.Model)
	return p, nil
}

// InvestigateRequest starts an autonomous run. Empty Provider and Model fall
// back to the defaults; an empty APIKey uses the configured key.
type InvestigateRequest struct {
	LogSetID string `json:"logSetId"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
}

// StartInvestigation loads a log set and runs the investigation loop over it.
// Only one investigation runs at a time. A run that fails inside the loop is
// still returned, with Result.Failure set.
func (s *Service) StartInvestigation(ctx context.Context, req InvestigateRequest) (*agent.Result, error) {
	if !logsource.ValidID(req.LogSetID) {
		return nil, fmt.Errorf("%w: invalid log set %q", ErrInvalid, req.LogSetID)
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.running.Store(false)

	set, err := s.cfg.Sources.Load(ctx, req.LogSetID)
	if err != nil {
		return nil, err
	}
	kind, model := s.pick(req.Provider, req.Model)
	a, err := s.newAgent(kind, model, req.APIKey)
	if err != nil {
		return nil, err
	}

	s.logger.Info("investigation started", "log_set", set.ID, "provider", kind, "logs", len(set.Logs))
	res := a.Investigate(ctx, agent.Investigation{
		LogSetID:    set.ID,
		InitialLogs: set.Last(s.cfg.Agent.InitialLogs),
		Env:         s.env(set),
	})
	if res.Failed() {
		s.logger.Error("investigation failed", "log_set", set.ID, "error", res.Failure)
	} else {
		s.logger.Info("investigation finished", "log_set", set.ID, "iterations", res.Iterations, "tickets", len(res.Tickets))
	}
	return res, nil
}

// ListInvestigations returns recorded runs, newest first. Without a history
// store the list is empty.
func (s *Service) ListInvestigations(f history.Filter) ([]*history.Run, error) {
	if s.cfg.History == nil {
		return []*history.Run{}, nil
	}
	return s.cfg.History.List(f)
}

// GetInvestigation returns one run with its tool executions.
func (s *Service) GetInvestigation(id string) (*history.Run, error) {
	if s.cfg.History == nil {
		return nil, fmt.Errorf("%w: %s", history.ErrNotFound, id)
	}
	return s.cfg.History.Get(id)
}

func (s *Service) pick(kind, model string) (string, string) {
	def := s.Settings()
	if kind == "" {
		kind = def.Provider
	}
	if model == "" && strings.EqualFold(kind, def.Provider) {
		model = def.Model
	}
	return kind, model
}

func (s *Service) newAgent(kind, model, apiKey string) (*agent.Agent, error) {
	prov, err := s.cfg.NewProvider(kind, model, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	st := s.cfg.Agent
	a := agent.New(prov, s.logger)
	if st.MaxIterations > 0 {
		a.MaxIterations = st.MaxIterations
	}
	if st.IterationDelay > 0 {
		a.IterationDelay = st.IterationDelay
	}
	if st.BackoffInitial > 0 {
		a.BackoffInitial = st.BackoffInitial
	}
	a.TokenBudget = st.TokenBudget
	a.MaxTokens = st.MaxTokens
	a.Temperature = st.Temperature
	a.Model = model
	if s.cfg.History != nil {
		a.Recorder = s.cfg.History
	}
	return a, nil
}

func (s *Service) env(set *logsource.LogSet) *tool.Env {
	return &tool.Env{
		Logs:     set.Logs,
		Changes:  set.Changes,
		Tickets:  s.cfg.Tickets,
		Notifier: s.cfg.Notifier,
	}
}
