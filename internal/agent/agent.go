// Package agent drives the completion provider and the tool dispatcher: an
// autonomous investigation loop over one log set, and single conversational
// turns for chat sessions.
package agent

import (
	"log/slog"
	"time"

	"github.com/h1v3-io/logtriage/internal/history"
	"github.com/h1v3-io/logtriage/internal/provider"
	"github.com/h1v3-io/logtriage/internal/tool"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

const (
	DefaultMaxIterations  = 10
	DefaultIterationDelay = 500 * time.Millisecond
	DefaultBackoffInitial = time.Second
	defaultTurnRetries    = 3
)

// Recorder receives the investigation ledger. *history.SQLiteStore
// satisfies it.
type Recorder interface {
	Start(logSetID string) (*history.Run, error)
	Finish(id string, status history.RunStatus, iterations int, summary string, ticketIDs []string) error
	RecordTool(rec history.ToolRecord) error
}

// Agent runs investigations and conversational turns against one provider.
type Agent struct {
	Provider provider.Provider
	Tools    *tool.Registry
	Logger   *slog.Logger
	Recorder Recorder // optional

	MaxIterations  int
	IterationDelay time.Duration
	BackoffInitial time.Duration
	TokenBudget    int // memory budget; 0 keeps the memory default

	Model       string
	MaxTokens   int
	Temperature float64
}

// New creates an Agent with the default tool set and loop settings.
func New(prov provider.Provider, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		Provider:       prov,
		Tools:          tool.DefaultRegistry(logger),
		Logger:         logger.With("component", "agent"),
		MaxIterations:  DefaultMaxIterations,
		IterationDelay: DefaultIterationDelay,
		BackoffInitial: DefaultBackoffInitial,
	}
}

func (a *Agent) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Agent) maxIterations() int {
	if a.MaxIterations > 0 {
		return a.MaxIterations
	}
	return DefaultMaxIterations
}

func (a *Agent) backoffInitial() time.Duration {
	if a.BackoffInitial > 0 {
		return a.BackoffInitial
	}
	return DefaultBackoffInitial
}

func (a *Agent) recordTools(runID string, execs []protocol.ToolExecution) {
	if a.Recorder == nil || runID == "" {
		return
	}
	for _, e := range execs {
		err := a.Recorder.RecordTool(history.ToolRecord{
			RunID:     runID,
			Tool:      e.Call.ToolName,
			Arguments: e.Call.Arguments,
			Error:     e.Error,
		})
		if err != nil {
			a.logger().Warn("record tool execution", "run", runID, "tool", e.Call.ToolName, "error", err)
		}
	}
}
