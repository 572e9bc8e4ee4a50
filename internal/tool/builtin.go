package tool

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/h1v3-io/logtriage/internal/alert"
	"github.com/h1v3-io/logtriage/internal/changes"
	"github.com/h1v3-io/logtriage/internal/search"
	"github.com/h1v3-io/logtriage/internal/ticket"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

const (
	ticketRelatedLogs = 10
	alertSampleLogs   = 5
)

// Env is the data a tool executes against: the full log corpus of the
// investigation or session, its change events, and the shared services.
type Env struct {
	Logs    []protocol.LogEntry
	Changes []protocol.ChangeEvent
	Tickets ticket.Store
	// Notifier receives alerts. When nil, alerts are acknowledged but not
	// delivered anywhere.
	Notifier alert.Notifier
	Now      func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SearchLogsResult is returned by searchLogs.
type SearchLogsResult struct {
	LogsFound          int                 `json:"logsFound"`
	Logs               []protocol.LogEntry `json:"logs"`
	RelatedIdentifiers []string            `json:"relatedIdentifiers"`
}

// CheckChangesResult is returned by checkRecentChanges.
type CheckChangesResult struct {
	changes.Result
	Suggestions []string `json:"suggestions,omitempty"`
}

// CreateTicketResult is returned by createTicket.
type CreateTicketResult struct {
	Success  bool             `json:"success"`
	TicketID string           `json:"ticketId"`
	Ticket   *protocol.Ticket `json:"ticket"`
}

// AlertTeamResult is returned by alertTeam.
type AlertTeamResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// typed adapts a function over decoded arguments to the Tool interface.
type typed[A any] struct {
	kind        Kind
	description string
	params      map[string]any
	run         func(ctx context.Context, env *Env, args A) (any, error)
}

func (t *typed[A]) Kind() Kind                 { return t.kind }
func (t *typed[A]) Description() string        { return t.description }
func (t *typed[A]) Parameters() map[string]any { return t.params }

func (t *typed[A]) Execute(ctx context.Context, env *Env, raw map[string]any) (any, error) {
	args, err := decodeArgs[A](t.kind, raw)
	if err != nil {
		return nil, err
	}
	if env == nil {
		env = &Env{}
	}
	return t.run(ctx, env, args)
}

// Builtins returns the four triage tools in catalogue order.
func Builtins() []Tool {
	return []Tool{SearchLogs(), CheckRecentChanges(), CreateTicket(), AlertTeam()}
}

// SearchLogs searches the corpus by correlation keys, service, level, keyword
// and time range, optionally expanding a batch across users and sources.
func SearchLogs() Tool {
	return &typed[SearchLogsArgs]{
		kind:        KindSearchLogs,
		description: "Search through logs by various criteria (request ID, user ID, batch ID, source ID, service name, etc.). Can perform deep recursive searches to find related logs.",
		params: object(map[string]any{
			"requestId":      str("Exact request ID"),
			"userId":         str("Exact user ID"),
			"batchId":        str("Exact batch ID"),
			"sourceId":       str("Exact source ID"),
			"service":        str("Exact service name"),
			"level":          enum("Log level", "ERROR", "WARN", "INFO", "DEBUG"),
			"keyword":        str("Case-insensitive substring of the message"),
			"timeRangeStart": str("Inclusive lower bound on the log time"),
			"timeRangeEnd":   str("Inclusive upper bound on the log time"),
			"recursive":      map[string]any{"type": "boolean", "description": "With batchId, also follow the batch's users and sources"},
		}),
		run: func(_ context.Context, env *Env, a SearchLogsArgs) (any, error) {
			res := search.Search(env.Logs, search.Criteria{
				RequestID:      a.RequestID,
				UserID:         a.UserID,
				BatchID:        a.BatchID,
				SourceID:       a.SourceID,
				Service:        a.Service,
				Level:          protocol.Level(a.Level),
				Keyword:        a.Keyword,
				TimeRangeStart: a.TimeRangeStart,
				TimeRangeEnd:   a.TimeRangeEnd,
				Recursive:      a.Recursive,
			})
			logs := protocol.CopyLogs(res.Matches)
			ids := res.RelatedIdentifiers
			if ids == nil {
				ids = []string{}
			}
			return SearchLogsResult{LogsFound: len(logs), Logs: logs, RelatedIdentifiers: ids}, nil
		},
	}
}

// CheckRecentChanges correlates change events with ERROR logs that follow
// them within the correlation window.
func CheckRecentChanges() Tool {
	return &typed[CheckChangesArgs]{
		kind:        KindCheckRecentChanges,
		description: "Check for recent system changes (deployments, config changes, migrations) and correlate them with errors in logs.",
		params: object(map[string]any{
			"timeRangeStart": str("Inclusive lower bound on the change timestamp"),
			"timeRangeEnd":   str("Inclusive upper bound on the change timestamp"),
			"keyword":        str("Case-insensitive substring of the change description"),
			"changeType":     str("Exact change type, e.g. deployment, config, migration"),
		}),
		run: func(_ context.Context, env *Env, a CheckChangesArgs) (any, error) {
			res := changes.Correlate(env.Changes, env.Logs, changes.Filter{
				ChangeType:     a.ChangeType,
				TimeRangeStart: a.TimeRangeStart,
				TimeRangeEnd:   a.TimeRangeEnd,
				Keyword:        a.Keyword,
			})
			return CheckChangesResult{
				Result:      res,
				Suggestions: changes.SuggestCorrelation(res.RelevantChanges, res.CorrelatedErrors),
			}, nil
		},
	}
}

// CreateTicket files a ticket in the shared store. The ticket's related logs
// are a snapshot of the last entries of the corpus.
func CreateTicket() Tool {
	return &typed[CreateTicketArgs]{
		kind:        KindCreateTicket,
		description: "Create a support ticket to track an issue. Include title, description, severity level, and affected services.",
		params: object(map[string]any{
			"title":            str("Short summary of the issue"),
			"description":      str("What happened, the evidence and the suspected root cause"),
			"severity":         enum("Ticket severity", "low", "medium", "high", "critical"),
			"affectedServices": strList("Services affected by the issue"),
			"suggestions":      strList("Recommended remediation steps"),
		}, "title", "description", "severity", "affectedServices"),
		run: func(_ context.Context, env *Env, a CreateTicketArgs) (any, error) {
			if env.Tickets == nil {
				return nil, errors.New("createTicket: no ticket store configured")
			}
			t, err := env.Tickets.Create(ticket.Draft{
				Title:            a.Title,
				Description:      a.Description,
				Severity:         protocol.Severity(a.Severity),
				AffectedServices: a.AffectedServices,
				RelatedLogs:      protocol.LastLogs(env.Logs, ticketRelatedLogs),
				Suggestions:      a.Suggestions,
			})
			if err != nil {
				return nil, fmt.Errorf("createTicket: %w", err)
			}
			return CreateTicketResult{Success: true, TicketID: t.ID, Ticket: t}, nil
		},
	}
}

// AlertTeam sends an alert through the configured notifier.
func AlertTeam() Tool {
	return &typed[AlertTeamArgs]{
		kind:        KindAlertTeam,
		description: "Send an alert to the team about a critical issue. Specify severity, affected services, and issue summary.",
		params: object(map[string]any{
			"severity":         enum("Alert severity", "low", "medium", "high", "critical"),
			"affectedServices": strList("Services affected by the issue"),
			"issueSummary":     str("One-paragraph summary of the issue"),
		}, "severity", "affectedServices", "issueSummary"),
		run: func(ctx context.Context, env *Env, a AlertTeamArgs) (any, error) {
			al := alert.Alert{
				Severity:         protocol.Severity(a.Severity),
				AffectedServices: a.AffectedServices,
				IssueSummary:     a.IssueSummary,
				RelevantLogs:     serviceErrors(env.Logs, a.AffectedServices, alertSampleLogs),
				Timestamp:        env.now(),
			}
			if env.Notifier != nil {
				if err := env.Notifier.Notify(ctx, al); err != nil {
					return nil, fmt.Errorf("alertTeam: %w", err)
				}
			}
			return AlertTeamResult{
				Success:    true,
				Message:    al.Message(),
				Suggestion: alert.Suggestion(al.Severity),
			}, nil
		},
	}
}

// serviceErrors returns up to n ERROR logs from the given services.
func serviceErrors(logs []protocol.LogEntry, services []string, n int) []protocol.LogEntry {
	var out []protocol.LogEntry
	for _, l := range logs {
		if len(out) == n {
			break
		}
		if l.Level == protocol.LevelError && slices.Contains(services, l.Service) {
			out = append(out, l)
		}
	}
	return out
}

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func enum(desc string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": desc, "enum": values}
}

func strList(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}
