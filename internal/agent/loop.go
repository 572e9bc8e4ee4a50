package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/h1v3-io/logtriage/internal/history"
	"github.com/h1v3-io/logtriage/internal/memory"
	"github.com/h1v3-io/logtriage/internal/provider"
	"github.com/h1v3-io/logtriage/internal/tool"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

const (
	summaryRule       = 80
	summaryActions    = 3
	summaryActionRune = 70
)

// Investigation is the input of one autonomous run. Env carries the full log
// corpus, the change events and the ticket store; InitialLogs is the slice of
// recent logs the agent sees up front.
type Investigation struct {
	LogSetID    string
	InitialLogs []protocol.LogEntry
	Env         *tool.Env
}

// Result is the outcome of an investigation.
type Result struct {
	LogSetID         string                   `json:"logSetId"`
	RunID            string                   `json:"runId,omitempty"`
	Iterations       int                      `json:"iterations"`
	MaxIterations    int                      `json:"maxIterations"`
	Completed        bool                     `json:"completed"`
	Failure          string                   `json:"failure,omitempty"`
	Tickets          []*protocol.Ticket       `json:"ticketsCreated"`
	SuggestedActions []string                 `json:"suggestedActions"`
	Executions       []protocol.ToolExecution `json:"toolExecutions"`
	Summary          string                   `json:"summary"`
}

// Failed reports whether the run ended on an unrecoverable error.
func (r *Result) Failed() bool {
	return r.Failure != ""
}

// Investigate runs the loop until the model ends its turn, says the
// completion phrase, or the iteration budget runs out. Errors never escape:
// a run that cannot finish is reported through Result.Failure and a summary
// reading "Investigation failed: <reason>".
func (a *Agent) Investigate(ctx context.Context, inv Investigation) *Result {
	env := inv.Env
	if env == nil {
		env = &tool.Env{}
	}
	log := a.logger().With("log_set", inv.LogSetID)
	maxIter := a.maxIterations()

	res := &Result{
		LogSetID:         inv.LogSetID,
		MaxIterations:    maxIter,
		Tickets:          []*protocol.Ticket{},
		SuggestedActions: []string{},
		Executions:       []protocol.ToolExecution{},
	}
	if a.Recorder != nil {
		run, err := a.Recorder.Start(inv.LogSetID)
		if err != nil {
			log.Warn("record investigation start", "error", err)
		} else {
			res.RunID = run.ID
		}
	}

	mem := memory.New(
		WithTools(InvestigationPrompt(inv.LogSetID), a.Tools.Definitions()),
		inv.InitialLogs, env.Changes, a.memoryOptions()...,
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.backoffInitial()

	log.Info("investigation started", "max_iterations", maxIter, "logs", len(env.Logs))

	for i := 1; i <= maxIter && !res.Completed; i++ {
		res.Iterations = i
		if err := ctx.Err(); err != nil {
			res.Failure = err.Error()
			break
		}
		log.Debug("investigation iteration", "iteration", i, "messages", mem.Len())

		resp, err := a.Provider.Complete(ctx, a.request(mem))
		if err != nil {
			if i == maxIter || ctx.Err() != nil {
				res.Failure = err.Error()
				break
			}
			if provider.IsRateLimited(err) {
				wait := bo.NextBackOff()
				log.Warn("completion rate limited", "iteration", i, "retry_in", wait)
				if !sleep(ctx, wait) {
					res.Failure = ctx.Err().Error()
					break
				}
				continue
			}
			log.Error("completion failed", "iteration", i, "error", err)
			continue
		}
		bo.Reset()

		mem.AddAssistantMessage(resp.Text)
		if strings.Contains(strings.ToLower(resp.Text), "suggest") {
			res.SuggestedActions = append(res.SuggestedActions, resp.Text)
		}

		calls := tool.ParseDirectives(resp.Text)
		execs := a.Tools.DispatchAll(ctx, env, calls)
		for _, e := range execs {
			mem.AddToolResult(e.Call.ToolName, e.Result, e.Error)
			if t := createdTicket(e); t != nil {
				res.Tickets = append(res.Tickets, t)
			}
		}
		res.Executions = append(res.Executions, execs...)
		a.recordTools(res.RunID, execs)

		if resp.EndTurn() || strings.Contains(strings.ToLower(resp.Text), CompletionPhrase) {
			res.Completed = true
			log.Info("investigation complete", "iteration", i, "tickets", len(res.Tickets))
			break
		}
		if i < maxIter && !sleep(ctx, a.IterationDelay) {
			res.Failure = ctx.Err().Error()
			break
		}
	}

	if res.Failed() {
		log.Error("investigation failed", "iteration", res.Iterations, "error", res.Failure)
		res.Summary = "Investigation failed: " + res.Failure
	} else {
		res.Summary = FormatSummary(res)
	}
	a.finishRun(res)
	return res
}

func (a *Agent) finishRun(res *Result) {
	if a.Recorder == nil || res.RunID == "" {
		return
	}
	status := history.RunCompleted
	if res.Failed() {
		status = history.RunFailed
	}
	ids := make([]string, len(res.Tickets))
	for i, t := range res.Tickets {
		ids[i] = t.ID
	}
	if err := a.Recorder.Finish(res.RunID, status, res.Iterations, res.Summary, ids); err != nil {
		a.logger().Warn("record investigation finish", "run", res.RunID, "error", err)
	}
}

func (a *Agent) request(mem *memory.Memory) protocol.CompletionRequest {
	return protocol.CompletionRequest{
		Model:       a.Model,
		System:      mem.SystemPrompt(),
		Messages:    mem.FormattedMessagesForLLM(),
		MaxTokens:   a.MaxTokens,
		Temperature: a.Temperature,
	}
}

func (a *Agent) memoryOptions() []memory.Option {
	if a.TokenBudget > 0 {
		return []memory.Option{memory.WithBudget(a.TokenBudget)}
	}
	return nil
}

func createdTicket(e protocol.ToolExecution) *protocol.Ticket {
	if !e.Succeeded() || e.Call.ToolName != tool.KindCreateTicket.String() {
		return nil
	}
	r, ok := e.Result.(tool.CreateTicketResult)
	if !ok || !r.Success {
		return nil
	}
	return r.Ticket
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// FormatSummary renders the plain-text investigation summary.
func FormatSummary(r *Result) string {
	rule := strings.Repeat("═", summaryRule)
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nINVESTIGATION SUMMARY\n%s\n\n", rule, rule)
	fmt.Fprintf(&b, "Log Set #%s Investigation Complete\n", r.LogSetID)
	fmt.Fprintf(&b, "Iterations: %d/%d\n", r.Iterations, r.MaxIterations)
	fmt.Fprintf(&b, "Tickets Created: %d\n", len(r.Tickets))

	if len(r.Tickets) > 0 {
		b.WriteString("\nTickets Created:\n")
		for _, t := range r.Tickets {
			fmt.Fprintf(&b, "  • [%s] %s (%s)\n", strings.ToUpper(string(t.Severity)), t.Title, t.ID)
		}
	}
	if len(r.SuggestedActions) > 0 {
		b.WriteString("\nSuggested Actions:\n")
		for i, action := range r.SuggestedActions {
			if i == summaryActions {
				break
			}
			fmt.Fprintf(&b, "  • %s...\n", truncate(action, summaryActionRune))
		}
	}
	fmt.Fprintf(&b, "\n%s\n", rule)
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
