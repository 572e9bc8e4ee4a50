package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/h1v3-io/logtriage/internal/history"
	"github.com/h1v3-io/logtriage/internal/provider"
	"github.com/h1v3-io/logtriage/internal/ticket"
	"github.com/h1v3-io/logtriage/internal/tool"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// mockProvider returns a scripted sequence of replies and records requests.
type mockProvider struct {
	mu      sync.Mutex
	replies []reply
	calls   []protocol.CompletionRequest
}

type reply struct {
	text string
	stop string
	err  error
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) Complete(_ context.Context, req protocol.CompletionRequest) (*protocol.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.replies) == 0 {
		return &protocol.Completion{Text: "still looking", StopReason: protocol.StopMaxTokens}, nil
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &protocol.Completion{Text: r.text, StopReason: r.stop}, nil
}

// fakeRecorder keeps the ledger in memory.
type fakeRecorder struct {
	started  []string
	finished []history.RunStatus
	summary  string
	tickets  []string
	tools    []history.ToolRecord
}

func (f *fakeRecorder) Start(logSetID string) (*history.Run, error) {
	f.started = append(f.started, logSetID)
	return &history.Run{ID: "run-1", LogSetID: logSetID}, nil
}

func (f *fakeRecorder) Finish(id string, status history.RunStatus, iterations int, summary string, ticketIDs []string) error {
	f.finished = append(f.finished, status)
	f.summary = summary
	f.tickets = ticketIDs
	return nil
}

func (f *fakeRecorder) RecordTool(rec history.ToolRecord) error {
	f.tools = append(f.tools, rec)
	return nil
}

func testAgent(prov provider.Provider) *Agent {
	a := New(prov, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.IterationDelay = 0
	a.BackoffInitial = 1
	return a
}

func testLogs() []protocol.LogEntry {
	return []protocol.LogEntry{
		{Time: "14:00:01", Service: "batch-processor", Level: protocol.LevelInfo, Message: "batch started", BatchID: "bat_1"},
		{Time: "14:00:05", Service: "enrichment-service", Level: protocol.LevelError, Message: "zendesk token expired", SourceID: "src_9", UserID: "usr_3"},
		{Time: "14:00:07", Service: "batch-processor", Level: protocol.LevelError, Message: "batch failed", BatchID: "bat_1", UserID: "usr_3"},
	}
}

func testInvestigation(t *testing.T) Investigation {
	t.Helper()
	store, err := ticket.NewFileStore(filepath.Join(t.TempDir(), "tickets.json"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	logs := testLogs()
	return Investigation{
		LogSetID:    "5",
		InitialLogs: logs,
		Env: &tool.Env{
			Logs:    logs,
			Changes: []protocol.ChangeEvent{{Timestamp: "13:59:00", Type: "deployment", Description: "enrichment v4"}},
			Tickets: store,
		},
	}
}

func directive(name, args string) string {
	return fmt.Sprintf("%s\n{\"toolName\": %q, \"arguments\": %s}\n%s", tool.OpenMarker, name, args, tool.CloseMarker)
}

func TestInvestigate_DirectCompletion(t *testing.T) {
	prov := &mockProvider{replies: []reply{{text: "All healthy.", stop: protocol.StopEndTurn}}}
	res := testAgent(prov).Investigate(context.Background(), testInvestigation(t))

	if !res.Completed || res.Failed() || res.Iterations != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(prov.calls) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(prov.calls))
	}
	req := prov.calls[0]
	if !strings.Contains(req.System, "Log Set #5 Analysis:") || !strings.Contains(req.System, "AVAILABLE TOOLS:") {
		t.Errorf("system prompt missing log set or catalogue:\n%s", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" || !strings.Contains(req.Messages[0].Content, "Initial logs") {
		t.Errorf("expected the initial context as the only message, got %+v", req.Messages)
	}
	if !strings.Contains(res.Summary, "Log Set #5 Investigation Complete") || !strings.Contains(res.Summary, "Iterations: 1/10") {
		t.Errorf("unexpected summary:\n%s", res.Summary)
	}
}

func TestInvestigate_ToolsThenCompletionPhrase(t *testing.T) {
	first := "Tracing the batch.\n" +
		directive("search_logs", `{"batchId": "bat_1", "recursive": true}`) + "\n" +
		directive("createTicket", `{"title": "Zendesk token expired", "description": "batch failures", "severity": "HIGH", "affectedServices": ["enrichment-service"]}`)
	prov := &mockProvider{replies: []reply{
		{text: first, stop: protocol.StopMaxTokens},
		{text: "I suggest rotating the Zendesk token. Investigation complete.", stop: protocol.StopMaxTokens},
	}}
	rec := &fakeRecorder{}
	a := testAgent(prov)
	a.Recorder = rec

	res := a.Investigate(context.Background(), testInvestigation(t))
	if !res.Completed || res.Iterations != 2 {
		t.Fatalf("expected completion on iteration 2, got %+v", res)
	}
	if len(res.Executions) != 2 || res.Executions[0].Call.ToolName != "searchLogs" || !res.Executions[1].Succeeded() {
		t.Fatalf("unexpected executions %+v", res.Executions)
	}
	if len(res.Tickets) != 1 || res.Tickets[0].Severity != protocol.SeverityHigh {
		t.Fatalf("expected one high ticket, got %+v", res.Tickets)
	}
	if len(res.SuggestedActions) != 1 {
		t.Errorf("expected one suggested action, got %v", res.SuggestedActions)
	}

	second := prov.calls[1].Messages
	var toolEntries int
	for _, m := range second {
		if m.Role == "tool" {
			toolEntries++
		}
	}
	if toolEntries != 2 {
		t.Errorf("expected 2 tool entries in the second request, got %d", toolEntries)
	}

	if !strings.Contains(res.Summary, "  • [HIGH] Zendesk token expired ("+res.Tickets[0].ID+")") {
		t.Errorf("summary missing ticket line:\n%s", res.Summary)
	}
	if len(rec.started) != 1 || len(rec.finished) != 1 || rec.finished[0] != history.RunCompleted {
		t.Errorf("unexpected ledger %+v", rec)
	}
	if len(rec.tools) != 2 || rec.tools[0].RunID != "run-1" {
		t.Errorf("expected 2 tool records for run-1, got %+v", rec.tools)
	}
	if len(rec.tickets) != 1 || rec.tickets[0] != res.Tickets[0].ID {
		t.Errorf("ledger tickets %v", rec.tickets)
	}
}

func TestInvestigate_EndTurnWithToolCall(t *testing.T) {
	prov := &mockProvider{replies: []reply{
		{text: "Checking the batch.\n" + directive("searchLogs", `{"batchId": "bat_1"}`), stop: protocol.StopEndTurn},
		{text: "should not be requested", stop: protocol.StopEndTurn},
	}}
	res := testAgent(prov).Investigate(context.Background(), testInvestigation(t))

	if !res.Completed || res.Failed() || res.Iterations != 1 {
		t.Fatalf("expected completion on iteration 1, got %+v", res)
	}
	if len(prov.calls) != 1 {
		t.Errorf("expected 1 provider call, got %d", len(prov.calls))
	}
	if len(res.Executions) != 1 || res.Executions[0].Call.ToolName != "searchLogs" || !res.Executions[0].Succeeded() {
		t.Errorf("expected the search to run before stopping, got %+v", res.Executions)
	}
}

func TestInvestigate_ToolErrorsFeedBack(t *testing.T) {
	prov := &mockProvider{replies: []reply{
		{text: directive("createTicket", `{"title": "missing fields"}`) + directive("nope", `{}`), stop: protocol.StopMaxTokens},
		{text: "done", stop: protocol.StopEndTurn},
	}}
	res := testAgent(prov).Investigate(context.Background(), testInvestigation(t))
	if !res.Completed || res.Iterations != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, e := range res.Executions {
		if e.Succeeded() {
			t.Errorf("expected failure for %s", e.Call.ToolName)
		}
	}
	msgs := prov.calls[1].Messages
	if last := msgs[len(msgs)-1]; last.Role != "tool" || !strings.Contains(last.Content, "Error:") {
		t.Errorf("expected an error tool entry, got %+v", last)
	}
}

func TestInvestigate_IterationBudget(t *testing.T) {
	prov := &mockProvider{}
	a := testAgent(prov)
	a.MaxIterations = 3

	res := a.Investigate(context.Background(), testInvestigation(t))
	if res.Completed || res.Failed() {
		t.Fatalf("expected an exhausted but not failed run, got %+v", res)
	}
	if res.Iterations != 3 || len(prov.calls) != 3 {
		t.Errorf("expected 3 iterations, got %d (%d calls)", res.Iterations, len(prov.calls))
	}
	if !strings.Contains(res.Summary, "Iterations: 3/3") {
		t.Errorf("unexpected summary:\n%s", res.Summary)
	}
}

func TestInvestigate_RateLimitRetried(t *testing.T) {
	prov := &mockProvider{replies: []reply{
		{err: &provider.APIError{Provider: "mock", StatusCode: 429}},
		{text: "investigation complete", stop: protocol.StopEndTurn},
	}}
	res := testAgent(prov).Investigate(context.Background(), testInvestigation(t))
	if !res.Completed || res.Iterations != 2 {
		t.Fatalf("expected completion after retry, got %+v", res)
	}
}

func TestInvestigate_TransientErrorContinues(t *testing.T) {
	prov := &mockProvider{replies: []reply{
		{err: errors.New("connection reset")},
		{text: "done", stop: protocol.StopEndTurn},
	}}
	res := testAgent(prov).Investigate(context.Background(), testInvestigation(t))
	if !res.Completed || res.Failed() {
		t.Fatalf("expected the loop to recover, got %+v", res)
	}
}

func TestInvestigate_FailureOnLastIteration(t *testing.T) {
	prov := &mockProvider{replies: []reply{{err: errors.New("boom")}}}
	rec := &fakeRecorder{}
	a := testAgent(prov)
	a.MaxIterations = 1
	a.Recorder = rec

	res := a.Investigate(context.Background(), testInvestigation(t))
	if !res.Failed() || res.Summary != "Investigation failed: boom" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(rec.finished) != 1 || rec.finished[0] != history.RunFailed {
		t.Errorf("expected failed run in ledger, got %+v", rec.finished)
	}
}

func TestInvestigate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	prov := &mockProvider{}
	res := testAgent(prov).Investigate(ctx, testInvestigation(t))
	if !res.Failed() || len(prov.calls) != 0 {
		t.Fatalf("expected immediate failure, got %+v", res)
	}
}

func TestInvestigate_EmptyCorpus(t *testing.T) {
	prov := &mockProvider{replies: []reply{{text: "No logs to review.", stop: protocol.StopEndTurn}}}
	res := testAgent(prov).Investigate(context.Background(), Investigation{LogSetID: "0"})
	if !res.Completed || res.Summary == "" {
		t.Fatalf("expected a completed summary, got %+v", res)
	}
	if !strings.Contains(prov.calls[0].Messages[0].Content, "[]") {
		t.Errorf("expected empty log context, got %q", prov.calls[0].Messages[0].Content)
	}
}

func TestFormatSummary(t *testing.T) {
	long := "We suggest " + strings.Repeat("x", 100)
	got := FormatSummary(&Result{
		LogSetID:         "1",
		Iterations:       4,
		MaxIterations:    10,
		Tickets:          []*protocol.Ticket{{ID: "t1", Title: "Disk full", Severity: protocol.SeverityCritical}},
		SuggestedActions: []string{"a suggest", long, "c", "d"},
	})
	rule := strings.Repeat("═", 80)
	want := "\n" + rule + "\nINVESTIGATION SUMMARY\n" + rule + "\n\n" +
		"Log Set #1 Investigation Complete\n" +
		"Iterations: 4/10\n" +
		"Tickets Created: 1\n" +
		"\nTickets Created:\n" +
		"  • [CRITICAL] Disk full (t1)\n" +
		"\nSuggested Actions:\n" +
		"  • a suggest...\n" +
		"  • " + long[:70] + "...\n" +
		"  • c...\n" +
		"\n" + rule + "\n"
	if got != want {
		t.Errorf("FormatSummary mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}
