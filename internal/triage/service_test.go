package triage

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
	"time"

	"github.com/h1v3-io/logtriage/internal/history"
	"github.com/h1v3-io/logtriage/internal/ingest"
	"github.com/h1v3-io/logtriage/internal/logsource"
	"github.com/h1v3-io/logtriage/internal/logstats"
	"github.com/h1v3-io/logtriage/internal/provider"
	"github.com/h1v3-io/logtriage/internal/scheduler"
	"github.com/h1v3-io/logtriage/internal/session"
	"github.com/h1v3-io/logtriage/internal/ticket"
	"github.com/h1v3-io/logtriage/internal/tool"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

type scripted struct {
	mu      sync.Mutex
	replies []string
	calls   int
	err     error
	// during runs inside each completion call.
	during func()
}

func (p *scripted) Name() string { return "scripted" }

func (p *scripted) Complete(context.Context, protocol.CompletionRequest) (*protocol.Completion, error) {
	if p.during != nil {
		p.during()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return &protocol.Completion{Text: "Nothing else. investigation complete", StopReason: protocol.StopEndTurn}, nil
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return &protocol.Completion{Text: r, StopReason: protocol.StopEndTurn}, nil
}

type built struct {
	kind, model, apiKey string
}

type fixture struct {
	svc     *Service
	prov    *scripted
	uploads *logsource.Dir
	built   []built
	mu      sync.Mutex
}

func newFixture(t *testing.T, replies ...string) *fixture {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tickets, err := ticket.NewFileStore(filepath.Join(dir, "tickets.json"), ticket.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tickets.Close() })
	hist, err := history.NewSQLiteStore(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	f := &fixture{prov: &scripted{replies: replies}, uploads: &logsource.Dir{Path: filepath.Join(dir, "uploads")}}
	svc, err := New(Config{
		Sources:  logsource.Chain{f.uploads, logsource.Embedded{}},
		Uploads:  f.uploads,
		Tickets:  tickets,
		Sessions: session.NewStore(session.WithLogger(logger)),
		History:  hist,
		NewProvider: func(kind, model, apiKey string) (provider.Provider, error) {
			if kind == "nope" {
				return nil, fmt.Errorf("provider: unsupported provider %q", kind)
			}
			f.mu.Lock()
			f.built = append(f.built, built{kind, model, apiKey})
			f.mu.Unlock()
			return f.prov, nil
		},
		Agent:  AgentSettings{IterationDelay: time.Millisecond, BackoffInitial: time.Millisecond},
		Logger: logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.svc = svc
	return f
}

func directive(name, args string) string {
	return fmt.Sprintf("%s{\"toolName\": %q, \"arguments\": %s}%s", tool.OpenMarker, name, args, tool.CloseMarker)
}

func TestNew_RequiresStores(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected an error for an empty config")
	}
}

func TestStartInvestigation(t *testing.T) {
	f := newFixture(t,
		directive("createTicket", `{"title": "Zendesk token expired", "description": "enrichment failing", "severity": "high", "affectedServices": ["enrichment-service"]}`),
	)
	res, err := f.svc.StartInvestigation(context.Background(), InvestigateRequest{LogSetID: "5"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Completed || res.Failed() || len(res.Tickets) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Summary, "Log Set #5 Investigation Complete") {
		t.Errorf("unexpected summary:\n%s", res.Summary)
	}
	if got := f.built[0]; got.kind != DefaultProvider || got.model != DefaultModel || got.apiKey != "" {
		t.Errorf("expected the default provider, got %+v", got)
	}

	list := f.svc.ListTickets(ticket.Filter{})
	if len(list.Tickets) != 1 || list.Stats.Total != 1 || list.Stats.BySeverity[protocol.SeverityHigh] != 1 {
		t.Errorf("unexpected tickets %+v", list)
	}

	runs, err := f.svc.ListInvestigations(history.Filter{})
	if err != nil || len(runs) != 1 {
		t.Fatalf("ListInvestigations = %v, %v", runs, err)
	}
	run, err := f.svc.GetInvestigation(runs[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != history.RunCompleted || run.LogSetID != "5" || len(run.TicketIDs) != 1 || len(run.Tools) != 1 {
		t.Errorf("unexpected run %+v", run)
	}
	if f.svc.Running() {
		t.Error("running flag not cleared")
	}
}

func TestStartInvestigation_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.StartInvestigation(ctx, InvestigateRequest{LogSetID: "../etc"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	if _, err := f.svc.StartInvestigation(ctx, InvestigateRequest{LogSetID: "42"}); !errors.Is(err, logsource.ErrNotFound) {
		t.Errorf("expected logsource.ErrNotFound, got %v", err)
	}
	if _, err := f.svc.StartInvestigation(ctx, InvestigateRequest{LogSetID: "5", Provider: "nope"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for an unknown provider, got %v", err)
	}

	f.svc.running.Store(true)
	if _, err := f.svc.StartInvestigation(ctx, InvestigateRequest{LogSetID: "5"}); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
}

func TestSetProvider(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.SetProvider(ProviderSettings{Provider: "nope"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	if _, err := f.svc.SetProvider(ProviderSettings{}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	if _, err := f.svc.SetProvider(ProviderSettings{Provider: "anthropic", Model: "claude-3-5-sonnet"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.StartInvestigation(context.Background(), InvestigateRequest{LogSetID: "1"}); err != nil {
		t.Fatal(err)
	}
	last := f.built[len(f.built)-1]
	if last.kind != "anthropic" || last.model != "claude-3-5-sonnet" {
		t.Errorf("new default not used: %+v", last)
	}
}

func TestConversation(t *testing.T) {
	f := newFixture(t, "The zendesk token expired.")
	ctx := context.Background()

	started, err := f.svc.StartConversation(ctx, StartChatRequest{LogSetID: "5"})
	if err != nil {
		t.Fatal(err)
	}
	if started.LogsInfo != (LogsInfo{Count: 30, Source: "log_set_5"}) {
		t.Errorf("unexpected logs info %+v", started.LogsInfo)
	}
	if !strings.Contains(started.InitialMessage, "I have 30 logs loaded from log_set_5") {
		t.Errorf("unexpected greeting %q", started.InitialMessage)
	}

	reply, err := f.svc.SendMessage(ctx, started.SessionID, "What broke?")
	if err != nil {
		t.Fatal(err)
	}
	if reply.AssistantResponse != "The zendesk token expired." || reply.Status != session.StatusActive {
		t.Errorf("unexpected reply %+v", reply)
	}

	conv, err := f.svc.GetConversation(started.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	// system, context, user, assistant
	if len(conv.Messages) != 4 || conv.Messages[2].Content != "What broke?" {
		t.Errorf("unexpected messages %+v", conv.Messages)
	}
	if conv.Provider != DefaultProvider || conv.Model != DefaultModel {
		t.Errorf("unexpected provider %s/%s", conv.Provider, conv.Model)
	}

	if !f.svc.EndConversation(started.SessionID) {
		t.Error("EndConversation reported a missing session")
	}
	if _, err := f.svc.SendMessage(ctx, started.SessionID, "again"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected session.ErrNotFound, got %v", err)
	}
}

func TestConversation_Status(t *testing.T) {
	f := newFixture(t, "Root cause is the expired token. Investigation complete.")
	ctx := context.Background()
	started, err := f.svc.StartConversation(ctx, StartChatRequest{LogSetID: "5"})
	if err != nil {
		t.Fatal(err)
	}

	var during session.Status
	f.prov.during = func() {
		if conv, err := f.svc.GetConversation(started.SessionID); err == nil {
			during = conv.Status
		}
	}
	reply, err := f.svc.SendMessage(ctx, started.SessionID, "Why did batches fail?")
	if err != nil {
		t.Fatal(err)
	}
	if during != session.StatusWaiting {
		t.Errorf("status during turn = %q, want waiting", during)
	}
	if reply.Status != session.StatusCompleted {
		t.Errorf("reply status = %q, want completed", reply.Status)
	}
	conv, err := f.svc.GetConversation(started.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if conv.Status != session.StatusCompleted {
		t.Errorf("session status = %q, want completed", conv.Status)
	}
}

func TestConversation_FailedTurnKeepsMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started, err := f.svc.StartConversation(ctx, StartChatRequest{LogSetID: "5"})
	if err != nil {
		t.Fatal(err)
	}

	f.prov.err = errors.New("upstream unavailable")
	if _, err := f.svc.SendMessage(ctx, started.SessionID, "What broke?"); err == nil {
		t.Fatal("expected the turn to fail")
	}
	conv, err := f.svc.GetConversation(started.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	// system, context, user
	if len(conv.Messages) != 3 || conv.Messages[2].Content != "What broke?" {
		t.Errorf("expected the user message to be kept, got %+v", conv.Messages)
	}
	if conv.Status != session.StatusActive {
		t.Errorf("status = %q, want active", conv.Status)
	}
}

func TestConversation_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.StartConversation(ctx, StartChatRequest{}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	inline, err := f.svc.StartConversation(ctx, StartChatRequest{Logs: []protocol.LogEntry{
		{Time: "10:00:00", Service: "api", Level: protocol.LevelError, Message: "boom"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if inline.LogsInfo.Source != logsource.InlineSource {
		t.Errorf("unexpected source %q", inline.LogsInfo.Source)
	}
	if _, err := f.svc.SendMessage(ctx, inline.SessionID, "   "); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for a blank message, got %v", err)
	}
	if _, err := f.svc.GetConversation("session_missing"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected session.ErrNotFound, got %v", err)
	}
}

func TestTickets(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.CreateTicket(NewTicket{Title: "x"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	if _, err := f.svc.CreateTicket(NewTicket{Title: "x", Description: "y", Severity: "urgent"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for a bad severity, got %v", err)
	}
	tk, err := f.svc.CreateTicket(NewTicket{Title: "Disk full", Description: "db volume at 100%", Severity: protocol.SeverityCritical, AffectedServices: []string{"db"}})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.UpdateTicketStatus(tk.ID, ""); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for an empty status, got %v", err)
	}
	if got, err := f.svc.UpdateTicketStatus(tk.ID, protocol.TicketInProgress); err != nil || got.Status != protocol.TicketInProgress {
		t.Errorf("UpdateTicketStatus = %+v, %v", got, err)
	}
	if _, err := f.svc.UpdateTicketStatus("missing", protocol.TicketClosed); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}

	if _, err := f.svc.AddComment(tk.ID, "", "text"); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	if got, err := f.svc.AddComment(tk.ID, "oncall", "expanding the volume"); err != nil || len(got.Comments) != 1 {
		t.Errorf("AddComment = %+v, %v", got, err)
	}

	closed, err := f.svc.CloseTicket(tk.ID, "resolved")
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != protocol.TicketClosed || len(closed.Comments) != 2 {
		t.Errorf("unexpected closed ticket %+v", closed)
	}
	if st := f.svc.TicketStats(); st.ByStatus[protocol.TicketClosed] != 1 {
		t.Errorf("unexpected stats %+v", st)
	}

	if err := f.svc.DeleteTicket(tk.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.DeleteTicket(tk.ID); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
	if _, err := f.svc.GetTicket(tk.ID); !errors.Is(err, ErrTicketNotFound) {
		t.Errorf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestLogSets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids, err := f.svc.ListLogSets(ctx)
	if err != nil || len(ids) != 2 {
		t.Fatalf("ListLogSets = %v, %v", ids, err)
	}

	page, err := f.svc.GetLogSet(ctx, "5", LogQuery{Filter: logstats.Filter{Levels: []protocol.Level{protocol.LevelError}}, PageSize: 2, Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 30 || page.Page != 2 || page.PageSize != 2 || len(page.Logs) > 2 {
		t.Errorf("unexpected page %+v", page)
	}
	for _, l := range page.Logs {
		if l.Level != protocol.LevelError {
			t.Errorf("filter not applied: %+v", l)
		}
	}

	beyond, err := f.svc.GetLogSet(ctx, "5", LogQuery{Page: 100})
	if err != nil || len(beyond.Logs) != 0 || beyond.PageSize != DefaultPageSize {
		t.Errorf("unexpected page past the end %+v, %v", beyond, err)
	}

	sum, err := f.svc.SummarizeLogSet(ctx, "5")
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stats.Total != 30 || len(sum.ErrorPatterns) == 0 || !strings.HasPrefix(sum.Text, "Log Summary:") {
		t.Errorf("unexpected summary %+v", sum)
	}
	if _, err := f.svc.SummarizeLogSet(ctx, "nope/"); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestIngest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	set := &logsource.LogSet{ID: "pushed-1", Logs: []protocol.LogEntry{
		{Time: "09:00:00", Service: "billing", Level: protocol.LevelError, Message: "card declined"},
	}}

	if err := f.svc.Ingest(ctx, ingest.Batch{Endpoint: "ci", LogSet: set, Investigate: true}); err != nil {
		t.Fatal(err)
	}
	f.svc.Wait()

	page, err := f.svc.GetLogSet(ctx, "pushed-1", LogQuery{})
	if err != nil || page.Total != 1 {
		t.Fatalf("ingested set not readable: %+v, %v", page, err)
	}
	runs, err := f.svc.ListInvestigations(history.Filter{LogSetID: "pushed-1"})
	if err != nil || len(runs) != 1 {
		t.Errorf("expected one background run, got %v, %v", runs, err)
	}
}

func TestScheduleInvestigations(t *testing.T) {
	f := newFixture(t)
	sched := scheduler.New(nil)

	if err := f.svc.ScheduleInvestigations(sched, map[string]string{"5": "@hourly", "1": "*/15 * * * *"}); err != nil {
		t.Fatal(err)
	}
	if n := len(sched.ListJobs("investigate-5")); n != 1 {
		t.Errorf("investigate-5 jobs = %d, want 1", n)
	}
	if sched.JobCount() != 2 {
		t.Errorf("JobCount = %d, want 2", sched.JobCount())
	}

	if err := f.svc.ScheduleInvestigations(sched, map[string]string{"../etc": "@hourly"}); err == nil {
		t.Error("expected error for invalid log set id")
	}
	if err := f.svc.ScheduleInvestigations(sched, map[string]string{"5": "sometimes"}); err == nil {
		t.Error("expected error for invalid schedule")
	}
}
