package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

func sampleAlert() Alert {
	return Alert{
		Severity:         protocol.SeverityHigh,
		AffectedServices: []string{"enrichment-service", "auth-service"},
		IssueSummary:     "Zendesk token expired",
		RelevantLogs: []protocol.LogEntry{
			{Time: "13:43:26", Service: "enrichment-service", Level: protocol.LevelError, Message: "401 from zendesk"},
			{Time: "13:43:27", Service: "enrichment-service", Level: protocol.LevelError, Message: "retry failed"},
			{Time: "13:43:28", Service: "auth-service", Level: protocol.LevelError, Message: "token <invalid>"},
			{Time: "13:43:29", Service: "auth-service", Level: protocol.LevelError, Message: "fourth"},
		},
		Timestamp: time.Date(2025, 1, 17, 13, 45, 0, 0, time.UTC),
	}
}

func TestSuggestion(t *testing.T) {
	tests := map[protocol.Severity]string{
		protocol.SeverityCritical: "CRITICAL alert detected.",
		protocol.SeverityHigh:     "High severity issue detected.",
		protocol.SeverityMedium:   "Medium severity issue detected.",
		protocol.SeverityLow:      "Low severity alert.",
		"bogus":                   "Low severity alert.",
	}
	for sev, prefix := range tests {
		if got := Suggestion(sev); !strings.HasPrefix(got, prefix) {
			t.Errorf("Suggestion(%s) = %q", sev, got)
		}
	}
}

func TestMessage(t *testing.T) {
	want := "Alert sent for high severity issue in enrichment-service, auth-service"
	if got := sampleAlert().Message(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatConsole(t *testing.T) {
	out := FormatConsole(sampleAlert())
	for _, want := range []string{
		strings.Repeat("═", 80),
		"ALERT: HIGH SEVERITY ISSUE",
		"Services Affected: enrichment-service, auth-service",
		"Summary: Zendesk token expired",
		"  [13:43:26] enrichment-service: 401 from zendesk",
		"Timestamp: 2025-01-17T13:45:00.000Z",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("console output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "fourth") {
		t.Error("console output should hold at most 3 sample logs")
	}

	a := sampleAlert()
	a.RelevantLogs = nil
	if strings.Contains(FormatConsole(a), "Sample Logs:") {
		t.Error("no sample section expected without logs")
	}
}

func TestSlackText(t *testing.T) {
	a := sampleAlert()
	a.Severity = protocol.SeverityCritical
	a.IssueSummary = "**token** expired"
	want := ":rotating_light: *CRITICAL ALERT*\n*Services:* enrichment-service, auth-service\n*Issue:* *token* expired\n*Time:* 2025-01-17T13:45:00.000Z"
	if got := SlackText(a); got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}

	a.Severity = "unknown"
	if !strings.HasPrefix(SlackText(a), ":grey_circle:") {
		t.Error("unknown severity should fall back to grey")
	}
}

func TestFormatSlack_Blocks(t *testing.T) {
	msg := FormatSlack(sampleAlert())
	if msg.Blocks == nil || len(msg.Blocks.BlockSet) != 5 {
		t.Fatalf("expected header, fields, issue, samples and context blocks, got %+v", msg.Blocks)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"type":"header"`) {
		t.Errorf("payload missing header block: %s", data)
	}
}

func TestFormatEmail(t *testing.T) {
	email, err := FormatEmail(sampleAlert())
	if err != nil {
		t.Fatal(err)
	}
	if email.Subject != "[HIGH] Production Alert: enrichment-service, auth-service" {
		t.Errorf("subject = %q", email.Subject)
	}
	for _, want := range []string{
		"<h2>Production Alert - HIGH Severity</h2>",
		"<strong>Affected Services:</strong> enrichment-service, auth-service",
		"<li>[13:43:26] <strong>enrichment-service</strong>: 401 from zendesk</li>",
		"token &lt;invalid&gt;",
		"Alert generated at 2025-01-17T13:45:00.000Z",
	} {
		if !strings.Contains(email.HTML, want) {
			t.Errorf("email body missing %q:\n%s", want, email.HTML)
		}
	}
	if got := strings.Count(email.HTML, "<li>"); got != 4 {
		t.Errorf("expected 4 sample logs, got %d", got)
	}
}

func TestConsoleNotifier(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	if err := c.Notify(context.Background(), sampleAlert()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "ALERT: HIGH SEVERITY ISSUE") {
		t.Errorf("unexpected console output %q", buf.String())
	}
}

func TestSlackNotifier_Webhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewSlack(SlackConfig{WebhookURL: srv.URL, Channel: "#alerts"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Notify(context.Background(), sampleAlert()); err != nil {
		t.Fatal(err)
	}
	if got["channel"] != "#alerts" || !strings.Contains(got["text"].(string), "*HIGH ALERT*") {
		t.Errorf("unexpected payload %v", got)
	}
}

func TestSlackNotifier_WebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	s, _ := NewSlack(SlackConfig{WebhookURL: srv.URL})
	if err := s.Notify(context.Background(), sampleAlert()); err == nil {
		t.Fatal("expected error on 403")
	}
}

func TestSlackNotifier_BotToken(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	s, err := NewSlack(SlackConfig{BotToken: "xoxb-test", Channel: "C123", APIURL: srv.URL + "/api/"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Notify(context.Background(), sampleAlert()); err != nil {
		t.Fatal(err)
	}
	if form.Get("channel") != "C123" || !strings.Contains(form.Get("blocks"), "header") {
		t.Errorf("unexpected form %v", form)
	}
}

func TestNewSlack_RequiresDestination(t *testing.T) {
	if _, err := NewSlack(SlackConfig{BotToken: "xoxb"}); err == nil {
		t.Error("expected error without channel")
	}
}

type fakeNotifier struct {
	name  string
	err   error
	calls int
}

func (f *fakeNotifier) Name() string { return f.name }
func (f *fakeNotifier) Notify(context.Context, Alert) error {
	f.calls++
	return f.err
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	ok := &fakeNotifier{name: "ok"}
	bad := &fakeNotifier{name: "bad", err: boom}

	if err := NewMulti(nil, bad, ok).Notify(context.Background(), sampleAlert()); err != nil {
		t.Errorf("partial failure should succeed, got %v", err)
	}
	if ok.calls != 1 || bad.calls != 1 {
		t.Errorf("every notifier should be called: ok=%d bad=%d", ok.calls, bad.calls)
	}

	err := NewMulti(nil, bad, &fakeNotifier{name: "bad2", err: boom}).Notify(context.Background(), sampleAlert())
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}

	if err := NewMulti(nil).Notify(context.Background(), sampleAlert()); err != nil {
		t.Errorf("empty fan-out should be a no-op, got %v", err)
	}
}

func TestMarkdownToMrkdwn(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"**bold** and *italic*", "*bold* and _italic_"},
		{"~~gone~~", "~gone~"},
		{"see [runbook](https://wiki/rb)", "see <https://wiki/rb|runbook>"},
		{"## Root **cause**", "*Root cause*"},
		{"- first\n  - nested", "• first\n  • nested"},
		{"`**raw**` text", "`**raw**` text"},
		{"```\n**kept**\n```", "```\n**kept**\n```"},
		{"[not a link", "[not a link"},
	}
	for _, tt := range tests {
		if got := MarkdownToMrkdwn(tt.in); got != tt.want {
			t.Errorf("MarkdownToMrkdwn(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
