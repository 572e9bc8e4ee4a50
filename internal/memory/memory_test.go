package memory

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

var initialLogs = []protocol.LogEntry{
	{Time: "13:43:26", Service: "enrichment-service", Level: "ERROR", Message: "Failed to enrich user data", BatchID: "batch_20250117_A"},
}

var recentChanges = []protocol.ChangeEvent{
	{Timestamp: "2025-01-17T13:40:00Z", Type: "deployment", Description: "enrichment v4", FilesAffected: []string{"enrich.go"}},
}

func TestNew_SeedsTwoEntries(t *testing.T) {
	m := New("You are a log triage agent.", initialLogs, recentChanges)

	entries := m.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Role != RoleSystem || entries[0].Content != "You are a log triage agent." {
		t.Errorf("unexpected system entry %+v", entries[0])
	}
	if entries[1].Role != RoleUser || !strings.HasPrefix(entries[1].Content, "Initial logs (last 5 received):\n[") {
		t.Errorf("unexpected context entry %q", entries[1].Content)
	}
	if !strings.Contains(entries[1].Content, "\n\nRecent changes:\n[") || !strings.Contains(entries[1].Content, `"batch_id": "batch_20250117_A"`) {
		t.Errorf("context entry missing logs or changes: %q", entries[1].Content)
	}
	if m.TokensUsed() != ApproxTokens(entries[0].Content+entries[1].Content) {
		t.Errorf("tokens = %d", m.TokensUsed())
	}
}

func TestInitialContext_EmptyInputs(t *testing.T) {
	got := InitialContext(nil, nil)
	want := "Initial logs (last 5 received):\n[]\n\nRecent changes:\n[]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApproxTokens(t *testing.T) {
	tests := map[string]int{"": 0, "a": 1, "abcd": 1, "abcde": 2, "12345678": 2}
	for in, want := range tests {
		if got := ApproxTokens(in); got != want {
			t.Errorf("ApproxTokens(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestAddToolResult_Content(t *testing.T) {
	m := New("sys", nil, nil)
	m.AddToolResult("searchLogs", map[string]any{"count": 2}, "")
	m.AddToolResult("createTicket", nil, "title is required")

	entries := m.Entries()
	if got := entries[2].Content; got != `Tool "searchLogs" executed: Result: {"count":2}` {
		t.Errorf("success content = %q", got)
	}
	if entries[2].ToolResults[0].Status != "success" {
		t.Errorf("status = %q", entries[2].ToolResults[0].Status)
	}
	if got := entries[3].Content; got != `Tool "createTicket" executed: Error: title is required` {
		t.Errorf("error content = %q", got)
	}
	if entries[3].ToolResults[0].Status != "error" || entries[3].ToolResults[0].Error != "title is required" {
		t.Errorf("unexpected tool result %+v", entries[3].ToolResults[0])
	}
}

func TestFormattedMessagesForLLM(t *testing.T) {
	m := New("sys", initialLogs, nil)
	m.AddUserMessage("what broke?")
	m.AddAssistantMessage("")
	m.AddAssistantMessage("Looking.")
	m.AddToolResult("searchLogs", []string{}, "")

	msgs := m.FormattedMessagesForLLM()
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(msgs), msgs)
	}
	for _, msg := range msgs {
		if msg.Role == string(RoleSystem) || msg.Content == "" {
			t.Errorf("unexpected message %+v", msg)
		}
	}
	if msgs[3].Role != "tool" {
		t.Errorf("expected tool role preserved, got %q", msgs[3].Role)
	}
}

func TestProtectionInvariant(t *testing.T) {
	m := New("system prompt", initialLogs, recentChanges, WithBudget(200))
	original := m.Entries()[:2]

	long := strings.Repeat("x", 120)
	compressed := false
	for i := range 60 {
		if i%2 == 0 {
			m.AddAssistantMessage(long)
		} else {
			m.AddToolResult("searchLogs", long, "")
		}
		entries := m.Entries()
		if !reflect.DeepEqual(entries[:2], original) {
			t.Fatalf("protected entries changed after %d additions", i+1)
		}
		if strings.HasPrefix(entries[2].Content, "[Previous conversation - ") {
			compressed = true
		}
		if len(entries) > minEntries {
			t.Fatalf("history grew to %d entries despite compression", len(entries))
		}
	}
	if !compressed {
		t.Error("expected at least one compression")
	}
}

func TestCompression_Shape(t *testing.T) {
	m := New("s", nil, nil, WithEstimator(func(s string) int { return len(s) }), WithBudget(100))
	for range 7 {
		m.AddUserMessage("short")
	}
	if m.Len() != 9 {
		t.Fatalf("expected no compression below 10 entries, got %d", m.Len())
	}

	m.AddUserMessage("the tenth entry")
	entries := m.Entries()
	if len(entries) != 8 {
		t.Fatalf("expected 2 + 1 + 5 entries after compression, got %d", len(entries))
	}
	if entries[2].Content != "[Previous conversation - 3 turns summarized]" || entries[2].Role != RoleUser {
		t.Errorf("unexpected summary entry %+v", entries[2])
	}
	if entries[7].Content != "the tenth entry" {
		t.Errorf("most recent entry lost: %+v", entries[7])
	}

	var joined []string
	for _, e := range entries {
		joined = append(joined, e.Content)
	}
	if want := len(strings.Join(joined, "\n")); m.TokensUsed() != want {
		t.Errorf("tokens = %d, want recomputed %d", m.TokensUsed(), want)
	}
}

func TestCompression_NotBelowThreshold(t *testing.T) {
	m := New("s", nil, nil)
	for range 20 {
		m.AddUserMessage("small")
	}
	if m.Len() != 22 {
		t.Errorf("expected no compression under budget, got %d entries", m.Len())
	}
}

func TestRestore_EmptyStateFallsBackToInitialEntries(t *testing.T) {
	m := Restore("sys", initialLogs, recentChanges, State{})
	if m.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", m.Len())
	}
	if m.Entries()[0].Content != "sys" {
		t.Errorf("unexpected system entry %+v", m.Entries()[0])
	}
}

func TestSerializeRestore_RoundTrip(t *testing.T) {
	m := New("sys", initialLogs, recentChanges)
	m.AddUserMessage("hi")
	m.AddAssistantMessage("hello")
	m.AddToolResult("checkRecentChanges", map[string]any{"analysis": "none"}, "")

	state := m.Serialize()
	restored := Restore("sys", initialLogs, recentChanges, state)
	if !reflect.DeepEqual(restored.Serialize(), state) {
		t.Error("restore did not round-trip the serialized state")
	}

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatal(err)
	}
	var decoded State
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	fromJSON := Restore("sys", initialLogs, recentChanges, decoded)
	if fromJSON.Len() != 5 || fromJSON.TokensUsed() != m.TokensUsed() {
		t.Errorf("json round trip: %d entries, %d tokens", fromJSON.Len(), fromJSON.TokensUsed())
	}
	if fromJSON.Entries()[4].Content != m.Entries()[4].Content {
		t.Error("tool entry content changed through json")
	}
}

func TestSerialize_IsACopy(t *testing.T) {
	m := New("sys", nil, nil)
	state := m.Serialize()
	state.Entries[0].Content = "tampered"
	if m.Entries()[0].Content != "sys" {
		t.Error("mutating serialized state changed the memory")
	}
}

func TestClear(t *testing.T) {
	m := New("sys", initialLogs, nil)
	m.AddUserMessage("a")
	m.Clear()
	if m.Len() != 2 {
		t.Errorf("expected 2 entries after clear, got %d", m.Len())
	}
}
