package tool

import (
	"testing"
)

func TestParseDirectives(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		names []string
	}{
		{
			name:  "no directives",
			text:  "The logs look healthy. investigation complete",
			names: nil,
		},
		{
			name: "single block",
			text: `Let me search.
<TOOL_CALL>
{"toolName": "searchLogs", "arguments": {"level": "ERROR"}}
</TOOL_CALL>`,
			names: []string{"searchLogs"},
		},
		{
			name: "multiple blocks keep order",
			text: `<TOOL_CALL>{"toolName":"createTicket","arguments":{"title":"a"}}</TOOL_CALL>
then
<TOOL_CALL>{"toolName":"alert_team","arguments":{}}</TOOL_CALL>`,
			names: []string{"createTicket", "alert_team"},
		},
		{
			name: "malformed block between valid ones",
			text: `<TOOL_CALL>{"toolName":"searchLogs","arguments":{}}</TOOL_CALL>
<TOOL_CALL>{"toolName": "checkRecentChanges", "arguments": {</TOOL_CALL>
<TOOL_CALL>{"toolName":"alertTeam","arguments":{"severity":"high"}}</TOOL_CALL>`,
			names: []string{"searchLogs", "alertTeam"},
		},
		{
			name:  "missing toolName",
			text:  `<TOOL_CALL>{"arguments":{"level":"ERROR"}}</TOOL_CALL>`,
			names: nil,
		},
		{
			name:  "empty toolName",
			text:  `<TOOL_CALL>{"toolName":"  ","arguments":{}}</TOOL_CALL>`,
			names: nil,
		},
		{
			name:  "missing arguments",
			text:  `<TOOL_CALL>{"toolName":"searchLogs"}</TOOL_CALL>`,
			names: nil,
		},
		{
			name:  "null arguments",
			text:  `<TOOL_CALL>{"toolName":"searchLogs","arguments":null}</TOOL_CALL>`,
			names: nil,
		},
		{
			name:  "arguments not an object",
			text:  `<TOOL_CALL>{"toolName":"searchLogs","arguments":"level=ERROR"}</TOOL_CALL>`,
			names: nil,
		},
		{
			name: "nested objects",
			text: `<TOOL_CALL>
{"toolName":"searchLogs","arguments":{"filter":{"level":"ERROR","extra":{"deep":true}}}}
</TOOL_CALL>`,
			names: []string{"searchLogs"},
		},
		{
			name: "comments and trailing commas",
			text: `<TOOL_CALL>
{
  // look for the batch
  "toolName": "searchLogs",
  "arguments": {"batchId": "batch_20250117_A", "recursive": true,},
}
</TOOL_CALL>`,
			names: []string{"searchLogs"},
		},
		{
			name:  "code fence inside block",
			text:  "<TOOL_CALL>\n```json\n{\"toolName\":\"searchLogs\",\"arguments\":{}}\n```\n</TOOL_CALL>",
			names: []string{"searchLogs"},
		},
		{
			name:  "unclosed block followed by valid block",
			text:  `<TOOL_CALL>{"toolName":"createTicket", <TOOL_CALL>{"toolName":"searchLogs","arguments":{}}</TOOL_CALL>`,
			names: []string{"searchLogs"},
		},
		{
			name:  "trailing unclosed block",
			text:  `<TOOL_CALL>{"toolName":"searchLogs","arguments":{}}</TOOL_CALL> <TOOL_CALL>{"toolName":"alertTeam","arguments":{}}`,
			names: []string{"searchLogs"},
		},
		{
			name:  "stray close marker",
			text:  `</TOOL_CALL> text <TOOL_CALL>{"toolName":"searchLogs","arguments":{}}</TOOL_CALL>`,
			names: []string{"searchLogs"},
		},
		{
			name:  "not json at all",
			text:  `<TOOL_CALL>searchLogs(level=ERROR)</TOOL_CALL>`,
			names: nil,
		},
		{
			name:  "array instead of object",
			text:  `<TOOL_CALL>[{"toolName":"searchLogs","arguments":{}}]</TOOL_CALL>`,
			names: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := ParseDirectives(tt.text)
			if len(calls) != len(tt.names) {
				t.Fatalf("got %d calls %+v, want %v", len(calls), calls, tt.names)
			}
			for i, c := range calls {
				if c.ToolName != tt.names[i] {
					t.Errorf("call %d: got %q, want %q", i, c.ToolName, tt.names[i])
				}
				if c.Arguments == nil {
					t.Errorf("call %d: nil arguments", i)
				}
			}
		})
	}
}

func TestParseDirectives_Arguments(t *testing.T) {
	calls := ParseDirectives(`<TOOL_CALL>{"toolName":"searchLogs","arguments":{"batchId":"batch_20250117_A","recursive":true}}</TOOL_CALL>`)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	args := calls[0].Arguments
	if args["batchId"] != "batch_20250117_A" || args["recursive"] != true {
		t.Errorf("unexpected arguments %v", args)
	}
}

func TestStripDirectives(t *testing.T) {
	text := "Searching now.\n<TOOL_CALL>{\"toolName\":\"searchLogs\",\"arguments\":{}}</TOOL_CALL>"
	if got := StripDirectives(text); got != "Searching now." {
		t.Errorf("got %q", got)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
		ok   bool
	}{
		{"searchLogs", KindSearchLogs, true},
		{"search_logs", KindSearchLogs, true},
		{"SEARCH_LOGS", KindSearchLogs, true},
		{"check_recent_changes", KindCheckRecentChanges, true},
		{"create-ticket", KindCreateTicket, true},
		{"alertTeam", KindAlertTeam, true},
		{"deleteEverything", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseKind(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseKind(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
	if Normalize("alert_team") != "alertTeam" {
		t.Errorf("Normalize(alert_team) = %q", Normalize("alert_team"))
	}
	if Normalize("mystery") != "mystery" {
		t.Error("unknown names should pass through unchanged")
	}
}
