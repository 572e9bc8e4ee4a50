package tool

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// Directive markers the model is instructed to wrap tool calls in.
const (
	OpenMarker  = "<TOOL_CALL>"
	CloseMarker = "</TOOL_CALL>"
)

// ParseDirectives extracts every well-formed tool-call directive from text, in
// order of appearance. A block is kept only if it holds a JSON object with a
// non-empty "toolName" and an object "arguments"; anything else is skipped
// without affecting the other blocks. Comments, trailing commas and a
// surrounding code fence inside a block are tolerated.
//
// An open marker with no close marker before the next open marker is
// abandoned. Names are returned as written; argument validation happens at
// execution.
func ParseDirectives(text string) []protocol.ToolCall {
	var calls []protocol.ToolCall
	rest := text
	for {
		start := strings.Index(rest, OpenMarker)
		if start < 0 {
			break
		}
		rest = rest[start+len(OpenMarker):]
		end := strings.Index(rest, CloseMarker)
		if end < 0 {
			break
		}
		body := rest[:end]
		if i := strings.LastIndex(body, OpenMarker); i >= 0 {
			body = body[i+len(OpenMarker):]
		}
		rest = rest[end+len(CloseMarker):]

		if call, ok := parseDirective(body); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

type rawDirective struct {
	ToolName  string          `json:"toolName"`
	Arguments json.RawMessage `json:"arguments"`
}

func parseDirective(body string) (protocol.ToolCall, bool) {
	body = stripFence(strings.TrimSpace(body))
	if !strings.HasPrefix(body, "{") || !strings.HasSuffix(body, "}") {
		return protocol.ToolCall{}, false
	}

	var raw rawDirective
	if err := json.Unmarshal(jsonc.ToJSON([]byte(body)), &raw); err != nil {
		return protocol.ToolCall{}, false
	}
	if strings.TrimSpace(raw.ToolName) == "" {
		return protocol.ToolCall{}, false
	}
	args := bytes.TrimSpace(raw.Arguments)
	if len(args) == 0 || args[0] != '{' {
		return protocol.ToolCall{}, false
	}

	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		return protocol.ToolCall{}, false
	}
	return protocol.ToolCall{ToolName: strings.TrimSpace(raw.ToolName), Arguments: m}, true
}

// stripFence removes a markdown code fence wrapped around a block.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 3 {
		return s
	}
	last := strings.TrimSpace(lines[len(lines)-1])
	if last != "```" {
		return s
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}

var directiveBlock = regexp.MustCompile(`(?s)<TOOL_CALL>.*?</TOOL_CALL>`)

// StripDirectives returns text with every directive block removed.
func StripDirectives(text string) string {
	return strings.TrimSpace(directiveBlock.ReplaceAllString(text, ""))
}
