// Package memory holds the conversation history of one investigation or chat
// session, with approximate token accounting and lossy compression of the
// middle of long conversations.
//
// The first two entries (system prompt and initial log context) are never
// compressed. A Memory is not safe for concurrent use; callers serialize
// access per conversation.
package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// Role identifies who produced an entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

const (
	// DefaultBudget is the token budget compression works against.
	DefaultBudget = 8000

	compressRatio = 0.8
	minEntries    = 10
	protected     = 2
	keepRecent    = 5
)

// ToolResult records the outcome of one tool call inside a tool entry.
type ToolResult struct {
	ToolName string `json:"toolName"`
	Status   string `json:"status"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Entry is one item of conversation history.
type Entry struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// State is the externally persistable form of a Memory.
type State struct {
	Entries               []Entry `json:"entries"`
	ApproximateTokensUsed int     `json:"approximateTokensUsed"`
}

// TokenEstimator approximates the token count of a piece of text.
type TokenEstimator func(string) int

// ApproxTokens estimates one token per four bytes, rounded up.
func ApproxTokens(s string) int {
	return (len(s) + 3) / 4
}

// Option configures a Memory.
type Option func(*Memory)

// WithBudget overrides DefaultBudget.
func WithBudget(tokens int) Option {
	return func(m *Memory) {
		if tokens > 0 {
			m.budget = tokens
		}
	}
}

// WithEstimator swaps the token estimator.
func WithEstimator(fn TokenEstimator) Option {
	return func(m *Memory) {
		if fn != nil {
			m.estimate = fn
		}
	}
}

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// Memory is the ordered conversation history.
type Memory struct {
	systemPrompt string
	initialLogs  []protocol.LogEntry
	changes      []protocol.ChangeEvent

	entries  []Entry
	tokens   int
	budget   int
	estimate TokenEstimator
	now      func() time.Time
}

// New creates a memory seeded with the system prompt and the initial log and
// change context.
func New(systemPrompt string, initialLogs []protocol.LogEntry, changes []protocol.ChangeEvent, opts ...Option) *Memory {
	m := &Memory{
		systemPrompt: systemPrompt,
		initialLogs:  protocol.CopyLogs(initialLogs),
		changes:      append([]protocol.ChangeEvent{}, changes...),
		budget:       DefaultBudget,
		estimate:     ApproxTokens,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initialize()
	return m
}

// Restore rebuilds a memory from a serialized state. An empty state yields a
// freshly initialized memory rather than an empty history, so the log context
// survives the first message of a session.
func Restore(systemPrompt string, initialLogs []protocol.LogEntry, changes []protocol.ChangeEvent, state State, opts ...Option) *Memory {
	m := New(systemPrompt, initialLogs, changes, opts...)
	if len(state.Entries) == 0 {
		return m
	}
	m.entries = cloneEntries(state.Entries)
	m.tokens = state.ApproximateTokensUsed
	return m
}

func (m *Memory) initialize() {
	ts := m.now()
	context := InitialContext(m.initialLogs, m.changes)
	m.entries = []Entry{
		{Role: RoleSystem, Content: m.systemPrompt, Timestamp: ts},
		{Role: RoleUser, Content: context, Timestamp: ts},
	}
	m.tokens = m.estimate(m.systemPrompt + context)
}

// InitialContext renders the initial log and change context entry.
func InitialContext(logs []protocol.LogEntry, changes []protocol.ChangeEvent) string {
	if logs == nil {
		logs = []protocol.LogEntry{}
	}
	if changes == nil {
		changes = []protocol.ChangeEvent{}
	}
	return fmt.Sprintf("Initial logs (last 5 received):\n%s\n\nRecent changes:\n%s",
		indentJSON(logs), indentJSON(changes))
}

func indentJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "[]"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// AddUserMessage appends a user entry.
func (m *Memory) AddUserMessage(content string) {
	m.append(Entry{Role: RoleUser, Content: content, Timestamp: m.now()})
}

// AddAssistantMessage appends an assistant entry.
func (m *Memory) AddAssistantMessage(content string) {
	m.append(Entry{Role: RoleAssistant, Content: content, Timestamp: m.now()})
}

// AddToolResult appends a tool entry describing a success (errMsg empty) or
// a failure.
func (m *Memory) AddToolResult(toolName string, result any, errMsg string) {
	tr := ToolResult{ToolName: toolName, Status: "success", Result: result}
	var text string
	if errMsg != "" {
		tr = ToolResult{ToolName: toolName, Status: "error", Error: errMsg}
		text = "Error: " + errMsg
	} else {
		text = "Result: " + compactJSON(result)
	}
	m.append(Entry{
		Role:        RoleTool,
		Content:     fmt.Sprintf("Tool %q executed: %s", toolName, text),
		ToolResults: []ToolResult{tr},
		Timestamp:   m.now(),
	})
}

func compactJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func (m *Memory) append(e Entry) {
	m.entries = append(m.entries, e)
	m.tokens += m.estimate(e.Content)
	if float64(m.tokens) > float64(m.budget)*compressRatio {
		m.compress()
	}
}

// compress collapses everything between the protected prefix and the most
// recent entries into one synthetic user entry.
func (m *Memory) compress() {
	if len(m.entries) < minEntries {
		return
	}
	middle := m.entries[protected : len(m.entries)-keepRecent]
	if len(middle) <= 2 {
		return
	}

	next := make([]Entry, 0, protected+1+keepRecent)
	next = append(next, m.entries[:protected]...)
	next = append(next, Entry{
		Role:      RoleUser,
		Content:   fmt.Sprintf("[Previous conversation - %d turns summarized]", len(middle)),
		Timestamp: m.now(),
	})
	next = append(next, m.entries[len(m.entries)-keepRecent:]...)
	m.entries = next

	contents := make([]string, len(m.entries))
	for i, e := range m.entries {
		contents[i] = e.Content
	}
	m.tokens = m.estimate(strings.Join(contents, "\n"))
}

// Entries returns a copy of the full history.
func (m *Memory) Entries() []Entry {
	return cloneEntries(m.entries)
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	return len(m.entries)
}

// SystemPrompt returns the prompt delivered separately from the messages.
func (m *Memory) SystemPrompt() string {
	return m.systemPrompt
}

// TokensUsed returns the approximate token count of the history.
func (m *Memory) TokensUsed() int {
	return m.tokens
}

// FormattedMessagesForLLM returns the history to send to a completion
// provider: system entries and entries without text are left out. Tool
// entries keep their role; providers fold them into user turns.
func (m *Memory) FormattedMessagesForLLM() []protocol.ChatMessage {
	out := make([]protocol.ChatMessage, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Role == RoleSystem || e.Content == "" {
			continue
		}
		out = append(out, protocol.ChatMessage{Role: string(e.Role), Content: e.Content})
	}
	return out
}

// Serialize returns the persistable state.
func (m *Memory) Serialize() State {
	return State{
		Entries:               cloneEntries(m.entries),
		ApproximateTokensUsed: m.tokens,
	}
}

// Clear resets the history to the two initial entries.
func (m *Memory) Clear() {
	m.initialize()
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e
		if e.ToolResults != nil {
			out[i].ToolResults = append([]ToolResult{}, e.ToolResults...)
		}
	}
	return out
}
