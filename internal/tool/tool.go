// Package tool implements the fixed set of triage tools the agent can call:
// parsing tool-call directives out of model text, normalizing tool names,
// decoding and validating arguments, and executing them.
package tool

import (
	"context"
	"errors"
	"strings"
)

// ErrUnknownTool is returned when a directive names a tool that does not exist.
var ErrUnknownTool = errors.New("unknown tool")

// Kind is one of the fixed tools.
type Kind int

const (
	KindSearchLogs Kind = iota + 1
	KindCheckRecentChanges
	KindCreateTicket
	KindAlertTeam
)

// Kinds lists every tool in catalogue order.
var Kinds = []Kind{KindSearchLogs, KindCheckRecentChanges, KindCreateTicket, KindAlertTeam}

var kindNames = map[Kind]string{
	KindSearchLogs:         "searchLogs",
	KindCheckRecentChanges: "checkRecentChanges",
	KindCreateTicket:       "createTicket",
	KindAlertTeam:          "alertTeam",
}

// String returns the canonical camelCase tool name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

var kindsByKey = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[nameKey(name)] = k
	}
	return m
}()

// ParseKind resolves a tool name in camelCase, snake_case, kebab-case or any
// capitalization of those.
func ParseKind(name string) (Kind, bool) {
	k, ok := kindsByKey[nameKey(name)]
	return k, ok
}

// Normalize returns the canonical name for a tool name, or name unchanged if
// it is not a known tool.
func Normalize(name string) string {
	if k, ok := ParseKind(name); ok {
		return k.String()
	}
	return name
}

// nameKey folds separators and case so that "search_logs", "searchLogs" and
// "Search-Logs" compare equal.
func nameKey(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case '_', '-', ' ', '.':
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// Tool is the interface every triage tool implements.
type Tool interface {
	Kind() Kind
	Description() string
	Parameters() map[string]any // JSON Schema
	// Execute decodes and validates args, then runs the tool. A validation
	// failure is returned as a *ValidationError.
	Execute(ctx context.Context, env *Env, args map[string]any) (any, error)
}

// Definition describes a tool for the prompt catalogue.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}
