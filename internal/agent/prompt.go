package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/h1v3-io/logtriage/internal/tool"
)

// InvestigationPrompt is the system prompt for an autonomous investigation of
// one log set.
func InvestigationPrompt(logSetID string) string {
	var b strings.Builder
	b.WriteString("You are an intelligent production log triage agent. Your job is to analyze production logs, identify issues, find root causes, and create tickets with developer suggestions.\n\n")
	b.WriteString("You have access to the following tools:\n")
	b.WriteString("- searchLogs: Deep search through logs with recursive capability\n")
	b.WriteString("- checkRecentChanges: Correlate system changes with errors\n")
	b.WriteString("- createTicket: Create support tickets for issues found\n")
	b.WriteString("- alertTeam: Send alerts about critical issues\n\n")
	b.WriteString("INSTRUCTIONS:\n")
	b.WriteString("1. Start by analyzing the provided logs for ERROR and WARN level entries\n")
	b.WriteString("2. Use searchLogs to investigate patterns and correlations\n")
	b.WriteString("3. Use checkRecentChanges to identify potential causes (deployments, config changes, etc.)\n")
	b.WriteString("4. For each significant issue, create a ticket with clear description and developer suggestions\n")
	b.WriteString("5. For critical issues, also call alertTeam\n")
	b.WriteString("6. Provide your final summary with findings and action items\n\n")
	fmt.Fprintf(&b, "Log Set #%s Analysis:\n", logSetID)
	b.WriteString("- Stop when you have fully investigated and taken appropriate actions\n")
	b.WriteString("- Create tickets for issues that need developer attention\n")
	b.WriteString("- Alert the team for critical severity issues\n")
	b.WriteString("- Be thorough but efficient in your investigation\n")
	fmt.Fprintf(&b, "- When you are done, say \"%s\"", CompletionPhrase)
	return b.String()
}

// ConversationPrompt is the system prompt for an interactive chat session.
func ConversationPrompt() string {
	var b strings.Builder
	b.WriteString("You are an interactive production log triage assistant. A user is investigating a set of production logs with you and will ask questions one message at a time.\n\n")
	b.WriteString("GUIDELINES:\n")
	b.WriteString("1. Answer the user's question directly, citing the log lines you relied on\n")
	b.WriteString("2. Use searchLogs when the answer needs logs beyond the initial context; use recursive search with a batchId to trace a batch back to its users and sources\n")
	b.WriteString("3. Use checkRecentChanges when the user asks what changed or why errors started\n")
	b.WriteString("4. Only call createTicket or alertTeam when the user asks for it or the issue is clearly critical\n")
	b.WriteString("5. Keep replies short; offer concrete next steps and developer suggestions")
	return b.String()
}

// CompletionPhrase in a response ends an investigation.
const CompletionPhrase = "investigation complete"

// WithTools appends the tool catalogue and directive format to a prompt.
func WithTools(prompt string, defs []tool.Definition) string {
	if len(defs) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nAVAILABLE TOOLS:\n")
	for _, d := range defs {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		for _, p := range paramNames(d.Parameters) {
			fmt.Fprintf(&b, "  - %s\n", p)
		}
	}
	b.WriteString("\nWhen using tools, format your response with ")
	b.WriteString(tool.OpenMarker)
	b.WriteString(" blocks like this:\n")
	b.WriteString(tool.OpenMarker + "\n")
	b.WriteString("{\n  \"toolName\": \"search_logs\",\n  \"arguments\": { \"keyword\": \"error\" }\n}\n")
	b.WriteString(tool.CloseMarker)
	return b.String()
}

// paramNames lists a JSON schema's properties, required ones first, each
// group in alphabetical order.
func paramNames(schema map[string]any) []string {
	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	if req, ok := schema["required"].([]string); ok {
		for _, r := range req {
			required[r] = true
		}
	}
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if required[names[i]] != required[names[j]] {
			return required[names[i]]
		}
		return names[i] < names[j]
	})
	for i, name := range names {
		if required[name] {
			names[i] = name + " (required)"
		}
	}
	return names
}
