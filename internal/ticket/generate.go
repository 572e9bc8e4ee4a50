package ticket

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// Category selects how GenerateFromLogs describes a group of logs.
type Category string

const (
	CategoryErrors      Category = "errors"
	CategoryWarnings    Category = "warnings"
	CategoryPerformance Category = "performance"
)

// GenerateFromLogs drafts a ticket describing logs. It returns nil for an
// empty log slice or an unknown category.
func GenerateFromLogs(logs []protocol.LogEntry, category Category) *Draft {
	if len(logs) == 0 {
		return nil
	}
	services := uniqueServices(logs)

	switch category {
	case CategoryErrors:
		return &Draft{
			Title:            "Critical Errors Detected in " + strings.Join(services, ", "),
			Description:      errorDescription(logs),
			Severity:         protocol.SeverityCritical,
			AffectedServices: services,
			RelatedLogs:      protocol.CopyLogs(logs),
			Suggestions:      errorSuggestions(logs),
		}
	case CategoryWarnings:
		return &Draft{
			Title:            "Warnings in " + strings.Join(services, ", "),
			Description:      warningDescription(logs),
			Severity:         protocol.SeverityMedium,
			AffectedServices: services,
			RelatedLogs:      protocol.CopyLogs(logs),
			Suggestions:      warningSuggestions(logs),
		}
	case CategoryPerformance:
		return &Draft{
			Title: "Performance Issues Detected",
			Description: fmt.Sprintf("Performance issues detected affecting %d log entries. Services affected: %s",
				len(logs), strings.Join(services, ", ")),
			Severity:         protocol.SeverityHigh,
			AffectedServices: services,
			RelatedLogs:      protocol.CopyLogs(logs),
			Suggestions: []string{
				"Profile the affected services to identify bottlenecks.",
				"Review recent deployments or config changes.",
				"Check system resource utilization (CPU, memory, disk I/O).",
				"Analyze query performance and consider adding indexes.",
			},
		}
	}
	return nil
}

func uniqueServices(logs []protocol.LogEntry) []string {
	var out []string
	for _, l := range logs {
		if !slices.Contains(out, l.Service) {
			out = append(out, l.Service)
		}
	}
	return out
}

type messageCount struct {
	msg   string
	count int
}

// countMessages tallies identical messages in first-seen order.
func countMessages(logs []protocol.LogEntry) []messageCount {
	var out []messageCount
	index := make(map[string]int)
	for _, l := range logs {
		if i, ok := index[l.Message]; ok {
			out[i].count++
			continue
		}
		index[l.Message] = len(out)
		out = append(out, messageCount{msg: l.Message, count: 1})
	}
	return out
}

func errorDescription(logs []protocol.LogEntry) string {
	var b strings.Builder
	b.WriteString("Critical errors have been detected in the system:\n\n")
	for _, mc := range countMessages(logs) {
		plural := ""
		if mc.count > 1 {
			plural = "s"
		}
		fmt.Fprintf(&b, "- %s (%d occurrence%s)\n", mc.msg, mc.count, plural)
	}
	return b.String()
}

func warningDescription(logs []protocol.LogEntry) string {
	counts := countMessages(logs)
	slices.SortStableFunc(counts, func(a, b messageCount) int { return cmp.Compare(b.count, a.count) })

	var b strings.Builder
	b.WriteString("Multiple warnings detected:\n\n")
	for _, mc := range counts[:min(len(counts), 5)] {
		fmt.Fprintf(&b, "- %s (%dx)\n", mc.msg, mc.count)
	}
	return b.String()
}

func anyMessage(logs []protocol.LogEntry, words ...string) bool {
	for _, l := range logs {
		msg := strings.ToLower(l.Message)
		for _, w := range words {
			if strings.Contains(msg, w) {
				return true
			}
		}
	}
	return false
}

func errorSuggestions(logs []protocol.LogEntry) []string {
	var s []string
	if anyMessage(logs, "connection", "connect") {
		s = append(s,
			"Check database/service connectivity and firewall rules.",
			"Verify credentials and authentication tokens are valid.")
	}
	if anyMessage(logs, "timeout") {
		s = append(s,
			"Increase timeout thresholds if legitimate operations are timing out.",
			"Check for resource constraints (CPU, memory, disk).")
	}
	if anyMessage(logs, "token", "auth") {
		s = append(s,
			"Verify and refresh authentication tokens/credentials.",
			"Check token expiration policies and renewal mechanisms.")
	}
	if len(s) == 0 {
		return []string{
			"Investigate root cause in application logs.",
			"Contact the affected service team for more information.",
		}
	}
	return s
}

func warningSuggestions(logs []protocol.LogEntry) []string {
	var s []string
	if anyMessage(logs, "deprecated") {
		s = append(s,
			"Update code to use non-deprecated APIs.",
			"Plan migration away from deprecated endpoints.")
	}
	if anyMessage(logs, "pool") {
		s = append(s,
			"Monitor connection pool utilization.",
			"Consider increasing pool size or optimizing queries.")
	}
	if anyMessage(logs, "slow") {
		s = append(s,
			"Identify and optimize slow queries.",
			"Add database indexes if needed.")
	}
	if len(s) == 0 {
		return []string{"Monitor this warning trend."}
	}
	return s
}
