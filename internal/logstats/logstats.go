// Package logstats computes summary views of a log corpus: level and service
// counts, recurring error and warning messages, error bursts and minutes with
// an abnormal error rate.
package logstats

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/h1v3-io/logtriage/internal/changes"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// Stats counts a corpus by level and service.
type Stats struct {
	Total     int            `json:"total"`
	Errors    int            `json:"errors"`
	Warnings  int            `json:"warnings"`
	Info      int            `json:"info"`
	Debug     int            `json:"debug"`
	Services  map[string]int `json:"services"`
	TimeRange *TimeRange     `json:"timeRange,omitempty"`
}

// TimeRange spans the first and last entry in corpus order.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Pattern is a message that recurs at one level.
type Pattern struct {
	Message         string   `json:"message"`
	Count           int      `json:"count"`
	FirstOccurrence string   `json:"firstOccurrence"`
	LastOccurrence  string   `json:"lastOccurrence"`
	Services        []string `json:"services"`
}

// Compute returns the level and service counts of logs.
func Compute(logs []protocol.LogEntry) Stats {
	s := Stats{Total: len(logs), Services: map[string]int{}}
	for _, l := range logs {
		switch l.Level {
		case protocol.LevelError:
			s.Errors++
		case protocol.LevelWarn:
			s.Warnings++
		case protocol.LevelInfo:
			s.Info++
		case protocol.LevelDebug:
			s.Debug++
		}
		s.Services[l.Service]++
	}
	if len(logs) > 0 {
		s.TimeRange = &TimeRange{Start: logs[0].Time, End: logs[len(logs)-1].Time}
	}
	return s
}

// ErrorPatterns ranks ERROR messages by frequency.
func ErrorPatterns(logs []protocol.LogEntry) []Pattern {
	return patterns(logs, protocol.LevelError)
}

// WarningPatterns ranks WARN messages by frequency.
func WarningPatterns(logs []protocol.LogEntry) []Pattern {
	return patterns(logs, protocol.LevelWarn)
}

func patterns(logs []protocol.LogEntry, level protocol.Level) []Pattern {
	var out []*Pattern
	byMsg := map[string]*Pattern{}
	for _, l := range logs {
		if l.Level != level {
			continue
		}
		p, ok := byMsg[l.Message]
		if !ok {
			p = &Pattern{Message: l.Message, FirstOccurrence: l.Time}
			byMsg[l.Message] = p
			out = append(out, p)
		}
		p.Count++
		p.LastOccurrence = l.Time
		if !slices.Contains(p.Services, l.Service) {
			p.Services = append(p.Services, l.Service)
		}
	}
	// stable: equal counts keep first-seen order
	slices.SortStableFunc(out, func(a, b *Pattern) int { return b.Count - a.Count })
	res := make([]Pattern, len(out))
	for i, p := range out {
		res[i] = *p
	}
	return res
}

// ErrorClusters groups consecutive ERROR entries whose clock minutes are at
// most one apart. Only clusters of two or more are returned.
func ErrorClusters(logs []protocol.LogEntry) [][]protocol.LogEntry {
	var clusters [][]protocol.LogEntry
	var current []protocol.LogEntry
	prev := -1
	for _, l := range logs {
		if l.Level != protocol.LevelError {
			continue
		}
		m := minuteOf(l.Time)
		if len(current) > 0 && abs(m-prev) > 1 {
			clusters = appendCluster(clusters, current)
			current = nil
		}
		current = append(current, l)
		prev = m
	}
	return appendCluster(clusters, current)
}

func appendCluster(clusters [][]protocol.LogEntry, c []protocol.LogEntry) [][]protocol.LogEntry {
	if len(c) > 1 {
		return append(clusters, c)
	}
	return clusters
}

// Anomalies returns the ERROR entries of every clock minute whose error count
// exceeds twice the corpus-wide average errors per minute.
func Anomalies(logs []protocol.LogEntry) []protocol.LogEntry {
	errs := 0
	for _, l := range logs {
		if l.Level == protocol.LevelError {
			errs++
		}
	}
	if errs == 0 {
		return nil
	}
	threshold := 2 * float64(errs) / float64(spanMinutes(logs))

	var order []string
	byMinute := map[string][]protocol.LogEntry{}
	for _, l := range logs {
		if l.Level != protocol.LevelError {
			continue
		}
		key := minuteKey(l.Time)
		if _, ok := byMinute[key]; !ok {
			order = append(order, key)
		}
		byMinute[key] = append(byMinute[key], l)
	}

	var out []protocol.LogEntry
	for _, key := range order {
		if float64(len(byMinute[key])) > threshold {
			out = append(out, byMinute[key]...)
		}
	}
	return out
}

func spanMinutes(logs []protocol.LogEntry) int {
	if len(logs) == 0 {
		return 1
	}
	span := minuteOf(logs[len(logs)-1].Time) - minuteOf(logs[0].Time)
	if span <= 0 {
		return 1
	}
	return span
}

func minuteKey(clock string) string {
	if len(clock) >= 5 {
		return clock[:5]
	}
	return clock
}

func minuteOf(clock string) int {
	d, ok := changes.ClockOffset(clock)
	if !ok {
		return 0
	}
	return int(d / time.Minute)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Summarize renders counts and the top limit error and warning patterns.
func Summarize(logs []protocol.LogEntry, limit int) string {
	if limit <= 0 {
		limit = 5
	}
	s := Compute(logs)
	var b strings.Builder
	b.WriteString("Log Summary:\n")
	fmt.Fprintf(&b, "- Total logs: %d\n", s.Total)
	fmt.Fprintf(&b, "- Errors: %d, Warnings: %d, Info: %d\n", s.Errors, s.Warnings, s.Info)
	fmt.Fprintf(&b, "- Services: %s\n", strings.Join(UniqueServices(logs), ", "))

	if errs := ErrorPatterns(logs); len(errs) > 0 {
		b.WriteString("\nTop Error Patterns:\n")
		for i, p := range errs[:min(limit, len(errs))] {
			fmt.Fprintf(&b, "%d. %q (%dx in %s)\n", i+1, p.Message, p.Count, strings.Join(p.Services, ", "))
		}
	}
	if warns := WarningPatterns(logs); len(warns) > 0 {
		b.WriteString("\nTop Warning Patterns:\n")
		for i, p := range warns[:min(limit, len(warns))] {
			fmt.Fprintf(&b, "%d. %q (%dx)\n", i+1, p.Message, p.Count)
		}
	}
	return b.String()
}

// UniqueServices returns the services seen, in first-seen order.
func UniqueServices(logs []protocol.LogEntry) []string {
	var out []string
	for _, l := range logs {
		if !slices.Contains(out, l.Service) {
			out = append(out, l.Service)
		}
	}
	return out
}

// Filter selects logs. Every non-empty option must match.
type Filter struct {
	Services  []string         `json:"services,omitempty"`
	Levels    []protocol.Level `json:"levels,omitempty"`
	Keyword   string           `json:"keyword,omitempty"`
	TimeStart string           `json:"timeStart,omitempty"`
	TimeEnd   string           `json:"timeEnd,omitempty"`
}

// FilterLogs returns the logs matching f.
func FilterLogs(logs []protocol.LogEntry, f Filter) []protocol.LogEntry {
	kw := strings.ToLower(f.Keyword)
	out := []protocol.LogEntry{}
	for _, l := range logs {
		switch {
		case len(f.Services) > 0 && !slices.Contains(f.Services, l.Service),
			len(f.Levels) > 0 && !slices.Contains(f.Levels, l.Level),
			kw != "" && !strings.Contains(strings.ToLower(l.Message), kw),
			f.TimeStart != "" && l.Time < f.TimeStart,
			f.TimeEnd != "" && l.Time > f.TimeEnd:
			continue
		}
		out = append(out, l)
	}
	return out
}
