// Package changes correlates system change events with the error logs that
// followed them.
//
// Timestamps are reduced to a time of day before comparison: log lines carry
// bare "HH:MM:SS" clocks, so every change and log is assumed to fall on the
// same day. A change shortly before midnight is therefore never correlated
// with an error shortly after it. Range filters on change timestamps compare
// the raw strings lexically.
package changes

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// Window is how long after a change an error is still attributed to it.
const Window = 120 * time.Second

// maxAnalysisErrors bounds how many correlated errors the analysis text lists.
const maxAnalysisErrors = 5

// Filter narrows the set of changes considered. Zero values impose no
// constraint.
type Filter struct {
	ChangeType     string `json:"changeType,omitempty"`
	TimeRangeStart string `json:"timeRangeStart,omitempty"`
	TimeRangeEnd   string `json:"timeRangeEnd,omitempty"`
	Keyword        string `json:"keyword,omitempty"`
}

// Result holds the structured correlation output plus a human-readable
// rendering of it. Analysis is for people; callers should read the slices.
type Result struct {
	RelevantChanges  []protocol.ChangeEvent `json:"relevantChanges"`
	CorrelatedErrors []protocol.LogEntry    `json:"correlatedErrors"`
	Analysis         string                 `json:"analysis"`
}

// Correlate filters changes and collects every ERROR log that occurred within
// Window after any of the remaining changes.
func Correlate(changes []protocol.ChangeEvent, logs []protocol.LogEntry, f Filter) Result {
	if len(changes) == 0 {
		return Result{
			RelevantChanges:  []protocol.ChangeEvent{},
			CorrelatedErrors: []protocol.LogEntry{},
			Analysis:         "No recent changes found in the system.",
		}
	}

	relevant := FilterChanges(changes, f)
	errs := correlatedErrors(logs, relevant)
	return Result{
		RelevantChanges:  relevant,
		CorrelatedErrors: errs,
		Analysis:         analysis(relevant, errs),
	}
}

// FilterChanges applies f to changes, preserving order.
func FilterChanges(changes []protocol.ChangeEvent, f Filter) []protocol.ChangeEvent {
	out := make([]protocol.ChangeEvent, 0, len(changes))
	changeType := strings.ToLower(f.ChangeType)
	keyword := strings.ToLower(f.Keyword)
	for _, c := range changes {
		if changeType != "" && !strings.Contains(strings.ToLower(c.Type), changeType) {
			continue
		}
		if f.TimeRangeStart != "" && c.Timestamp < f.TimeRangeStart {
			continue
		}
		if f.TimeRangeEnd != "" && c.Timestamp > f.TimeRangeEnd {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(c.Description), keyword) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// InWindow reports whether an error at errTime falls inside
// [changeTime, changeTime+Window]. Unparseable timestamps never correlate.
func InWindow(changeTime, errTime string) bool {
	c, ok := ClockOffset(changeTime)
	if !ok {
		return false
	}
	e, ok := ClockOffset(errTime)
	if !ok {
		return false
	}
	diff := e - c
	return diff >= 0 && diff <= Window
}

func correlatedErrors(logs []protocol.LogEntry, changes []protocol.ChangeEvent) []protocol.LogEntry {
	out := []protocol.LogEntry{}
	seen := make(map[protocol.LogEntry]struct{})
	for _, c := range changes {
		for _, e := range logs {
			if e.Level != protocol.LevelError {
				continue
			}
			if _, ok := seen[e]; ok {
				continue
			}
			if InWindow(c.Timestamp, e.Time) {
				seen[e] = struct{}{}
				out = append(out, e)
			}
		}
	}
	return out
}

var clockLayouts = []string{"15:04:05", "15:04:05.000", "15:04"}

// ClockOffset resolves a timestamp to its offset from midnight. Bare clocks
// ("12:12:24") are accepted directly; anything else is handed to dateparse
// and only its time of day is kept.
func ClockOffset(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return sinceMidnight(t), true
		}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return 0, false
	}
	return sinceMidnight(t), true
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func analysis(changes []protocol.ChangeEvent, errs []protocol.LogEntry) string {
	if len(changes) == 0 {
		return "No recent changes to analyze."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d recent change(s):\n", len(changes))
	for _, c := range changes {
		fmt.Fprintf(&b, "\n- [%s] %s: %s", c.Timestamp, c.Type, c.Description)
		fmt.Fprintf(&b, "\n  Files: %s", strings.Join(c.FilesAffected, ", "))
	}

	if len(errs) == 0 {
		b.WriteString("\n\nNo errors detected immediately following these changes.")
		return b.String()
	}

	fmt.Fprintf(&b, "\n\nFound %d error(s) correlated with these changes:", len(errs))
	for _, e := range errs[:min(len(errs), maxAnalysisErrors)] {
		fmt.Fprintf(&b, "\n- [%s] %s: %s", e.Time, e.Service, e.Message)
	}
	return b.String()
}

// SuggestCorrelation returns advisory remediation hints keyed on the kinds of
// change present. It returns nil when there are no changes or no errors.
func SuggestCorrelation(changes []protocol.ChangeEvent, errs []protocol.LogEntry) []string {
	if len(changes) == 0 || len(errs) == 0 {
		return nil
	}

	var suggestions []string
	if c, ok := firstOfType(changes, "deploy"); ok {
		suggestions = append(suggestions, fmt.Sprintf(
			"Recent deployment at %s may have caused %d error(s). Consider rolling back if issues persist.",
			c.Timestamp, len(errs)))
	}
	if _, ok := firstOfType(changes, "config"); ok {
		suggestions = append(suggestions,
			"Configuration change detected. Verify that the new settings are compatible with the system.")
	}
	if _, ok := firstOfType(changes, "migration"); ok {
		suggestions = append(suggestions,
			"Database migration detected. Ensure all services have been restarted to load new schema.")
	}
	return suggestions
}

func firstOfType(changes []protocol.ChangeEvent, kind string) (protocol.ChangeEvent, bool) {
	for _, c := range changes {
		if strings.Contains(strings.ToLower(c.Type), kind) {
			return c, true
		}
	}
	return protocol.ChangeEvent{}, false
}
