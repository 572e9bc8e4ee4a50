package changes

import (
	"strings"
	"testing"
	"time"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

var deploy = protocol.ChangeEvent{
	Timestamp:     "2025-01-17T14:00:00Z",
	Type:          "deployment",
	Description:   "Deployed auth-service v2.3.1",
	FilesAffected: []string{"auth/handler.go", "auth/token.go"},
}

func errAt(clock, msg string) protocol.LogEntry {
	return protocol.LogEntry{Time: clock, Service: "auth-service", Level: protocol.LevelError, Message: msg}
}

func TestClockOffset(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"12:12:24", 12*time.Hour + 12*time.Minute + 24*time.Second, true},
		{"14:00", 14 * time.Hour, true},
		{"2025-01-17T14:00:00Z", 14 * time.Hour, true},
		{"2025-01-17 09:30:15", 9*time.Hour + 30*time.Minute + 15*time.Second, true},
		{"", 0, false},
		{"not a time", 0, false},
	}
	for _, tt := range tests {
		got, ok := ClockOffset(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ClockOffset(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestInWindow_Boundaries(t *testing.T) {
	tests := []struct {
		name string
		log  string
		want bool
	}{
		{"at change", "14:00:00", true},
		{"inside", "14:01:00", true},
		{"exactly 120s", "14:02:00", true},
		{"121s", "14:02:01", false},
		{"one second before", "13:59:59", false},
		{"unparseable", "later", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InWindow(deploy.Timestamp, tt.log); got != tt.want {
				t.Errorf("InWindow(%q) = %v, want %v", tt.log, got, tt.want)
			}
		})
	}
}

func TestCorrelate_NoChanges(t *testing.T) {
	got := Correlate(nil, []protocol.LogEntry{errAt("14:00:01", "boom")}, Filter{})
	if got.Analysis != "No recent changes found in the system." {
		t.Errorf("analysis = %q", got.Analysis)
	}
	if got.RelevantChanges == nil || got.CorrelatedErrors == nil {
		t.Error("expected non-nil empty slices")
	}
}

func TestCorrelate_FilterEliminatesAll(t *testing.T) {
	got := Correlate([]protocol.ChangeEvent{deploy}, nil, Filter{ChangeType: "migration"})
	if len(got.RelevantChanges) != 0 {
		t.Errorf("expected no relevant changes, got %+v", got.RelevantChanges)
	}
	if got.Analysis != "No recent changes to analyze." {
		t.Errorf("analysis = %q", got.Analysis)
	}
}

func TestCorrelate_CollectsErrorsInWindow(t *testing.T) {
	logs := []protocol.LogEntry{
		errAt("13:59:59", "before"),
		errAt("14:00:30", "token validation failed"),
		{Time: "14:00:40", Service: "auth-service", Level: protocol.LevelWarn, Message: "slow"},
		errAt("14:02:00", "edge"),
		errAt("14:02:01", "too late"),
	}
	got := Correlate([]protocol.ChangeEvent{deploy}, logs, Filter{})

	if len(got.CorrelatedErrors) != 2 {
		t.Fatalf("got %d correlated errors, want 2: %+v", len(got.CorrelatedErrors), got.CorrelatedErrors)
	}
	if got.CorrelatedErrors[0].Message != "token validation failed" || got.CorrelatedErrors[1].Message != "edge" {
		t.Errorf("unexpected errors %+v", got.CorrelatedErrors)
	}

	for _, want := range []string{
		"Found 1 recent change(s):",
		"- [2025-01-17T14:00:00Z] deployment: Deployed auth-service v2.3.1",
		"Files: auth/handler.go, auth/token.go",
		"Found 2 error(s) correlated with these changes:",
		"- [14:00:30] auth-service: token validation failed",
	} {
		if !strings.Contains(got.Analysis, want) {
			t.Errorf("analysis missing %q:\n%s", want, got.Analysis)
		}
	}
}

func TestCorrelate_NoErrorsFollowing(t *testing.T) {
	got := Correlate([]protocol.ChangeEvent{deploy}, []protocol.LogEntry{errAt("09:00:00", "old")}, Filter{})
	if !strings.HasSuffix(got.Analysis, "No errors detected immediately following these changes.") {
		t.Errorf("analysis = %q", got.Analysis)
	}
}

func TestCorrelate_AnalysisListsAtMostFive(t *testing.T) {
	var logs []protocol.LogEntry
	for i := range 8 {
		logs = append(logs, errAt("14:00:1"+string(rune('0'+i)), "err"))
	}
	got := Correlate([]protocol.ChangeEvent{deploy}, logs, Filter{})
	if len(got.CorrelatedErrors) != 8 {
		t.Fatalf("got %d errors, want 8", len(got.CorrelatedErrors))
	}
	if n := strings.Count(got.Analysis, "auth-service: err"); n != 5 {
		t.Errorf("analysis lists %d errors, want 5", n)
	}
}

func TestCorrelate_ErrorCountedOnce(t *testing.T) {
	second := deploy
	second.Timestamp = "14:00:30"
	second.Type = "config"
	got := Correlate([]protocol.ChangeEvent{deploy, second}, []protocol.LogEntry{errAt("14:01:00", "dup")}, Filter{})
	if len(got.CorrelatedErrors) != 1 {
		t.Errorf("got %d errors, want 1", len(got.CorrelatedErrors))
	}
}

func TestFilterChanges(t *testing.T) {
	all := []protocol.ChangeEvent{
		deploy,
		{Timestamp: "2025-01-17T10:00:00Z", Type: "config", Description: "Raised pool size"},
		{Timestamp: "2025-01-17T16:00:00Z", Type: "migration", Description: "Add users.email index"},
	}
	tests := []struct {
		name string
		f    Filter
		want int
	}{
		{"none", Filter{}, 3},
		{"type", Filter{ChangeType: "Config"}, 1},
		{"start", Filter{TimeRangeStart: "2025-01-17T12:00:00Z"}, 2},
		{"end", Filter{TimeRangeEnd: "2025-01-17T14:00:00Z"}, 2},
		{"keyword", Filter{Keyword: "POOL"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterChanges(all, tt.f); len(got) != tt.want {
				t.Errorf("got %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestSuggestCorrelation(t *testing.T) {
	errs := []protocol.LogEntry{errAt("14:00:30", "x"), errAt("14:00:31", "y")}
	if got := SuggestCorrelation([]protocol.ChangeEvent{deploy}, nil); got != nil {
		t.Errorf("expected nil without errors, got %v", got)
	}

	all := []protocol.ChangeEvent{
		deploy,
		{Type: "config"},
		{Type: "migration"},
	}
	got := SuggestCorrelation(all, errs)
	if len(got) != 3 {
		t.Fatalf("got %d suggestions: %v", len(got), got)
	}
	if got[0] != "Recent deployment at 2025-01-17T14:00:00Z may have caused 2 error(s). Consider rolling back if issues persist." {
		t.Errorf("deploy suggestion = %q", got[0])
	}
	if !strings.HasPrefix(got[1], "Configuration change detected.") {
		t.Errorf("config suggestion = %q", got[1])
	}
	if !strings.HasPrefix(got[2], "Database migration detected.") {
		t.Errorf("migration suggestion = %q", got[2])
	}
}
