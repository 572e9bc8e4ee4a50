package main

import (
	"strings"
	"testing"

	"github.com/h1v3-io/logtriage/internal/agent"
	"github.com/h1v3-io/logtriage/internal/scheduler"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

func TestRenderResult(t *testing.T) {
	res := &agent.Result{
		LogSetID:      "5",
		Iterations:    3,
		MaxIterations: 10,
		Completed:     true,
		Tickets: []*protocol.Ticket{
			{ID: "TKT-1", Title: "Payment gateway timeouts", Severity: protocol.SeverityCritical, Status: protocol.TicketOpen},
		},
		SuggestedActions: []string{"Roll back payment-service"},
	}
	out := renderResult(res)
	for _, want := range []string{"Log set 5", "3/10", "CRITICAL", "Payment gateway timeouts", "Roll back payment-service"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	failed := renderResult(&agent.Result{LogSetID: "5", Failure: "provider down"})
	if !strings.Contains(failed, "Investigation failed: provider down") {
		t.Errorf("failure output = %q", failed)
	}
}

func TestRenderTickets_Empty(t *testing.T) {
	if out := renderTickets(nil); !strings.Contains(out, "no tickets") {
		t.Errorf("renderTickets(nil) = %q", out)
	}
}

func TestRenderJobs(t *testing.T) {
	if out := renderJobs(nil); !strings.Contains(out, "no scheduled jobs") {
		t.Errorf("empty: %q", out)
	}
	out := renderJobs([]scheduler.Job{{Name: "investigate-5"}, {Name: "session-reaper"}})
	if !strings.Contains(out, "investigate-5") || !strings.Contains(out, "next -") {
		t.Errorf("render = %q", out)
	}
}
