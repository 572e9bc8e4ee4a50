package ticket

import (
	"errors"
	"strings"
	"time"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// ErrClosed is returned by mutating operations after the store is closed.
var ErrClosed = errors.New("ticket store: closed")

// Store is the persistence interface for tickets. Returned tickets are always
// independent copies.
type Store interface {
	// Create assigns an ID and timestamps to a new open ticket and persists it.
	Create(d Draft) (*protocol.Ticket, error)
	// Update merges p into the ticket with the given ID. It returns a nil
	// ticket and nil error if no such ticket exists.
	Update(id string, p Patch) (*protocol.Ticket, error)
	// Get retrieves a ticket by ID.
	Get(id string) (*protocol.Ticket, bool)
	// List returns tickets matching the filter in creation order.
	List(filter Filter) []*protocol.Ticket
	// Delete removes a ticket and reports whether it existed.
	Delete(id string) (bool, error)
	// AddComment appends a comment. Like Update it returns nil, nil for an
	// unknown ticket.
	AddComment(id, author, text string) (*protocol.Ticket, error)
}

// Draft is the caller-supplied content of a new ticket.
type Draft struct {
	Title            string
	Description      string
	Severity         protocol.Severity
	AffectedServices []string
	RelatedLogs      []protocol.LogEntry
	Suggestions      []string
}

// Patch holds partial updates. Nil fields are left unchanged.
type Patch struct {
	Title            *string
	Description      *string
	Severity         *protocol.Severity
	Status           *protocol.TicketStatus
	AffectedServices []string
	RelatedLogs      []protocol.LogEntry
	Suggestions      []string
	Comments         []protocol.Comment
}

// StatusPatch is a Patch that only changes the status.
func StatusPatch(status protocol.TicketStatus) Patch {
	return Patch{Status: &status}
}

func (p Patch) apply(t *protocol.Ticket) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Severity != nil {
		t.Severity = *p.Severity
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.AffectedServices != nil {
		t.AffectedServices = append([]string{}, p.AffectedServices...)
	}
	if p.RelatedLogs != nil {
		t.RelatedLogs = protocol.CopyLogs(p.RelatedLogs)
	}
	if p.Suggestions != nil {
		t.Suggestions = append([]string{}, p.Suggestions...)
	}
	if p.Comments != nil {
		t.Comments = append([]protocol.Comment{}, p.Comments...)
	}
}

// Filter constrains ticket list queries. Zero values impose no constraint.
type Filter struct {
	Status        protocol.TicketStatus
	Severity      protocol.Severity
	Service       string    // case-insensitive substring of any affected service
	Keyword       string    // case-insensitive substring of title or description
	CreatedAfter  time.Time // inclusive
	CreatedBefore time.Time // inclusive
}

// Match reports whether t satisfies every constraint in f.
func (f Filter) Match(t *protocol.Ticket) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Severity != "" && t.Severity != f.Severity {
		return false
	}
	if f.Service != "" {
		svc := strings.ToLower(f.Service)
		found := false
		for _, s := range t.AffectedServices {
			if strings.Contains(strings.ToLower(s), svc) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Keyword != "" {
		kw := strings.ToLower(f.Keyword)
		if !strings.Contains(strings.ToLower(t.Title), kw) &&
			!strings.Contains(strings.ToLower(t.Description), kw) {
			return false
		}
	}
	if !f.CreatedAfter.IsZero() && t.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && t.CreatedAt.After(f.CreatedBefore) {
		return false
	}
	return true
}

// Stats summarizes a ticket collection.
type Stats struct {
	Total      int                           `json:"total"`
	ByStatus   map[protocol.TicketStatus]int `json:"byStatus"`
	BySeverity map[protocol.Severity]int     `json:"bySeverity"`
}

// ComputeStats counts tickets by status and severity.
func ComputeStats(tickets []*protocol.Ticket) Stats {
	s := Stats{
		Total:      len(tickets),
		ByStatus:   make(map[protocol.TicketStatus]int),
		BySeverity: make(map[protocol.Severity]int),
	}
	for _, t := range tickets {
		s.ByStatus[t.Status]++
		s.BySeverity[t.Severity]++
	}
	return s
}
