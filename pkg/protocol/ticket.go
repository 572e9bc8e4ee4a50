package protocol

import (
	"slices"
	"time"
)

// Severity ranks how urgent a ticket or alert is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// TicketStatus represents the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in-progress"
	TicketClosed     TicketStatus = "closed"
)

// Comment is an append-only note on a ticket.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Ticket tracks an issue found while triaging logs.
type Ticket struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Description      string       `json:"description"`
	Severity         Severity     `json:"severity"`
	Status           TicketStatus `json:"status"`
	AffectedServices []string     `json:"affectedServices"`
	RelatedLogs      []LogEntry   `json:"relatedLogs"`
	Suggestions      []string     `json:"suggestions"`
	Comments         []Comment    `json:"comments"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy of t. Callers outside the ticket store only ever
// see clones, so evidence attached to a ticket cannot be changed through a
// shared slice.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.AffectedServices = cloneStrings(t.AffectedServices)
	c.RelatedLogs = CopyLogs(t.RelatedLogs)
	c.Suggestions = cloneStrings(t.Suggestions)
	c.Comments = make([]Comment, len(t.Comments))
	copy(c.Comments, t.Comments)
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
