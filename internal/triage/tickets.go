package triage

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/h1v3-io/logtriage/internal/ticket"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewTicket is a manually filed ticket.
type NewTicket struct {
	Title            string              `json:"title" validate:"required"`
	Description      string              `json:"description" validate:"required"`
	Severity         protocol.Severity   `json:"severity" validate:"required,oneof=low medium high critical"`
	AffectedServices []string            `json:"affectedServices"`
	RelatedLogs      []protocol.LogEntry `json:"relatedLogs"`
	Suggestions      []string            `json:"suggestions"`
}

// TicketList is a filtered list with stats over every ticket.
type TicketList struct {
	Tickets []*protocol.Ticket `json:"tickets"`
	Stats   ticket.Stats       `json:"stats"`
}

// CreateTicket files a ticket.
func (s *Service) CreateTicket(nt NewTicket) (*protocol.Ticket, error) {
	if err := validate.Struct(nt); err != nil {
		return nil, fmt.Errorf("%w: Missing required fields: %s", ErrInvalid, fieldList(err))
	}
	return s.cfg.Tickets.Create(ticket.Draft{
		Title:            nt.Title,
		Description:      nt.Description,
		Severity:         nt.Severity,
		AffectedServices: nt.AffectedServices,
		RelatedLogs:      nt.RelatedLogs,
		Suggestions:      nt.Suggestions,
	})
}

// ListTickets returns the tickets matching f.
func (s *Service) ListTickets(f ticket.Filter) TicketList {
	return TicketList{Tickets: s.cfg.Tickets.List(f), Stats: s.cfg.Tickets.Stats()}
}

// GetTicket returns one ticket.
func (s *Service) GetTicket(id string) (*protocol.Ticket, error) {
	t, ok := s.cfg.Tickets.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	return t, nil
}

// UpdateTicketStatus moves a ticket to status.
func (s *Service) UpdateTicketStatus(id string, status protocol.TicketStatus) (*protocol.Ticket, error) {
	switch status {
	case protocol.TicketOpen, protocol.TicketInProgress, protocol.TicketClosed:
	case "":
		return nil, fmt.Errorf("%w: Status required", ErrInvalid)
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	t, err := s.cfg.Tickets.UpdateStatus(id, status)
	return found(id, t, err)
}

// AddComment appends a comment to a ticket.
func (s *Service) AddComment(id, author, text string) (*protocol.Ticket, error) {
	if strings.TrimSpace(author) == "" || strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: Author and text required", ErrInvalid)
	}
	t, err := s.cfg.Tickets.AddComment(id, author, text)
	return found(id, t, err)
}

// CloseTicket closes a ticket, recording finalComment when it is not empty.
func (s *Service) CloseTicket(id, finalComment string) (*protocol.Ticket, error) {
	t, err := s.cfg.Tickets.CloseTicket(id, finalComment)
	return found(id, t, err)
}

// DeleteTicket removes a ticket.
func (s *Service) DeleteTicket(id string) error {
	ok, err := s.cfg.Tickets.Delete(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	return nil
}

// TicketStats counts every ticket by status and severity.
func (s *Service) TicketStats() ticket.Stats {
	return s.cfg.Tickets.Stats()
}

// found turns the store's nil-ticket-nil-error miss into ErrTicketNotFound.
func found(id string, t *protocol.Ticket, err error) (*protocol.Ticket, error) {
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTicketNotFound, id)
	}
	return t, nil
}

func fieldList(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, strings.ToLower(fe.Field()))
	}
	return strings.Join(names, ", ")
}
