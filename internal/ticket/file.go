package ticket

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/logtriage/pkg/protocol"
)

// DocumentVersion is written into every persisted ticket document.
const DocumentVersion = "1.0"

// document is the on-disk layout of the ticket file.
type document struct {
	Version     string             `json:"version"`
	LastUpdated time.Time          `json:"lastUpdated"`
	Tickets     []*protocol.Ticket `json:"tickets"`
}

// FileStore implements Store over a single JSON document. One goroutine owns
// the ticket slice and the file: every call is queued to it, so mutations run
// one at a time as read-modify-persist cycles and never interleave writes.
type FileStore struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	ops     chan request
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once

	// owned by the run goroutine once started
	tickets []*protocol.Ticket
}

var _ Store = (*FileStore)(nil)

type request struct {
	fn   func()
	done chan struct{}
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) FileOption {
	return func(s *FileStore) { s.logger = l }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) FileOption {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore opens the ticket document at path and starts the owner
// goroutine. A missing or unreadable document starts the store empty; it is
// not rewritten until the first mutation.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("ticket store: empty path")
	}
	s := &FileStore{
		path:    path,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
		ops:     make(chan request),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "ticket-store")

	s.refresh()
	go s.run()
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Close stops the owner goroutine. Calls made afterwards return ErrClosed or
// empty results.
func (s *FileStore) Close() error {
	s.once.Do(func() { close(s.quit) })
	<-s.stopped
	return nil
}

func (s *FileStore) run() {
	defer close(s.stopped)
	for {
		select {
		case req := <-s.ops:
			req.fn()
			close(req.done)
		case <-s.quit:
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it to finish.
func (s *FileStore) do(fn func()) error {
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case s.ops <- req:
	case <-s.quit:
		return ErrClosed
	}
	<-req.done
	return nil
}

func (s *FileStore) Create(d Draft) (*protocol.Ticket, error) {
	var out *protocol.Ticket
	var opErr error
	err := s.do(func() {
		now := s.now()
		t := &protocol.Ticket{
			ID:               newTicketID(now),
			Title:            d.Title,
			Description:      d.Description,
			Severity:         d.Severity,
			Status:           protocol.TicketOpen,
			AffectedServices: append([]string{}, d.AffectedServices...),
			RelatedLogs:      protocol.CopyLogs(d.RelatedLogs),
			Suggestions:      append([]string{}, d.Suggestions...),
			Comments:         []protocol.Comment{},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		opErr = s.mutate(func(tickets []*protocol.Ticket) ([]*protocol.Ticket, bool) {
			return append(tickets, t), true
		})
		if opErr == nil {
			out = t.Clone()
			s.logger.Info("ticket created", "id", t.ID, "severity", t.Severity)
		}
	})
	if err != nil {
		return nil, err
	}
	return out, opErr
}

func (s *FileStore) Update(id string, p Patch) (*protocol.Ticket, error) {
	return s.modify(id, func(t *protocol.Ticket) { p.apply(t) })
}

func (s *FileStore) AddComment(id, author, text string) (*protocol.Ticket, error) {
	return s.modify(id, func(t *protocol.Ticket) {
		t.Comments = append(t.Comments, protocol.Comment{
			ID:        newCommentID(s.now()),
			Author:    author,
			Text:      text,
			CreatedAt: s.now(),
		})
	})
}

// UpdateStatus changes a ticket's status.
func (s *FileStore) UpdateStatus(id string, status protocol.TicketStatus) (*protocol.Ticket, error) {
	return s.Update(id, StatusPatch(status))
}

// CloseTicket marks a ticket closed, optionally recording a final comment in
// the same write.
func (s *FileStore) CloseTicket(id, finalComment string) (*protocol.Ticket, error) {
	return s.modify(id, func(t *protocol.Ticket) {
		t.Status = protocol.TicketClosed
		if finalComment != "" {
			t.Comments = append(t.Comments, protocol.Comment{
				ID:        newCommentID(s.now()),
				Author:    "system",
				Text:      finalComment,
				CreatedAt: s.now(),
			})
		}
	})
}

// modify applies fn to a copy of the ticket with the given ID, bumps its
// UpdatedAt and persists. The in-memory state only changes if the write
// succeeds.
func (s *FileStore) modify(id string, fn func(*protocol.Ticket)) (*protocol.Ticket, error) {
	var out *protocol.Ticket
	var opErr error
	err := s.do(func() {
		opErr = s.mutate(func(tickets []*protocol.Ticket) ([]*protocol.Ticket, bool) {
			for i, t := range tickets {
				if t.ID != id {
					continue
				}
				next := t.Clone()
				fn(next)
				next.ID = t.ID
				next.CreatedAt = t.CreatedAt
				next.UpdatedAt = s.later(t.UpdatedAt)
				tickets[i] = next
				out = next.Clone()
				return tickets, true
			}
			return tickets, false
		})
		if opErr != nil {
			out = nil
		}
	})
	if err != nil {
		return nil, err
	}
	return out, opErr
}

func (s *FileStore) Delete(id string) (bool, error) {
	var removed bool
	var opErr error
	err := s.do(func() {
		opErr = s.mutate(func(tickets []*protocol.Ticket) ([]*protocol.Ticket, bool) {
			for i, t := range tickets {
				if t.ID == id {
					removed = true
					return append(tickets[:i], tickets[i+1:]...), true
				}
			}
			return tickets, false
		})
		if opErr != nil {
			removed = false
		}
	})
	if err != nil {
		return false, err
	}
	return removed, opErr
}

// Clear removes every ticket.
func (s *FileStore) Clear() error {
	var opErr error
	err := s.do(func() {
		if err := s.persist([]*protocol.Ticket{}); err != nil {
			opErr = err
			return
		}
		s.tickets = nil
	})
	if err != nil {
		return err
	}
	return opErr
}

func (s *FileStore) Get(id string) (*protocol.Ticket, bool) {
	var out *protocol.Ticket
	s.do(func() {
		for _, t := range s.tickets {
			if t.ID == id {
				out = t.Clone()
				return
			}
		}
	})
	return out, out != nil
}

func (s *FileStore) List(filter Filter) []*protocol.Ticket {
	out := []*protocol.Ticket{}
	s.do(func() {
		for _, t := range s.tickets {
			if filter.Match(t) {
				out = append(out, t.Clone())
			}
		}
	})
	return out
}

// Stats counts all tickets by status and severity.
func (s *FileStore) Stats() Stats {
	return ComputeStats(s.List(Filter{}))
}

// mutate runs one read-modify-persist cycle. fn receives a private copy of
// the current tickets and reports whether it changed anything; unchanged
// results are not written.
func (s *FileStore) mutate(fn func([]*protocol.Ticket) ([]*protocol.Ticket, bool)) error {
	s.refresh()

	working := make([]*protocol.Ticket, len(s.tickets))
	for i, t := range s.tickets {
		working[i] = t.Clone()
	}
	next, changed := fn(working)
	if !changed {
		return nil
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.tickets = next
	return nil
}

// refresh reloads the document from disk. A missing, unreadable or empty
// document never replaces tickets already held in memory.
func (s *FileStore) refresh() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read ticket file, keeping in-memory state", "path", s.path, "error", err)
		}
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("ticket file is corrupt, keeping in-memory state", "path", s.path, "error", err)
		if len(s.tickets) == 0 {
			s.preserveCorrupt(data)
		}
		return
	}
	if len(doc.Tickets) == 0 && len(s.tickets) > 0 {
		s.logger.Warn("ticket file is empty, keeping in-memory state", "path", s.path, "in_memory", len(s.tickets))
		return
	}

	tickets := make([]*protocol.Ticket, 0, len(doc.Tickets))
	for _, t := range doc.Tickets {
		if t == nil || t.ID == "" {
			continue
		}
		tickets = append(tickets, t.Clone())
	}
	s.tickets = tickets
}

// preserveCorrupt copies an unparseable document aside so the next write
// cannot destroy whatever it held.
func (s *FileStore) preserveCorrupt(data []byte) {
	backup := s.path + ".corrupt"
	if _, err := os.Stat(backup); err == nil {
		return
	}
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		s.logger.Warn("failed to back up corrupt ticket file", "path", backup, "error", err)
		return
	}
	s.logger.Info("backed up corrupt ticket file", "path", backup)
}

// persist writes tickets to a temp file and renames it over the document.
func (s *FileStore) persist(tickets []*protocol.Ticket) error {
	if tickets == nil {
		tickets = []*protocol.Ticket{}
	}
	doc := document{
		Version:     DocumentVersion,
		LastUpdated: s.now(),
		Tickets:     tickets,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ticket store: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ticket store: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ticket store: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("ticket store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ticket store: write: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ticket store: rename: %w", err)
	}
	return nil
}

// later returns the current time, nudged forward if needed so it is strictly
// after prev.
func (s *FileStore) later(prev time.Time) time.Time {
	now := s.now()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

func newTicketID(now time.Time) string {
	return fmt.Sprintf("TKT-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

func newCommentID(now time.Time) string {
	return fmt.Sprintf("CMT-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
