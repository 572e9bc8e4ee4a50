// Package session keeps chat sessions in memory so that independent HTTP
// requests can extend one conversation.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/h1v3-io/logtriage/internal/memory"
	"github.com/h1v3-io/logtriage/internal/scheduler"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

const (
	DefaultInactivityTimeout = time.Hour
	DefaultReapSchedule      = "@every 5m"
	reaperJob                = "session-reaper"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session: not found or expired")

// Status is the conversational state of a session.
type Status string

// A session is waiting while a turn is in flight and completed once the
// assistant has declared the investigation finished.
const (
	StatusActive    Status = "active"
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
)

// LogsContext is the log material a session investigates. Logs are the
// entries seeded into memory; AllLogs is the corpus tools search.
type LogsContext struct {
	Logs    []protocol.LogEntry    `json:"logs"`
	AllLogs []protocol.LogEntry    `json:"allLogs"`
	Changes []protocol.ChangeEvent `json:"recentChanges"`
	Source  string                 `json:"source"`
}

// Session is one chat conversation.
type Session struct {
	ID           string       `json:"id"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastActivity time.Time    `json:"lastActivity"`
	Logs         LogsContext  `json:"logsContext"`
	Memory       memory.State `json:"memoryState"`
	Provider     string       `json:"provider"`
	Model        string       `json:"model"`
	Status       Status       `json:"status"`
}

func (s *Session) clone() *Session {
	c := *s
	c.Memory = memory.State{
		Entries:               append([]memory.Entry{}, s.Memory.Entries...),
		ApproximateTokensUsed: s.Memory.ApproximateTokensUsed,
	}
	return &c
}

// Options seed a new session.
type Options struct {
	Logs     []protocol.LogEntry
	AllLogs  []protocol.LogEntry
	Changes  []protocol.ChangeEvent
	Source   string
	Provider string
	Model    string
}

// Update is a partial change. Zero fields are left untouched; ID and
// CreatedAt can never change and LastActivity always does.
type Update struct {
	Memory   *memory.State
	Status   Status
	Provider string
	Model    string
}

type slot struct {
	turn    sync.Mutex
	session *Session
}

// Store holds sessions keyed by ID.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*slot
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout overrides DefaultInactivityTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*slot),
		timeout:  DefaultInactivityTimeout,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// Create stores a new active session with empty memory and returns it.
func (s *Store) Create(opts Options) *Session {
	now := s.now().UTC()
	sess := &Session{
		ID:           "session_" + uuid.NewString(),
		CreatedAt:    now,
		LastActivity: now,
		Logs: LogsContext{
			Logs:    protocol.CopyLogs(opts.Logs),
			AllLogs: protocol.CopyLogs(opts.AllLogs),
			Changes: append([]protocol.ChangeEvent(nil), opts.Changes...),
			Source:  opts.Source,
		},
		Memory:   memory.State{Entries: []memory.Entry{}},
		Provider: opts.Provider,
		Model:    opts.Model,
		Status:   StatusActive,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &slot{session: sess}
	s.mu.Unlock()

	s.logger.Info("session created", "session", sess.ID, "source", opts.Source, "logs", len(opts.AllLogs))
	return sess.clone()
}

// Get returns a copy of the session and refreshes its last activity.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sl.session.LastActivity = s.now().UTC()
	return sl.session.clone(), nil
}

// Update merges u into the session.
func (s *Store) Update(id string, u Update) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess := sl.session
	if u.Memory != nil {
		sess.Memory = memory.State{
			Entries:               append([]memory.Entry{}, u.Memory.Entries...),
			ApproximateTokensUsed: u.Memory.ApproximateTokensUsed,
		}
	}
	if u.Status != "" {
		sess.Status = u.Status
	}
	if u.Provider != "" {
		sess.Provider = u.Provider
	}
	if u.Model != "" {
		sess.Model = u.Model
	}
	sess.LastActivity = s.now().UTC()
	return sess.clone(), nil
}

// Delete removes a session, reporting whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// Lock serializes conversation turns on one session. The returned function
// releases the lock.
func (s *Store) Lock(id string) (func(), error) {
	s.mu.Lock()
	sl, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sl.turn.Lock()
	return sl.turn.Unlock, nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Reap deletes every session idle for longer than the inactivity timeout and
// returns how many were removed.
func (s *Store) Reap() int {
	cutoff := s.now().UTC().Add(-s.timeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sl := range s.sessions {
		if sl.session.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			s.logger.Info("expired session removed", "session", id)
			n++
		}
	}
	return n
}

// ScheduleReaper registers Reap on sched. An empty spec uses
// DefaultReapSchedule.
func (s *Store) ScheduleReaper(sched *scheduler.Scheduler, spec string) error {
	if spec == "" {
		spec = DefaultReapSchedule
	}
	return sched.AddJob(reaperJob, spec, func() { s.Reap() })
}
