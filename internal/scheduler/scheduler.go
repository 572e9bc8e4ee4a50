// Package scheduler runs named jobs on cron schedules: the chat session
// reaper and periodic investigations of configured log sets.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler manages cron jobs grouped by name.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string][]cron.EntryID // job name → entry IDs
	logger *slog.Logger
}

// New creates a new scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger))),
		jobs:   make(map[string][]cron.EntryID),
		logger: logger.With("component", "scheduler"),
	}
}

// Start begins the cron scheduler. Blocks until context is cancelled, then
// waits for running jobs to return.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.JobCount())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// AddJob registers fn under name. The schedule is a standard 5-field cron
// expression or a descriptor like "@every 5m".
func (s *Scheduler) AddJob(name, schedule string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() {
		s.logger.Debug("cron fired", "job", name)
		fn()
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}

	s.jobs[name] = append(s.jobs[name], id)
	s.logger.Info("job registered", "job", name, "schedule", schedule)
	return nil
}

// RemoveJob removes every schedule registered under name.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.jobs[name] {
		s.cron.Remove(id)
	}
	delete(s.jobs, name)
}

// ListJobs returns the entry IDs registered under name.
func (s *Scheduler) ListJobs(name string) []cron.EntryID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cron.EntryID(nil), s.jobs[name]...)
}

// JobCount returns the total number of scheduled entries.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, ids := range s.jobs {
		total += len(ids)
	}
	return total
}

// Job is one scheduled entry. Next is zero until the scheduler starts.
type Job struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// Jobs lists every entry ordered by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for name, ids := range s.jobs {
		for _, id := range ids {
			e := s.cron.Entry(id)
			out = append(out, Job{Name: name, Next: e.Next, Prev: e.Prev})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}
