package triage

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/h1v3-io/logtriage/internal/ingest"
	"github.com/h1v3-io/logtriage/internal/logsource"
	"github.com/h1v3-io/logtriage/internal/logstats"
	"github.com/h1v3-io/logtriage/internal/scheduler"
	"github.com/h1v3-io/logtriage/pkg/protocol"
)

const (
	DefaultPageSize = 50
	summaryPatterns = 5
)

// LogQuery pages through a filtered log set. Page is 1-based.
type LogQuery struct {
	Filter   logstats.Filter
	Page     int
	PageSize int
}

// LogPage is one page of a log set.
type LogPage struct {
	SetID    string                 `json:"setId"`
	Total    int                    `json:"total"`
	Filtered int                    `json:"filtered"`
	Page     int                    `json:"page"`
	PageSize int                    `json:"pageSize"`
	Logs     []protocol.LogEntry    `json:"logs"`
	Changes  []protocol.ChangeEvent `json:"changes"`
}

// LogSummary is the analytics view of a log set.
type LogSummary struct {
	SetID           string              `json:"setId"`
	Stats           logstats.Stats      `json:"stats"`
	ErrorPatterns   []logstats.Pattern  `json:"errorPatterns"`
	WarningPatterns []logstats.Pattern  `json:"warningPatterns"`
	ErrorClusters   int                 `json:"errorClusters"`
	Anomalies       []protocol.LogEntry `json:"anomalies"`
	Text            string              `json:"text"`
}

// ListLogSets returns the IDs of every available log set.
func (s *Service) ListLogSets(ctx context.Context) ([]string, error) {
	ids, err := s.cfg.Sources.List(ctx)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// GetLogSet returns one page of the logs of a set matching q.Filter.
func (s *Service) GetLogSet(ctx context.Context, id string, q LogQuery) (*LogPage, error) {
	set, err := s.loadSet(ctx, id)
	if err != nil {
		return nil, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = DefaultPageSize
	}
	filtered := logstats.FilterLogs(set.Logs, q.Filter)
	start := min((q.Page-1)*q.PageSize, len(filtered))
	end := min(start+q.PageSize, len(filtered))
	return &LogPage{
		SetID:    set.ID,
		Total:    len(set.Logs),
		Filtered: len(filtered),
		Page:     q.Page,
		PageSize: q.PageSize,
		Logs:     filtered[start:end],
		Changes:  set.Changes,
	}, nil
}

// SummarizeLogSet computes level counts, recurring messages, error bursts
// and anomalous minutes for a set.
func (s *Service) SummarizeLogSet(ctx context.Context, id string) (*LogSummary, error) {
	set, err := s.loadSet(ctx, id)
	if err != nil {
		return nil, err
	}
	anomalies := logstats.Anomalies(set.Logs)
	if anomalies == nil {
		anomalies = []protocol.LogEntry{}
	}
	return &LogSummary{
		SetID:           set.ID,
		Stats:           logstats.Compute(set.Logs),
		ErrorPatterns:   logstats.ErrorPatterns(set.Logs),
		WarningPatterns: logstats.WarningPatterns(set.Logs),
		ErrorClusters:   len(logstats.ErrorClusters(set.Logs)),
		Anomalies:       anomalies,
		Text:            logstats.Summarize(set.Logs, summaryPatterns),
	}, nil
}

func (s *Service) loadSet(ctx context.Context, id string) (*logsource.LogSet, error) {
	if !logsource.ValidID(id) {
		return nil, fmt.Errorf("%w: invalid log set %q", ErrInvalid, id)
	}
	return s.cfg.Sources.Load(ctx, id)
}

// Ingest stores a pushed log set and, when asked, investigates it in the
// background. It satisfies ingest.BatchHandler.
func (s *Service) Ingest(ctx context.Context, b ingest.Batch) error {
	if s.cfg.Uploads == nil {
		return errors.New("triage: ingest: no upload directory configured")
	}
	if err := s.cfg.Uploads.Save(b.LogSet); err != nil {
		return fmt.Errorf("triage: ingest: %w", err)
	}
	s.logger.Info("log set ingested", "endpoint", b.Endpoint, "log_set", b.LogSet.ID, "logs", len(b.LogSet.Logs))
	if b.Investigate {
		s.investigateAsync(context.WithoutCancel(ctx), b.LogSet.ID, "ingest")
	}
	return nil
}

// ScheduleInvestigations registers a cron job per log set. Runs that find
// another investigation in progress are skipped.
func (s *Service) ScheduleInvestigations(sched *scheduler.Scheduler, schedules map[string]string) error {
	for id, spec := range schedules {
		if !logsource.ValidID(id) {
			return fmt.Errorf("triage: schedule: invalid log set %q", id)
		}
		err := sched.AddJob("investigate-"+id, spec, func() {
			s.investigateAsync(context.Background(), id, "schedule")
		})
		if err != nil {
			return fmt.Errorf("triage: schedule %s: %w", id, err)
		}
	}
	return nil
}

func (s *Service) investigateAsync(ctx context.Context, id, trigger string) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in background investigation", "log_set", id, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		_, err := s.StartInvestigation(ctx, InvestigateRequest{LogSetID: id})
		if errors.Is(err, ErrBusy) {
			s.logger.Warn("investigation skipped, another is running", "log_set", id, "trigger", trigger)
			return
		}
		if err != nil {
			s.logger.Error("background investigation", "log_set", id, "trigger", trigger, "error", err)
		}
	}()
}
