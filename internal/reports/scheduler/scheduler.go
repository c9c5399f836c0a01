// Package scheduler periodically exports the transaction history to object
// storage.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"carbon-x/marketplace/marketplace-backend/internal/credits"
	"carbon-x/marketplace/marketplace-backend/internal/reports/export"
	"carbon-x/marketplace/marketplace-backend/internal/transactions"
	objectstore "carbon-x/marketplace/marketplace-backend/pkg/storage"
)

// Source provides the data exported on each run.
type Source interface {
	History() []transactions.Record
	Credits() []credits.Credit
}

// Config for the export scheduler
type Config struct {
	Schedule string          `json:"schedule"`
	Formats  []export.Format `json:"formats"`
	Bucket   string          `json:"bucket"`
	Prefix   string          `json:"prefix"`
	Timeout  time.Duration   `json:"timeout"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Schedule: "0 0 0 * * *",
		Formats:  []export.Format{export.FormatCSV, export.FormatXLSX},
		Prefix:   "exports",
		Timeout:  5 * time.Minute,
	}
}

// Run describes one completed export.
type Run struct {
	StartedAt time.Time `json:"started_at"`
	Keys      []string  `json:"keys"`
	Records   int       `json:"records"`
	Error     string    `json:"error,omitempty"`
}

// Scheduler runs history exports on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	source  Source
	objects objectstore.S3Client
	logger  *zap.Logger
	config  Config
	now     func() time.Time

	mu      sync.RWMutex
	running bool
	entry   cron.EntryID
	last    *Run
}

// NewScheduler creates an export scheduler
func NewScheduler(source Source, objects objectstore.S3Client, logger *zap.Logger, config Config) *Scheduler {
	defaults := DefaultConfig()
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}
	if len(config.Formats) == 0 {
		config.Formats = defaults.Formats
	}
	if config.Prefix == "" {
		config.Prefix = defaults.Prefix
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		source:  source,
		objects: objects,
		logger:  logger,
		config:  config,
		now:     time.Now,
	}
}

// ObjectKey is where one export of format f taken at t is stored.
func (s *Scheduler) ObjectKey(t time.Time, f export.Format) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/%s", s.config.Prefix, t.Format("2006-01-02"), f.Filename("transactions-"+t.Format("150405")))
}

// RunOnce renders every configured format and uploads it.
func (s *Scheduler) RunOnce(ctx context.Context) (*Run, error) {
	started := s.now()
	records := s.source.History()
	holdings := s.source.Credits()
	run := &Run{StartedAt: started, Records: len(records)}

	for _, f := range s.config.Formats {
		var buf bytes.Buffer
		if err := export.WriteHistory(&buf, f, records, holdings); err != nil {
			return s.finish(run, fmt.Errorf("render %s export: %w", f, err))
		}

		key := s.ObjectKey(started, f)
		if err := s.objects.Upload(ctx, s.config.Bucket, key, f.ContentType(), &buf); err != nil {
			return s.finish(run, fmt.Errorf("upload %s: %w", key, err))
		}
		run.Keys = append(run.Keys, key)
	}

	s.logger.Info("History export completed",
		zap.Int("records", run.Records),
		zap.Strings("keys", run.Keys),
		zap.Duration("duration", s.now().Sub(started)))
	return s.finish(run, nil)
}

func (s *Scheduler) finish(run *Run, err error) (*Run, error) {
	if err != nil {
		run.Error = err.Error()
	}
	s.mu.Lock()
	s.last = run
	s.mu.Unlock()
	return run, err
}

// LastRun returns the most recent run, or nil.
func (s *Scheduler) LastRun() *Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	return &r
}

// Start registers the cron job and starts the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("export scheduler already running")
	}

	entry, err := s.cron.AddFunc(s.config.Schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
		if _, err := s.RunOnce(runCtx); err != nil {
			s.logger.Error("History export failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entry = entry
	s.running = true
	s.cron.Start()

	s.logger.Info("Started export scheduler",
		zap.String("schedule", s.config.Schedule),
		zap.Time("next_run", s.cron.Entry(entry).Next))
	return nil
}

// Stop stops the scheduler and waits for a running export.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cron.Remove(s.entry)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Stopped export scheduler")
}

// NextRun returns when the next export is due, or the zero time when the
// scheduler is stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// ValidateSchedule checks a six-field (seconds first) cron expression or a
// descriptor such as @daily.
func ValidateSchedule(expr string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(expr)
	return err
}
