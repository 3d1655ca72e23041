// Package housekeeping runs periodic maintenance: event log retention and
// scheduled metrics exports.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/realtime-progress/internal/metrics"
)

const (
	// DefaultRetention keeps a week of event log entries.
	DefaultRetention         = 7 * 24 * time.Hour
	defaultRetentionSchedule = "@hourly"
	defaultJobTimeout        = time.Minute
)

// Purger removes event log entries older than a cutoff.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Exporter writes a metrics export to a blob store.
type Exporter interface {
	ExportTo(ctx context.Context, store metrics.BlobStore, prefix, format string) (string, error)
}

// Config controls which jobs run and when.
type Config struct {
	Retention         time.Duration
	RetentionSchedule string
	// ExportSchedule disables the export job when empty.
	ExportSchedule string
	ExportPrefix   string
	ExportFormat   string
	JobTimeout     time.Duration
}

// Scheduler owns a cron runner with the maintenance jobs registered.
type Scheduler struct {
	cfg      Config
	cron     *cron.Cron
	purger   Purger
	exporter Exporter
	store    metrics.BlobStore
	logger   *zap.Logger
	now      func() time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithExport enables the export job using exporter and store.
func WithExport(exporter Exporter, store metrics.BlobStore) Option {
	return func(s *Scheduler) {
		s.exporter = exporter
		s.store = store
	}
}

// New validates the schedules and registers the jobs without starting them.
func New(cfg Config, purger Purger, logger *zap.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.RetentionSchedule == "" {
		cfg.RetentionSchedule = defaultRetentionSchedule
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.ExportFormat == "" {
		cfg.ExportFormat = metrics.FormatJSON
	}
	cronLog := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cfg:    cfg,
		purger: purger,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.purger != nil {
		if _, err := s.cron.AddFunc(cfg.RetentionSchedule, s.job("retention", s.retention)); err != nil {
			return nil, fmt.Errorf("schedule retention %q: %w", cfg.RetentionSchedule, err)
		}
	}
	if s.exportEnabled() {
		if _, err := s.cron.AddFunc(cfg.ExportSchedule, s.job("export", s.export)); err != nil {
			return nil, fmt.Errorf("schedule export %q: %w", cfg.ExportSchedule, err)
		}
	}
	return s, nil
}

// Start begins running scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("housekeeping started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("housekeeping stop: %w", ctx.Err())
	}
}

// RunRetention purges entries older than the retention window now.
func (s *Scheduler) RunRetention(ctx context.Context) (int64, error) {
	if s.purger == nil {
		return 0, nil
	}
	cutoff := s.now().Add(-s.cfg.Retention)
	n, err := s.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge event log: %w", err)
	}
	metrics.ObservePurged(n)
	s.logger.Info("event log retention applied",
		zap.Time("cutoff", cutoff),
		zap.Int64("purged", n),
	)
	return n, nil
}

// RunExport writes one export now. It returns an empty URI when exports are
// not configured.
func (s *Scheduler) RunExport(ctx context.Context) (string, error) {
	if !s.exportEnabled() {
		return "", nil
	}
	uri, err := s.exporter.ExportTo(ctx, s.store, s.cfg.ExportPrefix, s.cfg.ExportFormat)
	if err != nil {
		return "", fmt.Errorf("export metrics: %w", err)
	}
	s.logger.Info("metrics exported", zap.String("uri", uri))
	return uri, nil
}

// RunAll runs retention and export concurrently and returns the first error.
func (s *Scheduler) RunAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := s.RunRetention(gctx)
		return err
	})
	g.Go(func() error {
		_, err := s.RunExport(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("housekeeping run: %w", err)
	}
	return nil
}

func (s *Scheduler) exportEnabled() bool {
	return s.cfg.ExportSchedule != "" && s.exporter != nil && s.store != nil
}

func (s *Scheduler) retention(ctx context.Context) error {
	_, err := s.RunRetention(ctx)
	return err
}

func (s *Scheduler) export(ctx context.Context) error {
	_, err := s.RunExport(ctx)
	return err
}

func (s *Scheduler) job(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Warn("housekeeping job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
