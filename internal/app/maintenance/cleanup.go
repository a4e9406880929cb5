package maintenance

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gozman/bookshelf/pkg/logger"
	"github.com/gozman/bookshelf/pkg/metrics"
)

const (
	defaultAuditRetentionDays = 90
	defaultSessionSpec        = "@hourly"
	defaultAuditSpec          = "@daily"
	defaultTokenSpec          = "@daily"
	defaultJobTimeout         = time.Minute
)

// SessionSweeper deletes expired sessions.
type SessionSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// TokenPurger deletes expired one-time email tokens.
type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context) (int64, error)
}

// AuditPruner enforces audit log retention.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// CachePurger deletes expired rate limit counters.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Jobs lists the cleanup targets. A nil target disables its job.
type Jobs struct {
	Sessions SessionSweeper
	Tokens   TokenPurger
	Audit    AuditPruner
	Cache    CachePurger
}

// Cleaner coordinates background maintenance: purging expired sessions,
// removing stale email tokens and cache counters, and pruning audit logs.
// Every job is wrapped in cron.SkipIfStillRunning so a slow run is never
// overlapped by the next tick.
type Cleaner struct {
	jobs      Jobs
	cron      *cron.Cron
	log       *zap.Logger
	retention int
	timeout   time.Duration

	sessionSchedule string
	auditSchedule   string
	tokenSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSessionSchedule overrides the cron specification for the session sweep.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithTokenSchedule overrides the cron specification for token and cache cleanup.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithJobTimeout bounds a single job run.
func WithJobTimeout(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.timeout = d
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(jobs Jobs, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		jobs:            jobs,
		retention:       defaultAuditRetentionDays,
		timeout:         defaultJobTimeout,
		sessionSchedule: defaultSessionSpec,
		auditSchedule:   defaultAuditSpec,
		tokenSchedule:   defaultTokenSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cronLogger{log: cleaner.log}))
	}

	return cleaner
}

// Start registers the enabled jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	scheduled := 0
	for _, job := range c.schedule() {
		if _, err := c.cron.AddJob(job.spec, c.guard(job.name, job.run)); err != nil {
			return err
		}
		scheduled++
	}
	if scheduled == 0 {
		return nil
	}

	c.cron.Start()
	c.log.Info("maintenance scheduler started", zap.Int("jobs", scheduled))
	return nil
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (c *Cleaner) Stop() context.Context {
	return c.cron.Stop()
}

// RunOnce executes every enabled job sequentially and aggregates failures.
// Used at shutdown and in tests.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, job := range c.schedule() {
		errs = multierr.Append(errs, job.run(ctx))
	}
	return errs
}

type scheduledJob struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

func (c *Cleaner) schedule() []scheduledJob {
	var jobs []scheduledJob
	if c.jobs.Sessions != nil {
		jobs = append(jobs, scheduledJob{name: "sessions", spec: c.sessionSchedule, run: c.sweepSessions})
	}
	if c.jobs.Tokens != nil || c.jobs.Cache != nil {
		jobs = append(jobs, scheduledJob{name: "tokens", spec: c.tokenSchedule, run: c.purgeTokens})
	}
	if c.jobs.Audit != nil && c.retention > 0 {
		jobs = append(jobs, scheduledJob{name: "audit", spec: c.auditSchedule, run: c.pruneAudit})
	}
	return jobs
}

// guard adapts a job for cron. Failures are logged and retried on the next
// tick; a tick that arrives while the previous run is still going is skipped.
func (c *Cleaner) guard(name string, run func(ctx context.Context) error) cron.Job {
	job := cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		if err := run(ctx); err != nil {
			c.log.Warn("maintenance job failed", zap.String("job", name), zap.Error(err))
		}
	})
	return cron.NewChain(cron.SkipIfStillRunning(cronLogger{log: c.log})).Then(job)
}

func (c *Cleaner) sweepSessions(ctx context.Context) error {
	purged, err := c.jobs.Sessions.Sweep(ctx)
	if err != nil {
		return err
	}
	metrics.SessionsSwept.Add(float64(purged))
	c.log.Info("expired sessions purged", zap.Int64("purged", purged))
	return nil
}

func (c *Cleaner) purgeTokens(ctx context.Context) error {
	var errs error
	if c.jobs.Tokens != nil {
		purged, err := c.jobs.Tokens.PurgeExpiredTokens(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			c.log.Info("expired email tokens purged", zap.Int64("purged", purged))
		}
	}
	if c.jobs.Cache != nil {
		purged, err := c.jobs.Cache.PurgeExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else {
			c.log.Debug("expired cache entries purged", zap.Int64("purged", purged))
		}
	}
	return errs
}

func (c *Cleaner) pruneAudit(ctx context.Context) error {
	purged, err := c.jobs.Audit.CleanupOlderThan(ctx, c.retention)
	if err != nil {
		return err
	}
	c.log.Info("audit logs pruned", zap.Int64("purged", purged), zap.Int("retention_days", c.retention))
	return nil
}

// cronLogger routes robfig/cron's own logging through zap.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if err == nil {
		err = errors.New("unknown cron error")
	}
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
