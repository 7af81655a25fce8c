package resource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/esplayer/internal/observability"
)

// cronParser accepts 6-field expressions with a leading seconds field.
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule checks a 6-field cron expression.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", expr, err)
	}
	return nil
}

// Janitor periodically deletes released and revoked sessions older than
// the retention period.
type Janitor struct {
	m         *Manager
	schedule  string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewJanitor returns a janitor pruning m's sessions on schedule.
func NewJanitor(m *Manager, schedule string, retention time.Duration) *Janitor {
	return &Janitor{
		m:         m,
		schedule:  schedule,
		retention: retention,
		logger:    m.logger.With(slog.String("component", "session_janitor")),
		now:       time.Now,
	}
}

// WithLogger sets a custom logger.
func (j *Janitor) WithLogger(logger *slog.Logger) *Janitor {
	if logger != nil {
		j.logger = logger
	}
	return j
}

// Start schedules pruning. It stops when ctx is done or Stop is called.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return fmt.Errorf("janitor already started")
	}
	if err := ValidateSchedule(j.schedule); err != nil {
		return err
	}

	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(j.schedule, func() { j.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("scheduling prune: %w", err)
	}
	c.Start()
	j.cron = c

	go func() {
		<-ctx.Done()
		j.Stop()
	}()

	j.logger.Info("session janitor started",
		slog.String("schedule", j.schedule),
		slog.Duration("retention", j.retention))
	return nil
}

// Stop cancels the schedule and waits for a running prune to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	j.logger.Info("session janitor stopped")
}

// RunOnce prunes sessions that ended more than the retention period ago.
func (j *Janitor) RunOnce(ctx context.Context) int64 {
	logger := observability.WithOperation(j.logger, "prune")
	cutoff := j.now().Add(-j.retention)
	n, err := j.m.Prune(ctx, cutoff)
	if err != nil {
		observability.WithError(logger, err).Error("pruning sessions")
		return 0
	}
	if n > 0 {
		logger.Info("sessions pruned", slog.Int64("count", n), slog.Time("cutoff", cutoff))
	}
	return n
}
