package mcpmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultHealthSchedule runs a health pass every minute.
const DefaultHealthSchedule = "* * * * *"

// HealthSchedulerOptions configures a HealthScheduler.
type HealthSchedulerOptions struct {
	// Schedule is a five-field cron expression. Defaults to
	// DefaultHealthSchedule.
	Schedule string
	// Reconnect retries live servers found in the Failed state.
	Reconnect bool
	// Timeout bounds one pass. Defaults to the manager's connect timeout
	// multiplied by its retry budget.
	Timeout time.Duration
	// OnReport receives each pass's records.
	OnReport func(map[string]HealthRecord)
	Logger   *slog.Logger
}

// HealthScheduler runs Manager.HealthCheck on a cron schedule. Passes never
// overlap; a pass that is still running when the next tick fires is skipped.
type HealthScheduler struct {
	manager *Manager
	opts    HealthSchedulerOptions
	logger  *slog.Logger
	cron    *cron.Cron

	mu      sync.Mutex
	running bool
}

// NewHealthScheduler parses the schedule and returns a stopped scheduler.
func NewHealthScheduler(m *Manager, opts HealthSchedulerOptions) (*HealthScheduler, error) {
	if opts.Schedule == "" {
		opts.Schedule = DefaultHealthSchedule
	}
	if opts.Timeout <= 0 {
		opts.Timeout = m.opts.ConnectTimeout * time.Duration(m.opts.RetryAttempts)
	}
	logger := opts.Logger
	if logger == nil {
		logger = m.logger
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &HealthScheduler{
		manager: m,
		opts:    opts,
		logger:  logger,
		cron:    cron.New(cron.WithParser(parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := s.cron.AddFunc(opts.Schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("mcpmgr: health schedule %q: %w", opts.Schedule, err)
	}
	return s, nil
}

// Start begins ticking. It is a no-op when already started.
func (s *HealthScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
}

// Stop halts ticking and waits for a running pass or ctx.
func (s *HealthScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one pass: optionally reconnects Failed servers, then
// snapshots health and hands it to OnReport.
func (s *HealthScheduler) RunOnce(ctx context.Context) map[string]HealthRecord {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	if s.opts.Reconnect {
		for name, rec := range s.manager.HealthCheck() {
			if rec.State != StateFailed {
				continue
			}
			if err := s.manager.ReconnectServer(ctx, name); err != nil {
				s.logger.Warn("health reconnect failed", "server", name, "error", err)
				continue
			}
			s.logger.Info("health reconnect succeeded", "server", name)
		}
	}
	report := s.manager.HealthCheck()
	for name, rec := range report {
		if !rec.Connected {
			s.logger.Warn("server unhealthy", "server", name, "state", string(rec.State), "last_error", rec.LastError)
		}
	}
	if s.opts.OnReport != nil {
		s.opts.OnReport(report)
	}
	return report
}
