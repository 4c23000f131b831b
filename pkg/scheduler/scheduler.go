// Package scheduler coordinates the periodic jobs: webhook processing,
// assignment, reconciliation, escalation and shift lifecycle. One scheduler
// runs per process (guarded in-process) and per host (PID lockfile); deploy
// a single replica.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ipnext/ticketflow/pkg/control"
	"github.com/ipnext/ticketflow/pkg/settings"
	"github.com/ipnext/ticketflow/pkg/timeutil"
)

// ErrAlreadyStarted indicates a second Start on a running scheduler.
var ErrAlreadyStarted = errors.New("scheduler already started")

// Config is the runtime-configuration surface the gates need.
type Config interface {
	GetInt(ctx context.Context, key string) (int, error)
	GetBool(ctx context.Context, key string) (bool, error)
	GetIntList(ctx context.Context, key string) ([]int, error)
}

// Jobs bundles the worker entry points the scheduler drives.
type Jobs struct {
	ProcessWebhooks  func(ctx context.Context) error
	AssignUnassigned func(ctx context.Context) error
	AlertOverdue     func(ctx context.Context) error
	PreAlert         func(ctx context.Context) error
	EndOfShift       func(ctx context.Context) error
	AutoUnassign     func(ctx context.Context) error
	SyncStatus       func(ctx context.Context) error
	ImportExisting   func(ctx context.Context) error
	ReopenChecker    func(ctx context.Context) error
	ResetCounters    func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker so a slow pass never delays the
// others.
type Scheduler struct {
	jobs   Jobs
	config Config
	gate   *control.PauseGate
	clock  timeutil.Clock
	lock   *Lock
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler.
func New(jobs Jobs, config Config, gate *control.PauseGate, clock timeutil.Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		config: config,
		gate:   gate,
		clock:  clock,
		logger: logger.With("component", "scheduler"),
	}
}

type jobSpec struct {
	name     string
	interval time.Duration
	gate     func(ctx context.Context, now time.Time) bool
	run      func(ctx context.Context) error
}

// Start acquires the host lock and launches every job ticker. lockPath may
// be empty to skip the host lock (tests).
func (s *Scheduler) Start(ctx context.Context, lockPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	if lockPath != "" {
		lock, err := AcquireLock(lockPath)
		if err != nil {
			return err
		}
		s.lock = lock
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for _, spec := range s.specs() {
		if spec.run == nil {
			continue
		}
		s.wg.Add(1)
		go s.runJob(ctx, spec)
	}
	s.logger.Info("Scheduler started")
	return nil
}

// Stop cancels every job and waits for running passes to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	if err := s.lock.Release(); err != nil {
		s.logger.Error("Failed to release scheduler lock", slog.String("error", err.Error()))
	}
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) specs() []jobSpec {
	return []jobSpec{
		{"process_webhooks", 3 * time.Minute, s.gateWorkingHoursUnpaused, s.jobs.ProcessWebhooks},
		{"assign_unassigned", 3 * time.Minute, s.gateUnpaused, s.jobs.AssignUnassigned},
		{"alert_overdue", 3 * time.Minute, s.gateWhatsApp, s.jobs.AlertOverdue},
		{"pre_alert", 3 * time.Minute, s.gateWhatsApp, s.jobs.PreAlert},
		{"end_of_shift_notifications", time.Hour, s.gateWeekday, s.jobs.EndOfShift},
		{"auto_unassign_after_shift", 40 * time.Minute, s.gateWeekday, s.jobs.AutoUnassign},
		{"sync_status", 5 * time.Minute, nil, s.jobs.SyncStatus},
		{"import_existing_tickets", 5 * time.Minute, nil, s.jobs.ImportExisting},
		{"reopen_checker", 2 * time.Minute, nil, s.jobs.ReopenChecker},
		{"reset_assignment_counters", time.Minute, s.gateResetHour, s.jobs.ResetCounters},
	}
}

func (s *Scheduler) runJob(ctx context.Context, spec jobSpec) {
	defer s.wg.Done()
	ticker := time.NewTicker(spec.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, spec)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, spec jobSpec) {
	now := s.clock.Now()
	if spec.gate != nil && !spec.gate(ctx, now) {
		return
	}
	start := time.Now()
	if err := spec.run(ctx); err != nil {
		s.logger.Error("Job failed",
			slog.String("job", spec.name),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("Job finished",
		slog.String("job", spec.name),
		slog.Duration("took", time.Since(start)))
}

// gateUnpaused blocks assignment paths while the system is paused.
func (s *Scheduler) gateUnpaused(ctx context.Context, now time.Time) bool {
	if s.gate != nil && s.gate.Paused() {
		return false
	}
	paused, err := s.config.GetBool(ctx, settings.KeySystemPaused)
	if err != nil {
		return true
	}
	return !paused
}

// gateWorkingHours limits a job to the configured business hours: the
// weekday window Monday-Friday and the guard window on weekends.
func (s *Scheduler) gateWorkingHours(ctx context.Context, now time.Time) bool {
	startKey, endKey := settings.KeyWeekdayStartHour, settings.KeyWeekdayEndHour
	if timeutil.IsWeekend(now) {
		startKey, endKey = settings.KeyWeekendStartHour, settings.KeyWeekendEndHour
	}
	start, err := s.config.GetInt(ctx, startKey)
	if err != nil {
		return true
	}
	end, err := s.config.GetInt(ctx, endKey)
	if err != nil {
		return true
	}
	return timeutil.WithinHours(now, start, end)
}

func (s *Scheduler) gateWorkingHoursUnpaused(ctx context.Context, now time.Time) bool {
	return s.gateUnpaused(ctx, now) && s.gateWorkingHours(ctx, now)
}

func (s *Scheduler) gateWhatsApp(ctx context.Context, now time.Time) bool {
	enabled, err := s.config.GetBool(ctx, settings.KeyWhatsAppEnabled)
	if err != nil {
		return true
	}
	return enabled
}

func (s *Scheduler) gateWeekday(ctx context.Context, now time.Time) bool {
	return !timeutil.IsWeekend(now)
}

// gateResetHour fires in the first minutes of each configured reset hour.
// The job ticks every minute; the ≤2 minute guard makes the reset happen
// once per boundary without a dedicated cron expression.
func (s *Scheduler) gateResetHour(ctx context.Context, now time.Time) bool {
	hours, err := s.config.GetIntList(ctx, settings.KeyAssignmentResetHours)
	if err != nil {
		return false
	}
	lt := now.In(timeutil.Location())
	if lt.Minute() > 2 {
		return false
	}
	for _, h := range hours {
		if lt.Hour() == h {
			return true
		}
	}
	return false
}
