// Package scheduler runs the periodic jobs of the service: snapshot
// persistence, ledger reconciliation and due-review reminders.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/example/masterybot/internal/engine"
	"github.com/example/masterybot/internal/logger"
)

// Default notification window
const (
	DefaultNotificationStartHour = 8
	DefaultNotificationEndHour   = 22
)

// Notifier interface for sending notifications
type Notifier interface {
	SendReminders(deviceID string, count int) error
}

// Engines is the view of the engine registry used by the jobs
type Engines interface {
	Engines() []*engine.Engine
	SaveAll(ctx context.Context) error
}

// Options configure the job intervals
type Options struct {
	SnapshotInterval  time.Duration
	ReconcileInterval time.Duration
	// ApplyDrift makes reconciliation adopt the rebuilt statistics
	ApplyDrift bool
	StartHour  int
	EndHour    int
	Location   *time.Location
	Clock      func() time.Time
}

// DefaultOptions returns the default job settings
func DefaultOptions() Options {
	return Options{
		SnapshotInterval:  5 * time.Minute,
		ReconcileInterval: time.Hour,
		StartHour:         DefaultNotificationStartHour,
		EndHour:           DefaultNotificationEndHour,
		Location:          time.UTC,
		Clock:             time.Now,
	}
}

// Scheduler manages scheduled tasks for the application
type Scheduler struct {
	scheduler *gocron.Scheduler
	engines   Engines
	notifier  Notifier
	opts      Options
	log       *logger.Logger
}

// New creates a new scheduler instance. notifier may be nil.
func New(engines Engines, notifier Notifier, opts Options, log *logger.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(opts.Location),
		engines:   engines,
		notifier:  notifier,
		opts:      opts,
		log:       log.With("component", "scheduler"),
	}
}

// Start begins running all scheduled tasks
func (s *Scheduler) Start() error {
	if s.opts.SnapshotInterval > 0 {
		if _, err := s.scheduler.Every(s.opts.SnapshotInterval).Do(s.snapshotJob); err != nil {
			return fmt.Errorf("failed to schedule snapshot job: %w", err)
		}
	}
	if s.opts.ReconcileInterval > 0 {
		if _, err := s.scheduler.Every(s.opts.ReconcileInterval).Do(s.reconcileJob); err != nil {
			return fmt.Errorf("failed to schedule reconcile job: %w", err)
		}
	}
	if s.notifier != nil {
		// Schedule hourly check for devices with due reviews
		if _, err := s.scheduler.Every(1).Hour().Do(s.reminderJob); err != nil {
			return fmt.Errorf("failed to schedule reminder job: %w", err)
		}
	}

	// Start the scheduler in a non-blocking manner
	s.scheduler.StartAsync()
	return nil
}

// Stop terminates all scheduled tasks
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func (s *Scheduler) snapshotJob() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.Snapshot(ctx); err != nil {
		s.log.Error("Snapshot failed", "error", err)
	}
}

func (s *Scheduler) reconcileJob() {
	s.Reconcile()
}

func (s *Scheduler) reminderJob() {
	s.SendReminders()
}

// Snapshot persists every loaded engine
func (s *Scheduler) Snapshot(ctx context.Context) error {
	return s.engines.SaveAll(ctx)
}

// Reconcile checks every engine against its ledger and returns the drifted reports
func (s *Scheduler) Reconcile() []engine.DriftReport {
	var drifted []engine.DriftReport
	for _, e := range s.engines.Engines() {
		if report := e.Reconcile(s.opts.ApplyDrift); report.Drifted() {
			drifted = append(drifted, report)
		}
	}
	if len(drifted) > 0 {
		s.log.Warn("Reconciliation found drift", "devices", len(drifted), "applied", s.opts.ApplyDrift)
	}
	return drifted
}

// SendReminders notifies every device with due reviews when the current hour
// is inside the notification window. It returns the number of devices notified.
func (s *Scheduler) SendReminders() int {
	if s.notifier == nil {
		return 0
	}
	currentHour := s.opts.Clock().In(s.opts.Location).Hour()
	if currentHour < s.opts.StartHour || currentHour > s.opts.EndHour {
		s.log.Debug("Outside notification hours, skipping reminders", "hour", currentHour, "start", s.opts.StartHour, "end", s.opts.EndHour)
		return 0
	}

	sent := 0
	for _, e := range s.engines.Engines() {
		count := e.DueCount()
		if count == 0 {
			continue
		}
		if err := s.notifier.SendReminders(e.DeviceID(), count); err != nil {
			s.log.Warn("Error sending reminder", "device_id", e.DeviceID(), "error", err)
			continue
		}
		sent++
	}
	return sent
}
