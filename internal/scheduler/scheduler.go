package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"inbox-sync-go/internal/config"
	"inbox-sync-go/internal/inboxsync"
)

const stopTimeout = 30 * time.Second

// ErrCycleInProgress is returned by RunOnce while another cycle is running
var ErrCycleInProgress = errors.New("sync cycle already in progress")

// SyncRunner runs one sync batch over every connected mailbox
type SyncRunner interface {
	SyncAll(ctx context.Context) []inboxsync.WorkspaceResult
}

// Status is a snapshot of the scheduler
type Status struct {
	Running     bool                        `json:"running"`
	NextRun     time.Time                   `json:"next_run"`
	LastRun     time.Time                   `json:"last_run"`
	LastResults []inboxsync.WorkspaceResult `json:"last_results,omitempty"`
}

// Scheduler manages the periodic inbox sync
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	config    *config.SchedulerConfig
	runner    SyncRunner
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex

	// held for the duration of a cycle; scheduled and manual runs share it
	cycle sync.Mutex

	resultMu    sync.RWMutex
	lastRun     time.Time
	lastResults []inboxsync.WorkspaceResult
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, runner SyncRunner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   newCron(),
		config: cfg,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

func newCron() *cron.Cron {
	return cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger()))),
	)
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	// a stopped scheduler gets a fresh context and cron instance
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.cron = newCron()
	}

	schedule := fmt.Sprintf("0 */%d * * * *", s.config.IntervalMinutes)

	entryID, err := s.cron.AddFunc(schedule, s.runScheduled)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler and waits for a running cycle to finish.
// Status reads are not blocked while it waits.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}

	s.cancel()
	ctx := s.cron.Stop()
	s.isRunning = false
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(stopTimeout):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) runScheduled() {
	s.mu.RLock()
	ctx := s.ctx
	running := s.isRunning
	s.mu.RUnlock()

	if !running {
		logrus.Info("Scheduler not running, skipping sync cycle")
		return
	}

	if _, err := s.run(ctx); err != nil {
		logrus.Warnf("Scheduled sync skipped: %v", err)
	}
}

// RunOnce runs one sync batch now
func (s *Scheduler) RunOnce(ctx context.Context) ([]inboxsync.WorkspaceResult, error) {
	logrus.Info("Running inbox sync once")
	return s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) ([]inboxsync.WorkspaceResult, error) {
	if !s.cycle.TryLock() {
		return nil, ErrCycleInProgress
	}
	defer s.cycle.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	logrus.Info("Starting inbox sync cycle")

	results := s.runner.SyncAll(ctx)

	s.resultMu.Lock()
	s.lastRun = start
	s.lastResults = results
	s.resultMu.Unlock()

	logrus.Infof("Inbox sync cycle completed in %v", time.Since(start))
	return results, nil
}

// NextRun returns the time of the next scheduled run
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// LastRun returns when the last cycle started, scheduled or manual
func (s *Scheduler) LastRun() time.Time {
	s.resultMu.RLock()
	defer s.resultMu.RUnlock()
	return s.lastRun
}

// Status returns a snapshot for the status endpoint
func (s *Scheduler) Status() Status {
	s.resultMu.RLock()
	results := s.lastResults
	lastRun := s.lastRun
	s.resultMu.RUnlock()

	return Status{
		Running:     s.IsRunning(),
		NextRun:     s.NextRun(),
		LastRun:     lastRun,
		LastResults: results,
	}
}

// Wait waits for a running cycle to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
