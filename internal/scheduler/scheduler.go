package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/lyallcooper/scanstream/internal/db"
	"github.com/lyallcooper/scanstream/internal/services"
	"github.com/lyallcooper/scanstream/internal/types"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextRun returns the first activation of expr after from
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

// Store is the schedule persistence the scheduler needs
type Store interface {
	GetEnabledSchedules() ([]*db.Schedule, error)
	UpdateScheduleLastRun(id int64, lastRun, nextRun time.Time) error
}

// Runner executes one scan
type Runner interface {
	Run(ctx context.Context, req types.ScanRequest, sink services.EventSink, opts ...services.RunOption) error
}

// Scheduler runs due schedules
type Scheduler struct {
	store    Store
	runner   Runner
	log      logr.Logger
	interval time.Duration

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	cancel   context.CancelFunc // Cancel function for running scans
	wg       sync.WaitGroup     // Tracks spawned scan goroutines
	inFlight map[int64]bool
}

// New creates a new scheduler
func New(store Store, runner Runner, log logr.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		runner:   runner,
		log:      log,
		interval: time.Minute,
		inFlight: make(map[int64]bool),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop stops the scheduler and waits for running scans to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)

	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Check immediately on start
	s.checkSchedules(ctx)

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.checkSchedules(ctx)
		}
	}
}

// checkSchedules starts every due schedule that is not already running
func (s *Scheduler) checkSchedules(ctx context.Context) {
	schedules, err := s.store.GetEnabledSchedules()
	if err != nil {
		s.log.Error(err, "failed to get schedules")
		return
	}

	now := time.Now()
	for _, sched := range schedules {
		if sched.NextRunAt == nil || now.Before(*sched.NextRunAt) {
			continue
		}

		s.mu.Lock()
		if s.inFlight[sched.ID] {
			s.mu.Unlock()
			continue
		}
		s.inFlight[sched.ID] = true
		s.wg.Add(1)
		s.mu.Unlock()

		go s.runSchedule(ctx, sched, now)
	}
}

func (s *Scheduler) runSchedule(ctx context.Context, sched *db.Schedule, now time.Time) {
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, sched.ID)
		s.mu.Unlock()
		s.wg.Done()
	}()

	log := s.log.WithValues("schedule", sched.ID, "name", sched.Name)

	if ctx.Err() != nil {
		log.V(1).Info("cancelled before start")
		return
	}

	nextRun, err := NextRun(sched.CronExpression, now)
	if err != nil {
		log.Error(err, "skipping schedule")
		return
	}
	if err := s.store.UpdateScheduleLastRun(sched.ID, now, nextRun); err != nil {
		log.Error(err, "failed to update schedule last run")
	}

	log.Info("running scheduled scan", "url", sched.URL, "next", nextRun)
	sink := services.NewLogSink(log.WithName("scan"))
	if err := s.runner.Run(ctx, sched.ScanRequest(), sink, services.WithScheduleID(sched.ID)); err != nil {
		log.Info("scheduled scan failed", "error", err.Error())
	}
}
