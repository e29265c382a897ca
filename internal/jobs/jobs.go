// Package jobs runs the periodic maintenance work: scheduled notifications,
// story expiry, stale stream cleanup and print-on-demand retries.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"amplifi/internal/common"
	"amplifi/internal/metrics"
)

const runTimeout = 2 * time.Minute

// Task performs one pass and reports how many items it touched.
type Task func(ctx context.Context) (int, error)

type Job struct {
	Name     string
	Schedule string
	Run      Task
}

type Scheduler struct {
	cron    *cron.Cron
	jobs    []Job
	mu      sync.Mutex
	running map[string]bool
	started bool
}

func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger{}))),
		jobs:    jobs,
		running: make(map[string]bool),
	}
}

// Start registers every job and starts the cron loop. A job whose previous
// run has not finished is skipped rather than stacked.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	for _, j := range s.jobs {
		j := j
		if _, err := s.cron.AddFunc(j.Schedule, func() { s.RunNow(context.Background(), j) }); err != nil {
			return fmt.Errorf("schedule job %s (%q): %w", j.Name, j.Schedule, err)
		}
		common.Log.WithField("job", j.Name).Infof("Scheduled job every %s", j.Schedule)
	}
	s.cron.Start()
	s.started = true
	return nil
}

// Stop halts scheduling and waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		common.Log.Warn("jobs still running at shutdown")
	}
}

// RunNow executes j once unless it is already running. It returns false when
// the run was skipped.
func (s *Scheduler) RunNow(ctx context.Context, j Job) bool {
	s.mu.Lock()
	if s.running[j.Name] {
		s.mu.Unlock()
		metrics.JobRuns.WithLabelValues(j.Name, "skipped").Inc()
		return false
	}
	s.running[j.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, j.Name)
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := time.Now()
	n, err := j.Run(ctx)
	log := common.Log.WithField("job", j.Name).WithField("duration", time.Since(start))
	if err != nil {
		metrics.JobRuns.WithLabelValues(j.Name, "error").Inc()
		log.WithError(err).Error("job failed")
		return true
	}
	metrics.JobRuns.WithLabelValues(j.Name, "ok").Inc()
	if n > 0 {
		log.WithField("processed", n).Info("job finished")
	}
	return true
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	common.Log.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	common.Log.WithError(err).Errorf("cron: %s %v", msg, keysAndValues)
}
