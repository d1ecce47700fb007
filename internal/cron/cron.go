package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Job is a periodic action on the supervised server, e.g. a restart.
// Schedule supports only the form "@every <duration>" (e.g., "@every 24h").
// A tick is skipped while the previous run of the same job is still active.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error

	period  time.Duration
	running atomic.Bool
}

// ParseEvery parses schedules of the form "@every <duration>".
func ParseEvery(expr string) (time.Duration, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@every ") {
		return 0, fmt.Errorf("unsupported schedule: %s (only @every <duration> supported)", expr)
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every ")))
	if err != nil {
		return 0, fmt.Errorf("invalid @every duration: %w", err)
	}
	if d <= 0 {
		return 0, errors.New("@every duration must be > 0")
	}
	return d, nil
}

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("cron job requires a name")
	}
	if j.Run == nil {
		return fmt.Errorf("cron job %s has nothing to run", j.Name)
	}
	d, err := ParseEvery(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %s: %w", j.Name, err)
	}
	j.period = d
	return nil
}

// Scheduler runs jobs until its context is cancelled or Stop is called.
type Scheduler struct {
	log  *slog.Logger
	jobs []*Job

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{log: log}
}

func (s *Scheduler) Add(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Name == job.Name {
			return fmt.Errorf("cron job %s already added", job.Name)
		}
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Start launches one ticker per job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, j)
	}
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, j *Job) {
	defer s.wg.Done()
	t := time.NewTicker(j.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !j.running.CompareAndSwap(false, true) {
				s.log.Debug("cron tick skipped, previous run active", "job", j.Name)
				continue
			}
			// a restart waits for the start window; keep ticking meanwhile
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer j.running.Store(false)
				if err := j.Run(ctx); err != nil {
					s.log.Warn("cron job failed", "job", j.Name, "err", err)
					return
				}
				s.log.Info("cron job ran", "job", j.Name)
			}()
		}
	}
}

// Stop cancels all jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}
