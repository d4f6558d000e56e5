// Package scheduler runs the periodic jobs: feed ingest, playlist updates,
// placeholder retry, cleanup. Jobs are keyed by id; one id never runs
// overlapped, distinct ids share a bounded worker pool.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Job is a recurring unit of work. Gate, when set, is consulted before
// every tick; a false gate skips the tick silently (used to pause ingest
// without stopping playlist updates). Interval zero means the job only runs
// when triggered.
type Job struct {
	ID       string
	Interval time.Duration
	Run      func(ctx context.Context) error
	Gate     func() bool
}

type jobState struct {
	job     Job
	running bool
	lastRun time.Time
	lastErr error
	trigger chan struct{}
	stop    chan struct{}
	oneShot bool
}

// JobStatus is a read-only snapshot of one job for the status surfaces.
type JobStatus struct {
	ID       string     `json:"id"`
	Interval string     `json:"interval"`
	Running  bool       `json:"running"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	LastErr  string     `json:"last_error,omitempty"`
}

// Scheduler owns the job table and the worker pool.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*jobState
	slots   chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New builds a scheduler with the given number of worker slots.
func New(workers int) *Scheduler {
	if workers < 1 {
		workers = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:   make(map[string]*jobState),
		slots:  make(chan struct{}, workers),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a job. Adding after Start schedules it immediately.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" || job.Run == nil {
		return fmt.Errorf("job id and run function are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already registered", job.ID)
	}
	st := &jobState{job: job, trigger: make(chan struct{}, 1), stop: make(chan struct{})}
	s.jobs[job.ID] = st
	if s.started {
		s.launch(st)
	}
	return nil
}

// Remove stops and drops a job. Safe to call for unknown ids.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(id)
}

func (s *Scheduler) remove(id string) {
	if st, ok := s.jobs[id]; ok {
		close(st.stop)
		delete(s.jobs, id)
	}
}

// Start launches the ticker loops. Returns immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, st := range s.jobs {
		s.launch(st)
	}
}

func (s *Scheduler) launch(st *jobState) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		var tick <-chan time.Time
		if st.job.Interval > 0 {
			ticker := time.NewTicker(st.job.Interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-st.stop:
				return
			case <-tick:
				s.execute(st)
			case <-st.trigger:
				s.execute(st)
			}
		}
	}()
}

// Trigger requests an immediate out-of-schedule run. A run already queued
// or in flight absorbs the request.
func (s *Scheduler) Trigger(id string) error {
	s.mu.Lock()
	st, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", id)
	}
	select {
	case st.trigger <- struct{}{}:
	default:
	}
	return nil
}

// Once schedules a one-shot job under a generated id, removed after it
// runs. Returns the id for log correlation.
func (s *Scheduler) Once(name string, run func(ctx context.Context) error) string {
	id := name + "-" + uuid.NewString()
	st := &jobState{
		job:     Job{ID: id, Run: run},
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		oneShot: true,
	}
	s.mu.Lock()
	s.jobs[id] = st
	if s.started {
		s.launch(st)
	}
	s.mu.Unlock()
	st.trigger <- struct{}{}
	return id
}

func (s *Scheduler) execute(st *jobState) {
	if st.job.Gate != nil && !st.job.Gate() {
		return
	}

	s.mu.Lock()
	if st.running {
		s.mu.Unlock()
		log.Warn().Str("job", st.job.ID).Msg("previous run still active, tick dropped")
		return
	}
	st.running = true
	s.mu.Unlock()

	select {
	case s.slots <- struct{}{}:
	case <-s.ctx.Done():
		s.mu.Lock()
		st.running = false
		s.mu.Unlock()
		return
	}

	defer func() {
		<-s.slots
		s.mu.Lock()
		st.running = false
		if st.oneShot {
			s.remove(st.job.ID)
		}
		s.mu.Unlock()
	}()
	defer func() {
		// A panicking job must not take the scheduler down with it.
		if r := recover(); r != nil {
			log.Error().Str("job", st.job.ID).Any("panic", r).Msg("job panicked")
			s.mu.Lock()
			st.lastErr = fmt.Errorf("panic: %v", r)
			s.mu.Unlock()
		}
	}()

	start := time.Now()
	err := st.job.Run(s.ctx)

	s.mu.Lock()
	st.lastRun = start
	st.lastErr = err
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("job", st.job.ID).Dur("took", time.Since(start)).Msg("job failed")
		return
	}
	log.Debug().Str("job", st.job.ID).Dur("took", time.Since(start)).Msg("job finished")
}

// Status reports a snapshot of every registered job.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, st := range s.jobs {
		js := JobStatus{
			ID:       st.job.ID,
			Interval: st.job.Interval.String(),
			Running:  st.running,
		}
		if !st.lastRun.IsZero() {
			lr := st.lastRun
			js.LastRun = &lr
		}
		if st.lastErr != nil {
			js.LastErr = st.lastErr.Error()
		}
		out = append(out, js)
	}
	return out
}

// Shutdown stops ticking and waits for in-flight jobs up to the deadline.
// Jobs receive the cancellation through their context.
func (s *Scheduler) Shutdown(timeout time.Duration) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler shutdown timed out after %s", timeout)
	}
}
