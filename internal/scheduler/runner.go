package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/segmentarr/internal/queue"
)

// JobExecutor runs a single job.
type JobExecutor interface {
	Execute(ctx context.Context, job Job) error
}

// Runner owns one worker per queue kind. A worker runs one job at a time,
// so at most one conversion and one download run in this process.
//
// Each kind holds at most one record job waiting to run, either queued or
// behind a delay. A newer record job replaces the waiting one, so the chain
// of tasks that schedule their successor never forks.
type Runner struct {
	mu sync.RWMutex

	executor JobExecutor
	logger   *slog.Logger

	// queue checks, one channel per queue kind
	wake    map[queue.Kind]chan Job
	timers  map[*time.Timer]struct{}
	current map[queue.Kind]Job

	// record jobs: the waiting job, its delay timer and the worker signal
	next    map[queue.Kind]Job
	delayed map[queue.Kind]*time.Timer
	signal  map[queue.Kind]chan struct{}

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// RunnerConfig holds configuration for the runner.
type RunnerConfig struct {
	// Backlog is how many queue checks each worker buffers. Checks arriving
	// at a full worker are dropped.
	// Default: 16
	Backlog int
}

// DefaultRunnerConfig returns the default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{Backlog: 16}
}

// NewRunner creates a runner with the default configuration.
func NewRunner(executor JobExecutor) *Runner {
	return NewRunnerWithConfig(executor, DefaultRunnerConfig())
}

// NewRunnerWithConfig creates a runner.
func NewRunnerWithConfig(executor JobExecutor, config RunnerConfig) *Runner {
	if config.Backlog <= 0 {
		config.Backlog = DefaultRunnerConfig().Backlog
	}
	return &Runner{
		executor: executor,
		logger:   slog.Default(),
		wake: map[queue.Kind]chan Job{
			queue.KindConversion: make(chan Job, config.Backlog),
			queue.KindDownload:   make(chan Job, config.Backlog),
		},
		timers:  make(map[*time.Timer]struct{}),
		current: make(map[queue.Kind]Job),
		next:    make(map[queue.Kind]Job),
		delayed: make(map[queue.Kind]*time.Timer),
		signal: map[queue.Kind]chan struct{}{
			queue.KindConversion: make(chan struct{}, 1),
			queue.KindDownload:   make(chan struct{}, 1),
		},
	}
}

// WithLogger sets a custom logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// Start launches the workers.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("runner already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	for kind, jobs := range r.wake {
		r.wg.Add(1)
		go r.worker(kind, jobs)
	}

	r.logger.Info("runner started", slog.Int("workers", len(r.wake)))
	return nil
}

// Stop cancels running jobs, drops pending timers and waits for the workers.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	for t := range r.timers {
		t.Stop()
	}
	clear(r.timers)
	for _, t := range r.delayed {
		t.Stop()
	}
	clear(r.delayed)
	clear(r.next)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("runner stopped")
}

// Dispatch queues job for its worker without blocking. A record job
// replaces the one waiting for the same kind.
func (r *Runner) Dispatch(job Job) {
	jobs, ok := r.wake[job.Kind]
	if !ok {
		r.logger.Error("no worker for job", slog.String("job", job.String()))
		return
	}
	if !job.IsCheck() {
		r.queueRecord(job)
		return
	}
	select {
	case jobs <- job:
		r.logger.Debug("job dispatched", slog.String("job", job.String()))
	default:
		r.logger.Warn("worker backlog full, dropping job", slog.String("job", job.String()))
	}
}

func (r *Runner) queueRecord(job Job) {
	r.mu.Lock()
	if t, ok := r.delayed[job.Kind]; ok {
		t.Stop()
		delete(r.delayed, job.Kind)
	}
	if prev, ok := r.next[job.Kind]; ok && prev != job {
		r.logger.Debug("replacing waiting job",
			slog.String("job", job.String()),
			slog.String("replaced", prev.String()))
	}
	r.next[job.Kind] = job
	r.mu.Unlock()

	select {
	case r.signal[job.Kind] <- struct{}{}:
	default:
	}
	r.logger.Debug("job dispatched", slog.String("job", job.String()))
}

// DispatchAfter queues job once delay has passed. A delayed record job
// replaces an earlier delayed one for the same kind and is skipped when a
// record job is already queued. Pending timers are dropped by Stop.
func (r *Runner) DispatchAfter(job Job, delay time.Duration) {
	if delay <= 0 {
		r.Dispatch(job)
		return
	}
	if _, ok := r.wake[job.Kind]; !ok {
		r.logger.Error("no worker for job", slog.String("job", job.String()))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !job.IsCheck() {
		if queued, ok := r.next[job.Kind]; ok {
			r.logger.Debug("job already queued, not scheduling",
				slog.String("job", job.String()),
				slog.String("queued", queued.String()))
			return
		}
		if t, ok := r.delayed[job.Kind]; ok {
			t.Stop()
		}
		var t *time.Timer
		t = time.AfterFunc(delay, func() {
			r.mu.Lock()
			if r.delayed[job.Kind] != t {
				r.mu.Unlock()
				return
			}
			delete(r.delayed, job.Kind)
			r.mu.Unlock()
			r.queueRecord(job)
		})
		r.delayed[job.Kind] = t
		r.logger.Debug("job scheduled", slog.String("job", job.String()), slog.Duration("delay", delay))
		return
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, t)
		r.mu.Unlock()
		r.Dispatch(job)
	})
	r.timers[t] = struct{}{}

	r.logger.Debug("job scheduled", slog.String("job", job.String()), slog.Duration("delay", delay))
}

// worker runs the jobs of one queue kind in arrival order.
func (r *Runner) worker(kind queue.Kind, jobs <-chan Job) {
	defer r.wg.Done()

	r.logger.Debug("worker started", slog.String("queue", string(kind)))

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("worker stopping", slog.String("queue", string(kind)))
			return
		case job := <-jobs:
			r.run(kind, job)
		case <-r.signal[kind]:
			r.mu.Lock()
			job, ok := r.next[kind]
			delete(r.next, kind)
			r.mu.Unlock()
			if ok {
				r.run(kind, job)
			}
		}
	}
}

func (r *Runner) run(kind queue.Kind, job Job) {
	r.mu.Lock()
	r.current[kind] = job
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.current, kind)
		r.mu.Unlock()
	}()

	if err := r.executor.Execute(r.ctx, job); err != nil && r.ctx.Err() == nil {
		r.logger.Error("error executing job",
			slog.String("job", job.String()),
			slog.Any("error", err))
	}
}

// Busy reports whether a record job of kind is running, queued or waiting
// out its delay.
func (r *Runner) Busy(kind queue.Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cur, ok := r.current[kind]; ok && !cur.IsCheck() {
		return true
	}
	_, queued := r.next[kind]
	_, delayed := r.delayed[kind]
	return queued || delayed
}

// GetStatus returns the current runner status.
func (r *Runner) GetStatus() RunnerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := RunnerStatus{
		Running:       r.ctx != nil && r.ctx.Err() == nil,
		WorkerCount:   len(r.wake),
		PendingTimers: len(r.timers) + len(r.delayed),
		Backlog:       make(map[string]int, len(r.wake)),
		Current:       make(map[string]string, len(r.current)),
	}
	for kind, jobs := range r.wake {
		status.Backlog[string(kind)] = len(jobs)
		if _, ok := r.next[kind]; ok {
			status.Backlog[string(kind)]++
		}
	}
	for kind, job := range r.current {
		status.Current[string(kind)] = job.String()
	}
	return status
}

// RunnerStatus represents the current state of the runner.
type RunnerStatus struct {
	Running       bool              `json:"running"`
	WorkerCount   int               `json:"worker_count"`
	PendingTimers int               `json:"pending_timers"`
	Backlog       map[string]int    `json:"backlog"`
	Current       map[string]string `json:"current"`
}
