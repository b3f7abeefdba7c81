// Package async runs deferred work outside the request path.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/R3E-Network/cloudless/internal/app/metrics"
	"github.com/R3E-Network/cloudless/internal/logging"
)

// Task is a unit of deferred work. The context is cancelled when the
// runner stops.
type Task func(ctx context.Context) error

// ErrStopped is returned when work is submitted after Stop.
var ErrStopped = fmt.Errorf("async runner stopped")

// Runner executes tasks on a bounded pool. Tasks carry no ordering
// guarantee relative to each other.
type Runner struct {
	log  *logging.Logger
	sem  *semaphore.Weighted
	cron *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	wg      sync.WaitGroup
	stopped bool
	started bool
}

// NewRunner creates a runner executing at most workers tasks at once.
func NewRunner(workers int, logger *logging.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = logging.NewDefault("async")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		log:    logger,
		sem:    semaphore.NewWeighted(int64(workers)),
		cron:   cron.New(cron.WithParser(cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Name implements system.Service.
func (r *Runner) Name() string { return "async" }

// Start begins firing scheduled tasks.
func (r *Runner) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if !r.started {
		r.cron.Start()
		r.started = true
	}
	return nil
}

// Go runs task in the background. It returns immediately; the task waits
// for a free worker slot.
func (r *Runner) Go(name string, task Task) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			metrics.RecordAsyncTask(name, false)
			r.log.WithFields(map[string]interface{}{"task": name}).Warn("Task dropped on shutdown")
			return
		}
		defer r.sem.Release(1)
		r.run(name, task)
	}()
	return nil
}

// Schedule registers task to run on the cron spec. Accepts five or six
// field expressions and descriptors such as "@every 1m".
func (r *Runner) Schedule(spec, name string, task Task) (cron.EntryID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return 0, ErrStopped
	}
	id, err := r.cron.AddFunc(spec, func() {
		if err := r.Go(name, task); err != nil {
			r.log.WithError(err).WithField("task", name).Debug("Scheduled task skipped")
		}
	})
	if err != nil {
		return 0, fmt.Errorf("schedule %s: %w", name, err)
	}
	return id, nil
}

// Stop prevents new submissions and waits for submitted tasks to finish.
// When ctx ends first, task contexts are cancelled and queued tasks are
// dropped.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	<-r.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}

func (r *Runner) run(name string, task Task) {
	fields := map[string]interface{}{"task": name}
	defer func() {
		if rec := recover(); rec != nil {
			metrics.RecordAsyncTask(name, false)
			r.log.WithFields(fields).Errorf("Task panicked: %v\n%s", rec, debug.Stack())
		}
	}()

	if err := task(r.ctx); err != nil {
		metrics.RecordAsyncTask(name, false)
		r.log.WithFields(fields).WithError(err).Error("Task failed")
		return
	}
	metrics.RecordAsyncTask(name, true)
	r.log.WithFields(fields).Debug("Task completed")
}
