package vstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mwantia/vstore/log"
	"github.com/mwantia/vstore/metadata"
)

// recordTask is a single metadata write for a completed storage operation.
type recordTask struct {
	ctx  context.Context
	op   string
	path string
	fn   func(ctx context.Context) error
	// done is only set when the caller waits for the result
	done chan error
}

// recorder runs metadata writes on a single worker goroutine in submission order.
// Failed writes are retried and finally logged, they never reach the caller of the
// storage operation.
type recorder struct {
	mu     sync.RWMutex
	closed bool

	logger   *log.Logger
	attempts int
	delay    time.Duration

	tasks   chan *recordTask
	stopped chan struct{}

	pmu     sync.Mutex
	pending int
	// idle is closed while no task is pending
	idle chan struct{}
}

func newRecorder(logger *log.Logger, attempts int, delay time.Duration, queueSize int) *recorder {
	r := &recorder{
		logger:   logger,
		attempts: max(attempts, 1),
		delay:    delay,
		tasks:    make(chan *recordTask, queueSize),
		stopped:  make(chan struct{}),
		idle:     make(chan struct{}),
	}
	close(r.idle)

	go r.run()
	return r
}

func (r *recorder) run() {
	defer close(r.stopped)

	for task := range r.tasks {
		err := r.execute(task)
		if task.done != nil {
			task.done <- err
		}
		r.finish()
	}
}

func (r *recorder) begin() {
	r.pmu.Lock()
	defer r.pmu.Unlock()

	if r.pending == 0 {
		r.idle = make(chan struct{})
	}
	r.pending++
}

func (r *recorder) finish() {
	r.pmu.Lock()
	defer r.pmu.Unlock()

	r.pending--
	if r.pending == 0 {
		close(r.idle)
	}
}

// drained returns a channel closed once every task pending right now has finished.
func (r *recorder) drained() <-chan struct{} {
	r.pmu.Lock()
	defer r.pmu.Unlock()

	return r.idle
}

func (r *recorder) execute(task *recordTask) error {
	delay := r.delay

	for attempt := 1; ; attempt++ {
		err := task.fn(task.ctx)
		if err == nil {
			return nil
		}

		if attempt >= r.attempts || !retryable(err) {
			r.logger.Error("Failed to record %s of '%s' after %d attempt(s): %v", task.op, task.path, attempt, err)
			return err
		}

		r.logger.Debug("Retrying %s of '%s' in %s: %v", task.op, task.path, delay, err)
		time.Sleep(delay)
		delay *= 2
	}
}

// retryable reports false for failures that repeat on every attempt.
func retryable(err error) bool {
	return !errors.Is(err, metadata.ErrRecordExists) &&
		!errors.Is(err, metadata.ErrStoreClosed) &&
		!errors.Is(err, context.Canceled)
}

// submit queues fn. The task is detached from the cancellation of ctx. With await the
// call blocks until the write finished or ctx is done.
func (r *recorder) submit(ctx context.Context, op, path string, await bool, fn func(ctx context.Context) error) error {
	task := &recordTask{
		ctx:  context.WithoutCancel(ctx),
		op:   op,
		path: path,
		fn:   fn,
	}
	if await {
		task.done = make(chan error, 1)
	}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		r.logger.Warn("Dropped %s of '%s': recorder closed", op, path)
		return ErrManagerClosed
	}
	r.begin()
	r.tasks <- task
	r.mu.RUnlock()

	if !await {
		return nil
	}

	select {
	case err := <-task.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flush waits until every queued write finished.
func (r *recorder) flush(ctx context.Context) error {
	select {
	case <-r.drained():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting writes and waits for the queue to drain.
func (r *recorder) close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.tasks)
	}
	r.mu.Unlock()

	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
