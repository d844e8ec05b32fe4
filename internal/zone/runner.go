package zone

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultQueueSize is the buffer of a Runner's event queue.
const DefaultQueueSize = 64

// ErrRunnerClosed is returned when submitting to a stopped Runner.
var ErrRunnerClosed = errors.New("zone runner closed")

// Runner serializes all access to an Arbitrator through a single goroutine.
// Work is processed strictly in submission order; nothing is dropped or
// coalesced while the runner is open.
type Runner struct {
	zone   *Arbitrator
	logger *zap.Logger

	queue     chan func(*Arbitrator)
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	startOnce sync.Once
}

// NewRunner creates a runner for the arbitrator. Call Start before submitting.
func NewRunner(zone *Arbitrator, logger *zap.Logger, queueSize int) *Runner {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Runner{
		zone:    zone,
		logger:  logger.Named("runner").With(zap.String("zone", zone.Name())),
		queue:   make(chan func(*Arbitrator), queueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		go r.loop()
	})
}

func (r *Runner) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.closing:
			if n := len(r.queue); n > 0 {
				r.logger.Warn("Runner stopping with pending work", zap.Int("pending", n))
			}
			return
		case fn := <-r.queue:
			r.run(fn)
		}
	}
}

func (r *Runner) run(fn func(*Arbitrator)) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Zone handler panicked", zap.Any("panic", rec))
		}
	}()
	fn(r.zone)
}

// Submit enqueues work without waiting for it to run. It blocks while the
// queue is full.
func (r *Runner) Submit(fn func(*Arbitrator)) error {
	select {
	case <-r.closing:
		return ErrRunnerClosed
	default:
	}
	select {
	case <-r.closing:
		return ErrRunnerClosed
	case r.queue <- fn:
		return nil
	}
}

// Do runs fn on the runner goroutine and waits for its result. It must not
// be called from inside submitted work.
func (r *Runner) Do(ctx context.Context, fn func(*Arbitrator) error) error {
	result := make(chan error, 1)
	err := r.Submit(func(a *Arbitrator) {
		var ferr error
		defer func() {
			if rec := recover(); rec != nil {
				ferr = fmt.Errorf("zone handler panicked: %v", rec)
			}
			result <- ferr
		}()
		ferr = fn(a)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-r.done:
		return ErrRunnerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the worker to finish the item in progress and exit, waiting
// until it does or ctx expires.
func (r *Runner) Stop(ctx context.Context) {
	r.closeOnce.Do(func() {
		close(r.closing)
	})

	select {
	case <-r.done:
		r.logger.Debug("Runner stopped")
	case <-ctx.Done():
		r.logger.Warn("Runner shutdown timed out")
	}
}
