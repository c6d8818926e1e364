package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"voxelpipe/internal/logging"
)

// ErrNotRunning is returned when submitting to a pool that is not started or
// already stopped.
var ErrNotRunning = errors.New("worker pool is not running")

// Task is a unit of work for a Pool.
type Task func(ctx context.Context) error

// Option configures a pool.
type Option func(*options)

type options struct {
	size   int
	logger *slog.Logger
}

// WithSize sets the number of workers. Values below one use the available
// parallelism.
func WithSize(n int) Option { return func(o *options) { o.size = n } }

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.size < 1 {
		o.size = runtime.GOMAXPROCS(0)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	return o
}

// Pool runs tasks on a fixed number of goroutines.
type Pool struct {
	opts   options
	logger *slog.Logger
	queue  *queue[Task]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   [][]error

	started atomic.Bool
	stopped atomic.Bool
}

// New returns a pool that is not yet started.
func New(opts ...Option) *Pool {
	o := buildOptions(opts)
	return &Pool{
		opts:   o,
		logger: logging.NewComponentLogger(o.logger, "workerpool"),
		queue:  newQueue[Task](),
		errs:   make([][]error, o.size),
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.opts.size }

// Start launches the workers. Cancelling ctx abandons pending tasks.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("worker pool already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	go p.queue.run(p.ctx)
	p.wg.Add(p.opts.size)
	for i := 0; i < p.opts.size; i++ {
		go p.work(i)
	}
	return nil
}

// Submit enqueues a task without waiting for a worker. It must not race Stop.
func (p *Pool) Submit(task Task) error {
	if !p.started.Load() || p.stopped.Load() {
		return ErrNotRunning
	}
	select {
	case p.queue.in <- task:
		return nil
	case <-p.ctx.Done():
		return ErrNotRunning
	}
}

// Stop ends the pool and waits for the workers. With drain set, every queued
// task runs first; otherwise queued tasks are abandoned and running tasks see
// a cancelled context. The returned error joins all task errors.
func (p *Pool) Stop(drain bool) error {
	if !p.started.Load() || !p.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if drain {
		close(p.queue.in)
	} else {
		p.cancel()
	}
	p.wg.Wait()
	p.cancel()
	<-p.queue.done
	if n := len(p.queue.abandoned); n > 0 {
		p.logger.Debug("abandoned queued tasks", logging.Int("count", n))
	}

	var all []error
	for _, errs := range p.errs {
		all = append(all, errs...)
	}
	return errors.Join(all...)
}

func (p *Pool) work(idx int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.queue.out:
			if !ok || p.ctx.Err() != nil {
				return
			}
			if err := runTask(p.ctx, task); err != nil {
				p.errs[idx] = append(p.errs[idx], err)
			}
		}
	}
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return task(ctx)
}
