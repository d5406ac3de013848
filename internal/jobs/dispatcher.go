// Package jobs runs asynchronous risk decisions.
//
// Enqueued jobs sit on a timeline ordered by fire time. A scheduler loop
// hands each job to a bounded worker pool once it is due. A job runs
// exactly once and cannot be cancelled; shutdown drains the timeline.
package jobs

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexshop/nexid/internal/events"
	"github.com/nexshop/nexid/internal/idgen"
	"github.com/nexshop/nexid/internal/logging"
	"github.com/nexshop/nexid/internal/metrics"
	"github.com/nexshop/nexid/internal/results"
	"github.com/nexshop/nexid/internal/risk"
	"github.com/nexshop/nexid/internal/traces"
)

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("jobs: dispatcher stopped")

const (
	DefaultDelay   = 1500 * time.Millisecond
	DefaultWorkers = 4
)

// Decider evaluates a request.
type Decider interface {
	Decide(ctx context.Context, req *risk.VerifyRequest, callerIP, requestID string) *risk.VerifyResponse
}

// Deliverer sends a completed response to the configured callback.
type Deliverer interface {
	Deliver(ctx context.Context, resp *risk.VerifyResponse) error
}

// Config configures a Dispatcher.
type Config struct {
	Delay   time.Duration
	Workers int
}

// Dispatcher schedules and executes async decisions.
type Dispatcher struct {
	cfg     Config
	engine  Decider
	store   results.Store
	deliver Deliverer
	publish events.Publisher
	logger  *slog.Logger

	mu       sync.Mutex
	timeline timeline
	seq      uint64
	stopped  bool
	inflight int           // enqueued and not yet completed
	drained  chan struct{} // closed when inflight drops to zero

	wake     chan struct{}
	ready    chan *Job
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithDeliverer enables callback delivery.
func WithDeliverer(d Deliverer) Option {
	return func(disp *Dispatcher) { disp.deliver = d }
}

// WithPublisher sends completed decisions to p.
func WithPublisher(p events.Publisher) Option {
	return func(disp *Dispatcher) { disp.publish = p }
}

// New creates a dispatcher. Call Start to begin executing jobs.
func New(cfg Config, engine Decider, store results.Store, logger *slog.Logger, opts ...Option) *Dispatcher {
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	d := &Dispatcher{
		cfg:     cfg,
		engine:  engine,
		store:   store,
		publish: events.Discard{},
		logger:  logger,
		wake:    make(chan struct{}, 1),
		ready:   make(chan *Job),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Enqueue schedules req to be decided after the configured delay and
// returns the new request id immediately.
func (d *Dispatcher) Enqueue(req *risk.VerifyRequest, callerIP string) (string, error) {
	now := time.Now()
	job := &Job{
		ID:         idgen.New(),
		Request:    req,
		CallerIP:   callerIP,
		EnqueuedAt: now,
		FireAt:     now.Add(d.cfg.Delay),
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return "", ErrStopped
	}
	d.seq++
	job.seq = d.seq
	heap.Push(&d.timeline, job)
	if d.inflight == 0 {
		d.drained = make(chan struct{})
	}
	d.inflight++
	d.mu.Unlock()

	metrics.JobsPending.Inc()
	d.signal()
	return job.ID, nil
}

// Pending reports jobs enqueued but not yet picked up by a worker.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeline.Len()
}

// Inflight reports jobs enqueued but not yet completed.
func (d *Dispatcher) Inflight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight
}

func (d *Dispatcher) finish() {
	d.mu.Lock()
	d.inflight--
	if d.inflight == 0 {
		close(d.drained)
	}
	d.mu.Unlock()
	metrics.JobsPending.Dec()
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start runs the scheduler and worker pool until Stop is called or ctx is
// done. Call in a goroutine. Cancel ctx only after Drain, or queued jobs
// are abandoned.
func (d *Dispatcher) Start(ctx context.Context) {
	d.running.Store(true)
	defer d.running.Store(false)

	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}

	d.schedule(ctx)
	wg.Wait()
}

// Running reports whether the dispatcher loop is active.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

func (d *Dispatcher) schedule(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		d.mu.Lock()
		due, wait := d.timeline.popDue(time.Now())
		d.mu.Unlock()

		for _, job := range due {
			select {
			case d.ready <- job:
			case <-d.stop:
				return
			case <-ctx.Done():
				return
			}
		}

		if wait >= 0 {
			timer.Reset(wait)
		}
		select {
		case <-timer.C:
		case <-d.wake:
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		}
		timer.Stop()
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case job := <-d.ready:
			d.execute(job)
		case <-d.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// execute runs one job to completion: store, then callback, then events.
// The job's context is detached from any caller so a disconnected client
// never aborts it.
func (d *Dispatcher) execute(job *Job) {
	defer d.finish()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in async decision", "request_id", job.ID, "panic", fmt.Sprint(r))
		}
	}()

	metrics.JobLag.Observe(time.Since(job.FireAt).Seconds())

	ctx := logging.WithRequestID(context.Background(), job.ID)
	ctx = logging.WithLogger(ctx, d.logger.With("request_id", job.ID))
	ctx, span := traces.StartSpan(ctx, "jobs.execute",
		traces.RequestID(job.ID),
		traces.Mode(string(events.ModeAsync)),
	)
	defer span.End()

	resp := d.engine.Decide(ctx, job.Request, job.CallerIP, job.ID)
	if err := d.store.Put(ctx, resp); err != nil {
		d.logger.Error("failed to store async decision", "request_id", job.ID, "error", err)
	}
	metrics.ObserveDecision(string(resp.Context), string(resp.Status), string(events.ModeAsync), resp.Score)

	if d.deliver != nil {
		// Single attempt; the sender logs and counts failures.
		_ = d.deliver.Deliver(ctx, resp)
	}

	d.publish.Publish(ctx, events.NewDecision(events.ModeAsync, job.CallerIP, resp))

	d.logger.Debug("async decision complete",
		"request_id", job.ID,
		"status", resp.Status,
		"score", resp.Score,
		"waited_ms", time.Since(job.EnqueuedAt).Milliseconds(),
	)
}

// Drain blocks until every enqueued job has completed or ctx is done.
// The dispatcher must be running for jobs to complete.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	if d.inflight == 0 {
		d.mu.Unlock()
		return nil
	}
	done := d.drained
	d.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs: drain: %d jobs unfinished: %w", d.Inflight(), ctx.Err())
	}
}

// Stop refuses new jobs and stops the scheduler and workers. Jobs still on
// the timeline are abandoned, so call Drain first.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.stopOnce.Do(func() { close(d.stop) })
}
