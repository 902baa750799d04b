package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"web/clustermap/fetch"
	"web/clustermap/geo"
	"web/clustermap/logger"
	"web/clustermap/metrics"
)

var (
	// ErrFetchCancelled marks a fetch superseded by a newer refresh. It is an
	// expected outcome, not a failure.
	ErrFetchCancelled = errors.New("fetch cancelled")
	ErrClosed         = errors.New("coordinator closed")
)

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "idle"
}

// MainQueue runs posted functions serially on the thread that owns the
// display. Post must not block.
type MainQueue interface {
	Post(fn func()) bool
}

type Viewport struct {
	Region         geo.Region
	VisibleMapRect geo.MapRect
	ZoomScale      float64
}

// Job computes one snapshot and must return promptly once ctx is done.
type Job func(ctx context.Context) (fetch.Snapshot, error)

// Planner turns a viewport into a job. Its errors are configuration errors
// and are returned from Refresh.
type Planner func(v Viewport) (Job, error)

type task struct {
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	job      Job
	viewport Viewport
}

// Coordinator keeps at most one fetch in flight. Every Refresh bumps the
// generation, cancels the previous task and replaces whatever is waiting in
// the one-slot mailbox. A single worker runs tasks in order and posts each
// result to the main queue, where it is dropped unless its generation is
// still current.
type Coordinator struct {
	plan    Planner
	main    MainQueue
	deliver func(fetch.Snapshot)

	// mu covers the cancel-and-enqueue transition and state writes, never
	// the work itself.
	mu         sync.Mutex
	cancel     context.CancelFunc
	closed     bool
	state      State
	generation atomic.Uint64
	mailbox    chan *task

	settleMu  sync.Mutex
	settled   uint64
	settledCh chan struct{}

	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}
}

func New(plan Planner, main MainQueue, deliver func(fetch.Snapshot)) *Coordinator {
	ctx, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		plan:      plan,
		main:      main,
		deliver:   deliver,
		mailbox:   make(chan *task, 1),
		settledCh: make(chan struct{}),
		ctx:       ctx,
		stop:      stop,
		done:      make(chan struct{}),
	}
	go c.run()
	return c
}

// Refresh schedules a fetch for v and returns its generation. Planning
// errors are returned without touching the task in flight.
func (c *Coordinator) Refresh(v Viewport) (uint64, error) {
	job, err := c.plan(v)
	if err != nil {
		logger.L().Error("refresh_rejected", "err", err)
		return 0, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	gen := c.generation.Add(1)
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel
	select {
	case old := <-c.mailbox:
		old.cancel()
		metrics.CancellationsTotal.Inc()
		logger.L().Debug("fetch_replaced", "generation", old.gen, "by", gen)
	default:
	}
	c.mailbox <- &task{gen: gen, ctx: ctx, cancel: cancel, job: job, viewport: v}
	c.state = StateRunning
	c.mu.Unlock()

	metrics.RefreshesTotal.Inc()
	return gen, nil
}

func (c *Coordinator) run() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			return
		case t := <-c.mailbox:
			c.execute(t)
		}
	}
}

func (c *Coordinator) execute(t *task) {
	defer t.cancel()

	if !c.current(t) {
		metrics.CancellationsTotal.Inc()
		logger.L().Debug("fetch_discarded", "generation", t.gen)
		c.settle(t.gen)
		return
	}

	start := time.Now()
	snap, err := t.job(t.ctx)
	metrics.FetchDurationMs.Observe(float64(time.Since(start).Milliseconds()))
	if err == nil && !c.current(t) {
		err = ErrFetchCancelled
	}
	if err != nil {
		c.fail(t, err)
		return
	}

	snap.Generation = t.gen
	posted := c.main.Post(func() {
		if t.gen != c.generation.Load() {
			metrics.CancellationsTotal.Inc()
			logger.L().Debug("fetch_stale_on_delivery", "generation", t.gen)
			c.settle(t.gen)
			return
		}
		c.deliver(snap)
		metrics.DeliveriesTotal.Inc()
		c.setState(t.gen, StateCompleted)
		c.settle(t.gen)
	})
	if !posted {
		c.settle(t.gen)
	}
}

func (c *Coordinator) current(t *task) bool {
	return t.ctx.Err() == nil && t.gen == c.generation.Load()
}

func (c *Coordinator) fail(t *task, err error) {
	state, reason := classify(err)
	switch state {
	case StateCancelled:
		metrics.CancellationsTotal.Inc()
		logger.L().Debug("fetch_cancelled", "generation", t.gen)
	default:
		metrics.FailuresTotal.WithLabelValues(reason).Inc()
		logger.L().Warn("fetch_failed", "generation", t.gen, "reason", reason, "err", err)
	}
	c.setState(t.gen, state)
	c.settle(t.gen)
}

// setState records s only when gen is still the newest refresh.
func (c *Coordinator) setState(gen uint64, s State) {
	c.mu.Lock()
	if gen == c.generation.Load() {
		c.state = s
	}
	c.mu.Unlock()
}

func (c *Coordinator) settle(gen uint64) {
	c.settleMu.Lock()
	if gen > c.settled {
		c.settled = gen
		close(c.settledCh)
		c.settledCh = make(chan struct{})
	}
	c.settleMu.Unlock()
}

// State reports the state of the newest refresh.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Generation() uint64 {
	return c.generation.Load()
}

// Wait blocks until the refresh numbered gen, or a later one, has been
// delivered, dropped or failed.
func (c *Coordinator) Wait(ctx context.Context, gen uint64) error {
	for {
		c.settleMu.Lock()
		if c.settled >= gen {
			c.settleMu.Unlock()
			return nil
		}
		ch := c.settledCh
		c.settleMu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		}
	}
}

// Close cancels the task in flight and stops the worker.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.stop()
	<-c.done
}
