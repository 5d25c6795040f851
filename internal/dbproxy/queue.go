package dbproxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/l1jgo/realm/internal/faultlog"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Poster hands a completion back to the simulation. *world.Manager
// satisfies it; posted work runs at the next structural drain.
type Poster interface {
	Post(fn func())
}

type Options struct {
	Workers        int
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	CommandTimeout time.Duration // per attempt
	CacheTables    []string      // query results from these tables are cached
}

// Ticket tracks one enqueued command.
type Ticket struct {
	cmd  Command
	done chan struct{}
	res  Result
	err  error
	then func(Result, error)
}

func (t *Ticket) Command() Command { return t.cmd }

// Done is closed when the command has completed.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Await blocks until the command completes or ctx ends. Never call it
// from the tick goroutine.
func (t *Ticket) Await(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.res, t.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the outcome once Done is closed.
func (t *Ticket) Result() (Result, error) {
	<-t.done
	return t.res, t.err
}

// QueueStats is a point-in-time view for metrics.
type QueueStats struct {
	Depth     int64
	InFlight  int64
	Enqueued  uint64
	Completed uint64
	Retries   uint64
	Failures  uint64
}

// Queue executes commands with at most one in flight per lane. Lanes are
// served round-robin by a fixed worker pool.
type Queue struct {
	exec      Executor
	cache     *Cache
	cacheable map[string]bool
	opts      Options
	poster    Poster
	faults    *faultlog.Log
	log       *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	lanes  map[string][]*Ticket
	ready  []string
	closed bool
	stop   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	depth     atomic.Int64
	inflight  atomic.Int64
	enqueued  atomic.Uint64
	completed atomic.Uint64
	retries   atomic.Uint64
	failures  atomic.Uint64
}

// NewQueue builds a queue. cache and poster may be nil.
func NewQueue(exec Executor, cache *Cache, opts Options, poster Poster, faults *faultlog.Log, log *zap.Logger) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 50 * time.Millisecond
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		exec:      exec,
		cache:     cache,
		cacheable: make(map[string]bool, len(opts.CacheTables)),
		opts:      opts,
		poster:    poster,
		faults:    faults,
		log:       log.Named("dbqueue"),
		lanes:     make(map[string][]*Ticket),
		ctx:       ctx,
		cancel:    cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	for _, t := range opts.CacheTables {
		q.cacheable[t] = true
	}
	return q
}

// Start launches the workers.
func (q *Queue) Start() {
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Enqueue schedules cmd and returns immediately.
func (q *Queue) Enqueue(cmd Command) *Ticket {
	return q.enqueue(cmd, nil)
}

// EnqueueThen schedules cmd and, on completion, posts fn to the queue's
// Poster so it runs on the tick goroutine.
func (q *Queue) EnqueueThen(cmd Command, fn func(Result, error)) *Ticket {
	return q.enqueue(cmd, fn)
}

func (q *Queue) enqueue(cmd Command, then func(Result, error)) *Ticket {
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.EnqueuedAt.IsZero() {
		cmd.EnqueuedAt = time.Now()
	}
	t := &Ticket{cmd: cmd, done: make(chan struct{}), then: then}
	lane := cmd.Lane()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.complete(t, Result{}, ErrClosed)
		return t
	}
	if cmd.Kind == KindQuery && q.cache != nil && q.cacheable[cmd.Table] && len(q.lanes[lane]) == 0 {
		if v, _, ok := q.cache.Get(cmd.Table, cmd.Key); ok {
			q.mu.Unlock()
			q.enqueued.Add(1)
			q.complete(t, Result{Payload: v, Cached: true}, nil)
			return t
		}
	}
	q.lanes[lane] = append(q.lanes[lane], t)
	if len(q.lanes[lane]) == 1 {
		q.ready = append(q.ready, lane)
		q.cond.Signal()
	}
	q.mu.Unlock()

	q.enqueued.Add(1)
	q.depth.Add(1)
	return t
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.ready) == 0 && !q.stop {
			q.cond.Wait()
		}
		if len(q.ready) == 0 {
			q.mu.Unlock()
			return
		}
		lane := q.ready[0]
		q.ready = q.ready[1:]
		t := q.lanes[lane][0]
		q.mu.Unlock()

		q.inflight.Add(1)
		res, err := q.execute(t.cmd)
		q.inflight.Add(-1)
		q.depth.Add(-1)

		// Complete before the lane advances so same-lane completions are
		// observed in enqueue order.
		q.complete(t, res, err)

		q.mu.Lock()
		rest := q.lanes[lane][1:]
		if len(rest) == 0 {
			delete(q.lanes, lane)
			q.cond.Broadcast()
		} else {
			q.lanes[lane] = rest
			q.ready = append(q.ready, lane)
			q.cond.Signal()
		}
		q.mu.Unlock()
	}
}

func (q *Queue) backoff() retry.Backoff {
	b := retry.NewExponential(q.opts.BackoffBase)
	b = retry.WithCappedDuration(q.opts.BackoffMax, b)
	return retry.WithMaxRetries(uint64(q.opts.MaxRetries), b)
}

func (q *Queue) execute(cmd Command) (Result, error) {
	var payload []byte
	attempts := 0
	err := retry.Do(q.ctx, q.backoff(), func(ctx context.Context) error {
		if attempts > 0 {
			cmd.Retries++
			q.retries.Add(1)
		}
		attempts++
		actx, cancel := context.WithTimeout(ctx, q.opts.CommandTimeout)
		defer cancel()
		p, err := q.exec.Execute(actx, cmd)
		if err != nil {
			if IsTransient(err) {
				q.log.Debug("transient failure, retrying",
					zap.Stringer("cmd", cmd), zap.Int("attempt", attempts), zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		}
		payload = p
		return nil
	})
	res := Result{Payload: payload, Attempts: attempts}

	if err != nil {
		if expected(err) {
			return res, fmt.Errorf("%s: %w", cmd, err)
		}
		if IsTransient(err) {
			err = &FatalError{Command: cmd, Attempts: attempts, Err: err}
		}
		q.failures.Add(1)
		q.faults.Record(faultlog.Entry{
			Kind:    faultlog.KindPersistence,
			Key:     cmd.Key,
			Message: err.Error(),
			Attrs: map[string]string{
				"table":    cmd.Table,
				"op":       cmd.Kind.String(),
				"command":  cmd.ID.String(),
				"attempts": fmt.Sprint(attempts),
			},
		})
		return res, err
	}

	if q.cache != nil && q.cacheable[cmd.Table] {
		switch {
		case cmd.Kind == KindQuery:
			q.cache.Put(cmd.Table, cmd.Key, payload)
		case cmd.Kind.IsWrite():
			q.cache.Invalidate(cmd.Table, cmd.Key)
		}
	}
	return res, nil
}

func (q *Queue) complete(t *Ticket, res Result, err error) {
	t.res, t.err = res, err
	close(t.done)
	q.completed.Add(1)
	if t.then == nil {
		return
	}
	if q.poster == nil {
		t.then(res, err)
		return
	}
	fn := t.then
	q.poster.Post(func() { fn(res, err) })
}

// Close stops accepting commands and waits for queued ones to finish.
// When ctx ends first, remaining commands are cancelled.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	var err error
	drained := make(chan struct{})
	go func() {
		q.mu.Lock()
		for len(q.lanes) > 0 && !q.stop {
			q.cond.Wait()
		}
		q.mu.Unlock()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		err = ctx.Err()
	}

	q.cancel()
	q.mu.Lock()
	q.stop = true
	q.cond.Broadcast()
	q.mu.Unlock()
	q.wg.Wait()
	<-drained
	if err != nil {
		return fmt.Errorf("drain command queue: %w", errors.Join(err, ErrClosed))
	}
	return nil
}

func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Depth:     q.depth.Load(),
		InFlight:  q.inflight.Load(),
		Enqueued:  q.enqueued.Load(),
		Completed: q.completed.Load(),
		Retries:   q.retries.Load(),
		Failures:  q.failures.Load(),
	}
}
