// Package queue runs jobs so that jobs sharing a key execute one at a time
// in submission order, while different keys proceed in parallel.
//
// Each active key owns a lane: a bounded FIFO drained by its own goroutine,
// which exits once the lane is empty. A slow job therefore only delays later
// jobs for the same key. Lanes are indexed in fnv-hashed shards.
package queue

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

type queuedJob struct {
	ctx context.Context
	job Job
}

// lane is the serial queue of one key. senders and the map entry are
// guarded by the owning shard's mu.
type lane struct {
	key   string
	jobs  chan queuedJob
	wake  chan struct{}
	label string

	senders int
}

type shard struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

// Executor keeps one lane per key with queued or running work.
type Executor struct {
	cfg    Config
	shards []*shard

	done   chan struct{}
	closed atomic.Bool

	wg sync.WaitGroup
}

// New returns an Executor with cfg. Zero fields take defaults.
func New(cfg Config) *Executor {
	cfg = cfg.withDefaults()
	e := &Executor{
		cfg:    cfg,
		shards: make([]*shard, cfg.Shards),
		done:   make(chan struct{}),
	}
	for i := range e.shards {
		e.shards[i] = &shard{lanes: make(map[string]*lane)}
	}
	return e
}

// Submit enqueues job on the lane for key, starting the lane if it is idle.
//
//   - nil on success.
//   - ErrExecutorClosed once Stop has been called.
//   - *QueueFullError (errors.Is ErrQueueFull) if the lane stays full for
//     EnqueueTimeout.
//   - ctx.Err() if ctx ends first.
func (e *Executor) Submit(ctx context.Context, key string, job Job) error {
	idx := e.shardFor(key)
	l, err := e.acquire(idx, key)
	if err != nil {
		return err
	}
	defer e.release(idx, l)

	timer := time.NewTimer(e.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case l.jobs <- queuedJob{ctx: ctx, job: job}:
		submissionsTotal.WithLabelValues(l.label).Inc()
		return nil
	case <-e.done:
		return ErrExecutorClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		queueFullTotal.WithLabelValues(l.label).Inc()
		return &QueueFullError{Shard: idx, Key: key, Length: len(l.jobs), Capacity: cap(l.jobs)}
	}
}

// acquire registers the caller as a sender on key's lane so the lane
// goroutine stays alive until the send resolves.
func (e *Executor) acquire(idx int, key string) (*lane, error) {
	sh := e.shards[idx]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e.closed.Load() {
		return nil, ErrExecutorClosed
	}
	l, ok := sh.lanes[key]
	if !ok {
		l = &lane{
			key:   key,
			jobs:  make(chan queuedJob, e.cfg.QueueSize),
			wake:  make(chan struct{}, 1),
			label: labelFor(idx),
		}
		sh.lanes[key] = l
		activeLanes.WithLabelValues(l.label).Set(float64(len(sh.lanes)))
		e.wg.Add(1)
		go e.runLane(sh, l)
	}
	l.senders++
	return l, nil
}

func (e *Executor) release(idx int, l *lane) {
	sh := e.shards[idx]
	sh.mu.Lock()
	l.senders--
	sh.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Barrier waits until every job submitted for key before it has run.
func (e *Executor) Barrier(ctx context.Context, key string) error {
	done := make(chan struct{})
	j := JobFunc(func(context.Context) error {
		close(done)
		return nil
	})
	if err := e.Submit(ctx, key, j); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Stop rejects new work, lets every lane drain and waits for the lane
// goroutines to exit. It is idempotent and safe for concurrent use.
func (e *Executor) Stop() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	// Any Submit that saw closed == false has finished its wg.Add once the
	// shard lock is released.
	lanes := 0
	for _, sh := range e.shards {
		sh.mu.Lock()
		lanes += len(sh.lanes)
		sh.mu.Unlock()
	}
	e.cfg.Logger.Info("queue stopping, draining lanes", "lanes", lanes)
	close(e.done)
	e.wg.Wait()
	e.cfg.Logger.Info("queue stopped")
}

// Close lets Executor satisfy io.Closer.
func (e *Executor) Close() error {
	e.Stop()
	return nil
}

// Active returns the number of keys with queued or running work.
func (e *Executor) Active() int {
	n := 0
	for _, sh := range e.shards {
		sh.mu.Lock()
		n += len(sh.lanes)
		sh.mu.Unlock()
	}
	return n
}

func (e *Executor) runLane(sh *shard, l *lane) {
	defer e.wg.Done()

	done := e.done
	drained := 0
	handle := func(qj queuedJob) {
		if done != nil {
			e.process(l.label, qj)
			return
		}
		// Stopping: one attempt each, no backoff.
		e.runOnce(l.label, qj)
		drained++
	}

	for {
		select {
		case qj := <-l.jobs:
			handle(qj)
			continue
		default:
		}

		if e.retire(sh, l) {
			if drained > 0 {
				e.cfg.Logger.Info("queue lane drained", "key", l.key, "jobs", drained)
			}
			return
		}

		select {
		case qj := <-l.jobs:
			handle(qj)
		case <-l.wake:
		case <-done:
			done = nil
		}
	}
}

// retire removes l from its shard if nothing is queued and no sender holds
// it. The lane goroutine must exit when it returns true.
func (e *Executor) retire(sh *shard, l *lane) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if len(l.jobs) > 0 || l.senders > 0 {
		return false
	}
	delete(sh.lanes, l.key)
	activeLanes.WithLabelValues(l.label).Set(float64(len(sh.lanes)))
	return true
}

// process runs one job with retries for errors marked Retryable.
func (e *Executor) process(label string, qj queuedJob) {
	if qj.job == nil {
		return
	}
	if err := qj.ctx.Err(); err != nil {
		failuresTotal.WithLabelValues(label).Inc()
		e.safeHandleError(err)
		return
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.cfg.BaseBackoff
	exp.Multiplier = 2
	exp.MaxInterval = e.cfg.MaxInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	for attempt := 1; ; attempt++ {
		err := e.run(label, qj)
		if err == nil {
			return
		}
		if !IsRetryable(err) || attempt >= e.cfg.MaxAttempts {
			failuresTotal.WithLabelValues(label).Inc()
			e.safeHandleError(err)
			return
		}

		timer := time.NewTimer(exp.NextBackOff())
		select {
		case <-timer.C:
		case <-e.done:
			timer.Stop()
			failuresTotal.WithLabelValues(label).Inc()
			e.safeHandleError(err)
			return
		case <-qj.ctx.Done():
			timer.Stop()
			failuresTotal.WithLabelValues(label).Inc()
			e.safeHandleError(qj.ctx.Err())
			return
		}
	}
}

func (e *Executor) runOnce(label string, qj queuedJob) {
	if qj.job == nil {
		return
	}
	if err := e.run(label, qj); err != nil {
		failuresTotal.WithLabelValues(label).Inc()
		e.safeHandleError(err)
	}
}

// run executes the job, turning a panic into an error so one bad job
// cannot take its lane down.
func (e *Executor) run(label string, qj queuedJob) (err error) {
	start := time.Now()
	defer func() {
		runDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			e.cfg.Logger.Error("queue job panic", "shard", label, "panic", r)
			err = &PanicError{Value: r}
		}
	}()
	return qj.job.Run(qj.ctx)
}

func (e *Executor) safeHandleError(err error) {
	if err == nil || e.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.cfg.Logger.Error("queue error handler panic", "panic", r)
		}
	}()
	e.cfg.ErrorHandler(err)
}

func (e *Executor) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(e.cfg.Shards))
}
