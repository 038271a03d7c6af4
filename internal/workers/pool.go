package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"asset-indexer/internal/logging"
	"asset-indexer/internal/metrics"
)

var (
	// ErrUnknownSpool is returned when submitting to a spool never added.
	ErrUnknownSpool = errors.New("unknown spool")
	// ErrPoolClosed is returned when submitting after Close.
	ErrPoolClosed = errors.New("pool closed")
)

// Task is one unit of work.
type Task func(ctx context.Context) error

type job struct {
	name   string
	fn     Task
	onDone func(error)
}

// spool is a FIFO of jobs. Submit waits while limit jobs are queued;
// follow-ups may exceed limit so that workers never wait on their own queue.
type spool struct {
	name  string
	limit int

	mu     sync.Mutex
	ready  *sync.Cond
	room   *sync.Cond
	queue  []job
	closed bool
}

func newSpool(name string, limit int) *spool {
	s := &spool{name: name, limit: limit}
	s.ready = sync.NewCond(&s.mu)
	s.room = sync.NewCond(&s.mu)
	return s
}

func (s *spool) push(j job, wait bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for wait && !s.closed && len(s.queue) >= s.limit {
		s.room.Wait()
	}
	if s.closed {
		return ErrPoolClosed
	}
	s.queue = append(s.queue, j)
	metrics.SpoolQueueDepth.WithLabelValues(s.name).Set(float64(len(s.queue)))
	s.ready.Signal()
	return nil
}

// pop returns the next job. After close it drains what is left and then
// reports false.
func (s *spool) pop() (job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.ready.Wait()
	}
	if len(s.queue) == 0 {
		return job{}, false
	}
	j := s.queue[0]
	s.queue[0] = job{}
	s.queue = s.queue[1:]
	metrics.SpoolQueueDepth.WithLabelValues(s.name).Set(float64(len(s.queue)))
	s.room.Signal()
	return j, true
}

func (s *spool) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ready.Broadcast()
	s.room.Broadcast()
}

// Pool runs tasks on named spools.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	closed  bool
	spools  map[string]*spool
	workers sync.WaitGroup
	pending sync.WaitGroup
}

// NewPool creates a pool without spools.
func NewPool() *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{ctx: ctx, cancel: cancel, spools: make(map[string]*spool)}
}

// AddSpool starts a spool with the given worker count and queue capacity.
// Adding an existing spool is a no-op.
func (p *Pool) AddSpool(name string, workers, queue int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if _, ok := p.spools[name]; ok {
		return
	}
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = 1
	}

	s := newSpool(name, queue)
	p.spools[name] = s
	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go p.run(s)
	}
	logging.Debug("Spool %s started with %d workers", name, workers)
}

// Spools returns the spool names, sorted.
func (p *Pool) Spools() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.spools))
	for name := range p.spools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Submit queues fn on a spool. onDone, if not nil, receives the task result.
// Submit blocks while the spool queue is full, so it must not be called from
// a completion callback; use SubmitFollowUp there.
func (p *Pool) Submit(spoolName, name string, fn Task, onDone func(error)) error {
	return p.enqueue(spoolName, job{name: name, fn: fn, onDone: onDone}, true)
}

// SubmitFollowUp queues fn without waiting for room in the spool queue. It
// is meant for completion callbacks, which run on the spool's own workers.
func (p *Pool) SubmitFollowUp(spoolName, name string, fn Task, onDone func(error)) error {
	return p.enqueue(spoolName, job{name: name, fn: fn, onDone: onDone}, false)
}

func (p *Pool) enqueue(spoolName string, j job, wait bool) error {
	p.mu.RLock()
	closed := p.closed
	s, ok := p.spools[spoolName]
	p.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSpool, spoolName)
	}

	p.pending.Add(1)
	if err := s.push(j, wait); err != nil {
		p.pending.Done()
		return err
	}
	return nil
}

// Wait blocks until every submitted task, including tasks submitted from
// callbacks, has completed.
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Close stops the pool. Queued tasks are not run; their callbacks receive
// context.Canceled.
func (p *Pool) Close() {
	p.cancel()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, s := range p.spools {
		s.close()
	}
	p.mu.Unlock()

	p.workers.Wait()
}

func (p *Pool) run(s *spool) {
	defer p.workers.Done()
	for {
		j, ok := s.pop()
		if !ok {
			return
		}
		p.execute(s.name, j)
	}
}

func (p *Pool) execute(spoolName string, j job) {
	defer p.pending.Done()

	var err error
	if p.ctx.Err() != nil {
		err = context.Canceled
		metrics.SpoolTasksTotal.WithLabelValues(spoolName, "cancelled").Inc()
	} else {
		err = safeRun(p.ctx, j)
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.SpoolTasksTotal.WithLabelValues(spoolName, status).Inc()
	}

	if j.onDone != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("Spool %s: completion of %s panicked: %v", spoolName, j.name, r)
				}
			}()
			j.onDone(err)
		}()
	}
}

func safeRun(ctx context.Context, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", j.name, r)
		}
	}()
	return j.fn(ctx)
}
