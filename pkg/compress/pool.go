// Package compress offloads CPU-bound gzip compression to a fixed pool of
// worker goroutines with a FIFO job queue and crash recovery.
//
// Dispatch uses a global busy counter and a round-robin index that advances
// unconditionally, so a job can land in the mailbox of a worker that is still
// busy while another worker sits idle. That routing quirk is kept on purpose
// for queue-order predictability; mailboxes are sized to the pool so dispatch
// never blocks.
package compress

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Job is one compression request. An empty ID is replaced with a fresh uuid
// on submit.
type Job struct {
	ID       string
	FileName string
	Data     []byte
}

// Result is one successful compression outcome: the renamed file, the
// compressed bytes and a sha256 hex digest of those bytes.
type Result struct {
	ID       string
	FileName string
	Data     []byte
	Checksum string
}

// Observer receives job outcomes. Callbacks run on worker goroutines and
// must not call back into the pool synchronously with heavy work.
type Observer interface {
	CompressionResult(res Result)
	CompressionError(jobID string, err error)
}

type worker struct {
	jobs chan Job
}

// Pool is a fixed-size compression worker pool. Jobs queue FIFO; a worker
// that panics is discarded and replaced before the next drain, and its
// undispatched mailbox jobs return to the head of the queue.
type Pool struct {
	log      zerolog.Logger
	observer Observer
	fn       func(Job) (Result, error)

	mu      sync.Mutex
	workers []*worker
	queue   []Job
	busy    int
	next    int
	closed  bool
}

// NewPool creates a pool with the given worker count (minimum 1). Observer
// may be nil.
func NewPool(size int, log zerolog.Logger, observer Observer) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		log:      log,
		observer: observer,
		fn:       Compress,
	}
	for i := 0; i < size; i++ {
		p.workers = append(p.workers, p.spawn(size))
	}
	return p
}

func (p *Pool) spawn(mailbox int) *worker {
	w := &worker{jobs: make(chan Job, mailbox)}
	go p.run(w)
	return w
}

func (p *Pool) run(w *worker) {
	for job := range w.jobs {
		if !p.runJob(w, job) {
			return
		}
	}
}

// runJob executes one job and reports the outcome. A panic marks the worker
// dead: the job is reported as failed, the worker is replaced, and the
// goroutine exits.
func (p *Pool) runJob(w *worker, job Job) (alive bool) {
	alive = true
	defer func() {
		if r := recover(); r != nil {
			alive = false
			p.mu.Lock()
			p.busy--
			p.mu.Unlock()

			p.log.Error().Str("job_id", job.ID).Interface("panic", r).Msg("worker thread error")
			p.notifyError(job.ID, fmt.Errorf("worker crashed: %v", r))
			p.replace(w)
		}
	}()

	res, err := p.fn(job)

	p.mu.Lock()
	p.busy--
	p.mu.Unlock()

	if err != nil {
		p.notifyError(job.ID, err)
	} else {
		p.notifyResult(res)
	}
	p.drain()
	return
}

// replace swaps a dead worker for a fresh one, requeueing any jobs still
// sitting in the dead worker's mailbox and keeping the round-robin index
// valid against the new pool.
func (p *Pool) replace(dead *worker) {
	p.mu.Lock()
	for i, w := range p.workers {
		if w == dead {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}

	// Reclaim undispatched jobs. Dispatch happens under the same lock, so no
	// new sends can race this.
	var stranded []Job
drainMailbox:
	for {
		select {
		case job := <-dead.jobs:
			stranded = append(stranded, job)
		default:
			break drainMailbox
		}
	}
	if len(stranded) > 0 {
		p.busy -= len(stranded)
		p.queue = append(stranded, p.queue...)
	}

	if !p.closed {
		p.workers = append(p.workers, p.spawn(cap(dead.jobs)))
	}
	if p.next >= len(p.workers) {
		p.next = 0
	}
	p.mu.Unlock()

	p.drain()
}

// Submit queues a job and attempts to dispatch it. Never blocks.
func (p *Pool) Submit(job Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.notifyError(job.ID, fmt.Errorf("pool closed"))
		return
	}
	p.queue = append(p.queue, job)
	p.mu.Unlock()

	p.drain()
}

// drain dispatches queued jobs while the global busy count is below the pool
// size. The round-robin index advances on every dispatch whether or not the
// selected worker is idle.
func (p *Pool) drain() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.closed && len(p.queue) > 0 && p.busy < len(p.workers) {
		job := p.queue[0]
		p.queue = p.queue[1:]

		w := p.workers[p.next]
		p.next = (p.next + 1) % len(p.workers)
		p.busy++
		w.jobs <- job
	}
}

// Pending returns the number of jobs waiting for dispatch.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops accepting jobs and lets the workers exit once their mailboxes
// drain. In-flight jobs run to completion.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	workers := p.workers
	p.mu.Unlock()

	for _, w := range workers {
		close(w.jobs)
	}
}

func (p *Pool) notifyResult(res Result) {
	if p.observer != nil {
		p.observer.CompressionResult(res)
	}
}

func (p *Pool) notifyError(jobID string, err error) {
	if p.observer != nil {
		p.observer.CompressionError(jobID, err)
	}
}
