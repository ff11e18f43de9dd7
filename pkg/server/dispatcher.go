package server

import (
	"sync"
	"time"

	"github.com/aeolun/roomcast/pkg/protocol"
	"github.com/rs/zerolog"
)

// BroadcastJob is one message queued for fan-out to a room's current members.
// ExcludeID, when set, skips that session (used for join/leave notices so the
// actor does not echo their own notice; chat content never excludes the
// sender).
type BroadcastJob struct {
	Room      string
	Message   *protocol.Message
	ExcludeID string
}

// MemberSource resolves a room name to a member snapshot.
type MemberSource interface {
	Members(room string) []string
}

// Sender delivers one message to one session through its write queue. A
// missing session resolves immediately with no error.
type Sender interface {
	Send(sessionID string, msg *protocol.Message) *Delivery
}

// DispatchObserver is notified of per-recipient delivery failures.
type DispatchObserver interface {
	DeliveryFailed(room, sessionID string, err error)
}

// Dispatcher is a multi-producer, single-drain FIFO queue of broadcast jobs.
// Jobs are processed strictly in submission order across all rooms; within
// one job, deliveries to the members run concurrently and the drain waits for
// all of them to settle before the next job starts. That per-job barrier
// bounds outstanding fan-out to a single job at the cost of head-of-line
// blocking on large rooms.
type Dispatcher struct {
	members  MemberSource
	sender   Sender
	observer DispatchObserver
	metrics  *Metrics
	log      zerolog.Logger

	mu       sync.Mutex
	queue    []BroadcastJob
	draining bool
}

// NewDispatcher creates a dispatcher. Observer and metrics may be nil.
func NewDispatcher(members MemberSource, sender Sender, observer DispatchObserver, metrics *Metrics, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		members:  members,
		sender:   sender,
		observer: observer,
		metrics:  metrics,
		log:      log,
	}
}

// Enqueue appends a job and starts a drain if none is running. Never blocks.
func (d *Dispatcher) Enqueue(job BroadcastJob) {
	d.mu.Lock()
	d.queue = append(d.queue, job)
	start := !d.draining
	if start {
		d.draining = true
	}
	d.mu.Unlock()

	if start {
		go d.drain()
	}
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.draining = false
			d.mu.Unlock()
			return
		}
		job := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.deliver(job)
	}
}

// deliver fans one job out to the room's current member snapshot and waits
// for every delivery to settle. Individual failures are reported and counted
// but never abort the batch.
func (d *Dispatcher) deliver(job BroadcastJob) {
	started := time.Now()
	members := d.members.Members(job.Room)

	var wg sync.WaitGroup
	fanout := 0
	for _, id := range members {
		if job.ExcludeID != "" && id == job.ExcludeID {
			continue
		}
		fanout++
		delivery := d.sender.Send(id, job.Message)

		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			if err := delivery.Wait(); err != nil {
				d.log.Warn().
					Str("room", job.Room).
					Str("session_id", sessionID).
					Err(err).
					Msg("broadcast delivery failed")
				if d.metrics != nil {
					d.metrics.RecordDeliveryError()
				}
				if d.observer != nil {
					d.observer.DeliveryFailed(job.Room, sessionID, err)
				}
			}
		}(id)
	}
	wg.Wait()

	if d.metrics != nil {
		d.metrics.RecordBroadcast(fanout, time.Since(started).Seconds())
	}
}
