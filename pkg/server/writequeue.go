package server

import "sync"

// Delivery is the completion signal for one enqueued write.
type Delivery struct {
	done chan struct{}
	err  error
}

// Wait blocks until the write settles and returns its error, if any.
func (d *Delivery) Wait() error {
	<-d.done
	return d.err
}

func resolvedDelivery(err error) *Delivery {
	d := &Delivery{done: make(chan struct{}), err: err}
	close(d.done)
	return d
}

// WriteQueue serializes outbound writes to a single connection. Each enqueued
// write chains onto the previous delivery: it starts only after the
// predecessor settles, so writes reach the socket in submission order with at
// most one in flight. A failed write resolves its own delivery as failed and
// never blocks successors.
type WriteQueue struct {
	conn Conn
	mu   sync.Mutex
	tail *Delivery
}

// NewWriteQueue creates a write queue for a connection.
func NewWriteQueue(conn Conn) *WriteQueue {
	return &WriteQueue{conn: conn}
}

// Enqueue schedules one frame for transmission and returns its completion
// signal. Never blocks.
func (q *WriteQueue) Enqueue(payload []byte) *Delivery {
	d := &Delivery{done: make(chan struct{})}

	q.mu.Lock()
	prev := q.tail
	q.tail = d
	q.mu.Unlock()

	go func() {
		if prev != nil {
			// Wait for the predecessor regardless of its outcome.
			<-prev.done
		}
		d.err = q.conn.WriteMessage(payload)
		close(d.done)
	}()

	return d
}
