package server

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeolun/roomcast/pkg/protocol"
)

// fakeMembers is a static room -> member-id table.
type fakeMembers map[string][]string

func (f fakeMembers) Members(room string) []string { return f[room] }

type sentFrame struct {
	sessionID string
	msg       *protocol.Message
}

// fakeSender records deliveries. Sends to ids in failIDs resolve with an
// error; sends to ids in heldIDs stay pending until release is called.
type fakeSender struct {
	mu      sync.Mutex
	sent    []sentFrame
	failIDs map[string]bool
	held    map[string]*Delivery
	heldIDs map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		failIDs: make(map[string]bool),
		held:    make(map[string]*Delivery),
		heldIDs: make(map[string]bool),
	}
}

func (f *fakeSender) Send(sessionID string, msg *protocol.Message) *Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, sentFrame{sessionID: sessionID, msg: msg})
	if f.failIDs[sessionID] {
		return resolvedDelivery(errors.New("socket gone"))
	}
	if f.heldIDs[sessionID] {
		d := &Delivery{done: make(chan struct{})}
		f.held[sessionID] = d
		return d
	}
	return resolvedDelivery(nil)
}

func (f *fakeSender) release(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.held[sessionID]; ok {
		close(d.done)
		delete(f.held, sessionID)
	}
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) snapshot() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sent...)
}

type recordingDispatchObserver struct {
	mu       sync.Mutex
	failures []string
}

func (o *recordingDispatchObserver) DeliveryFailed(room, sessionID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, room+"/"+sessionID)
}

func (o *recordingDispatchObserver) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.failures...)
}

func TestDispatcherFansOutToAllMembers(t *testing.T) {
	sender := newFakeSender()
	d := NewDispatcher(fakeMembers{"general": {"a", "b", "c"}}, sender, nil, nil, zerolog.Nop())

	d.Enqueue(BroadcastJob{Room: "general", Message: protocol.NewSystemMessage("general", "hi")})

	require.Eventually(t, func() bool {
		return sender.sentCount() == 3
	}, 2*time.Second, 5*time.Millisecond)

	recipients := make(map[string]bool)
	for _, frame := range sender.snapshot() {
		recipients[frame.sessionID] = true
		assert.Equal(t, "hi", frame.msg.Content)
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, recipients)
}

func TestDispatcherSkipsExcludedSession(t *testing.T) {
	sender := newFakeSender()
	d := NewDispatcher(fakeMembers{"general": {"a", "b"}}, sender, nil, nil, zerolog.Nop())

	d.Enqueue(BroadcastJob{
		Room:      "general",
		ExcludeID: "a",
		Message:   protocol.NewSystemMessage("general", "b joined the room"),
	})

	require.Eventually(t, func() bool {
		return sender.sentCount() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "b", sender.snapshot()[0].sessionID)
}

func TestDispatcherWaitsForJobBeforeStartingNext(t *testing.T) {
	sender := newFakeSender()
	sender.heldIDs["slow"] = true
	d := NewDispatcher(fakeMembers{
		"first":  {"slow"},
		"second": {"other"},
	}, sender, nil, nil, zerolog.Nop())

	d.Enqueue(BroadcastJob{Room: "first", Message: protocol.NewSystemMessage("first", "one")})
	d.Enqueue(BroadcastJob{Room: "second", Message: protocol.NewSystemMessage("second", "two")})

	require.Eventually(t, func() bool {
		return sender.sentCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	// The second job must not start while the first delivery is pending.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sender.sentCount())

	sender.release("slow")

	require.Eventually(t, func() bool {
		return sender.sentCount() == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "other", sender.snapshot()[1].sessionID)
}

func TestDispatcherProcessesJobsInSubmissionOrder(t *testing.T) {
	sender := newFakeSender()
	members := fakeMembers{}
	rooms := []string{"r0", "r1", "r2", "r3", "r4"}
	for _, room := range rooms {
		members[room] = []string{"member-" + room}
	}
	d := NewDispatcher(members, sender, nil, nil, zerolog.Nop())

	for _, room := range rooms {
		d.Enqueue(BroadcastJob{Room: room, Message: protocol.NewSystemMessage(room, room)})
	}

	require.Eventually(t, func() bool {
		return sender.sentCount() == len(rooms)
	}, 2*time.Second, 5*time.Millisecond)

	for i, frame := range sender.snapshot() {
		assert.Equal(t, rooms[i], frame.msg.Room)
	}
}

func TestDispatcherReportsFailuresWithoutAbortingJob(t *testing.T) {
	sender := newFakeSender()
	sender.failIDs["b"] = true
	obs := &recordingDispatchObserver{}
	d := NewDispatcher(fakeMembers{"general": {"a", "b", "c"}}, sender, obs, nil, zerolog.Nop())

	d.Enqueue(BroadcastJob{Room: "general", Message: protocol.NewSystemMessage("general", "hi")})
	d.Enqueue(BroadcastJob{Room: "general", Message: protocol.NewSystemMessage("general", "again")})

	require.Eventually(t, func() bool {
		return sender.sentCount() == 6
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(obs.snapshot()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	for _, failure := range obs.snapshot() {
		assert.Equal(t, "general/b", failure)
	}
}
