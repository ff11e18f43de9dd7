package server

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(id string) *Session {
	return newSession(id, "user-"+id, &fakeConn{inbound: make(chan []byte)})
}

func TestRegistrySeedsDefaultRooms(t *testing.T) {
	reg := NewRoomRegistry([]string{"general", "random"}, nil)

	assert.True(t, reg.Has("general"))
	assert.True(t, reg.Has("random"))
	assert.Equal(t, 2, reg.Count())
}

func TestDefaultRoomSurvivesBecomingEmpty(t *testing.T) {
	reg := NewRoomRegistry([]string{DefaultRoom}, nil)
	sess := testSession("s1")

	reg.Join(DefaultRoom, sess)
	reg.Leave(DefaultRoom, sess)

	assert.True(t, reg.Has(DefaultRoom))
	assert.Empty(t, reg.Members(DefaultRoom))
}

func TestJoinCreatesRoomOnDemand(t *testing.T) {
	reg := NewRoomRegistry([]string{DefaultRoom}, nil)
	sess := testSession("s1")

	require.False(t, reg.Has("dev"))
	reg.Join("dev", sess)

	assert.True(t, reg.Has("dev"))
	assert.Equal(t, []string{"s1"}, reg.Members("dev"))
	assert.True(t, sess.InRoom("dev"))
}

func TestLeaveRemovesEmptyNonDefaultRoom(t *testing.T) {
	reg := NewRoomRegistry([]string{DefaultRoom}, nil)
	a := testSession("a")
	b := testSession("b")

	reg.Join("dev", a)
	reg.Join("dev", b)

	reg.Leave("dev", a)
	assert.True(t, reg.Has("dev"), "room with remaining members stays")
	assert.False(t, a.InRoom("dev"))

	reg.Leave("dev", b)
	assert.False(t, reg.Has("dev"), "last member leaving removes the room")
}

func TestLeaveUnknownRoomIsNoop(t *testing.T) {
	reg := NewRoomRegistry([]string{DefaultRoom}, nil)
	sess := testSession("s1")

	reg.Leave("nope", sess)
	assert.Equal(t, 1, reg.Count())
}

func TestCreateIsIdempotent(t *testing.T) {
	reg := NewRoomRegistry(nil, nil)

	first := reg.Create(RoomInfo{Name: "dev", Owner: "alice", CreatedAt: time.Now()})
	second := reg.Create(RoomInfo{Name: "dev", Owner: "bob"})

	assert.Equal(t, "alice", first.Owner)
	assert.Equal(t, "alice", second.Owner, "existing room wins over the argument")
	assert.Equal(t, 1, reg.Count())
}

func TestListReportsParticipantCounts(t *testing.T) {
	reg := NewRoomRegistry([]string{DefaultRoom}, nil)
	a := testSession("a")
	b := testSession("b")

	reg.Join(DefaultRoom, a)
	reg.Join(DefaultRoom, b)
	reg.Join("dev", a)

	byName := make(map[string]int)
	for _, summary := range reg.List() {
		byName[summary.Name] = summary.Participants
	}

	assert.Equal(t, map[string]int{DefaultRoom: 2, "dev": 1}, byName)
}

// recordingRoomObserver collects registry events for assertions.
type recordingRoomObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingRoomObserver) record(event string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
}

func (o *recordingRoomObserver) RoomCreated(info RoomInfo)            { o.record("created:" + info.Name) }
func (o *recordingRoomObserver) RoomRemoved(name string)              { o.record("removed:" + name) }
func (o *recordingRoomObserver) MemberJoined(room string, s *Session) { o.record("joined:" + room) }
func (o *recordingRoomObserver) MemberLeft(room string, s *Session)   { o.record("left:" + room) }

func TestObserverSeesRoomLifecycle(t *testing.T) {
	obs := &recordingRoomObserver{}
	reg := NewRoomRegistry([]string{DefaultRoom}, obs)
	sess := testSession("s1")

	reg.Join("dev", sess)
	reg.Leave("dev", sess)

	assert.Equal(t, []string{"created:dev", "joined:dev", "left:dev", "removed:dev"}, obs.events)
}
