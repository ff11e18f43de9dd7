package server

import (
	"sync"
	"time"

	"github.com/aeolun/roomcast/pkg/protocol"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session is one authenticated client connection.
type Session struct {
	ID string

	conn  Conn
	queue *WriteQueue

	mu            sync.RWMutex
	nickname      string
	rooms         map[string]struct{}
	status        protocol.PresenceStatus
	lastHeartbeat time.Time
	sequence      int64
}

func newSession(id, nickname string, conn Conn) *Session {
	return &Session{
		ID:            id,
		conn:          conn,
		queue:         NewWriteQueue(conn),
		nickname:      nickname,
		rooms:         make(map[string]struct{}),
		status:        protocol.StatusOnline,
		lastHeartbeat: time.Now(),
	}
}

// Nickname returns the session's nickname.
func (s *Session) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nickname
}

// Status returns the session's presence status.
func (s *Session) Status() protocol.PresenceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Rooms returns a snapshot of the rooms the session has joined.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		rooms = append(rooms, name)
	}
	return rooms
}

// InRoom reports whether the session has joined the room.
func (s *Session) InRoom(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.rooms[name]
	return ok
}

// LastHeartbeat returns the time of the last received heartbeat.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeat
}

// Sequence returns the last heartbeat sequence number seen.
func (s *Session) Sequence() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence
}

func (s *Session) touch(at time.Time, sequence int64) {
	s.mu.Lock()
	s.lastHeartbeat = at
	s.sequence = sequence
	s.mu.Unlock()
}

// addRoom and removeRoom are called by the RoomRegistry inside its own
// critical section so that session and room membership change together.
func (s *Session) addRoom(name string) {
	s.mu.Lock()
	s.rooms[name] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) removeRoom(name string) {
	s.mu.Lock()
	delete(s.rooms, name)
	s.mu.Unlock()
}

// SessionManager owns the session and nickname maps and drives the room
// registry and broadcast dispatcher from inbound protocol events. Connection
// state machine: unauthenticated -> authenticated -> terminated.
type SessionManager struct {
	cfg        Config
	log        zerolog.Logger
	rooms      *RoomRegistry
	dispatcher *Dispatcher
	metrics    *Metrics

	mu        sync.RWMutex
	sessions  map[string]*Session
	nicknames map[string]string // nickname -> session id

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewSessionManager creates a session manager wired to the given registry.
// Metrics may be nil.
func NewSessionManager(cfg Config, rooms *RoomRegistry, metrics *Metrics, log zerolog.Logger) *SessionManager {
	m := &SessionManager{
		cfg:       cfg,
		log:       log,
		rooms:     rooms,
		metrics:   metrics,
		sessions:  make(map[string]*Session),
		nicknames: make(map[string]string),
		shutdown:  make(chan struct{}),
	}
	m.dispatcher = NewDispatcher(rooms, m, nil, metrics, log)
	return m
}

// Dispatcher exposes the broadcast dispatcher, mainly for tests.
func (m *SessionManager) Dispatcher() *Dispatcher {
	return m.dispatcher
}

// StartSweeper launches the heartbeat liveness sweep. It runs at the
// heartbeat interval until Stop is called.
func (m *SessionManager) StartSweeper() {
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop terminates the sweep loop and waits for it to exit.
func (m *SessionManager) Stop() {
	close(m.shutdown)
	m.wg.Wait()
}

func (m *SessionManager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.checkHeartbeats()
		}
	}
}

// checkHeartbeats force-closes every session whose last heartbeat is older
// than the configured timeout. The closed transport takes the session through
// the normal disconnect path.
func (m *SessionManager) checkHeartbeats() {
	now := time.Now()
	for _, sess := range m.allSessions() {
		if now.Sub(sess.LastHeartbeat()) <= m.cfg.HeartbeatTimeout {
			continue
		}
		m.log.Warn().
			Str("session_id", sess.ID).
			Str("nickname", sess.Nickname()).
			Msg("heartbeat timeout, disconnecting client")
		if m.metrics != nil {
			m.metrics.RecordHeartbeatTimeout()
		}
		sess.conn.Close(CloseGoingAway, "heartbeat timeout")
		m.disconnect(sess.ID)
	}
}

// Count returns the number of authenticated sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *SessionManager) session(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *SessionManager) allSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// HandleConnection runs the read loop for one transport connection. It
// returns when the connection dies or is force-closed; the caller runs it on
// its own goroutine.
func (m *SessionManager) HandleConnection(conn Conn) {
	if m.Count() >= m.cfg.MaxConnections {
		m.log.Warn().Str("remote", conn.RemoteAddr()).Msg("connection refused, server at capacity")
		if m.metrics != nil {
			m.metrics.RecordAuthRejection("capacity")
		}
		conn.Close(CloseTryAgainLater, "server at capacity")
		return
	}

	clientID := uuid.NewString()
	m.log.Info().Str("client_id", clientID).Str("remote", conn.RemoteAddr()).Msg("incoming connection")

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			m.disconnect(clientID)
			return
		}
		m.handleFrame(clientID, conn, raw)
	}
}

// handleFrame decodes and routes one inbound frame. A malformed frame only
// draws an ERROR reply; the connection keeps reading.
func (m *SessionManager) handleFrame(clientID string, conn Conn, raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		m.log.Warn().Str("client_id", clientID).Err(err).Msg("failed to parse incoming message")
		m.writeDirect(conn, protocol.NewErrorMessage(DefaultRoom, "invalid message payload"))
		return
	}

	if m.metrics != nil {
		m.metrics.RecordMessageReceived(string(msg.Type))
	}

	sess := m.session(clientID)
	if sess == nil && msg.Type != protocol.TypeJoin {
		if m.metrics != nil {
			m.metrics.RecordAuthRejection("auth_required")
		}
		m.writeDirect(conn, protocol.NewErrorMessage(DefaultRoom, "authenticate first with JOIN"))
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		if sess == nil {
			m.authenticate(clientID, conn, msg)
		} else {
			m.joinRoom(sess, msg)
		}
	case protocol.TypeMessage:
		m.broadcastMessage(sess, msg)
	case protocol.TypeLeave:
		m.leaveRoom(sess, msg)
	case protocol.TypeHeartbeat:
		sess.touch(time.Now(), msg.HeartbeatSequence())
	case protocol.TypeFile:
		// Chunk reassembly is an intentionally unimplemented boundary; file
		// frames are validated and logged only.
		m.log.Info().
			Str("client_id", clientID).
			Str("file_name", msg.FileName()).
			Msg("file transfer message received (placeholder stream handling)")
	default:
		m.log.Warn().Str("type", string(msg.Type)).Msg("unhandled message type")
	}
}

// authenticate turns an unauthenticated connection into a session on its
// first JOIN frame. A nickname already held by a live session rejects the
// connection outright.
func (m *SessionManager) authenticate(clientID string, conn Conn, msg *protocol.Message) {
	nickname := msg.Sender
	initialRoom := msg.Room
	if initialRoom == "" {
		initialRoom = DefaultRoom
	}

	m.mu.Lock()
	if _, taken := m.nicknames[nickname]; taken {
		m.mu.Unlock()
		m.log.Warn().Str("client_id", clientID).Str("nickname", nickname).Msg("nickname already in use")
		if m.metrics != nil {
			m.metrics.RecordAuthRejection("nickname_in_use")
		}
		m.writeDirect(conn, protocol.NewErrorMessage(DefaultRoom, "nickname already in use"))
		conn.Close(ClosePolicyViolation, "nickname in use")
		return
	}

	sess := newSession(clientID, nickname, conn)
	m.sessions[clientID] = sess
	m.nicknames[nickname] = clientID
	sessionCount := len(m.sessions)
	m.mu.Unlock()

	m.rooms.Join(initialRoom, sess)

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.RecordActiveSessions(sessionCount)
	}

	m.Send(clientID, protocol.NewSystemMessage(initialRoom, "Welcome, "+nickname+"!"))
	m.publishPresence()
	m.log.Info().Str("client_id", clientID).Str("nickname", nickname).Msg("client authenticated")

	m.dispatcher.Enqueue(BroadcastJob{
		Room:      initialRoom,
		ExcludeID: clientID,
		Message:   protocol.NewSystemMessage(initialRoom, nickname+" joined the room"),
	})
}

// broadcastMessage re-stamps a chat message with the session's nickname and a
// fresh timestamp and queues it for fan-out, echoing to the sender too.
func (m *SessionManager) broadcastMessage(sess *Session, msg *protocol.Message) {
	if !sess.InRoom(msg.Room) {
		m.sendError(sess, "join room "+msg.Room+" before sending messages")
		return
	}

	payload := *msg
	payload.Sender = sess.Nickname()
	payload.Timestamp = protocol.Now()

	m.dispatcher.Enqueue(BroadcastJob{Room: msg.Room, Message: &payload})
}

// joinRoom handles a JOIN from an already-authenticated session: an
// additional room membership.
func (m *SessionManager) joinRoom(sess *Session, msg *protocol.Message) {
	if sess.InRoom(msg.Room) {
		m.sendError(sess, "already in room "+msg.Room)
		return
	}

	m.rooms.Join(msg.Room, sess)
	m.dispatcher.Enqueue(BroadcastJob{
		Room:    msg.Room,
		Message: protocol.NewSystemMessage(msg.Room, sess.Nickname()+" joined the room"),
	})
}

func (m *SessionManager) leaveRoom(sess *Session, msg *protocol.Message) {
	if !sess.InRoom(msg.Room) {
		m.sendError(sess, "not in room "+msg.Room)
		return
	}

	m.rooms.Leave(msg.Room, sess)
	m.dispatcher.Enqueue(BroadcastJob{
		Room:    msg.Room,
		Message: protocol.NewSystemMessage(msg.Room, sess.Nickname()+" left the room"),
	})
}

// disconnect tears down a session: transport close, per-room leave and
// notices, nickname release, presence republish. Idempotent; every exit path
// of a connection funnels through here.
func (m *SessionManager) disconnect(clientID string) {
	m.mu.Lock()
	sess, ok := m.sessions[clientID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, clientID)
	delete(m.nicknames, sess.Nickname())
	sessionCount := len(m.sessions)
	m.mu.Unlock()

	m.log.Info().Str("client_id", clientID).Str("nickname", sess.Nickname()).Msg("client disconnected")

	nickname := sess.Nickname()
	for _, roomName := range sess.Rooms() {
		m.rooms.Leave(roomName, sess)
		m.dispatcher.Enqueue(BroadcastJob{
			Room:    roomName,
			Message: protocol.NewSystemMessage(roomName, nickname+" disconnected"),
		})
	}

	// One more notice to the default room, whether or not the session was a
	// member. Deliberate redundancy kept for client compatibility.
	m.dispatcher.Enqueue(BroadcastJob{
		Room:    DefaultRoom,
		Message: protocol.NewSystemMessage(DefaultRoom, nickname+" disconnected"),
	})

	sess.conn.Close(CloseGoingAway, "session terminated")

	if m.metrics != nil {
		m.metrics.RecordSessionDisconnected()
		m.metrics.RecordActiveSessions(sessionCount)
	}

	m.publishPresence()
}

// Send delivers one message to one session through its write queue. A
// session that no longer exists resolves immediately without error, matching
// the fire-and-forget semantics broadcasts rely on.
func (m *SessionManager) Send(sessionID string, msg *protocol.Message) *Delivery {
	sess := m.session(sessionID)
	if sess == nil {
		return resolvedDelivery(nil)
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return resolvedDelivery(err)
	}

	if m.metrics != nil {
		m.metrics.RecordMessageSent(string(msg.Type))
	}
	return sess.queue.Enqueue(data)
}

func (m *SessionManager) sendError(sess *Session, content string) {
	m.Send(sess.ID, protocol.NewErrorMessage(DefaultRoom, content))
}

// writeDirect writes to a connection that has no session yet (decode errors,
// auth failures). Bypasses the write queue on purpose.
func (m *SessionManager) writeDirect(conn Conn, msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		m.log.Warn().Str("remote", conn.RemoteAddr()).Err(err).Msg("direct write failed")
	}
}

// publishPresence sends a full-state presence snapshot to every live session:
// each publish enumerates every connected nickname with its status.
func (m *SessionManager) publishPresence() {
	sessions := m.allSessions()

	users := make([]protocol.PresenceUser, 0, len(sessions))
	for _, sess := range sessions {
		users = append(users, protocol.PresenceUser{
			Nickname: sess.Nickname(),
			Status:   sess.Status(),
		})
	}
	snapshot := protocol.NewPresenceMessage(DefaultRoom, users)

	for _, sess := range sessions {
		m.Send(sess.ID, snapshot)
	}
}

// CloseAll closes every session's transport with the given close code and
// clears the session set. Used during graceful shutdown.
func (m *SessionManager) CloseAll(code int, reason string) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*Session)
	m.nicknames = make(map[string]string)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.conn.Close(code, reason)
	}
}
