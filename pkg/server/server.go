package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aeolun/roomcast/pkg/compress"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server wires the room registry, session manager, compression pool and HTTP
// surface together and owns their lifecycle.
type Server struct {
	cfg      Config
	log      zerolog.Logger
	metrics  *Metrics
	rooms    *RoomRegistry
	sessions *SessionManager
	pool     *compress.Pool

	listener   net.Listener
	httpServer *http.Server
	startTime  time.Time
}

// NewServer creates a server instance. Metrics may be nil.
func NewServer(cfg Config, log zerolog.Logger, metrics *Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
	}

	events := &roomEvents{server: s}
	s.rooms = NewRoomRegistry(cfg.DefaultRooms, events)
	s.sessions = NewSessionManager(cfg, s.rooms, metrics, log)
	s.pool = compress.NewPool(cfg.CompressionWorkers, log, &poolEvents{server: s})

	return s
}

// Rooms exposes the room registry.
func (s *Server) Rooms() *RoomRegistry {
	return s.rooms
}

// Sessions exposes the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Pool exposes the compression worker pool.
func (s *Server) Pool() *compress.Pool {
	return s.pool
}

// Handler builds the HTTP mux: websocket upgrade, health, room listing and
// Prometheus metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/rooms", s.RoomsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start binds the listener and begins serving. An unavailable port is the
// sole fatal startup condition; the caller exits non-zero on error.
func (s *Server) Start() error {
	addr := s.cfg.Addr()
	listener, err := listen(addr, s.cfg.ReusePort)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = time.Now()

	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		IdleTimeout: 60 * time.Second,
	}

	s.sessions.StartSweeper()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("http server error")
		}
	}()

	s.log.Info().Str("addr", addr).Msg("chat server listening")
	return nil
}

// Stop drains gracefully: every client is closed with a shutdown code, the
// sweep ticker stops, the pool drains its workers, the listener closes.
func (s *Server) Stop() error {
	s.sessions.CloseAll(CloseGoingAway, "server shutting down")
	s.sessions.Stop()
	s.pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}

	s.log.Info().Msg("shutdown complete")
	return nil
}

// roomEvents is the registry observer: structured logs plus the room gauge.
type roomEvents struct {
	server *Server
}

func (e *roomEvents) RoomCreated(info RoomInfo) {
	e.server.log.Info().Str("room", info.Name).Msg("room created")
	if e.server.metrics != nil {
		e.server.metrics.RecordActiveRooms(e.server.rooms.Count())
	}
}

func (e *roomEvents) RoomRemoved(name string) {
	e.server.log.Info().Str("room", name).Msg("room removed")
	if e.server.metrics != nil {
		e.server.metrics.RecordActiveRooms(e.server.rooms.Count())
	}
}

func (e *roomEvents) MemberJoined(roomName string, sess *Session) {
	e.server.log.Debug().Str("room", roomName).Str("nickname", sess.Nickname()).Msg("member joined")
}

func (e *roomEvents) MemberLeft(roomName string, sess *Session) {
	e.server.log.Debug().Str("room", roomName).Str("nickname", sess.Nickname()).Msg("member left")
}

// poolEvents receives compression pool outcomes.
type poolEvents struct {
	server *Server
}

func (e *poolEvents) CompressionResult(res compress.Result) {
	e.server.log.Info().
		Str("job_id", res.ID).
		Str("file_name", res.FileName).
		Int("compressed_bytes", len(res.Data)).
		Msg("file compressed")
	if e.server.metrics != nil {
		e.server.metrics.RecordCompressionJob()
	}
}

func (e *poolEvents) CompressionError(jobID string, err error) {
	e.server.log.Error().Str("job_id", jobID).Err(err).Msg("compression failed")
	if e.server.metrics != nil {
		e.server.metrics.RecordCompressionError()
	}
}
