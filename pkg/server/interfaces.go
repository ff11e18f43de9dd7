package server

// Conn is the transport seen by the session layer: one inbound frame per
// ReadMessage call, one outbound frame per WriteMessage call. The WebSocket
// adapter implements it; tests substitute in-memory fakes.
type Conn interface {
	// ReadMessage blocks until the next inbound frame or a transport error.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one frame. Callers must serialize writes; the
	// per-session WriteQueue guarantees that.
	WriteMessage(data []byte) error

	// Close sends a close frame with the given status code and reason, then
	// tears down the transport. Safe to call more than once.
	Close(code int, reason string) error

	// RemoteAddr identifies the peer for logging.
	RemoteAddr() string
}

// WebSocket close codes used by the server.
const (
	CloseGoingAway       = 1001 // server shutting down
	ClosePolicyViolation = 1008 // nickname conflict
	CloseTryAgainLater   = 1013 // connection limit reached
)
