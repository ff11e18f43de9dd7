// Package protocol defines the JSON wire envelope exchanged between clients
// and the server: one JSON object per WebSocket text frame, discriminated by
// the Type field. Decoding validates structure; encoding trusts the caller.
package protocol

import (
	"encoding/json"
	"time"
)

// MessageType discriminates the wire envelope.
type MessageType string

const (
	TypeMessage   MessageType = "MESSAGE"
	TypeJoin      MessageType = "JOIN"
	TypeLeave     MessageType = "LEAVE"
	TypeFile      MessageType = "FILE"
	TypeHeartbeat MessageType = "HEARTBEAT"
	TypeSystem    MessageType = "SYSTEM"
	TypeError     MessageType = "ERROR"
	TypePresence  MessageType = "PRESENCE"
)

// PresenceStatus is the advertised availability of a connected user.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// SystemSender is the sender field used on server-originated frames.
const SystemSender = "system"

// TimestampLayout is ISO-8601 UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Message is the wire envelope. Content is required for MESSAGE, SYSTEM,
// ERROR and FILE frames and optional elsewhere; Metadata carries the
// type-specific fields (heartbeat sequence, file descriptor, presence list).
// Content is always serialized, even when empty: an empty chat message is
// valid and must survive an encode/decode cycle.
type Message struct {
	Type      MessageType            `json:"type"`
	Sender    string                 `json:"sender"`
	Room      string                 `json:"room"`
	Timestamp string                 `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Content   string                 `json:"content"`
}

// PresenceUser is one entry in a PRESENCE frame's user list.
type PresenceUser struct {
	Nickname string         `json:"nickname"`
	Status   PresenceStatus `json:"status"`
}

// Now returns the current time formatted for the Timestamp field.
func Now() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// Encode serialises a trusted, internally-constructed message. It performs no
// validation; Decode is the validating counterpart for untrusted input.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// NewSystemMessage builds a server-originated SYSTEM frame for a room.
func NewSystemMessage(room, content string) *Message {
	return &Message{
		Type:      TypeSystem,
		Sender:    SystemSender,
		Room:      room,
		Timestamp: Now(),
		Content:   content,
	}
}

// NewErrorMessage builds a server-originated ERROR frame for a room.
func NewErrorMessage(room, content string) *Message {
	return &Message{
		Type:      TypeError,
		Sender:    SystemSender,
		Room:      room,
		Timestamp: Now(),
		Content:   content,
	}
}

// NewPresenceMessage builds a full-state PRESENCE snapshot frame.
func NewPresenceMessage(room string, users []PresenceUser) *Message {
	entries := make([]interface{}, len(users))
	for i, u := range users {
		entries[i] = map[string]interface{}{
			"nickname": u.Nickname,
			"status":   string(u.Status),
		}
	}
	return &Message{
		Type:      TypePresence,
		Sender:    SystemSender,
		Room:      room,
		Timestamp: Now(),
		Metadata:  map[string]interface{}{"users": entries},
	}
}

// HeartbeatSequence extracts the sequence number from a validated HEARTBEAT
// frame. Returns 0 if the frame carries no sequence.
func (m *Message) HeartbeatSequence() int64 {
	if m.Metadata == nil {
		return 0
	}
	if seq, ok := m.Metadata["sequence"].(float64); ok {
		return int64(seq)
	}
	return 0
}

// FileName extracts the file name from a validated FILE frame.
func (m *Message) FileName() string {
	if m.Metadata == nil {
		return ""
	}
	name, _ := m.Metadata["fileName"].(string)
	return name
}
