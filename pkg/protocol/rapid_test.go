package protocol

import (
	"testing"

	"pgregory.net/rapid"
)

// TestMessageRoundTrip tests that any structurally valid chat message survives
// an encode/decode cycle unchanged.
func TestMessageRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msgType := rapid.SampledFrom([]MessageType{TypeMessage, TypeSystem, TypeError}).Draw(t, "type")
		sender := rapid.String().Draw(t, "sender")
		room := rapid.String().Draw(t, "room")
		content := rapid.String().Draw(t, "content")

		original := &Message{
			Type:      msgType,
			Sender:    sender,
			Room:      room,
			Timestamp: Now(),
			Content:   content,
		}

		data, err := Encode(original)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded.Type != original.Type {
			t.Fatalf("type mismatch: got %q, want %q", decoded.Type, original.Type)
		}
		if decoded.Sender != original.Sender {
			t.Fatalf("sender mismatch: got %q, want %q", decoded.Sender, original.Sender)
		}
		if decoded.Room != original.Room {
			t.Fatalf("room mismatch: got %q, want %q", decoded.Room, original.Room)
		}
		if decoded.Timestamp != original.Timestamp {
			t.Fatalf("timestamp mismatch: got %q, want %q", decoded.Timestamp, original.Timestamp)
		}
		if decoded.Content != original.Content {
			t.Fatalf("content mismatch: got %q, want %q", decoded.Content, original.Content)
		}
	})
}

// TestHeartbeatSequenceRoundTrip tests that any integer sequence survives the
// JSON metadata path.
func TestHeartbeatSequenceRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// Sequences beyond 2^53 lose precision in JSON numbers; the client
		// counter starts at 1 and increments per heartbeat, so this range is
		// far beyond anything a live connection produces.
		seq := rapid.Int64Range(0, 1<<53).Draw(t, "sequence")

		original := &Message{
			Type:      TypeHeartbeat,
			Sender:    "alice",
			Room:      "general",
			Timestamp: Now(),
			Metadata:  map[string]interface{}{"sequence": seq},
		}

		data, err := Encode(original)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := Decode(data)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded.HeartbeatSequence() != seq {
			t.Fatalf("sequence mismatch: got %d, want %d", decoded.HeartbeatSequence(), seq)
		}
	})
}
