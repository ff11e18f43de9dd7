package protocol

import (
	"encoding/json"
	"math"
	"regexp"
)

// DecodeError reports a malformed or structurally invalid frame. It is
// distinct from transport errors: a DecodeError never justifies dropping the
// connection, only an ERROR reply to the sender.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "invalid message: " + e.Reason
}

var timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z`)

// wireMessage mirrors Message with pointer fields so that absent and
// wrongly-typed base fields can be told apart during validation.
type wireMessage struct {
	Type      *string                `json:"type"`
	Sender    *string                `json:"sender"`
	Room      *string                `json:"room"`
	Timestamp *string                `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
	Content   *string                `json:"content"`
}

// fileMetadataKeys must all be present in a FILE frame's metadata.
var fileMetadataKeys = []string{"fileName", "fileSize", "mimeType", "checksum", "totalChunks"}

// Decode parses and structurally validates an untrusted frame. All failures
// are reported as *DecodeError.
func Decode(raw []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}

	if w.Type == nil {
		return nil, &DecodeError{Reason: "missing type"}
	}
	if w.Sender == nil {
		return nil, &DecodeError{Reason: "missing sender"}
	}
	if w.Room == nil {
		return nil, &DecodeError{Reason: "missing room"}
	}
	if w.Timestamp == nil || !timestampPattern.MatchString(*w.Timestamp) {
		return nil, &DecodeError{Reason: "missing or malformed timestamp"}
	}

	m := &Message{
		Type:      MessageType(*w.Type),
		Sender:    *w.Sender,
		Room:      *w.Room,
		Timestamp: *w.Timestamp,
		Metadata:  w.Metadata,
	}
	if w.Content != nil {
		m.Content = *w.Content
	}

	switch m.Type {
	case TypeMessage, TypeSystem, TypeError:
		if w.Content == nil {
			return nil, &DecodeError{Reason: "content is required for " + string(m.Type)}
		}
	case TypeJoin, TypeLeave:
		// Base fields only; content is optional.
	case TypeHeartbeat:
		if !hasIntegerSequence(w.Metadata) {
			return nil, &DecodeError{Reason: "heartbeat requires integer metadata.sequence"}
		}
	case TypeFile:
		if w.Metadata == nil || w.Content == nil {
			return nil, &DecodeError{Reason: "file frame requires metadata and content"}
		}
		for _, key := range fileMetadataKeys {
			if _, ok := w.Metadata[key]; !ok {
				return nil, &DecodeError{Reason: "file frame missing metadata." + key}
			}
		}
	case TypePresence:
		if err := validatePresenceUsers(w.Metadata); err != nil {
			return nil, err
		}
	default:
		return nil, &DecodeError{Reason: "unknown type " + *w.Type}
	}

	return m, nil
}

func hasIntegerSequence(metadata map[string]interface{}) bool {
	if metadata == nil {
		return false
	}
	seq, ok := metadata["sequence"].(float64)
	return ok && seq == math.Trunc(seq)
}

func validatePresenceUsers(metadata map[string]interface{}) error {
	if metadata == nil {
		return &DecodeError{Reason: "presence requires metadata.users"}
	}
	users, ok := metadata["users"].([]interface{})
	if !ok {
		return &DecodeError{Reason: "presence requires metadata.users as a list"}
	}
	for _, entry := range users {
		user, ok := entry.(map[string]interface{})
		if !ok {
			return &DecodeError{Reason: "presence user entries must be objects"}
		}
		nickname, ok := user["nickname"].(string)
		if !ok || nickname == "" {
			return &DecodeError{Reason: "presence user requires a non-empty nickname"}
		}
		status, ok := user["status"].(string)
		if !ok || !isPresenceStatus(PresenceStatus(status)) {
			return &DecodeError{Reason: "presence user requires status online/away/offline"}
		}
	}
	return nil
}

func isPresenceStatus(s PresenceStatus) bool {
	switch s {
	case StatusOnline, StatusAway, StatusOffline:
		return true
	}
	return false
}
