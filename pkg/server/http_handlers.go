package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(s.startTime).Seconds()),
		"active_sessions": s.sessions.Count(),
		"rooms":           s.rooms.Count(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.log.Warn().Err(err).Msg("error encoding health JSON")
	}
}

// RoomsHandler serves the current room listing as JSON.
func (s *Server) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	type roomEntry struct {
		Name         string `json:"name"`
		Private      bool   `json:"private"`
		Owner        string `json:"owner,omitempty"`
		Topic        string `json:"topic,omitempty"`
		CreatedAt    string `json:"createdAt"`
		Participants int    `json:"participants"`
	}

	summaries := s.rooms.List()
	entries := make([]roomEntry, 0, len(summaries))
	for _, summary := range summaries {
		entries = append(entries, roomEntry{
			Name:         summary.Name,
			Private:      summary.Private,
			Owner:        summary.Owner,
			Topic:        summary.Topic,
			CreatedAt:    summary.CreatedAt.UTC().Format(time.RFC3339),
			Participants: summary.Participants,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"rooms": entries,
		"count": len(entries),
	}); err != nil {
		s.log.Warn().Err(err).Msg("error encoding rooms JSON")
	}
}
