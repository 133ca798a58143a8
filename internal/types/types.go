package types

import "time"

type Event struct {
	Seq     int64          `json:"seq"`
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Session is the registry record of a discussion. Live state lives in the
// orchestrator; this is what survives for listing and the event log.
type Session struct {
	ID        string     `json:"session_id"`
	Topic     string     `json:"topic"`
	JobTitle  string     `json:"job_title"`
	Company   string     `json:"company,omitempty"`
	KeyPoints []string   `json:"key_points"`
	CreatedAt time.Time  `json:"created_at"`
	Status    string     `json:"status"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

const (
	StatusActive    = "active"
	StatusEvaluated = "evaluated"
	StatusEnded     = "ended"
)
