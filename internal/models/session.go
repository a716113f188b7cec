// Package models defines the session events the relay publishes.
package models

import "encoding/json"

// Event type names.
const (
	EventSessionStarted = "interview.session.started"
	EventSessionClosed  = "interview.session.closed"
	EventScoreReceived  = "interview.score.received"
)

// SessionStarted is emitted once the backend connection is configured.
type SessionStarted struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	JobTitle  string `json:"jobTitle"`
	Timestamp int64  `json:"timestamp"`
}

// SessionClosed is emitted when both sockets of a session have been released.
type SessionClosed struct {
	EventType       string `json:"eventType"`
	SessionID       string `json:"sessionId"`
	Reason          string `json:"reason"`
	LastState       string `json:"lastState"`
	DurationMs      int64  `json:"durationMs"`
	ClientMessages  int64  `json:"clientMessages"`
	BackendMessages int64  `json:"backendMessages"`
	Scored          bool   `json:"scored"`
	Timestamp       int64  `json:"timestamp"`
}

// ScoreReceived carries the scoring function arguments exactly as the backend sent them.
type ScoreReceived struct {
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Arguments json.RawMessage `json:"arguments"`
	Timestamp int64           `json:"timestamp"`
}
