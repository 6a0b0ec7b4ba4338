package protocol

import (
	"encoding/json"
	"time"
)

// TurnCompleted is broadcast after a pipeline run reached COMPLETE.
type TurnCompleted struct {
	SessionID  string    `json:"session_id"`
	FileCode   string    `json:"file_code"`
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// TurnFailed is broadcast after a pipeline run reached FAILED.
type TurnFailed struct {
	SessionID  string    `json:"session_id"`
	Stage      string    `json:"stage"`
	Kind       string    `json:"kind"`
	Error      string    `json:"error"`
	FileCode   string    `json:"file_code,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// LocationReport carries raw coordinate telemetry from a client.
type LocationReport struct {
	Coords    json.RawMessage `json:"coords"`
	Timestamp time.Time       `json:"timestamp"`
}

const (
	SubjectTurnCompleted  = "guide.turn.completed"
	SubjectTurnFailed     = "guide.turn.failed"
	SubjectLocationReport = "guide.location.report"
)
