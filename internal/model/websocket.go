package model

import "encoding/json"

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a progress update
type WSProgressMessage struct {
	Type        string   `json:"type"`
	JobID       string   `json:"jobId"`
	Seq         uint64   `json:"seq"`
	Kind        JobKind  `json:"kind"`
	State       JobState `json:"state"`
	Progress    int      `json:"progress"`
	CurrentStep string   `json:"currentStep,omitempty"`
}

// WSCompleteMessage represents job completion
type WSCompleteMessage struct {
	Type   string          `json:"type"`
	JobID  string          `json:"jobId"`
	Seq    uint64          `json:"seq"`
	Kind   JobKind         `json:"kind"`
	Result json.RawMessage `json:"result"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Seq   uint64  `json:"seq"`
	Kind  JobKind `json:"kind"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WSEnvelope decodes any server message; fields absent for a type stay zero
type WSEnvelope struct {
	Type     string          `json:"type"`
	JobID    string          `json:"jobId"`
	Seq      uint64          `json:"seq"`
	Kind     JobKind         `json:"kind"`
	State    JobState        `json:"state"`
	Progress int             `json:"progress"`
	Result   json.RawMessage `json:"result"`
	Error    *WSError        `json:"error"`
}
