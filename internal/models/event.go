package models

import "time"

// Event types written to the telemetry log.
const (
	EventDispense    = "DISPENSE"
	EventError       = "ERROR"
	EventStop        = "STOP"
	EventReset       = "RESET"
	EventMaintenance = "MAINTENANCE"
)

// Event is a single telemetry log entry.
type Event struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // DISPENSE | ERROR | STOP | RESET | MAINTENANCE
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}

// ErrorRecord is one entry of the in-memory error history.
type ErrorRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Component string    `json:"component,omitempty"`
	Processed bool      `json:"processed"`
}
