package models

import "time"

type EventType string

const (
	EventRequestCreated   EventType = "request.created"
	EventRequestClaimed   EventType = "request.claimed"
	EventRequestRejected  EventType = "request.rejected"
	EventRequestCancelled EventType = "request.cancelled"
	EventRequestCompleted EventType = "request.completed"
)

// Event describes one successful lifecycle transition.
type Event struct {
	Type       EventType         `json:"type"`
	RequestID  string            `json:"requestId"`
	ProviderID string            `json:"providerId,omitempty"`
	Status     Status            `json:"status"`
	At         time.Time         `json:"at"`
	Request    *EmergencyRequest `json:"request,omitempty"`
}
