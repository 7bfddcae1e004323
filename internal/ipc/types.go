package ipc

import (
	"time"

	"brownout/internal/daemon"
	"brownout/internal/journal"
)

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse carries the full daemon snapshot.
type StatusResponse struct {
	Status daemon.Status `json:"status"`
}

// ShutdownRequest arms the shutdown countdown.
type ShutdownRequest struct {
	Reason string `json:"reason"`
}

// ShutdownResponse reports whether the countdown was armed.
type ShutdownResponse struct {
	Armed   bool   `json:"armed"`
	Message string `json:"message"`
}

// CancelRequest aborts an armed countdown.
type CancelRequest struct{}

// CancelResponse reports the cancellation result.
type CancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message"`
}

// RegisterRequest adds a dependent service to the notification gateway.
type RegisterRequest struct {
	Service string `json:"service"`
}

// RegisterResponse returns the service's acknowledgement token.
type RegisterResponse struct {
	Token string `json:"token"`
}

// UnregisterRequest removes a dependent service.
type UnregisterRequest struct {
	Token string `json:"token"`
}

// UnregisterResponse acknowledges removal.
type UnregisterResponse struct{}

// AckRequest records a service's shutdown acknowledgement.
type AckRequest struct {
	Token string `json:"token"`
}

// AckResponse acknowledges the ack.
type AckResponse struct{}

// AwaitNoticeRequest long-polls for a shutdown notice. WaitMillis bounds
// the poll; zero means the server default.
type AwaitNoticeRequest struct {
	Token      string `json:"token"`
	WaitMillis int    `json:"wait_millis"`
}

// AwaitNoticeResponse delivers a notice, or Pending=true when the poll
// timed out without one.
type AwaitNoticeResponse struct {
	Pending  bool      `json:"pending"`
	Reason   string    `json:"reason,omitempty"`
	Deadline time.Time `json:"deadline,omitzero"`
}

// EventsRequest fetches recent journal entries.
type EventsRequest struct {
	Limit int `json:"limit"`
}

// Event mirrors a journal entry for IPC callers.
type Event struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	Phase     string    `json:"phase,omitempty"`
	Step      string    `json:"step,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventsResponse contains journal entries, newest first.
type EventsResponse struct {
	Events []Event `json:"events"`
}

// JournalHealthRequest runs journal diagnostics.
type JournalHealthRequest struct{}

// JournalHealthResponse carries the diagnostics result.
type JournalHealthResponse struct {
	Health journal.DatabaseHealth `json:"health"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
