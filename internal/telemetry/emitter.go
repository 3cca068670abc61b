// Package telemetry defines verification flow events and best-effort emitters for them.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Event types emitted by the verification flow.
const (
	EventNumberRejected   = "number_rejected"
	EventCodeRequested    = "code_requested"
	EventCodeRequestError = "code_request_failed"
	EventCodeResent       = "code_resent"
	EventCodeVerified     = "code_verified"
	EventCodeRejected     = "code_rejected"
	EventVerifyError      = "verify_failed"
	EventSessionStored    = "session_stored"
)

// Event is a single verification flow event. Phone is always masked.
type Event struct {
	SessionID string          `json:"sessionId"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	Phone     string          `json:"phone,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// EventEmitter emits telemetry events (e.g. to OTel Logs or Kafka). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}

// Multi fans an event out to every non-nil emitter and joins their errors.
type Multi []EventEmitter

// Emit sends event to each emitter in order.
func (m Multi) Emit(ctx context.Context, event *Event) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
