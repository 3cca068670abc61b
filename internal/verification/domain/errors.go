package domain

import "errors"

// ErrorKind classifies failures that are surfaced to the user as Session.LastError.
type ErrorKind string

// ErrorKind values.
const (
	ErrorKindNone ErrorKind = ""
	// ErrorKindValidation is a malformed phone number; detected locally, never reaches the network.
	ErrorKindValidation ErrorKind = "validation"
	// ErrorKindDispatch is a failed request-code call (initial send or resend).
	ErrorKindDispatch ErrorKind = "dispatch"
	// ErrorKindRejectedCode is a reachable service that did not accept the code.
	ErrorKindRejectedCode ErrorKind = "rejected_code"
	// ErrorKindVerifyTransport is a failed verify-code call.
	ErrorKindVerifyTransport ErrorKind = "verify_transport"
	// ErrorKindHandoff is a verified session that could not be persisted.
	ErrorKindHandoff ErrorKind = "handoff"
)

// User-facing messages.
const (
	MsgInvalidNumber    = "Please enter a valid Indian phone number (10 digits starting with 6-9)"
	MsgSendFailed       = "Failed to send verification code"
	MsgResendFailed     = "Failed to resend code"
	MsgInvalidCode      = "Invalid verification code"
	MsgVerifyFailed     = "Verification failed. Please try again."
	MsgSessionNotStored = "Verified, but the session could not be saved"
)

// Sentinel errors for rejected actions. The session is left untouched when these are returned.
var (
	ErrBusy           = errors.New("verification: a request is already in flight")
	ErrWrongStep      = errors.New("verification: action not allowed in current step")
	ErrCooldownActive = errors.New("verification: resend cooldown has not elapsed")
	ErrClosed         = errors.New("verification: flow is closed")
)

// FlowError is a failure that was recorded on the session as LastError.
type FlowError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *FlowError) Unwrap() error { return e.Err }

// ServiceMessenger is implemented by errors that carry a message reported by the verification service.
type ServiceMessenger interface {
	ServiceMessage() string
}

// ServiceMessage returns the service-provided message carried by err, or fallback.
func ServiceMessage(err error, fallback string) string {
	var sm ServiceMessenger
	if errors.As(err, &sm) {
		if msg := sm.ServiceMessage(); msg != "" {
			return msg
		}
	}
	return fallback
}
