package domain

import (
	"encoding/json"
	"fmt"

	"phone-login/client/internal/phone"
)

// Step is the stage of a verification session.
type Step string

// Step values.
const (
	StepAwaitingNumber Step = "awaiting_number"
	StepAwaitingCode   Step = "awaiting_code"
	StepVerified       Step = "verified"
)

// DefaultCooldownSeconds is how long the resend control stays locked after a code is dispatched.
const DefaultCooldownSeconds = 30

// Session is the state of one login attempt. It is a value type; the flow hands out copies.
type Session struct {
	ID       string
	RawInput string
	// Phone is set only after RawInput normalized to a valid number.
	Phone phone.Number
	Code  string
	Step  Step
	// CooldownRemaining counts down once per second to 0; resend is only allowed at 0.
	CooldownRemaining int
	// Busy is true while an external call for this session is in flight.
	Busy          bool
	LastError     string
	LastErrorKind ErrorKind
}

// NewSession returns a session in StepAwaitingNumber.
func NewSession(id string) Session {
	return Session{ID: id, Step: StepAwaitingNumber}
}

// CanSubmitNumber reports whether SubmitNumber is currently allowed.
func (s Session) CanSubmitNumber() bool {
	return s.Step == StepAwaitingNumber && !s.Busy
}

// CanSubmitCode reports whether SubmitCode is currently allowed.
func (s Session) CanSubmitCode() bool {
	return s.Step == StepAwaitingCode && !s.Busy
}

// CanResend reports whether ResendCode is currently allowed.
func (s Session) CanResend() bool {
	return s.Step == StepAwaitingCode && !s.Busy && s.CooldownRemaining == 0
}

// ResendLabel is the text of the resend control.
func (s Session) ResendLabel() string {
	if s.CooldownRemaining > 0 {
		return fmt.Sprintf("Resend OTP in %ds", s.CooldownRemaining)
	}
	return "Resend OTP"
}

// SentToHint tells the user where the code went.
func (s Session) SentToHint() string {
	return "We've sent an OTP to " + s.Phone.Display()
}

// VerifyResult is the outcome of a reachable verification service.
// Success false with a Message is a rejected code, not a transport failure.
type VerifyResult struct {
	Success bool
	Message string
	// Payload is the opaque session data handed to the session store on success.
	Payload json.RawMessage
}
