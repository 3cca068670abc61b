package verification

import (
	"phone-login/client/internal/phone"
	"phone-login/client/internal/verification/domain"
)

// Action is a state transition input for Reduce.
type Action interface {
	isAction()
}

// NumberRejected records input that failed local validation.
type NumberRejected struct{ RawInput string }

// DispatchStarted marks a request-code call in flight. Phone is empty for a resend.
type DispatchStarted struct {
	RawInput string
	Phone    phone.Number
}

// DispatchSucceeded moves to the code step and restarts the cooldown.
type DispatchSucceeded struct{ CooldownSeconds int }

// DispatchFailed records a failed request-code call; step and cooldown are left alone.
type DispatchFailed struct{ Message string }

// VerifyStarted marks a verify-code call in flight.
type VerifyStarted struct{ Code string }

// VerifySucceeded is the terminal transition.
type VerifySucceeded struct{}

// VerifyRejected records a code the service did not accept.
type VerifyRejected struct{ Message string }

// VerifyFailed records a verify-code call that did not complete.
type VerifyFailed struct{ Message string }

// HandoffFailed records that a verified session could not be persisted.
type HandoffFailed struct{ Message string }

// Tick is one elapsed cooldown second.
type Tick struct{}

// Reset starts a fresh session with the given id.
type Reset struct{ ID string }

func (NumberRejected) isAction()    {}
func (DispatchStarted) isAction()   {}
func (DispatchSucceeded) isAction() {}
func (DispatchFailed) isAction()    {}
func (VerifyStarted) isAction()     {}
func (VerifySucceeded) isAction()   {}
func (VerifyRejected) isAction()    {}
func (VerifyFailed) isAction()      {}
func (HandoffFailed) isAction()     {}
func (Tick) isAction()              {}
func (Reset) isAction()             {}

// Reduce returns the session that results from applying a to s. It is pure; guards
// (busy, step, cooldown) are checked by the caller before starting an action.
func Reduce(s domain.Session, a Action) domain.Session {
	switch a := a.(type) {
	case NumberRejected:
		s.RawInput = a.RawInput
		s.Phone = ""
		setError(&s, domain.ErrorKindValidation, domain.MsgInvalidNumber)
	case DispatchStarted:
		if a.Phone != "" {
			s.RawInput = a.RawInput
			s.Phone = a.Phone
		}
		s.Busy = true
		clearError(&s)
	case DispatchSucceeded:
		s.Busy = false
		s.Step = domain.StepAwaitingCode
		s.CooldownRemaining = a.CooldownSeconds
		clearError(&s)
	case DispatchFailed:
		s.Busy = false
		setError(&s, domain.ErrorKindDispatch, a.Message)
	case VerifyStarted:
		s.Code = a.Code
		s.Busy = true
		clearError(&s)
	case VerifySucceeded:
		s.Busy = false
		s.Step = domain.StepVerified
		s.CooldownRemaining = 0
		clearError(&s)
	case VerifyRejected:
		s.Busy = false
		setError(&s, domain.ErrorKindRejectedCode, a.Message)
	case VerifyFailed:
		s.Busy = false
		setError(&s, domain.ErrorKindVerifyTransport, a.Message)
	case HandoffFailed:
		setError(&s, domain.ErrorKindHandoff, a.Message)
	case Tick:
		if s.CooldownRemaining > 0 {
			s.CooldownRemaining--
		}
	case Reset:
		return domain.NewSession(a.ID)
	}
	return s
}

func setError(s *domain.Session, kind domain.ErrorKind, msg string) {
	s.LastErrorKind = kind
	s.LastError = msg
}

func clearError(s *domain.Session) {
	setError(s, domain.ErrorKindNone, "")
}
