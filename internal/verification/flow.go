// Package verification implements the phone login state machine: number entry, code dispatch
// with a resend cooldown, and code verification followed by the session handoff.
package verification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"phone-login/client/internal/credential"
	"phone-login/client/internal/phone"
	"phone-login/client/internal/telemetry"
	"phone-login/client/internal/verification/domain"
)

const (
	instrumentationName = "phone-login/client/internal/verification"
	eventSource         = "phonelogin"
)

// DefaultDashboardPath is where a verified user is sent after the session is stored.
const DefaultDashboardPath = "/dashboard"

// CodeService dispatches and checks one-time codes.
type CodeService interface {
	RequestCode(ctx context.Context, p phone.Number) error
	// VerifyCode returns a non-nil result whenever the service answered. A nil result with an
	// error means the call itself failed.
	VerifyCode(ctx context.Context, p phone.Number, code string) (*domain.VerifyResult, error)
}

// SessionStore persists the credential produced by a successful verification.
type SessionStore interface {
	Save(ctx context.Context, c *credential.Credential) error
}

// Navigator moves the user on once verification is complete.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// Options configures a Flow. Zero values fall back to defaults.
type Options struct {
	Clock   Clock
	Logger  *zap.Logger
	Emitter telemetry.EventEmitter
	// CooldownSeconds is the resend lock after each successful dispatch. Default 30.
	CooldownSeconds int
	DashboardPath   string
	// CallTimeout bounds each external call. Zero means no timeout beyond the caller's context.
	CallTimeout time.Duration
	NewID       func() string
	Now         func() time.Time
}

// Flow is the verification controller for one login attempt. All methods are safe for
// concurrent use; while an external call is in flight further actions fail with domain.ErrBusy.
type Flow struct {
	svc   CodeService
	store SessionStore
	nav   Navigator

	log           *zap.Logger
	emitter       telemetry.EventEmitter
	cooldownSecs  int
	dashboardPath string
	callTimeout   time.Duration
	newID         func() string
	nowF          func() time.Time

	tracer        trace.Tracer
	requests      metric.Int64Counter
	verifications metric.Int64Counter

	// Lock order: mu, then cd.mu, then pubMu is taken before mu is released.
	mu     sync.Mutex
	s      domain.Session
	closed bool
	// handingOff is set from VerifySucceeded until the credential is stored and navigation returns.
	handingOff bool
	cd         *cooldown
	subs       []subscriber
	nextSub    int

	pubMu sync.Mutex
}

type subscriber struct {
	id int
	fn func(domain.Session)
}

// New returns a Flow in StepAwaitingNumber.
func New(svc CodeService, store SessionStore, nav Navigator, opts Options) *Flow {
	f := &Flow{
		svc:           svc,
		store:         store,
		nav:           nav,
		log:           opts.Logger,
		emitter:       opts.Emitter,
		cooldownSecs:  opts.CooldownSeconds,
		dashboardPath: opts.DashboardPath,
		callTimeout:   opts.CallTimeout,
		newID:         opts.NewID,
		nowF:          opts.Now,
	}
	if f.log == nil {
		f.log = zap.NewNop()
	}
	if f.cooldownSecs <= 0 {
		f.cooldownSecs = domain.DefaultCooldownSeconds
	}
	if f.dashboardPath == "" {
		f.dashboardPath = DefaultDashboardPath
	}
	if f.newID == nil {
		f.newID = uuid.NewString
	}
	if f.nowF == nil {
		f.nowF = func() time.Time { return time.Now().UTC() }
	}

	f.tracer = otel.Tracer(instrumentationName)
	meter := otel.Meter(instrumentationName)
	var err error
	if f.requests, err = meter.Int64Counter("phonelogin.code_requests",
		metric.WithDescription("Code dispatch attempts by kind and outcome")); err != nil {
		f.log.Warn("code_requests counter unavailable", zap.Error(err))
		f.requests = noop.Int64Counter{}
	}
	if f.verifications, err = meter.Int64Counter("phonelogin.verifications",
		metric.WithDescription("Code verification attempts by outcome")); err != nil {
		f.log.Warn("verifications counter unavailable", zap.Error(err))
		f.verifications = noop.Int64Counter{}
	}

	f.s = domain.NewSession(f.newID())
	f.cd = newCooldown(opts.Clock, f.tick)
	return f
}

// Snapshot returns a copy of the current session.
func (f *Flow) Snapshot() domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

// Subscribe registers fn to receive every new session snapshot, in transition order.
// fn runs on the goroutine that caused the transition and must not call back into the Flow.
// The returned func removes the subscription.
func (f *Flow) Subscribe(fn func(domain.Session)) func() {
	f.mu.Lock()
	f.nextSub++
	id := f.nextSub
	f.subs = append(f.subs, subscriber{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			for i, sub := range f.subs {
				if sub.id == id {
					f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// SubmitNumber validates raw and, if it is a valid Indian mobile number, requests a code for it.
func (f *Flow) SubmitNumber(ctx context.Context, raw string) error {
	f.mu.Lock()
	if err := f.guardLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.s.Step != domain.StepAwaitingNumber {
		f.mu.Unlock()
		return domain.ErrWrongStep
	}
	id := f.s.ID

	p, err := phone.Parse(raw)
	if err != nil {
		f.commitLocked(NumberRejected{RawInput: raw})
		f.log.Info("phone number rejected", zap.String("session_id", id))
		f.emit(id, telemetry.EventNumberRejected, "", nil)
		return &domain.FlowError{Kind: domain.ErrorKindValidation, Message: domain.MsgInvalidNumber, Err: err}
	}
	f.commitLocked(DispatchStarted{RawInput: raw, Phone: p})

	err = f.requestCode(ctx, id, p, "send")

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return domain.ErrClosed
	}
	if err != nil {
		msg := domain.ServiceMessage(err, domain.MsgSendFailed)
		f.commitLocked(DispatchFailed{Message: msg})
		f.log.Warn("code request failed", zap.String("session_id", id), zap.String("phone", p.Masked()), zap.Error(err))
		f.emit(id, telemetry.EventCodeRequestError, p.Masked(), map[string]string{"kind": "send", "error": msg})
		return &domain.FlowError{Kind: domain.ErrorKindDispatch, Message: msg, Err: err}
	}
	f.cd.arm()
	f.commitLocked(DispatchSucceeded{CooldownSeconds: f.cooldownSecs})
	f.log.Info("code requested", zap.String("session_id", id), zap.String("phone", p.Masked()))
	f.emit(id, telemetry.EventCodeRequested, p.Masked(), nil)
	return nil
}

// ResendCode requests a new code for the current number once the cooldown has run out.
// A failed resend leaves the cooldown where it was.
func (f *Flow) ResendCode(ctx context.Context) error {
	f.mu.Lock()
	if err := f.guardLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	switch {
	case f.s.Step != domain.StepAwaitingCode:
		f.mu.Unlock()
		return domain.ErrWrongStep
	case f.s.CooldownRemaining > 0:
		f.mu.Unlock()
		return domain.ErrCooldownActive
	}
	id, p := f.s.ID, f.s.Phone
	f.commitLocked(DispatchStarted{})

	err := f.requestCode(ctx, id, p, "resend")

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return domain.ErrClosed
	}
	if err != nil {
		msg := domain.ServiceMessage(err, domain.MsgResendFailed)
		f.commitLocked(DispatchFailed{Message: msg})
		f.log.Warn("code resend failed", zap.String("session_id", id), zap.String("phone", p.Masked()), zap.Error(err))
		f.emit(id, telemetry.EventCodeRequestError, p.Masked(), map[string]string{"kind": "resend", "error": msg})
		return &domain.FlowError{Kind: domain.ErrorKindDispatch, Message: msg, Err: err}
	}
	f.cd.arm()
	f.commitLocked(DispatchSucceeded{CooldownSeconds: f.cooldownSecs})
	f.log.Info("code resent", zap.String("session_id", id), zap.String("phone", p.Masked()))
	f.emit(id, telemetry.EventCodeResent, p.Masked(), nil)
	return nil
}

// SubmitCode verifies code for the current number. On success the session is stored and the
// user is sent to the dashboard. Non-digits are stripped and at most 6 digits are sent.
func (f *Flow) SubmitCode(ctx context.Context, code string) error {
	f.mu.Lock()
	if err := f.guardLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.s.Step != domain.StepAwaitingCode {
		f.mu.Unlock()
		return domain.ErrWrongStep
	}
	id, p := f.s.ID, f.s.Phone
	code = phone.SanitizeCode(code)
	f.commitLocked(VerifyStarted{Code: code})

	res, err := f.verifyCode(ctx, id, p, code)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return domain.ErrClosed
	}
	switch {
	case err != nil:
		f.commitLocked(VerifyFailed{Message: domain.MsgVerifyFailed})
		f.log.Warn("code verification failed", zap.String("session_id", id), zap.String("phone", p.Masked()), zap.Error(err))
		f.emit(id, telemetry.EventVerifyError, p.Masked(), map[string]string{"error": err.Error()})
		return &domain.FlowError{Kind: domain.ErrorKindVerifyTransport, Message: domain.MsgVerifyFailed, Err: err}
	case res == nil || !res.Success:
		msg := domain.MsgInvalidCode
		if res != nil && res.Message != "" {
			msg = res.Message
		}
		f.commitLocked(VerifyRejected{Message: msg})
		f.log.Info("code rejected", zap.String("session_id", id), zap.String("phone", p.Masked()))
		f.emit(id, telemetry.EventCodeRejected, p.Masked(), map[string]string{"message": msg})
		return &domain.FlowError{Kind: domain.ErrorKindRejectedCode, Message: msg}
	}
	f.cd.disarm()
	f.handingOff = true
	f.commitLocked(VerifySucceeded{})
	f.log.Info("phone verified", zap.String("session_id", id), zap.String("phone", p.Masked()))
	f.emit(id, telemetry.EventCodeVerified, p.Masked(), nil)

	return f.handoff(ctx, id, p, res.Payload)
}

// Reset abandons the current attempt and starts over at number entry with a new session id.
func (f *Flow) Reset() error {
	f.mu.Lock()
	if err := f.guardLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.cd.disarm()
	f.commitLocked(Reset{ID: f.newID()})
	return nil
}

// Close stops the cooldown timer and drops all subscribers. Results of calls still in flight
// are discarded. Close is idempotent.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.cd.disarm()
	f.subs = nil
}

func (f *Flow) guardLocked() error {
	if f.closed {
		return domain.ErrClosed
	}
	if f.s.Busy || f.handingOff {
		return domain.ErrBusy
	}
	return nil
}

// currentLocked reports whether results for session id may still be applied.
func (f *Flow) currentLocked(id string) bool {
	return !f.closed && f.s.ID == id
}

// commitLocked applies a, releases f.mu and notifies subscribers. pubMu is taken before f.mu is
// released so notifications cannot overtake each other.
func (f *Flow) commitLocked(a Action) {
	f.s = Reduce(f.s, a)
	snap := f.s
	subs := make([]subscriber, len(f.subs))
	copy(subs, f.subs)
	f.pubMu.Lock()
	f.mu.Unlock()
	defer f.pubMu.Unlock()
	for _, sub := range subs {
		sub.fn(snap)
	}
}

// tick runs on the cooldown goroutine.
func (f *Flow) tick(gen uint64) bool {
	f.mu.Lock()
	if f.closed || !f.cd.current(gen) || f.s.CooldownRemaining == 0 {
		f.mu.Unlock()
		return true
	}
	done := f.s.CooldownRemaining == 1
	f.commitLocked(Tick{})
	return done
}

func (f *Flow) handoff(ctx context.Context, id string, p phone.Number, payload json.RawMessage) error {
	defer func() {
		f.mu.Lock()
		f.handingOff = false
		f.mu.Unlock()
	}()
	if f.store != nil {
		c := credential.FromPayload(id, p, payload, f.nowF())
		if err := f.store.Save(ctx, c); err != nil {
			f.mu.Lock()
			if f.currentLocked(id) {
				f.commitLocked(HandoffFailed{Message: domain.MsgSessionNotStored})
			} else {
				f.mu.Unlock()
			}
			f.log.Error("session not stored", zap.String("session_id", id), zap.Error(err))
			return &domain.FlowError{Kind: domain.ErrorKindHandoff, Message: domain.MsgSessionNotStored, Err: err}
		}
		f.log.Info("session stored", zap.String("session_id", id), zap.String("credential_id", c.ID))
		f.emit(id, telemetry.EventSessionStored, p.Masked(), map[string]string{"credential_id": c.ID})
	}
	if f.nav != nil {
		f.mu.Lock()
		current := f.currentLocked(id)
		f.mu.Unlock()
		if !current {
			f.log.Info("navigation dropped", zap.String("session_id", id))
			return nil
		}
		if err := f.nav.Navigate(ctx, f.dashboardPath); err != nil {
			f.log.Error("navigation failed", zap.String("session_id", id), zap.String("target", f.dashboardPath), zap.Error(err))
			return fmt.Errorf("verification: navigate to %s: %w", f.dashboardPath, err)
		}
	}
	return nil
}

func (f *Flow) requestCode(ctx context.Context, id string, p phone.Number, kind string) error {
	ctx, cancel := f.callContext(ctx)
	defer cancel()
	ctx, span := f.tracer.Start(ctx, "verification.RequestCode", trace.WithAttributes(
		attribute.String("session.id", id),
		attribute.String("request.kind", kind),
	))
	defer span.End()

	err := f.svc.RequestCode(ctx, p)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "request code failed")
	}
	f.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
	return err
}

func (f *Flow) verifyCode(ctx context.Context, id string, p phone.Number, code string) (*domain.VerifyResult, error) {
	ctx, cancel := f.callContext(ctx)
	defer cancel()
	ctx, span := f.tracer.Start(ctx, "verification.VerifyCode", trace.WithAttributes(
		attribute.String("session.id", id),
	))
	defer span.End()

	res, err := f.svc.VerifyCode(ctx, p, code)
	outcome := "verified"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "verify code failed")
	case res == nil || !res.Success:
		outcome = "rejected"
	}
	span.SetAttributes(attribute.String("verify.outcome", outcome))
	f.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return res, err
}

func (f *Flow) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.callTimeout > 0 {
		return context.WithTimeout(ctx, f.callTimeout)
	}
	return context.WithCancel(ctx)
}

func (f *Flow) emit(id, eventType, maskedPhone string, meta map[string]string) {
	if f.emitter == nil {
		return
	}
	var raw json.RawMessage
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			f.log.Warn("event metadata not encoded", zap.String("event_type", eventType), zap.Error(err))
		} else {
			raw = b
		}
	}
	telemetry.EmitAsync(f.emitter, &telemetry.Event{
		SessionID: id,
		EventType: eventType,
		Source:    eventSource,
		Phone:     maskedPhone,
		Metadata:  raw,
		CreatedAt: f.nowF(),
	})
}
