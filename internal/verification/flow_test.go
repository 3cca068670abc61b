package verification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"phone-login/client/internal/credential"
	"phone-login/client/internal/phone"
	"phone-login/client/internal/telemetry"
	"phone-login/client/internal/verification/domain"
)

type serviceErr struct{ msg string }

func (e *serviceErr) Error() string          { return "service: " + e.msg }
func (e *serviceErr) ServiceMessage() string { return e.msg }

type mockCodeService struct {
	mu         sync.Mutex
	requestErr error
	verifyRes  *domain.VerifyResult
	verifyErr  error
	requests   []phone.Number
	codes      []string

	// When gate is non-nil, calls signal entered and then wait for gate to close.
	gate    chan struct{}
	entered chan struct{}
}

func (m *mockCodeService) wait() {
	if m.gate == nil {
		return
	}
	m.entered <- struct{}{}
	<-m.gate
}

func (m *mockCodeService) RequestCode(ctx context.Context, p phone.Number) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, p)
	return m.requestErr
}

func (m *mockCodeService) VerifyCode(ctx context.Context, p phone.Number, code string) (*domain.VerifyResult, error) {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, code)
	return m.verifyRes, m.verifyErr
}

func (m *mockCodeService) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockCodeService) set(fn func(m *mockCodeService)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

type mockSessionStore struct {
	mu    sync.Mutex
	saved []*credential.Credential
	err   error

	gate    chan struct{}
	entered chan struct{}
}

func (m *mockSessionStore) Save(ctx context.Context, c *credential.Credential) error {
	if m.gate != nil {
		m.entered <- struct{}{}
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, c)
	return m.err
}

type mockNavigator struct {
	mu      sync.Mutex
	targets []string
}

func (m *mockNavigator) Navigate(ctx context.Context, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets = append(m.targets, target)
	return nil
}

type mockEmitter struct {
	mu     sync.Mutex
	events []*telemetry.Event
}

func (m *mockEmitter) Emit(ctx context.Context, e *telemetry.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockEmitter) find(eventType string) *telemetry.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.EventType == eventType {
			return e
		}
	}
	return nil
}

type flowFixture struct {
	flow    *Flow
	svc     *mockCodeService
	store   *mockSessionStore
	nav     *mockNavigator
	clock   *manualClock
	emitter *mockEmitter
}

func newFixture(t *testing.T) *flowFixture {
	t.Helper()
	fx := &flowFixture{
		svc:     &mockCodeService{verifyRes: &domain.VerifyResult{Success: true, Payload: json.RawMessage(`{"id":1}`)}},
		store:   &mockSessionStore{},
		nav:     &mockNavigator{},
		clock:   &manualClock{},
		emitter: &mockEmitter{},
	}
	ids := 0
	fx.flow = New(fx.svc, fx.store, fx.nav, Options{
		Clock:   fx.clock,
		Emitter: fx.emitter,
		NewID: func() string {
			ids++
			return "session-" + string(rune('0'+ids))
		},
	})
	t.Cleanup(fx.flow.Close)
	return fx
}

// toAwaitingCode submits a valid number and expects the dispatch to succeed.
func (fx *flowFixture) toAwaitingCode(t *testing.T) {
	t.Helper()
	if err := fx.flow.SubmitNumber(context.Background(), "9876543210"); err != nil {
		t.Fatalf("SubmitNumber: %v", err)
	}
}

// drainCooldown ticks until the countdown reaches 0.
func (fx *flowFixture) drainCooldown(t *testing.T) {
	t.Helper()
	n := fx.flow.Snapshot().CooldownRemaining
	for i := 0; i < n; i++ {
		if !fx.clock.Advance(t) {
			t.Fatalf("tick %d of %d not received", i+1, n)
		}
	}
	eventually(t, "cooldown at 0", func() bool { return fx.flow.Snapshot().CooldownRemaining == 0 })
}

func flowErrKind(t *testing.T, err error) *domain.FlowError {
	t.Helper()
	var fe *domain.FlowError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want *domain.FlowError", err)
	}
	return fe
}

func TestFlow_StartsAwaitingNumber(t *testing.T) {
	fx := newFixture(t)
	s := fx.flow.Snapshot()
	if s.Step != domain.StepAwaitingNumber || s.Busy || s.LastError != "" || s.ID == "" {
		t.Errorf("initial session = %+v", s)
	}
}

func TestFlow_SubmitNumber_Valid(t *testing.T) {
	fx := newFixture(t)
	fx.toAwaitingCode(t)

	s := fx.flow.Snapshot()
	if s.Step != domain.StepAwaitingCode {
		t.Errorf("Step = %q, want awaiting_code", s.Step)
	}
	if s.CooldownRemaining != 30 {
		t.Errorf("CooldownRemaining = %d, want 30", s.CooldownRemaining)
	}
	if s.Phone != "+919876543210" || s.LastError != "" || s.Busy {
		t.Errorf("session = %+v", s)
	}
	if len(fx.svc.requests) != 1 || fx.svc.requests[0] != "+919876543210" {
		t.Errorf("requests = %v", fx.svc.requests)
	}
	eventually(t, "code_requested event", func() bool { return fx.emitter.find(telemetry.EventCodeRequested) != nil })
	if ev := fx.emitter.find(telemetry.EventCodeRequested); ev.Phone != "+91******3210" {
		t.Errorf("event phone = %q, want masked", ev.Phone)
	}
}

func TestFlow_SubmitNumber_Normalizes(t *testing.T) {
	fx := newFixture(t)
	if err := fx.flow.SubmitNumber(context.Background(), "+91 98765-43210"); err != nil {
		t.Fatalf("SubmitNumber: %v", err)
	}
	if got := fx.svc.requests[0]; got != "+919876543210" {
		t.Errorf("requested for %q", got)
	}
}

func TestFlow_SubmitNumber_Invalid(t *testing.T) {
	for _, raw := range []string{"1234567890", "", "98765", "abc"} {
		t.Run(raw, func(t *testing.T) {
			fx := newFixture(t)
			err := fx.flow.SubmitNumber(context.Background(), raw)
			if fe := flowErrKind(t, err); fe.Kind != domain.ErrorKindValidation {
				t.Errorf("Kind = %q, want validation", fe.Kind)
			}
			s := fx.flow.Snapshot()
			if s.Step != domain.StepAwaitingNumber || s.Busy {
				t.Errorf("session = %+v", s)
			}
			if s.LastError != domain.MsgInvalidNumber {
				t.Errorf("LastError = %q", s.LastError)
			}
			if fx.svc.requestCount() != 0 {
				t.Errorf("RequestCode called %d times for invalid input", fx.svc.requestCount())
			}
		})
	}
}

func TestFlow_SubmitNumber_DispatchFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"service message", &serviceErr{msg: "Too many requests"}, "Too many requests"},
		{"transport", errors.New("connection refused"), domain.MsgSendFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.svc.requestErr = tt.err
			err := fx.flow.SubmitNumber(context.Background(), "9876543210")
			fe := flowErrKind(t, err)
			if fe.Kind != domain.ErrorKindDispatch || !errors.Is(err, tt.err) {
				t.Errorf("err = %v", err)
			}
			s := fx.flow.Snapshot()
			if s.Step != domain.StepAwaitingNumber || s.Busy || s.CooldownRemaining != 0 {
				t.Errorf("session = %+v", s)
			}
			if s.LastError != tt.wantMsg {
				t.Errorf("LastError = %q, want %q", s.LastError, tt.wantMsg)
			}
			if fx.clock.count() != 0 {
				t.Error("timer armed after failed dispatch")
			}

			eventually(t, "code_request_failed event", func() bool { return fx.emitter.find(telemetry.EventCodeRequestError) != nil })
			var meta map[string]string
			if err := json.Unmarshal(fx.emitter.find(telemetry.EventCodeRequestError).Metadata, &meta); err != nil {
				t.Fatalf("event metadata: %v", err)
			}
			if meta["kind"] != "send" || meta["error"] != tt.wantMsg {
				t.Errorf("event metadata = %v", meta)
			}
		})
	}
}

func TestFlow_FailureThenRetryClearsError(t *testing.T) {
	fx := newFixture(t)
	_ = fx.flow.SubmitNumber(context.Background(), "12345")
	if fx.flow.Snapshot().LastError == "" {
		t.Fatal("expected validation error")
	}
	fx.toAwaitingCode(t)
	if got := fx.flow.Snapshot().LastError; got != "" {
		t.Errorf("LastError = %q after successful retry", got)
	}
}

func TestFlow_WrongStep(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	if err := fx.flow.SubmitCode(ctx, "123456"); !errors.Is(err, domain.ErrWrongStep) {
		t.Errorf("SubmitCode in awaiting_number: %v", err)
	}
	if err := fx.flow.ResendCode(ctx); !errors.Is(err, domain.ErrWrongStep) {
		t.Errorf("ResendCode in awaiting_number: %v", err)
	}
	fx.toAwaitingCode(t)
	if err := fx.flow.SubmitNumber(ctx, "9876543210"); !errors.Is(err, domain.ErrWrongStep) {
		t.Errorf("SubmitNumber in awaiting_code: %v", err)
	}
	if fx.svc.requestCount() != 1 {
		t.Errorf("requests = %d, want 1", fx.svc.requestCount())
	}
}

func TestFlow_ResendDuringCooldownIsNoop(t *testing.T) {
	fx := newFixture(t)
	fx.toAwaitingCode(t)
	before := fx.flow.Snapshot()

	if err := fx.flow.ResendCode(context.Background()); !errors.Is(err, domain.ErrCooldownActive) {
		t.Fatalf("ResendCode = %v, want ErrCooldownActive", err)
	}
	if fx.svc.requestCount() != 1 {
		t.Errorf("requests = %d, want 1", fx.svc.requestCount())
	}
	if after := fx.flow.Snapshot(); after != before {
		t.Errorf("session changed: %+v -> %+v", before, after)
	}
}

func TestFlow_CooldownCountsDownAndStops(t *testing.T) {
	fx := newFixture(t)
	fx.toAwaitingCode(t)

	if !fx.clock.Advance(t) {
		t.Fatal("first tick not received")
	}
	eventually(t, "cooldown 29", func() bool { return fx.flow.Snapshot().CooldownRemaining == 29 })
	if got := fx.flow.Snapshot().ResendLabel(); got != "Resend OTP in 29s" {
		t.Errorf("ResendLabel = %q", got)
	}

	fx.drainCooldown(t)
	if fx.clock.Advance(t) {
		t.Error("timer still running at 0")
	}
	if got := fx.flow.Snapshot().CooldownRemaining; got != 0 {
		t.Errorf("CooldownRemaining = %d, want 0", got)
	}
}

func TestFlow_ResendAfterCooldown(t *testing.T) {
	fx := newFixture(t)
	fx.toAwaitingCode(t)
	fx.drainCooldown(t)

	if err := fx.flow.ResendCode(context.Background()); err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	s := fx.flow.Snapshot()
	if s.CooldownRemaining != 30 || s.Step != domain.StepAwaitingCode {
		t.Errorf("session = %+v", s)
	}
	if fx.svc.requestCount() != 2 || fx.svc.requests[1] != "+919876543210" {
		t.Errorf("requests = %v", fx.svc.requests)
	}
	if fx.clock.count() != 2 {
		t.Errorf("tickers = %d, want 2", fx.clock.count())
	}
	if !fx.clock.Advance(t) {
		t.Fatal("re-armed timer did not tick")
	}
	eventually(t, "cooldown 29", func() bool { return fx.flow.Snapshot().CooldownRemaining == 29 })
}

func TestFlow_ResendFailureKeepsCooldown(t *testing.T) {
	fx := newFixture(t)
	fx.toAwaitingCode(t)
	fx.drainCooldown(t)
	fx.svc.set(func(m *mockCodeService) { m.requestErr = errors.New("timeout") })

	err := fx.flow.ResendCode(context.Background())
	if fe := flowErrKind(t, err); fe.Kind != domain.ErrorKindDispatch {
		t.Errorf("Kind = %q", fe.Kind)
	}
	s := fx.flow.Snapshot()
	if s.LastError != domain.MsgResendFailed {
		t.Errorf("LastError = %q, want %q", s.LastError, domain.MsgResendFailed)
	}
	if s.CooldownRemaining != 0 || s.Step != domain.StepAwaitingCode || s.Busy {
		t.Errorf("session = %+v", s)
	}
	if fx.clock.count() != 1 {
		t.Errorf("timer re-armed after failed resend")
	}
}

func TestFlow_SubmitCode_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		res     *domain.VerifyResult
		wantMsg string
	}{
		{"no message", &domain.VerifyResult{Success: false}, domain.MsgInvalidCode},
		{"service message", &domain.VerifyResult{Success: false, Message: "Code expired"}, "Code expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.toAwaitingCode(t)
			fx.svc.set(func(m *mockCodeService) { m.verifyRes = tt.res })

			err := fx.flow.SubmitCode(context.Background(), "000000")
			if fe := flowErrKind(t, err); fe.Kind != domain.ErrorKindRejectedCode {
				t.Errorf("Kind = %q", fe.Kind)
			}
			s := fx.flow.Snapshot()
			if s.Step != domain.StepAwaitingCode || s.Busy {
				t.Errorf("session = %+v", s)
			}
			if s.LastError != tt.wantMsg {
				t.Errorf("LastError = %q, want %q", s.LastError, tt.wantMsg)
			}
			if len(fx.store.saved) != 0 || len(fx.nav.targets) != 0 {
				t.Error("rejected code reached the handoff")
			}
		})
	}
}

func TestFlow_SubmitCode_TransportError(t *testing.T) {
	fx := newFixture(t)
	fx.toAwaitingCode(t)
	fx.svc.set(func(m *mockCodeService) {
		m.verifyRes = nil
		m.verifyErr = &serviceErr{msg: "internal"}
	})

	err := fx.flow.SubmitCode(context.Background(), "123456")
	if fe := flowErrKind(t, err); fe.Kind != domain.ErrorKindVerifyTransport {
		t.Errorf("Kind = %q", fe.Kind)
	}
	s := fx.flow.Snapshot()
	if s.LastError != domain.MsgVerifyFailed {
		t.Errorf("LastError = %q, want %q", s.LastError, domain.MsgVerifyFailed)
	}
	if s.Step != domain.StepAwaitingCode || s.Busy {
		t.Errorf("session = %+v", s)
	}
}

func TestFlow_SubmitCode_Success(t *testing.T) {
	fx := newFixture(t)
	fx.toAwaitingCode(t)

	if err := fx.flow.SubmitCode(context.Background(), "123456"); err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	s := fx.flow.Snapshot()
	if s.Step != domain.StepVerified || s.Busy || s.LastError != "" {
		t.Errorf("session = %+v", s)
	}
	if len(fx.store.saved) != 1 {
		t.Fatalf("Save called %d times, want 1", len(fx.store.saved))
	}
	c := fx.store.saved[0]
	if c.Subject != "1" || c.Phone != "+919876543210" || c.SessionID != s.ID {
		t.Errorf("credential = %+v", c)
	}
	if string(c.Payload) != `{"id":1}` {
		t.Errorf("Payload = %s", c.Payload)
	}
	if len(fx.nav.targets) != 1 || fx.nav.targets[0] != "/dashboard" {
		t.Errorf("navigations = %v", fx.nav.targets)
	}
	eventually(t, "timer stopped", fx.clock.latest().isStopped)

	if err := fx.flow.SubmitCode(context.Background(), "123456"); !errors.Is(err, domain.ErrWrongStep) {
		t.Errorf("SubmitCode after verified = %v", err)
	}
	if len(fx.store.saved) != 1 {
		t.Errorf("Save called again after verified")
	}
}

func TestFlow_SubmitCode_OpaqueToken(t *testing.T) {
	fx := newFixture(t)
	fx.svc.verifyRes = &domain.VerifyResult{Success: true, Payload: json.RawMessage(`{"id":1,"token":"opaque-session-abc"}`)}
	fx.toAwaitingCode(t)

	if err := fx.flow.SubmitCode(context.Background(), "123456"); err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if s := fx.flow.Snapshot(); s.Step != domain.StepVerified || s.LastError != "" {
		t.Errorf("session = %+v", s)
	}
	if len(fx.store.saved) != 1 {
		t.Fatalf("Save called %d times, want 1", len(fx.store.saved))
	}
	if c := fx.store.saved[0]; c.Subject != "1" || c.ExpiresAt != nil {
		t.Errorf("credential = %+v", c)
	}
	if len(fx.nav.targets) != 1 || fx.nav.targets[0] != "/dashboard" {
		t.Errorf("navigations = %v", fx.nav.targets)
	}
}

func TestFlow_SubmitCode_Sanitizes(t *testing.T) {
	fx := newFixture(t)
	fx.toAwaitingCode(t)
	fx.svc.set(func(m *mockCodeService) { m.verifyRes = &domain.VerifyResult{} })

	_ = fx.flow.SubmitCode(context.Background(), " 12-34 56 78")
	if len(fx.svc.codes) != 1 || fx.svc.codes[0] != "123456" {
		t.Errorf("codes = %v, want [123456]", fx.svc.codes)
	}
}

func TestFlow_SaveFailure(t *testing.T) {
	fx := newFixture(t)
	fx.store.err = errors.New("disk full")
	fx.toAwaitingCode(t)

	err := fx.flow.SubmitCode(context.Background(), "123456")
	if fe := flowErrKind(t, err); fe.Kind != domain.ErrorKindHandoff {
		t.Errorf("Kind = %q", fe.Kind)
	}
	s := fx.flow.Snapshot()
	if s.Step != domain.StepVerified {
		t.Errorf("Step = %q, want verified", s.Step)
	}
	if s.LastError != domain.MsgSessionNotStored {
		t.Errorf("LastError = %q", s.LastError)
	}
	if len(fx.nav.targets) != 0 {
		t.Error("navigated without a stored session")
	}
}

func TestFlow_BusyRejectsConcurrentActions(t *testing.T) {
	fx := newFixture(t)
	fx.svc.gate = make(chan struct{})
	fx.svc.entered = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- fx.flow.SubmitNumber(context.Background(), "9876543210") }()
	<-fx.svc.entered

	if !fx.flow.Snapshot().Busy {
		t.Error("Busy = false while request in flight")
	}
	ctx := context.Background()
	if err := fx.flow.SubmitNumber(ctx, "9123456789"); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("SubmitNumber while busy = %v", err)
	}
	if err := fx.flow.SubmitCode(ctx, "123456"); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("SubmitCode while busy = %v", err)
	}
	if err := fx.flow.ResendCode(ctx); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("ResendCode while busy = %v", err)
	}
	if err := fx.flow.Reset(); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("Reset while busy = %v", err)
	}

	close(fx.svc.gate)
	if err := <-done; err != nil {
		t.Fatalf("SubmitNumber: %v", err)
	}
	if fx.svc.requestCount() != 1 {
		t.Errorf("requests = %d, want 1", fx.svc.requestCount())
	}
	if fx.flow.Snapshot().Busy {
		t.Error("Busy still set")
	}
}

func TestFlow_HandoffBlocksReset(t *testing.T) {
	fx := newFixture(t)
	fx.toAwaitingCode(t)
	fx.store.err = errors.New("disk full")
	fx.store.gate = make(chan struct{})
	fx.store.entered = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- fx.flow.SubmitCode(context.Background(), "123456") }()
	<-fx.store.entered

	if err := fx.flow.Reset(); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("Reset during handoff = %v, want ErrBusy", err)
	}
	if err := fx.flow.ResendCode(context.Background()); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("ResendCode during handoff = %v, want ErrBusy", err)
	}

	close(fx.store.gate)
	if fe := flowErrKind(t, <-done); fe.Kind != domain.ErrorKindHandoff {
		t.Errorf("Kind = %q", fe.Kind)
	}
	s := fx.flow.Snapshot()
	if s.ID != "session-1" || s.Step != domain.StepVerified || s.LastErrorKind != domain.ErrorKindHandoff {
		t.Errorf("session = %+v", s)
	}

	if err := fx.flow.Reset(); err != nil {
		t.Fatalf("Reset after handoff: %v", err)
	}
	if s := fx.flow.Snapshot(); s.ID != "session-2" || s.Step != domain.StepAwaitingNumber || s.LastError != "" {
		t.Errorf("session after reset = %+v", s)
	}
}

func TestFlow_ResetStopsTimer(t *testing.T) {
	fx := newFixture(t)
	fx.toAwaitingCode(t)
	oldID := fx.flow.Snapshot().ID

	if err := fx.flow.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	s := fx.flow.Snapshot()
	if s.Step != domain.StepAwaitingNumber || s.CooldownRemaining != 0 || s.Phone != "" {
		t.Errorf("session = %+v", s)
	}
	if s.ID == oldID {
		t.Error("Reset kept the session id")
	}
	eventually(t, "old timer stopped", fx.clock.latest().isStopped)
	if fx.clock.Advance(t) {
		t.Error("old timer still delivering ticks")
	}
}

func TestFlow_StaleTickDropped(t *testing.T) {
	fx := newFixture(t)
	fx.toAwaitingCode(t)
	gen := fx.flow.cd.gen

	fx.flow.cd.disarm()
	if !fx.flow.tick(gen) {
		t.Error("stale tick did not end its goroutine")
	}
	if got := fx.flow.Snapshot().CooldownRemaining; got != 30 {
		t.Errorf("stale tick changed cooldown to %d", got)
	}
}

func TestFlow_CloseDropsInFlightResult(t *testing.T) {
	fx := newFixture(t)
	fx.svc.gate = make(chan struct{})
	fx.svc.entered = make(chan struct{})

	var mu sync.Mutex
	var seen []domain.Session
	fx.flow.Subscribe(func(s domain.Session) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- fx.flow.SubmitNumber(context.Background(), "9876543210") }()
	<-fx.svc.entered
	fx.flow.Close()
	close(fx.svc.gate)

	if err := <-done; !errors.Is(err, domain.ErrClosed) {
		t.Errorf("SubmitNumber after Close = %v, want ErrClosed", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || !seen[0].Busy {
		t.Errorf("snapshots = %+v, want only the busy one", seen)
	}
	if err := fx.flow.SubmitCode(context.Background(), "123456"); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("SubmitCode after Close = %v", err)
	}
	if fx.clock.count() != 0 {
		t.Error("timer armed after Close")
	}
}

func TestFlow_SubscribeOrder(t *testing.T) {
	fx := newFixture(t)
	var steps []domain.Step
	var busy []bool
	unsubscribe := fx.flow.Subscribe(func(s domain.Session) {
		steps = append(steps, s.Step)
		busy = append(busy, s.Busy)
	})
	fx.toAwaitingCode(t)

	wantSteps := []domain.Step{domain.StepAwaitingNumber, domain.StepAwaitingCode}
	wantBusy := []bool{true, false}
	if len(steps) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(steps))
	}
	for i := range wantSteps {
		if steps[i] != wantSteps[i] || busy[i] != wantBusy[i] {
			t.Errorf("snapshot %d = (%q, %v), want (%q, %v)", i, steps[i], busy[i], wantSteps[i], wantBusy[i])
		}
	}

	unsubscribe()
	unsubscribe()
	_ = fx.flow.Reset()
	if len(steps) != 2 {
		t.Errorf("unsubscribed callback still called")
	}
}
