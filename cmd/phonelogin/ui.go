package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"phone-login/client/internal/phone"
	"phone-login/client/internal/verification"
	"phone-login/client/internal/verification/domain"
)

// terminal renders session snapshots as prompts. Countdown ticks are not printed one by one;
// the user is told once the resend control unlocks. Errors are printed by handleLine.
type terminal struct {
	mu       sync.Mutex
	out      io.Writer
	last     domain.Session
	rendered bool
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out}
}

func (t *terminal) render(s domain.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, first := t.last, !t.rendered
	t.last, t.rendered = s, true
	if s.Busy {
		return
	}
	switch {
	case first || s.Step != prev.Step || s.ID != prev.ID:
		t.prompt(s)
	case s.Step == domain.StepAwaitingCode && prev.CooldownRemaining > 0 && s.CooldownRemaining == 0:
		t.println(s.ResendLabel() + " is available: type 'resend'.")
	}
}

func (t *terminal) prompt(s domain.Session) {
	switch s.Step {
	case domain.StepAwaitingNumber:
		t.println("Enter your phone number (+91):")
	case domain.StepAwaitingCode:
		t.println(s.SentToHint())
		t.println("Enter the 6-digit OTP (" + s.ResendLabel() + "):")
	case domain.StepVerified:
		t.println("Phone number verified.")
	}
}

func (t *terminal) println(line string) {
	fmt.Fprintln(t.out, line)
}

// notice prints a message that is not tied to a state change.
func (t *terminal) notice(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.println(line)
}

// run feeds lines from in to the flow until it is verified, the user quits, in is exhausted or
// ctx is done.
func run(ctx context.Context, f *verification.Flow, term *terminal, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-readErr
			}
			if done := handleLine(ctx, f, term, strings.TrimSpace(line)); done {
				return nil
			}
		}
	}
}

// handleLine applies one line of input and reports whether the session is over.
func handleLine(ctx context.Context, f *verification.Flow, term *terminal, line string) bool {
	s := f.Snapshot()
	var err error
	switch strings.ToLower(line) {
	case "quit", "exit":
		return true
	case "reset":
		err = f.Reset()
	case "":
		return false
	case "status":
		term.notice(statusLine(s))
		return false
	case "resend":
		if s.Step != domain.StepAwaitingCode {
			err = domain.ErrWrongStep
			break
		}
		if s.CanResend() {
			term.notice("Sending code...")
		}
		err = f.ResendCode(ctx)
	default:
		switch s.Step {
		case domain.StepAwaitingNumber:
			if phone.IsValid(phone.Normalize(line)) {
				term.notice("Sending code...")
			}
			err = f.SubmitNumber(ctx, line)
		case domain.StepAwaitingCode:
			term.notice("Verifying...")
			err = f.SubmitCode(ctx, line)
		default:
			err = f.SubmitCode(ctx, line)
		}
	}

	var fe *domain.FlowError
	switch {
	case err == nil:
	case errors.As(err, &fe):
		term.notice("Error: " + fe.Message)
	case errors.Is(err, domain.ErrCooldownActive):
		term.notice(f.Snapshot().ResendLabel())
	case errors.Is(err, domain.ErrBusy):
		term.notice("Please wait for the current request to finish.")
	case errors.Is(err, domain.ErrWrongStep):
		term.notice("That is not available right now.")
	default:
		term.notice("Error: " + err.Error())
	}
	return f.Snapshot().Step == domain.StepVerified
}

func statusLine(s domain.Session) string {
	switch s.Step {
	case domain.StepAwaitingCode:
		return s.SentToHint() + ". " + s.ResendLabel()
	case domain.StepVerified:
		return "Verified " + s.Phone.Display()
	default:
		return "Waiting for a phone number"
	}
}
