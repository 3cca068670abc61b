// Package navigator implements the post-verification redirect.
package navigator

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Func adapts an ordinary function to the verification.Navigator interface.
type Func func(ctx context.Context, target string) error

// Navigate calls f.
func (f Func) Navigate(ctx context.Context, target string) error {
	return f(ctx, target)
}

// WriterNavigator "navigates" by announcing the target on w, for terminal front ends.
type WriterNavigator struct {
	mu   sync.Mutex
	w    io.Writer
	last string
}

// NewWriterNavigator returns a navigator that writes to w.
func NewWriterNavigator(w io.Writer) *WriterNavigator {
	return &WriterNavigator{w: w}
}

// Navigate writes a redirect line for target.
func (n *WriterNavigator) Navigate(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := fmt.Fprintf(n.w, "Redirecting to %s\n", target); err != nil {
		return fmt.Errorf("navigator: %w", err)
	}
	n.last = target
	return nil
}

// Last returns the most recent target, or "" if Navigate has not succeeded yet.
func (n *WriterNavigator) Last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}
