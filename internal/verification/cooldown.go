package verification

import (
	"sync"
	"time"
)

// Clock creates tickers. Tests substitute a manual clock.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of *time.Ticker the cooldown uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) NewTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// cooldown owns at most one running ticker goroutine. Arming stops the previous one and bumps
// the generation, so a tick already in flight from an old goroutine is recognised as stale.
type cooldown struct {
	clock    Clock
	interval time.Duration
	// onTick applies one tick for generation gen and reports whether the countdown is over
	// (or gen is stale), which ends the goroutine.
	onTick func(gen uint64) (done bool)

	mu   sync.Mutex
	gen  uint64
	stop chan struct{}
}

func newCooldown(clock Clock, onTick func(gen uint64) bool) *cooldown {
	if clock == nil {
		clock = realClock{}
	}
	return &cooldown{clock: clock, interval: time.Second, onTick: onTick}
}

// arm replaces any running countdown with a new one and returns its generation.
func (c *cooldown) arm() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.gen++
	stop := make(chan struct{})
	c.stop = stop
	go c.run(c.gen, c.clock.NewTicker(c.interval), stop)
	return c.gen
}

// disarm stops the running countdown, if any. Ticks that race with it are dropped as stale.
func (c *cooldown) disarm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.gen++
}

// current reports whether gen belongs to the live countdown.
func (c *cooldown) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop != nil && gen == c.gen
}

func (c *cooldown) stopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

func (c *cooldown) run(gen uint64, t Ticker, stop <-chan struct{}) {
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			if c.onTick(gen) {
				return
			}
		}
	}
}
