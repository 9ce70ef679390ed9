package countdown

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/lessongate/internal/clock"
	"github.com/wolfeidau/lessongate/internal/telemetry"
)

// DefaultTick is the display refresh cadence.
const DefaultTick = time.Second

// Kind identifies one of the independent countdowns. At most one countdown of each kind runs.
type Kind string

const (
	// KindExpiry counts down to the end of the access window.
	KindExpiry Kind = "expiry"

	// KindMidnight counts down to the next attendance day key.
	KindMidnight Kind = "midnight"
)

// Countdown describes what to count down to and what to do on the way.
type Countdown struct {
	// Remaining returns the time left at now.
	Remaining func(now time.Time) time.Duration

	// Display receives the time left, formatted as HHh MMm SSs, immediately and on every tick.
	Display func(remaining time.Duration, formatted string)

	// Done runs once when the time left reaches zero. It is not run for a stopped countdown.
	Done func()
}

// Until counts down to deadline.
func Until(deadline time.Time) func(time.Time) time.Duration {
	return func(now time.Time) time.Duration { return deadline.Sub(now) }
}

// UntilNextMidnight counts down to the first local midnight after now. The deadline is fixed
// when called, so the countdown reaches zero instead of rolling over to the following day.
func UntilNextMidnight(now time.Time) func(time.Time) time.Duration {
	return Until(now.Add(clock.UntilMidnight(now)))
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Presenter owns the running countdowns.
type Presenter struct {
	mu      sync.Mutex
	handles map[Kind]*handle

	clock   clock.Clock
	tick    time.Duration
	metrics *telemetry.Metrics
}

// NewPresenter creates a presenter refreshing every tick, DefaultTick when tick is not positive.
func NewPresenter(clk clock.Clock, tick time.Duration) *Presenter {
	if clk == nil {
		clk = clock.System{}
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Presenter{
		handles: make(map[Kind]*handle),
		clock:   clk,
		tick:    tick,
		metrics: telemetry.GetMetrics(),
	}
}

// Start cancels any running countdown of kind and starts cd in its place.
func (p *Presenter) Start(kind Kind, cd Countdown) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	p.stopLocked(kind)
	p.handles[kind] = h
	p.mu.Unlock()

	go p.run(ctx, kind, h, cd)
}

// Stop cancels the countdown of kind. Stopping a stopped countdown is a no-op.
func (p *Presenter) Stop(kind Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked(kind)
}

// StopAll cancels every countdown.
func (p *Presenter) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for kind := range p.handles {
		p.stopLocked(kind)
	}
}

// Active reports whether a countdown of kind is running.
func (p *Presenter) Active(kind Kind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.handles[kind]
	return ok
}

// Wait blocks until the countdown of kind, if any, has finished or ctx is done.
func (p *Presenter) Wait(ctx context.Context, kind Kind) error {
	p.mu.Lock()
	h, ok := p.handles[kind]
	p.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Presenter) stopLocked(kind Kind) {
	if h, ok := p.handles[kind]; ok {
		h.cancel()
		delete(p.handles, kind)
	}
}

// release drops h if it is still the current handle of kind. Only the caller that releases a
// handle may run its Done.
func (p *Presenter) release(kind Kind, h *handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handles[kind] != h {
		return false
	}
	delete(p.handles, kind)
	return true
}

func (p *Presenter) run(ctx context.Context, kind Kind, h *handle, cd Countdown) {
	defer close(h.done)

	p.metrics.ActiveCountdowns.Add(ctx, 1)
	defer p.metrics.ActiveCountdowns.Add(context.Background(), -1)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		remaining := cd.Remaining(p.clock.Now())
		if remaining <= 0 {
			if p.release(kind, h) {
				log.Debug().Str("countdown", string(kind)).Msg("Countdown finished")
				if cd.Done != nil {
					cd.Done()
				}
			}
			return
		}

		if cd.Display != nil {
			cd.Display(remaining, clock.FormatRemaining(remaining))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
