package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/lessongate/internal/attendance"
	"github.com/wolfeidau/lessongate/internal/countdown"
)

type WatchCmd struct {
	Tick time.Duration `help:"display refresh interval" default:"1s"`
}

func (c *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, globals, c.Tick)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.watch(ctx)
}

// watch shows the access and attendance countdowns until ctx is done or access ends.
func (a *app) watch(ctx context.Context) error {
	access, err := a.checkAccess(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	b := &board{app: a}

	// Access lasts while now <= expiry, so the countdown ends one millisecond after it.
	a.countdowns.Start(countdown.KindExpiry, countdown.Countdown{
		Remaining: countdown.Until(access.ExpiresAt.Add(time.Millisecond)),
		Display: func(_ time.Duration, formatted string) {
			b.update(func() { b.access = "access expires in " + formatted })
		},
		Done: func() {
			b.newline()
			_, err := a.checkAccess(ctx)
			cancel(err)
		},
	})

	a.watchAttendance(b)

	<-ctx.Done()
	b.newline()

	if cause := context.Cause(ctx); errors.Is(cause, errAccessDenied) {
		return cause
	}
	return nil
}

// watchAttendance derives today's status and, once attendance is recorded, counts down to the
// next day. At midnight the status is derived again from the new day key.
func (a *app) watchAttendance(b *board) {
	status, err := a.attendance.Status()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read attendance status")
		return
	}

	if status.State != attendance.AlreadyMarkedToday {
		a.countdowns.Stop(countdown.KindMidnight)
		b.update(func() { b.attendance = "attendance for " + status.Date + " not yet recorded" })
		return
	}

	a.countdowns.Start(countdown.KindMidnight, countdown.Countdown{
		Remaining: countdown.UntilNextMidnight(a.clock.Now()),
		Display: func(_ time.Duration, formatted string) {
			b.update(func() { b.attendance = "attendance recorded, next in " + formatted })
		},
		Done: func() { a.watchAttendance(b) },
	})
}

// board renders both countdowns on a single terminal line.
type board struct {
	mu         sync.Mutex
	app        *app
	access     string
	attendance string
	width      int
}

func (b *board) update(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fn()
	line := strings.Join(nonEmpty(b.access, b.attendance), " | ")
	pad := ""
	if n := b.width - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	b.width = len(line)
	b.app.printf("\r%s%s", line, pad)
}

func (b *board) newline() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.width > 0 {
		b.app.printf("\n")
		b.width = 0
	}
}

func nonEmpty(parts ...string) []string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
