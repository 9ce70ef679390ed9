package clock

import (
	"fmt"
	"sync"
	"time"
)

const (
	dateKeyLayout   = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

// Clock supplies the current instant. All day keys and midnight boundaries are computed in the
// location of the returned time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock in the process local time zone.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a clock frozen at now.
func NewManual(now time.Time) *Manual {
	return &Manual{now: now}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to now.
func (m *Manual) Set(now time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// DateKey returns the calendar date of t as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format(dateKeyLayout)
}

// Timestamp returns t as YYYY-MM-DD HH:MM:SS, used in attendance records.
func Timestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

// UntilMidnight returns the time left until 00:00:00.000 of the day after t, never negative.
func UntilMidnight(t time.Time) time.Duration {
	y, m, d := t.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
	return max(0, next.Sub(t))
}

// FormatRemaining renders d as "HHh MMm SSs". Hours are not capped at 24 and sub-second
// remainders are truncated.
func FormatRemaining(d time.Duration) string {
	total := int64(d / time.Second)
	if total < 0 {
		total = 0
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02dh %02dm %02ds", hours, minutes, seconds)
}

// FromMillis converts epoch milliseconds to a time. Zero maps to the zero time.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ToMillis converts t to epoch milliseconds. The zero time maps to 0.
func ToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
