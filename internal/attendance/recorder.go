package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/lessongate/internal/clock"
	"github.com/wolfeidau/lessongate/internal/models"
	"github.com/wolfeidau/lessongate/internal/store"
	"github.com/wolfeidau/lessongate/internal/telemetry"
)

var (
	// ErrAuthentication is returned when the local session lacks the token, identity or name
	// needed to mark attendance. The user has to log in again.
	ErrAuthentication = errors.New("session incomplete, log in again")

	// ErrNotRecorded wraps every failure that left today's attendance unmarked. Local state is
	// unchanged and the action can be retried.
	ErrNotRecorded = errors.New("attendance not recorded")
)

// State is the attendance state of the current day.
type State string

const (
	NotYetMarked       State = "not_yet_marked"
	AlreadyMarkedToday State = "already_marked_today"
)

// Status is the attendance state of the day identified by Date.
type Status struct {
	State State
	Date  string

	// UntilMidnight is the time left before the day key changes. Set only when already marked.
	UntilMidnight time.Duration
}

// Result is the outcome of a successful Mark.
type Result struct {
	Status Status

	// Timestamp is the instant written to the directory, empty when nothing was written.
	Timestamp string

	// AlreadyMarked is true when no write was needed.
	AlreadyMarked bool

	// Partial is true when the history append failed after the directory entry was updated.
	Partial bool
}

// Config holds the collaborators of a Recorder.
type Config struct {
	Directory   store.Directory
	Credentials store.CredentialStore
	Clock       clock.Clock
}

// Recorder marks attendance at most once per calendar day. Uniqueness is anchored to the day
// key kept in the local credential record and checked before any remote call.
type Recorder struct {
	dir     store.Directory
	creds   store.CredentialStore
	clock   clock.Clock
	metrics *telemetry.Metrics
}

// NewRecorder creates an attendance recorder.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.Directory == nil {
		return nil, errors.New("directory is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("credential store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	return &Recorder{
		dir:     cfg.Directory,
		creds:   cfg.Credentials,
		clock:   cfg.Clock,
		metrics: telemetry.GetMetrics(),
	}, nil
}

// Status derives today's state from the local record only.
func (r *Recorder) Status() (Status, error) {
	record, err := r.creds.Read()
	if err != nil {
		return Status{}, fmt.Errorf("failed to read session: %w", err)
	}
	return statusAt(r.clock.Now(), record), nil
}

func statusAt(now time.Time, record *models.CredentialRecord) Status {
	today := clock.DateKey(now)
	if record.LastAttendanceDate == today {
		return Status{State: AlreadyMarkedToday, Date: today, UntilMidnight: clock.UntilMidnight(now)}
	}
	return Status{State: NotYetMarked, Date: today}
}

// Mark records today's attendance. A day already marked locally returns without any remote
// call. Otherwise one directory write updates the entry and appends the history; the day key is
// stored locally only once that write succeeded.
func (r *Recorder) Mark(ctx context.Context) (*Result, error) {
	now := r.clock.Now()

	record, err := r.creds.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	if status := statusAt(now, record); status.State == AlreadyMarkedToday {
		telemetry.Outcome(ctx, r.metrics.AttendanceTotal, "already_marked")
		return &Result{Status: status, AlreadyMarked: true}, nil
	}

	if !record.HasIdentity() {
		telemetry.Outcome(ctx, r.metrics.AttendanceTotal, "unauthenticated")
		return nil, ErrAuthentication
	}

	entries, err := r.dir.LookupByToken(ctx, record.Token)
	if err != nil {
		return nil, r.failed(ctx, err)
	}
	if len(entries) == 0 {
		return nil, r.failed(ctx, fmt.Errorf("%w: token not enrolled", store.ErrNotFound))
	}

	today := clock.DateKey(now)

	// Marked from another device: adopt it instead of writing a second history entry.
	for _, e := range entries {
		if e.IdentityID == record.IdentityID && e.LastAttendanceDate == today {
			if err := r.persist(record, today); err != nil {
				return nil, err
			}
			telemetry.Outcome(ctx, r.metrics.AttendanceTotal, "already_marked_remotely")
			return &Result{Status: statusAt(now, record), AlreadyMarked: true}, nil
		}
	}

	entry := models.AttendanceLogEntry{
		IdentityID:  record.IdentityID,
		Token:       record.Token,
		DisplayName: record.DisplayName,
		Date:        today,
		Timestamp:   clock.Timestamp(now),
	}

	result := &Result{Timestamp: entry.Timestamp}

	err = r.dir.RecordAttendance(ctx, entry)
	switch {
	case errors.Is(err, store.ErrPartialWrite):
		r.metrics.PartialWritesTotal.Add(ctx, 1)
		log.Warn().Err(err).Str("date", today).Msg("Attendance recorded without history entry")
		result.Partial = true
	case err != nil:
		return nil, r.failed(ctx, err)
	}

	if err := r.persist(record, today); err != nil {
		return nil, err
	}

	telemetry.Outcome(ctx, r.metrics.AttendanceTotal, "recorded")
	log.Debug().Str("date", today).Str("timestamp", entry.Timestamp).Msg("Attendance recorded")

	result.Status = statusAt(now, record)
	return result, nil
}

func (r *Recorder) persist(record *models.CredentialRecord, today string) error {
	record.LastAttendanceDate = today
	if err := r.creds.Write(record); err != nil {
		return fmt.Errorf("failed to persist attendance date: %w", err)
	}
	return nil
}

func (r *Recorder) failed(ctx context.Context, err error) error {
	telemetry.Outcome(ctx, r.metrics.AttendanceTotal, "failed")
	return fmt.Errorf("%w: %w", ErrNotRecorded, err)
}
