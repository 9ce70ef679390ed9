package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/lessongate/internal/models"
)

// Sentinel errors for common error conditions
var (
	// ErrNotFound is returned when a lookup matches zero entries or, ambiguously, more than one.
	ErrNotFound = errors.New("invalid credential pair")

	// ErrRemoteCommunication covers transport failures, timeouts, malformed responses and
	// responses whose body does not carry an explicit success indicator.
	ErrRemoteCommunication = errors.New("remote communication failed")

	// ErrPartialWrite is returned when the attendance log append failed after the directory
	// entry was already updated.
	ErrPartialWrite = errors.New("attendance log append failed")
)

// PartialWriteError reports that the primary leg of an attendance write succeeded but the
// history append did not. It matches both ErrPartialWrite and the underlying cause.
type PartialWriteError struct {
	Err error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPartialWrite, e.Err)
}

func (e *PartialWriteError) Unwrap() []error {
	return []error{ErrPartialWrite, e.Err}
}

// RemoteError wraps err as a communication failure of the named operation.
func RemoteError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRemoteCommunication, op, err)
}

// CredentialStore persists the local session record. Implementations write and clear all
// fields together.
type CredentialStore interface {
	// Read returns the stored record, or an empty record when nothing is stored.
	Read() (*models.CredentialRecord, error)

	// Write replaces every field of the stored record.
	Write(record *models.CredentialRecord) error

	// Clear removes every field. Clearing an empty store is not an error.
	Clear() error
}

// Directory is the remote authority for enrolled identities, their access expiry and their
// attendance.
type Directory interface {
	// Lookup returns every entry matching both token and identity.
	Lookup(ctx context.Context, token, identityID string) ([]models.DirectoryEntry, error)

	// LookupByToken returns every entry matching token.
	LookupByToken(ctx context.Context, token string) ([]models.DirectoryEntry, error)

	// UpdateExpiry sets the expiration instant (epoch milliseconds) of the entry keyed by token.
	UpdateExpiry(ctx context.Context, token string, expiresAt int64) error

	// RecordAttendance updates the entry's attendance fields and appends one history entry as a
	// single logical operation. A *PartialWriteError means the entry was updated but the
	// history append failed.
	RecordAttendance(ctx context.Context, entry models.AttendanceLogEntry) error
}

// Single returns the only entry in entries, or ErrNotFound when there are zero or several.
func Single(entries []models.DirectoryEntry) (*models.DirectoryEntry, error) {
	if len(entries) != 1 {
		return nil, fmt.Errorf("%w: %d matching entries", ErrNotFound, len(entries))
	}
	entry := entries[0]
	return &entry, nil
}
