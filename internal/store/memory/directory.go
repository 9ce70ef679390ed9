package memory

import (
	"context"
	"sync"

	"github.com/wolfeidau/lessongate/internal/models"
	"github.com/wolfeidau/lessongate/internal/store"
)

// Operation names a Directory call for failure injection.
type Operation string

const (
	OpLookup           Operation = "lookup"
	OpUpdateExpiry     Operation = "update_expiry"
	OpRecordAttendance Operation = "record_attendance"
	OpAppendLog        Operation = "append_log"
)

// Calls counts the Directory calls made so far.
type Calls struct {
	Lookups          int
	ExpiryUpdates    int
	AttendanceWrites int
}

// Directory implements store.Directory using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type Directory struct {
	mu sync.Mutex

	entries  []models.DirectoryEntry
	log      []models.AttendanceLogEntry
	calls    Calls
	failures map[Operation]error
}

var _ store.Directory = (*Directory)(nil)

// NewDirectory creates a directory preloaded with entries.
func NewDirectory(entries ...models.DirectoryEntry) *Directory {
	d := &Directory{failures: make(map[Operation]error)}
	for _, e := range entries {
		d.Put(e)
	}
	return d
}

// Put adds an entry. Identities are stored in their formatted form.
func (d *Directory) Put(entry models.DirectoryEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry.IdentityID = models.FormatIdentity(entry.IdentityID)
	d.entries = append(d.entries, entry)
}

// SetFailure makes every subsequent call of op fail with err. A nil err clears it.
func (d *Directory) SetFailure(op Operation, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err == nil {
		delete(d.failures, op)
		return
	}
	d.failures[op] = err
}

// Calls returns a snapshot of the call counters.
func (d *Directory) Calls() Calls {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Entries returns a copy of the stored entries.
func (d *Directory) Entries() []models.DirectoryEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.DirectoryEntry(nil), d.entries...)
}

// Log returns a copy of the attendance history.
func (d *Directory) Log() []models.AttendanceLogEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.AttendanceLogEntry(nil), d.log...)
}

func (d *Directory) Lookup(ctx context.Context, token, identityID string) ([]models.DirectoryEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls.Lookups++
	if err := d.failures[OpLookup]; err != nil {
		return nil, store.RemoteError("lookup", err)
	}

	identityID = models.FormatIdentity(identityID)
	var matches []models.DirectoryEntry
	for _, e := range d.entries {
		if e.Token == token && e.IdentityID == identityID {
			matches = append(matches, e)
		}
	}
	return matches, nil
}

func (d *Directory) LookupByToken(ctx context.Context, token string) ([]models.DirectoryEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls.Lookups++
	if err := d.failures[OpLookup]; err != nil {
		return nil, store.RemoteError("lookup", err)
	}

	var matches []models.DirectoryEntry
	for _, e := range d.entries {
		if e.Token == token {
			matches = append(matches, e)
		}
	}
	return matches, nil
}

func (d *Directory) UpdateExpiry(ctx context.Context, token string, expiresAt int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls.ExpiryUpdates++
	if err := d.failures[OpUpdateExpiry]; err != nil {
		return store.RemoteError("update expiry", err)
	}

	updated := 0
	for i := range d.entries {
		if d.entries[i].Token == token {
			d.entries[i].ExpirationInstant = expiresAt
			updated++
		}
	}
	if updated == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *Directory) RecordAttendance(ctx context.Context, entry models.AttendanceLogEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls.AttendanceWrites++
	if err := d.failures[OpRecordAttendance]; err != nil {
		return store.RemoteError("record attendance", err)
	}

	updated := 0
	for i := range d.entries {
		if d.entries[i].Token == entry.Token {
			d.entries[i].LastAttendanceDate = entry.Date
			d.entries[i].LastAttendanceTimestamp = entry.Timestamp
			d.entries[i].DisplayName = entry.DisplayName
			updated++
		}
	}
	if updated == 0 {
		return store.ErrNotFound
	}

	if err := d.failures[OpAppendLog]; err != nil {
		return &store.PartialWriteError{Err: err}
	}
	d.log = append(d.log, entry)

	return nil
}
