package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/lessongate/internal/attendance"
	"github.com/wolfeidau/lessongate/internal/clock"
	"github.com/wolfeidau/lessongate/internal/models"
	"github.com/wolfeidau/lessongate/internal/session"
	"github.com/wolfeidau/lessongate/internal/store"
	"github.com/wolfeidau/lessongate/internal/store/memory"
)

var testNow = time.Date(2026, 3, 2, 10, 30, 0, 0, time.Local)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

type env struct {
	globals *Globals
	dir     *memory.Directory
	clock   *clock.Manual
	out     *syncBuffer
}

func newEnv(t *testing.T, entries ...models.DirectoryEntry) *env {
	t.Helper()

	e := &env{
		dir:   memory.NewDirectory(entries...),
		clock: clock.NewManual(testNow),
		out:   &syncBuffer{},
	}
	e.globals = &Globals{
		StateDir: t.TempDir(),
		LoginURL: "https://school.example/index.html",
		Backend:  backendSheetDB,
		out:      e.out,
		dir:      e.dir,
		clock:    e.clock,
	}
	return e
}

func alice(expiresAt int64) models.DirectoryEntry {
	return models.DirectoryEntry{
		Token:             "ABC123",
		IdentityID:        "123.456.789-01",
		DisplayName:       "Alice",
		ExpirationInstant: expiresAt,
	}
}

func (e *env) login(t *testing.T) {
	t.Helper()
	cmd := &LoginCmd{Token: "abc123", Identity: "12345678901"}
	require.NoError(t, cmd.Run(context.Background(), e.globals))
}

func TestLoginCmd(t *testing.T) {
	ctx := context.Background()

	t.Run("renews a lapsed window", func(t *testing.T) {
		e := newEnv(t, alice(0))

		e.login(t)
		assert.Contains(t, e.out.String(), "Access renewed for 24 hours. Welcome, Alice!")
		assert.Contains(t, e.out.String(), "Access expires in 24h 00m 00s (2026-03-03 10:30:00)")
		assert.Equal(t, 1, e.dir.Calls().ExpiryUpdates)
	})

	t.Run("adopts an active window", func(t *testing.T) {
		e := newEnv(t, alice(testNow.Add(3*time.Hour).UnixMilli()))

		e.login(t)
		assert.Contains(t, e.out.String(), "Access already active. Welcome back, Alice!")
		assert.Contains(t, e.out.String(), "Access expires in 03h 00m 00s")
		assert.Zero(t, e.dir.Calls().ExpiryUpdates)
	})

	t.Run("unknown student writes nothing", func(t *testing.T) {
		e := newEnv(t, alice(0))

		err := (&LoginCmd{Token: "ABC123", Identity: "99999999999"}).Run(ctx, e.globals)
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorContains(t, err, "invalid token or identity, student not found")

		_, statErr := os.Stat(filepath.Join(e.globals.StateDir, "session.json"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("malformed input", func(t *testing.T) {
		e := newEnv(t, alice(0))

		err := (&LoginCmd{Token: "ABC123", Identity: "123"}).Run(ctx, e.globals)
		require.ErrorIs(t, err, session.ErrValidation)
		require.ErrorContains(t, err, "please fill in the token and identity correctly")
		assert.Equal(t, memory.Calls{}, e.dir.Calls())
	})
}

func TestStatusCmd(t *testing.T) {
	ctx := context.Background()

	t.Run("not logged in", func(t *testing.T) {
		e := newEnv(t)

		err := (&StatusCmd{}).Run(ctx, e.globals)
		require.ErrorIs(t, err, errAccessDenied)
		assert.Contains(t, e.out.String(), "You are not logged in.")
		assert.Contains(t, e.out.String(), "Log in again at https://school.example/index.html?expired=no_access")
	})

	t.Run("active", func(t *testing.T) {
		e := newEnv(t, alice(0))
		e.login(t)
		e.out.Reset()

		require.NoError(t, (&StatusCmd{}).Run(ctx, e.globals))
		assert.Contains(t, e.out.String(), "Access active, expires in 24h 00m 00s")
		assert.Contains(t, e.out.String(), "Attendance for 2026-03-02 not yet recorded")
	})

	t.Run("expired session is cleared", func(t *testing.T) {
		e := newEnv(t, alice(0))
		e.login(t)
		e.clock.Advance(24*time.Hour + time.Second)

		err := (&StatusCmd{}).Run(ctx, e.globals)
		require.ErrorIs(t, err, errAccessDenied)
		assert.Contains(t, e.out.String(), "Your access has expired.")
		assert.Contains(t, e.out.String(), "?expired=expired")

		e.out.Reset()
		err = (&StatusCmd{}).Run(ctx, e.globals)
		require.ErrorIs(t, err, errAccessDenied)
		assert.Contains(t, e.out.String(), "You are not logged in.")
	})

	t.Run("refresh adopts the directory expiry", func(t *testing.T) {
		e := newEnv(t, alice(0))
		e.login(t)
		require.NoError(t, e.dir.UpdateExpiry(ctx, "ABC123", testNow.Add(2*time.Hour).UnixMilli()))
		e.out.Reset()

		require.NoError(t, (&StatusCmd{Refresh: true}).Run(ctx, e.globals))
		assert.Contains(t, e.out.String(), "Access active, expires in 02h 00m 00s")
	})

	t.Run("refresh failure falls back to local state", func(t *testing.T) {
		e := newEnv(t, alice(0))
		e.login(t)
		e.dir.SetFailure(memory.OpLookup, errors.New("offline"))
		e.out.Reset()

		require.NoError(t, (&StatusCmd{Refresh: true}).Run(ctx, e.globals))
		assert.Contains(t, e.out.String(), "Could not refresh from the directory")
		assert.Contains(t, e.out.String(), "Access active")
	})
}

func TestAttendCmd(t *testing.T) {
	ctx := context.Background()

	t.Run("records once per day", func(t *testing.T) {
		e := newEnv(t, alice(0))
		e.login(t)

		require.NoError(t, (&AttendCmd{}).Run(ctx, e.globals))
		assert.Contains(t, e.out.String(), "Attendance recorded successfully! 2026-03-02 10:30:00")
		assert.Contains(t, e.out.String(), "Attendance for 2026-03-02 already recorded, next in 13h 30m 00s")

		e.out.Reset()
		require.NoError(t, (&AttendCmd{}).Run(ctx, e.globals))
		assert.NotContains(t, e.out.String(), "recorded successfully")
		assert.Contains(t, e.out.String(), "already recorded")

		assert.Equal(t, 1, e.dir.Calls().AttendanceWrites)
		assert.Len(t, e.dir.Log(), 1)
	})

	t.Run("requires access", func(t *testing.T) {
		e := newEnv(t, alice(0))

		err := (&AttendCmd{}).Run(ctx, e.globals)
		require.ErrorIs(t, err, errAccessDenied)
		assert.Zero(t, e.dir.Calls().AttendanceWrites)
	})

	t.Run("failure asks to try again", func(t *testing.T) {
		e := newEnv(t, alice(0))
		e.login(t)
		e.dir.SetFailure(memory.OpRecordAttendance, context.DeadlineExceeded)

		err := (&AttendCmd{}).Run(ctx, e.globals)
		require.ErrorIs(t, err, attendance.ErrNotRecorded)
		require.ErrorContains(t, err, "try again")

		e.dir.SetFailure(memory.OpRecordAttendance, nil)
		require.NoError(t, (&AttendCmd{}).Run(ctx, e.globals))
		assert.Len(t, e.dir.Log(), 1)
	})
}

func TestLogoutCmd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, alice(0))
	e.login(t)

	require.NoError(t, (&LogoutCmd{}).Run(ctx, e.globals))
	assert.Contains(t, e.out.String(), "Logged out.")
	assert.Contains(t, e.out.String(), "Log in again at https://school.example/index.html\n")

	require.NoError(t, (&LogoutCmd{}).Run(ctx, e.globals))
	require.ErrorIs(t, (&StatusCmd{}).Run(ctx, e.globals), errAccessDenied)
}

func TestWatch_EndsWhenAccessExpires(t *testing.T) {
	e := newEnv(t, alice(testNow.Add(2*time.Second).UnixMilli()))
	e.login(t)
	require.NoError(t, (&AttendCmd{}).Run(context.Background(), e.globals))
	e.out.Reset()

	errc := make(chan error, 1)
	go func() {
		errc <- (&WatchCmd{Tick: 5 * time.Millisecond}).Run(context.Background(), e.globals)
	}()

	require.Eventually(t, func() bool {
		out := e.out.String()
		return bytes.Contains([]byte(out), []byte("access expires in 00h 00m 02s")) &&
			bytes.Contains([]byte(out), []byte("attendance recorded, next in 13h 30m 00s"))
	}, time.Second, time.Millisecond)

	e.clock.Advance(3 * time.Second)

	select {
	case err := <-errc:
		require.ErrorIs(t, err, errAccessDenied)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after access expired")
	}
	assert.Contains(t, e.out.String(), "Your access has expired.")
}

func TestWatch_StopsOnCancel(t *testing.T) {
	e := newEnv(t, alice(0))
	e.login(t)

	a, err := newApp(context.Background(), e.globals, 5*time.Millisecond)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.watch(ctx) }()

	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(e.out.String()), []byte("attendance for 2026-03-02 not yet recorded"))
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestDescribe(t *testing.T) {
	plain := errors.New("disk full")
	assert.Equal(t, plain, describe(plain))

	err := describe(store.RemoteError("lookup", context.DeadlineExceeded))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "communication error with the server, try again later")

	err = describe(attendance.ErrAuthentication)
	assert.Contains(t, err.Error(), "authentication failure, log in again")
}

func TestNewApp_Backends(t *testing.T) {
	ctx := context.Background()

	t.Run("sheetdb requires urls", func(t *testing.T) {
		g := &Globals{StateDir: t.TempDir(), Backend: backendSheetDB, out: &syncBuffer{}}

		_, err := newApp(ctx, g, 0)
		require.ErrorContains(t, err, "directory API URL is required")
	})

	t.Run("sheetdb", func(t *testing.T) {
		g := &Globals{
			StateDir: t.TempDir(),
			Backend:  backendSheetDB,
			SheetDB:  SheetDBFlags{APIURL: "https://sheetdb.io/api/v1/abc", LogURL: "https://sheetdb.io/api/v1/def"},
			out:      &syncBuffer{},
		}

		a, err := newApp(ctx, g, 0)
		require.NoError(t, err)
		a.Close()
	})

	t.Run("postgres requires a connection string", func(t *testing.T) {
		g := &Globals{StateDir: t.TempDir(), Backend: backendPostgres, out: &syncBuffer{}}

		_, err := newApp(ctx, g, 0)
		require.ErrorContains(t, err, "PostgreSQL connection string is required")
	})
}
