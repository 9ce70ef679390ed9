package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/lessongate/cmd/cli/internal/credentials"
	"github.com/wolfeidau/lessongate/internal/attendance"
	"github.com/wolfeidau/lessongate/internal/client"
	"github.com/wolfeidau/lessongate/internal/clock"
	"github.com/wolfeidau/lessongate/internal/countdown"
	"github.com/wolfeidau/lessongate/internal/logger"
	"github.com/wolfeidau/lessongate/internal/session"
	"github.com/wolfeidau/lessongate/internal/store"
	"github.com/wolfeidau/lessongate/internal/store/postgres"
	"github.com/wolfeidau/lessongate/internal/store/sheetdb"
	"github.com/wolfeidau/lessongate/internal/telemetry"
)

// app holds the wired components shared by every command.
type app struct {
	session    *session.Controller
	attendance *attendance.Recorder
	countdowns *countdown.Presenter
	clock      clock.Clock
	loginURL   string

	outMu sync.Mutex
	out   io.Writer

	closers []func()
}

// newApp wires the components for one command run. tick is the countdown refresh cadence.
func newApp(ctx context.Context, g *Globals, tick time.Duration) (*app, error) {
	log.Logger = logger.Setup(g.Debug)

	if g.Config != "" {
		if err := g.loadConfigFile(); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	a := &app{
		clock:    g.clock,
		out:      g.out,
		loginURL: g.LoginURL,
	}
	if a.clock == nil {
		a.clock = clock.System{}
	}
	if a.out == nil {
		a.out = os.Stdout
	}

	if g.Tracing {
		shutdown, err := telemetry.InitTelemetry(ctx, "lessongate-cli", g.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		} else {
			a.closers = append(a.closers, func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Failed to shutdown telemetry")
				}
			})
		}
	}

	stateDir := g.StateDir
	if stateDir == "" {
		dir, err := credentials.DefaultDir()
		if err != nil {
			return nil, err
		}
		stateDir = dir
	}

	creds, err := credentials.NewStore(stateDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	dir, err := a.openDirectory(ctx, g, stateDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.countdowns = countdown.NewPresenter(a.clock, tick)

	a.session, err = session.NewController(session.Config{
		Directory:   dir,
		Credentials: creds,
		Clock:       a.clock,
		Timers:      a.countdowns,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.attendance, err = attendance.NewRecorder(attendance.Config{
		Directory:   dir,
		Credentials: creds,
		Clock:       a.clock,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) openDirectory(ctx context.Context, g *Globals, stateDir string) (store.Directory, error) {
	if g.dir != nil {
		return g.dir, nil
	}

	switch g.Backend {
	case backendPostgres:
		if err := g.Postgres.Validate(); err != nil {
			return nil, err
		}
		dir, err := postgres.NewDirectory(ctx, &postgres.Config{
			Pool: postgres.PoolConfig{
				ConnString: g.Postgres.ConnString,
				MaxConns:   g.Postgres.MaxConns,
			},
			AutoMigrate: g.Postgres.AutoMigrate,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres directory: %w", err)
		}
		a.closers = append(a.closers, dir.Close)
		return dir, nil

	default:
		httpClient := client.NewHTTPClient(client.Config{
			Timeout:  g.SheetDB.Timeout,
			CacheDir: filepath.Join(stateDir, "cache"),
			APIKey:   g.SheetDB.APIKey,
			Logger:   log.Logger,
		})
		return sheetdb.NewDirectory(httpClient, sheetdb.Config{
			BaseURL:     g.SheetDB.APIURL,
			LogURL:      g.SheetDB.LogURL,
			LookupTries: g.SheetDB.LookupTries,
		})
	}
}

// Close stops every countdown and releases what newApp opened, last opened first.
func (a *app) Close() {
	if a.countdowns != nil {
		a.countdowns.StopAll()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) printf(format string, args ...any) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	_, _ = fmt.Fprintf(a.out, format, args...)
}

// redirect tells the user where to log in again after access was denied.
func (a *app) redirect(reason session.Reason) {
	target, err := session.LoginRedirect(a.loginURL, reason)
	if err != nil {
		log.Warn().Err(err).Msg("Invalid login URL")
		return
	}
	a.printf("Log in again at %s\n", target)
}

var errAccessDenied = errors.New("access denied")

// describe prefixes err with the message shown to the user for its kind.
func describe(err error) error {
	var msg string
	switch {
	case errors.Is(err, session.ErrValidation):
		msg = "please fill in the token and identity correctly"
	case errors.Is(err, attendance.ErrAuthentication):
		msg = "authentication failure, log in again"
	case errors.Is(err, attendance.ErrNotRecorded):
		msg = "failed to record attendance, check your connection and try again"
	case errors.Is(err, store.ErrNotFound):
		msg = "invalid token or identity, student not found"
	case errors.Is(err, store.ErrRemoteCommunication):
		msg = "communication error with the server, try again later"
	default:
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}
