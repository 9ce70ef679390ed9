package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/lessongate/internal/clock"
	"github.com/wolfeidau/lessongate/internal/models"
	"github.com/wolfeidau/lessongate/internal/store"
	"github.com/wolfeidau/lessongate/internal/telemetry"
)

// DefaultWindow is the length of an access window granted or renewed at login.
const DefaultWindow = 24 * time.Hour

// ErrValidation is returned when the typed credentials are malformed. No remote call is made.
var ErrValidation = errors.New("invalid credentials input")

// Reason explains a denied access check. It is passed to the login surface as ?expired=<reason>.
type Reason string

const (
	ReasonNoAccess Reason = "no_access"
	ReasonExpired  Reason = "expired"
)

// TimerCanceller stops every running countdown.
type TimerCanceller interface {
	StopAll()
}

// Grant is the outcome of a successful login.
type Grant struct {
	ExpiresAt   time.Time
	DisplayName string

	// Renewed is false when a still-active remote window was adopted unchanged.
	Renewed bool
}

// Access is the outcome of an access check.
type Access struct {
	Allowed   bool
	Reason    Reason
	ExpiresAt time.Time
}

// Config holds the collaborators of a Controller.
type Config struct {
	Directory   store.Directory
	Credentials store.CredentialStore
	Clock       clock.Clock
	Timers      TimerCanceller

	// Window is the access window length.
	// Default: 24h
	Window time.Duration
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Directory == nil {
		return errors.New("directory is required")
	}
	if c.Credentials == nil {
		return errors.New("credential store is required")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Clock == nil {
		c.Clock = clock.System{}
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
}

// Controller owns the access window of the local user: it grants or renews it against the
// remote directory, checks it before protected content is shown and ends it on logout.
type Controller struct {
	dir     store.Directory
	creds   store.CredentialStore
	clock   clock.Clock
	timers  TimerCanceller
	window  time.Duration
	metrics *telemetry.Metrics
}

// NewController creates a session controller.
func NewController(cfg Config) (*Controller, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	return &Controller{
		dir:     cfg.Directory,
		creds:   cfg.Credentials,
		clock:   cfg.Clock,
		timers:  cfg.Timers,
		window:  cfg.Window,
		metrics: telemetry.GetMetrics(),
	}, nil
}

// GrantOrRenew logs the user in. A remote window still open is adopted as is; otherwise a new
// window starting now is written to the directory. The local record is written only on success.
func (c *Controller) GrantOrRenew(ctx context.Context, identityRaw, tokenRaw string) (*Grant, error) {
	input := models.NewLoginInput(identityRaw, tokenRaw)
	if err := input.Validate(); err != nil {
		telemetry.Outcome(ctx, c.metrics.LoginsTotal, "invalid_input")
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	entries, err := c.dir.Lookup(ctx, input.Token, input.IdentityID)
	if err != nil {
		telemetry.Outcome(ctx, c.metrics.LoginsTotal, "remote_error")
		return nil, err
	}

	entry, err := store.Single(entries)
	if err != nil {
		telemetry.Outcome(ctx, c.metrics.LoginsTotal, "not_found")
		return nil, err
	}

	now := c.clock.Now()
	grant := &Grant{DisplayName: entry.Name()}

	if now.UnixMilli() < entry.ExpirationInstant {
		grant.ExpiresAt = clock.FromMillis(entry.ExpirationInstant)
	} else {
		grant.ExpiresAt = now.Add(c.window)
		grant.Renewed = true

		// A failed update is reported but the grant stands; the next login renews again.
		if err := c.dir.UpdateExpiry(ctx, input.Token, clock.ToMillis(grant.ExpiresAt)); err != nil {
			c.metrics.ExpiryUpdateFailuresTotal.Add(ctx, 1)
			log.Warn().Err(err).Str("identity", input.IdentityID).Msg("Failed to store renewed expiry remotely")
		}
	}

	previous, err := c.creds.Read()
	if err != nil {
		log.Debug().Err(err).Msg("Ignoring unreadable credential record")
		previous = &models.CredentialRecord{}
	}

	record := &models.CredentialRecord{
		Granted:            true,
		ExpiresAt:          clock.ToMillis(grant.ExpiresAt),
		IdentityID:         input.IdentityID,
		Token:              input.Token,
		DisplayName:        grant.DisplayName,
		LastAttendanceDate: attendedToday(now, entry.LastAttendanceDate, previous, input.IdentityID),
	}
	if err := c.creds.Write(record); err != nil {
		telemetry.Outcome(ctx, c.metrics.LoginsTotal, "local_error")
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	if grant.Renewed {
		telemetry.Outcome(ctx, c.metrics.LoginsTotal, "renewed")
	} else {
		telemetry.Outcome(ctx, c.metrics.LoginsTotal, "active")
	}

	log.Debug().
		Str("identity", input.IdentityID).
		Bool("renewed", grant.Renewed).
		Time("expires_at", grant.ExpiresAt).
		Msg("Access granted")

	return grant, nil
}

// attendedToday returns today's day key when either the directory or the previous local record
// of the same identity already holds it, so a fresh login cannot re-open today's attendance.
func attendedToday(now time.Time, remoteDate string, previous *models.CredentialRecord, identityID string) string {
	today := clock.DateKey(now)
	if remoteDate == today {
		return today
	}
	if previous != nil && previous.IdentityID == identityID && previous.LastAttendanceDate == today {
		return today
	}
	return ""
}

// ValidateAccess checks the local access window. An expired record is cleared before access is
// denied, so it cannot be reused by a later check.
func (c *Controller) ValidateAccess(ctx context.Context) (Access, error) {
	record, err := c.creds.Read()
	if err != nil {
		return Access{}, fmt.Errorf("failed to read session: %w", err)
	}

	if !record.HasGrant() {
		telemetry.Outcome(ctx, c.metrics.AccessChecksTotal, string(ReasonNoAccess))
		return Access{Reason: ReasonNoAccess}, nil
	}

	if record.IsExpired(c.clock.Now()) {
		if err := c.clear(); err != nil {
			return Access{}, err
		}
		telemetry.Outcome(ctx, c.metrics.AccessChecksTotal, string(ReasonExpired))
		return Access{Reason: ReasonExpired, ExpiresAt: clock.FromMillis(record.ExpiresAt)}, nil
	}

	telemetry.Outcome(ctx, c.metrics.AccessChecksTotal, "allowed")
	return Access{Allowed: true, ExpiresAt: clock.FromMillis(record.ExpiresAt)}, nil
}

// Logout clears the local record and stops every countdown. It is safe to call without a session.
func (c *Controller) Logout() error {
	return c.clear()
}

func (c *Controller) clear() error {
	if c.timers != nil {
		c.timers.StopAll()
	}
	if err := c.creds.Clear(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Reconcile re-reads the directory entry of the logged in user and adopts its expiry, and its
// attendance date when that is today. The directory is the authority; the local record is a
// cache of it.
func (c *Controller) Reconcile(ctx context.Context) (*models.CredentialRecord, error) {
	record, err := c.creds.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !record.HasGrant() || record.Token == "" || record.IdentityID == "" {
		return record, nil
	}

	entries, err := c.dir.Lookup(ctx, record.Token, record.IdentityID)
	if err != nil {
		return nil, err
	}
	entry, err := store.Single(entries)
	if err != nil {
		return nil, err
	}

	if entry.ExpirationInstant != record.ExpiresAt {
		log.Info().
			Int64("local_expires_at", record.ExpiresAt).
			Int64("remote_expires_at", entry.ExpirationInstant).
			Msg("Adopting remote expiry")
		record.ExpiresAt = entry.ExpirationInstant
	}
	record.DisplayName = entry.Name()
	if today := clock.DateKey(c.clock.Now()); entry.LastAttendanceDate == today {
		record.LastAttendanceDate = today
	}

	// No expiry, no grant. The next access check denies it.
	if record.ExpiresAt == 0 {
		record.Granted = false
	}

	if err := c.creds.Write(record); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	return record, nil
}

// LoginRedirect returns loginURL with the denial reason appended as the expired query parameter.
func LoginRedirect(loginURL string, reason Reason) (string, error) {
	u, err := url.Parse(loginURL)
	if err != nil {
		return "", fmt.Errorf("invalid login URL: %w", err)
	}
	if reason != "" {
		q := u.Query()
		q.Set("expired", string(reason))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
