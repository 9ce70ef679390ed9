package sheetdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/lessongate/internal/client"
	"github.com/wolfeidau/lessongate/internal/models"
	"github.com/wolfeidau/lessongate/internal/store"
	"github.com/wolfeidau/lessongate/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "github.com/wolfeidau/lessongate/internal/store/sheetdb"
	maxResponseBody = 1 << 20
)

// Config holds the SheetDB endpoints and retry policy.
type Config struct {
	// BaseURL is the directory sheet API, e.g. https://sheetdb.io/api/v1/<id>.
	BaseURL string

	// LogURL is the attendance history sheet API.
	LogURL string

	// LookupTries bounds the attempts of an idempotent lookup.
	// Default: 3
	LookupTries uint

	// RetryInitialInterval is the first backoff delay between lookup attempts.
	// Default: 250ms
	RetryInitialInterval time.Duration
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("directory API URL is required")
	}
	if c.LogURL == "" {
		return errors.New("attendance log API URL is required")
	}
	for _, raw := range []string{c.BaseURL, c.LogURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid API URL %q", raw)
		}
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.LookupTries == 0 {
		c.LookupTries = 3
	}
	if c.RetryInitialInterval == 0 {
		c.RetryInitialInterval = 250 * time.Millisecond
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}

// Directory implements store.Directory against a SheetDB spreadsheet REST API.
type Directory struct {
	client  *http.Client
	cfg     Config
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

var _ store.Directory = (*Directory)(nil)

// NewDirectory creates a directory client. The http client supplies timeouts, caching and
// authentication.
func NewDirectory(httpClient *http.Client, cfg Config) (*Directory, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sheetdb config: %w", err)
	}

	return &Directory{
		client:  httpClient,
		cfg:     cfg,
		metrics: telemetry.GetMetrics(),
		tracer:  otel.Tracer(tracerName),
	}, nil
}

func (d *Directory) Lookup(ctx context.Context, token, identityID string) ([]models.DirectoryEntry, error) {
	q := url.Values{}
	q.Set(colToken, token)
	q.Set(colIdentity, identityID)
	return d.search(ctx, "lookup", q)
}

func (d *Directory) LookupByToken(ctx context.Context, token string) ([]models.DirectoryEntry, error) {
	q := url.Values{}
	q.Set(colToken, token)
	return d.search(ctx, "lookup_by_token", q)
}

func (d *Directory) UpdateExpiry(ctx context.Context, token string, expiresAt int64) (err error) {
	ctx, done := d.observe(ctx, "update_expiry")
	defer func() { done(err) }()

	return d.patch(ctx, token, map[string]any{colExpiration: expiresAt})
}

func (d *Directory) RecordAttendance(ctx context.Context, entry models.AttendanceLogEntry) (err error) {
	ctx, done := d.observe(ctx, "record_attendance")
	defer func() { done(err) }()

	if err := d.patch(ctx, entry.Token, map[string]any{
		colLastAttendance: entry.Date,
		colRecordedAt:     entry.Timestamp,
		colName:           entry.DisplayName,
	}); err != nil {
		return err
	}

	logRow := map[string]any{
		colToken:      entry.Token,
		colIdentity:   entry.IdentityID,
		colName:       entry.DisplayName,
		colLogDate:    entry.Date,
		colRecordedAt: entry.Timestamp,
	}
	result, err := d.send(ctx, http.MethodPost, d.cfg.LogURL, logRow)
	if err != nil {
		return &store.PartialWriteError{Err: err}
	}
	if result.Created == nil || *result.Created < 1 {
		return &store.PartialWriteError{Err: errors.New(result.reason())}
	}

	return nil
}

func (d *Directory) search(ctx context.Context, op string, q url.Values) (entries []models.DirectoryEntry, err error) {
	ctx, done := d.observe(ctx, op)
	defer func() { done(err) }()

	searchURL := d.cfg.BaseURL + "/search?" + q.Encode()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryInitialInterval

	attempt := 0
	entries, err = backoff.Retry(ctx, func() ([]models.DirectoryEntry, error) {
		attempt++
		entries, err := d.get(ctx, searchURL)
		if err != nil {
			log.Debug().Err(err).Str("operation", op).Int("attempt", attempt).Msg("directory lookup failed")
		}
		return entries, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(d.cfg.LookupTries))
	if err != nil {
		return nil, store.RemoteError(op, err)
	}

	return entries, nil
}

// get performs one lookup request. Errors worth retrying are returned as is, everything else
// is marked permanent.
func (d *Directory) get(ctx context.Context, searchURL string) ([]models.DirectoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "max-age=0")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	trace.SpanFromContext(ctx).SetAttributes(attribute.Bool("cache.revalidated", client.IsCached(resp)))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("directory returned HTTP %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(fmt.Errorf("directory returned HTTP %d", resp.StatusCode))
	}

	var rows []row
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("malformed lookup response: %w", err))
	}

	entries := make([]models.DirectoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

func (d *Directory) patch(ctx context.Context, token string, fields map[string]any) error {
	patchURL := d.cfg.BaseURL + "/" + colToken + "/" + url.PathEscape(token)

	result, err := d.send(ctx, http.MethodPatch, patchURL, fields)
	if err != nil {
		return store.RemoteError("update entry", err)
	}
	if result.Updated == nil {
		return store.RemoteError("update entry", errors.New(result.reason()))
	}
	if *result.Updated < 1 {
		return store.RemoteError("update entry", store.ErrNotFound)
	}
	return nil
}

// send issues a write and decodes its result. It never retries.
func (d *Directory) send(ctx context.Context, method, target string, fields map[string]any) (*writeResult, error) {
	payload, err := json.Marshal(envelope{Data: fields})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result writeResult
	if jsonErr := json.Unmarshal(body, &result); jsonErr != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("malformed write response: %w", jsonErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, result.reason())
	}

	return &result, nil
}

// observe starts a span for op and returns a func recording its outcome.
func (d *Directory) observe(ctx context.Context, op string) (context.Context, func(error)) {
	started := time.Now()
	ctx, span := d.tracer.Start(ctx, "sheetdb."+op, trace.WithAttributes(attribute.String("operation", op)))

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		d.metrics.ObserveDirectoryCall(ctx, op, started, err)
	}
}
