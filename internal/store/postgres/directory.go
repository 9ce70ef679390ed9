package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/lessongate/internal/models"
	"github.com/wolfeidau/lessongate/internal/store"
	"github.com/wolfeidau/lessongate/internal/telemetry"
)

// Config holds configuration for the PostgreSQL directory.
type Config struct {
	Pool PoolConfig

	// AutoMigrate applies pending schema migrations when the directory is opened.
	AutoMigrate bool
}

// Directory implements store.Directory using PostgreSQL. The entry update and the history
// append of an attendance mark commit together, so it never reports a partial write.
type Directory struct {
	pool    *pgxpool.Pool
	metrics *telemetry.Metrics
}

var _ store.Directory = (*Directory)(nil)

// NewDirectory opens a pool and, when configured, migrates the schema.
func NewDirectory(ctx context.Context, cfg *Config) (*Directory, error) {
	pool, err := NewPool(ctx, &cfg.Pool)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate directory schema: %w", err)
		}
	}

	return NewDirectoryWithPool(pool), nil
}

// NewDirectoryWithPool creates a directory sharing an existing pool.
func NewDirectoryWithPool(pool *pgxpool.Pool) *Directory {
	return &Directory{
		pool:    pool,
		metrics: telemetry.GetMetrics(),
	}
}

// Close releases the pool.
func (d *Directory) Close() {
	d.pool.Close()
}

const selectEntries = `
	SELECT token, identity_id, display_name, expires_at_ms, last_attendance_date, last_attendance_at
	FROM directory_entries
`

func (d *Directory) Lookup(ctx context.Context, token, identityID string) (entries []models.DirectoryEntry, err error) {
	defer d.observe(ctx, "lookup", time.Now(), &err)

	return d.query(ctx, "lookup", selectEntries+`WHERE token = $1 AND identity_id = $2 ORDER BY id`, token, identityID)
}

func (d *Directory) LookupByToken(ctx context.Context, token string) (entries []models.DirectoryEntry, err error) {
	defer d.observe(ctx, "lookup_by_token", time.Now(), &err)

	return d.query(ctx, "lookup", selectEntries+`WHERE token = $1 ORDER BY id`, token)
}

func (d *Directory) UpdateExpiry(ctx context.Context, token string, expiresAt int64) (err error) {
	defer d.observe(ctx, "update_expiry", time.Now(), &err)

	tag, err := d.pool.Exec(ctx, `
		UPDATE directory_entries
		SET expires_at_ms = $2, updated_at = now()
		WHERE token = $1
	`, token, expiresAt)
	if err != nil {
		return mapPostgresError("update expiry", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: token not enrolled", store.ErrNotFound)
	}

	return nil
}

func (d *Directory) RecordAttendance(ctx context.Context, entry models.AttendanceLogEntry) (err error) {
	defer d.observe(ctx, "record_attendance", time.Now(), &err)

	logID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate log id: %w", err)
	}

	err = pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE directory_entries
			SET last_attendance_date = $2, last_attendance_at = $3, display_name = $4, updated_at = now()
			WHERE token = $1
		`, entry.Token, entry.Date, entry.Timestamp, entry.DisplayName)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: token not enrolled", store.ErrNotFound)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO attendance_log (log_id, token, identity_id, display_name, attendance_date, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, logID, entry.Token, entry.IdentityID, entry.DisplayName, entry.Date, entry.Timestamp)
		return err
	})
	if err != nil {
		return mapPostgresError("record attendance", err)
	}

	log.Debug().
		Str("log_id", logID.String()).
		Str("date", entry.Date).
		Msg("Recorded attendance")

	return nil
}

// Enroll adds an entry to the directory. Tokens and identities are stored normalised.
func (d *Directory) Enroll(ctx context.Context, entry models.DirectoryEntry) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO directory_entries (token, identity_id, display_name, expires_at_ms, last_attendance_date, last_attendance_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, models.NormalizeToken(entry.Token), models.FormatIdentity(entry.IdentityID), entry.DisplayName,
		entry.ExpirationInstant, entry.LastAttendanceDate, entry.LastAttendanceTimestamp)
	if err != nil {
		return mapPostgresError("enroll", err)
	}
	return nil
}

// History returns the attendance log of an identity, oldest first.
func (d *Directory) History(ctx context.Context, identityID string) ([]models.AttendanceLogEntry, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT token, identity_id, display_name, attendance_date, recorded_at
		FROM attendance_log
		WHERE identity_id = $1
		ORDER BY log_id
	`, models.FormatIdentity(identityID))
	if err != nil {
		return nil, mapPostgresError("history", err)
	}

	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AttendanceLogEntry, error) {
		var e models.AttendanceLogEntry
		err := row.Scan(&e.Token, &e.IdentityID, &e.DisplayName, &e.Date, &e.Timestamp)
		return e, err
	})
	if err != nil {
		return nil, mapPostgresError("history", err)
	}
	return history, nil
}

func (d *Directory) query(ctx context.Context, op, sql string, args ...any) ([]models.DirectoryEntry, error) {
	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapPostgresError(op, err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.DirectoryEntry, error) {
		var e models.DirectoryEntry
		err := row.Scan(&e.Token, &e.IdentityID, &e.DisplayName, &e.ExpirationInstant,
			&e.LastAttendanceDate, &e.LastAttendanceTimestamp)
		return e, err
	})
	if err != nil {
		return nil, mapPostgresError(op, err)
	}
	return entries, nil
}

func (d *Directory) observe(ctx context.Context, op string, started time.Time, err *error) {
	d.metrics.ObserveDirectoryCall(ctx, op, started, *err)
}
