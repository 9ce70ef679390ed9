package sheetdb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/lessongate/internal/client"
	"github.com/wolfeidau/lessongate/internal/models"
	"github.com/wolfeidau/lessongate/internal/store"
)

func newTestDirectory(t *testing.T, srv *httptest.Server, apiKey string) *Directory {
	t.Helper()

	cfg := client.DefaultConfig()
	cfg.APIKey = apiKey

	dir, err := NewDirectory(client.NewHTTPClient(cfg), Config{
		BaseURL:              srv.URL + "/api/",
		LogURL:               srv.URL + "/log",
		RetryInitialInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return dir
}

func aliceRow() map[string]any {
	return map[string]any{
		"token":        "ABC123",
		"cpf":          "123.456.789-01",
		"nome_aluno":   "Alice",
		"expiracao_ms": "1700000000000",
	}
}

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := Config{BaseURL: "https://sheetdb.io/api/v1/abc/", LogURL: "https://sheetdb.io/api/v1/def"}
		cfg.ApplyDefaults()
		assert.Equal(t, uint(3), cfg.LookupTries)
		assert.Equal(t, 250*time.Millisecond, cfg.RetryInitialInterval)
		assert.Equal(t, "https://sheetdb.io/api/v1/abc", cfg.BaseURL)
		require.NoError(t, cfg.Validate())
	})

	t.Run("requires both urls", func(t *testing.T) {
		cfg := Config{BaseURL: "https://sheetdb.io/api/v1/abc"}
		require.ErrorContains(t, cfg.Validate(), "attendance log API URL is required")

		cfg = Config{LogURL: "https://sheetdb.io/api/v1/abc"}
		require.ErrorContains(t, cfg.Validate(), "directory API URL is required")
	})

	t.Run("rejects relative urls", func(t *testing.T) {
		cfg := Config{BaseURL: "sheetdb/api", LogURL: "https://sheetdb.io/api/v1/def"}
		require.ErrorContains(t, cfg.Validate(), "invalid API URL")
	})
}

func TestRowDecoding(t *testing.T) {
	tests := []struct {
		name string
		cell string
		want int64
	}{
		{name: "number", cell: `1700000000000`, want: 1700000000000},
		{name: "numeric string", cell: `"1700000000000"`, want: 1700000000000},
		{name: "leading digits", cell: `"1700abc"`, want: 1700},
		{name: "empty string", cell: `""`, want: 0},
		{name: "junk", cell: `"soon"`, want: 0},
		{name: "null", cell: `null`, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r row
			require.NoError(t, json.Unmarshal([]byte(`{"token":"T","expiracao_ms":`+tt.cell+`}`), &r))
			assert.Equal(t, tt.want, r.entry().ExpirationInstant)
		})
	}

	t.Run("absent expiry and numeric cells", func(t *testing.T) {
		var r row
		require.NoError(t, json.Unmarshal([]byte(`{"token":12345,"cpf":"123.456.789-01","nome_aluno":null}`), &r))
		e := r.entry()
		assert.Equal(t, "12345", e.Token)
		assert.Equal(t, int64(0), e.ExpirationInstant)
		assert.Equal(t, models.DefaultDisplayName, e.Name())
	})
}

func TestDirectory_Lookup(t *testing.T) {
	ctx := context.Background()

	t.Run("matches token and identity", func(t *testing.T) {
		fake, srv := newFakeSheet(t, aliceRow())
		dir := newTestDirectory(t, srv, "")

		entries, err := dir.Lookup(ctx, "ABC123", "123.456.789-01")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "Alice", entries[0].DisplayName)
		assert.Equal(t, int64(1700000000000), entries[0].ExpirationInstant)
		assert.Equal(t, "max-age=0", fake.lastCacheCtl)
	})

	t.Run("no match", func(t *testing.T) {
		_, srv := newFakeSheet(t, aliceRow())
		dir := newTestDirectory(t, srv, "")

		entries, err := dir.Lookup(ctx, "ABC123", "999.999.999-99")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("by token", func(t *testing.T) {
		_, srv := newFakeSheet(t, aliceRow())
		dir := newTestDirectory(t, srv, "")

		entries, err := dir.LookupByToken(ctx, "ABC123")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "123.456.789-01", entries[0].IdentityID)
	})

	t.Run("sends api key", func(t *testing.T) {
		fake, srv := newFakeSheet(t, aliceRow())
		dir := newTestDirectory(t, srv, "sheet-key")

		_, err := dir.LookupByToken(ctx, "ABC123")
		require.NoError(t, err)
		assert.Equal(t, "Bearer sheet-key", fake.lastAuth)
	})

	t.Run("retries server errors", func(t *testing.T) {
		fake, srv := newFakeSheet(t, aliceRow())
		fake.searchStatus = []int{http.StatusServiceUnavailable, http.StatusBadGateway}
		dir := newTestDirectory(t, srv, "")

		entries, err := dir.LookupByToken(ctx, "ABC123")
		require.NoError(t, err)
		assert.Len(t, entries, 1)
		assert.Equal(t, 3, fake.searches)
	})

	t.Run("gives up after the configured tries", func(t *testing.T) {
		fake, srv := newFakeSheet(t, aliceRow())
		fake.searchStatus = []int{500, 500, 500, 500}
		dir := newTestDirectory(t, srv, "")

		_, err := dir.LookupByToken(ctx, "ABC123")
		require.ErrorIs(t, err, store.ErrRemoteCommunication)
		assert.Equal(t, 3, fake.searches)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		fake, srv := newFakeSheet(t, aliceRow())
		fake.searchStatus = []int{http.StatusUnauthorized}
		dir := newTestDirectory(t, srv, "")

		_, err := dir.LookupByToken(ctx, "ABC123")
		require.ErrorIs(t, err, store.ErrRemoteCommunication)
		require.ErrorContains(t, err, "HTTP 401")
		assert.Equal(t, 1, fake.searches)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"not":"a list"}`))
		}))
		t.Cleanup(srv.Close)
		dir := newTestDirectory(t, srv, "")

		_, err := dir.LookupByToken(ctx, "ABC123")
		require.ErrorIs(t, err, store.ErrRemoteCommunication)
		require.ErrorContains(t, err, "malformed lookup response")
	})
}

func TestDirectory_UpdateExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("updates the entry", func(t *testing.T) {
		fake, srv := newFakeSheet(t, aliceRow())
		dir := newTestDirectory(t, srv, "")

		require.NoError(t, dir.UpdateExpiry(ctx, "ABC123", 1800000000000))
		assert.Equal(t, 1, fake.patches)
		assert.EqualValues(t, 1800000000000, fake.lastPatch["expiracao_ms"])

		entries, err := dir.LookupByToken(ctx, "ABC123")
		require.NoError(t, err)
		assert.Equal(t, int64(1800000000000), entries[0].ExpirationInstant)
	})

	t.Run("zero rows updated", func(t *testing.T) {
		_, srv := newFakeSheet(t, aliceRow())
		dir := newTestDirectory(t, srv, "")

		err := dir.UpdateExpiry(ctx, "MISSING", 1)
		require.ErrorIs(t, err, store.ErrRemoteCommunication)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ok status without success indicator", func(t *testing.T) {
		fake, srv := newFakeSheet(t, aliceRow())
		fake.patchBody = `{"message":"sheet is read only"}`
		dir := newTestDirectory(t, srv, "")

		err := dir.UpdateExpiry(ctx, "ABC123", 1)
		require.ErrorIs(t, err, store.ErrRemoteCommunication)
		require.ErrorContains(t, err, "sheet is read only")
	})

	t.Run("writes are not retried", func(t *testing.T) {
		hits := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits++
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)
		dir := newTestDirectory(t, srv, "")

		err := dir.UpdateExpiry(ctx, "ABC123", 1)
		require.ErrorIs(t, err, store.ErrRemoteCommunication)
		require.ErrorContains(t, err, "HTTP 503")
		assert.Equal(t, 1, hits)
	})
}

func TestDirectory_RecordAttendance(t *testing.T) {
	ctx := context.Background()
	entry := models.AttendanceLogEntry{
		IdentityID:  "123.456.789-01",
		Token:       "ABC123",
		DisplayName: "Alice",
		Date:        "2026-03-02",
		Timestamp:   "2026-03-02 10:30:00",
	}

	t.Run("updates entry and appends history", func(t *testing.T) {
		fake, srv := newFakeSheet(t, aliceRow())
		dir := newTestDirectory(t, srv, "")

		require.NoError(t, dir.RecordAttendance(ctx, entry))

		assert.Equal(t, "2026-03-02", fake.rows[0]["ultima_presenca"])
		assert.Equal(t, "2026-03-02 10:30:00", fake.rows[0]["hora_registro"])
		assert.Equal(t, "Alice", fake.rows[0]["nome_aluno"])

		require.Len(t, fake.logRows, 1)
		assert.Equal(t, map[string]any{
			"token":         "ABC123",
			"cpf":           "123.456.789-01",
			"nome_aluno":    "Alice",
			"data_registro": "2026-03-02",
			"hora_registro": "2026-03-02 10:30:00",
		}, fake.logRows[0])
	})

	t.Run("primary update failure skips the log", func(t *testing.T) {
		fake, srv := newFakeSheet(t, aliceRow())
		fake.patchBody = `{"updated":0}`
		dir := newTestDirectory(t, srv, "")

		err := dir.RecordAttendance(ctx, entry)
		require.ErrorIs(t, err, store.ErrRemoteCommunication)
		assert.NotErrorIs(t, err, store.ErrPartialWrite)
		assert.Equal(t, 0, fake.posts)
	})

	t.Run("log failure is a partial write", func(t *testing.T) {
		fake, srv := newFakeSheet(t, aliceRow())
		fake.postBody = `{"error":"quota exceeded"}`
		dir := newTestDirectory(t, srv, "")

		err := dir.RecordAttendance(ctx, entry)
		require.ErrorIs(t, err, store.ErrPartialWrite)
		require.ErrorContains(t, err, "quota exceeded")
		assert.Equal(t, "2026-03-02", fake.rows[0]["ultima_presenca"])
	})
}
