package sheetdb

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/wolfeidau/lessongate/internal/models"
)

// Column names of the directory and attendance log sheets.
const (
	colToken          = "token"
	colIdentity       = "cpf"
	colName           = "nome_aluno"
	colExpiration     = "expiracao_ms"
	colLastAttendance = "ultima_presenca"
	colRecordedAt     = "hora_registro"
	colLogDate        = "data_registro"
)

// millis decodes an expiry cell that may be a JSON number, a numeric string, empty or junk.
// Like the spreadsheet's own integer coercion it keeps the leading digits and yields 0 when
// there are none.
type millis int64

func (m *millis) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(bytes.Trim(data, `"`)))
	*m = millis(leadingInt(raw))
	return nil
}

func leadingInt(s string) int64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	start := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == start {
		return 0
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// text decodes a cell that may be a JSON string, number or null into a string.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = text(s)
		return nil
	}
	*t = text(strings.TrimSpace(string(data)))
	return nil
}

type row struct {
	Token          text   `json:"token"`
	Identity       text   `json:"cpf"`
	Name           text   `json:"nome_aluno"`
	Expiration     millis `json:"expiracao_ms"`
	LastAttendance text   `json:"ultima_presenca"`
	RecordedAt     text   `json:"hora_registro"`
}

func (r row) entry() models.DirectoryEntry {
	return models.DirectoryEntry{
		Token:                   string(r.Token),
		IdentityID:              string(r.Identity),
		DisplayName:             string(r.Name),
		ExpirationInstant:       int64(r.Expiration),
		LastAttendanceDate:      string(r.LastAttendance),
		LastAttendanceTimestamp: string(r.RecordedAt),
	}
}

// envelope is the request body shape of every write.
type envelope struct {
	Data map[string]any `json:"data"`
}

// writeResult is the response body of a write. HTTP 200 alone is not success: the body must
// report at least one updated or created row.
type writeResult struct {
	Updated *int   `json:"updated"`
	Created *int   `json:"created"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (w writeResult) reason() string {
	switch {
	case w.Error != "":
		return w.Error
	case w.Message != "":
		return w.Message
	default:
		return "no rows affected"
	}
}
