package models

// DefaultDisplayName is used when the directory has no name for an enrolled identity.
const DefaultDisplayName = "Aluno Não Nomeado"

// DirectoryEntry is the authoritative remote record for one enrolled identity.
// Entries are provisioned out of band; this client only mutates the expiry and attendance fields.
type DirectoryEntry struct {
	Token                   string
	IdentityID              string
	DisplayName             string
	ExpirationInstant       int64  // epoch milliseconds, 0 when absent
	LastAttendanceDate      string // YYYY-MM-DD
	LastAttendanceTimestamp string // YYYY-MM-DD HH:MM:SS
}

// Name returns the display name, falling back to DefaultDisplayName.
func (e *DirectoryEntry) Name() string {
	if e.DisplayName == "" {
		return DefaultDisplayName
	}
	return e.DisplayName
}
