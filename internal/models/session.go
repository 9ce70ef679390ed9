package models

import (
	"time"
)

// CredentialRecord is the locally persisted session of the single user of this client.
// Every field is written together on login and cleared together on logout or expiry.
type CredentialRecord struct {
	Granted            bool   `json:"access_granted"`
	ExpiresAt          int64  `json:"access_expires_at,omitempty"` // epoch milliseconds
	IdentityID         string `json:"user_identity,omitempty"`     // ###.###.###-##
	Token              string `json:"user_token,omitempty"`        // upper-case
	DisplayName        string `json:"user_name,omitempty"`
	LastAttendanceDate string `json:"last_attendance_date,omitempty"` // YYYY-MM-DD
}

// HasGrant returns true if the record carries both the grant flag and an expiry instant.
func (r *CredentialRecord) HasGrant() bool {
	return r != nil && r.Granted && r.ExpiresAt != 0
}

// IsExpired returns true if now is strictly after the expiry instant.
func (r *CredentialRecord) IsExpired(now time.Time) bool {
	return now.UnixMilli() > r.ExpiresAt
}

// Remaining returns the time left in the access window, zero or negative once expired.
func (r *CredentialRecord) Remaining(now time.Time) time.Duration {
	return time.Duration(r.ExpiresAt-now.UnixMilli()) * time.Millisecond
}

// HasIdentity returns true if token, identity and display name are all present.
func (r *CredentialRecord) HasIdentity() bool {
	return r != nil && r.Token != "" && r.IdentityID != "" && r.DisplayName != ""
}

// IsEmpty returns true if nothing is stored.
func (r *CredentialRecord) IsEmpty() bool {
	return r == nil || *r == CredentialRecord{}
}
