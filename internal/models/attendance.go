package models

// AttendanceLogEntry is one immutable attendance event appended to the history log.
type AttendanceLogEntry struct {
	IdentityID  string
	Token       string
	DisplayName string
	Date        string // YYYY-MM-DD, the day key the attendance counts for
	Timestamp   string // YYYY-MM-DD HH:MM:SS
}
