package models

import "time"

// AuditChannel separates security events from ordinary activity.
type AuditChannel string

const (
	ChannelSecurity AuditChannel = "security"
	ChannelActivity AuditChannel = "activity"
)

func (c AuditChannel) Valid() bool {
	return c == ChannelSecurity || c == ChannelActivity
}

// Audit severity levels.
const (
	LevelDebug    = 0
	LevelInfo     = 1
	LevelWarning  = 2
	LevelError    = 3
	LevelCritical = 4
)

// AuditEntry is one persisted audit log line.
type AuditEntry struct {
	ID        string       `json:"id"`
	Channel   AuditChannel `json:"channel"`
	Level     int          `json:"level"`
	Message   string       `json:"message"`
	ClientIP  string       `json:"client_ip"`
	ClientOS  string       `json:"client_os"`
	UserName  string       `json:"user_name"`
	UserRole  string       `json:"user_role"`
	CreatedAt time.Time    `json:"created_at"`
}

// AuditFilter narrows an audit listing. Zero values mean "any".
type AuditFilter struct {
	Channel AuditChannel
	Level   *int
	Limit   int
}
