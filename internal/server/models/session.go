package models

import "time"

// Session is the server-side half of a login. Deleting the row terminates it
// even if the signed token has not expired yet.
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Principal is the authenticated identity attached to a request.
type Principal struct {
	SessionID string
	AccountID string
	Email     string
	Name      string
	Role      Role
}
