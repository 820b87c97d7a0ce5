// Package models defines server-side data models persisted in the database
// and the principal attached to authenticated requests.
package models
