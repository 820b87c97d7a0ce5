package models

import (
	"errors"
	"strings"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleClinicianWrite Role = "clinician_write"
	RoleClinicianRead  Role = "clinician_read"
)

var ErrUnknownRole = errors.New("unknown role")

// Roles lists every role in privilege order.
var Roles = []Role{RoleAdmin, RoleClinicianWrite, RoleClinicianRead}

// ParseRole accepts the stored identifier or the display name, case-insensitively.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, r := range Roles {
		if s == string(r) || s == strings.ToLower(r.DisplayName()) {
			return r, nil
		}
	}
	return "", ErrUnknownRole
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleClinicianWrite, RoleClinicianRead:
		return true
	}
	return false
}

// IsClinician reports whether r is one of the two clinician roles.
func (r Role) IsClinician() bool {
	return r == RoleClinicianWrite || r == RoleClinicianRead
}

// DisplayName is the human-readable role name used in logs and listings.
func (r Role) DisplayName() string {
	switch r {
	case RoleAdmin:
		return "Administrator"
	case RoleClinicianWrite:
		return "Clinician-Write"
	case RoleClinicianRead:
		return "Clinician-Read"
	}
	return string(r)
}

// RoleSet is the list of roles permitted to invoke an operation.
type RoleSet []Role

func NewRoleSet(roles ...Role) RoleSet { return RoleSet(roles) }

func (s RoleSet) Contains(r Role) bool {
	for _, x := range s {
		if x == r {
			return true
		}
	}
	return false
}

func (s RoleSet) String() string {
	names := make([]string, len(s))
	for i, r := range s {
		names[i] = r.DisplayName()
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// Common role sets.
var (
	AdminOnly      = NewRoleSet(RoleAdmin)
	ClinicianWrite = NewRoleSet(RoleClinicianWrite)
	AnyClinician   = NewRoleSet(RoleClinicianWrite, RoleClinicianRead)
	AnyRole        = NewRoleSet(RoleAdmin, RoleClinicianWrite, RoleClinicianRead)
)
