package models

import "time"

// Roles a user account can hold.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a course account. HasPaid is the course entitlement flag.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string
	HasPaid      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin reports whether the account may perform administrative actions.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Identity is the authenticated caller extracted from a login token.
type Identity struct {
	UserID   int64
	Username string
	Role     string
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
