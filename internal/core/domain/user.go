package domain

import "time"

type UserID string

// User is an operator account for the admin API, not a session
// participant.
type User struct {
	ID        UserID
	Username  string
	CreatedAt time.Time
}

type UserRole string

const (
	RoleAdmin  UserRole = "admin"
	RoleViewer UserRole = "viewer"
)
