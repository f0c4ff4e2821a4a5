package domain

import "time"

// Role is the coarse authorization level of a user.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleInspector Role = "INSPECTOR"
	RoleManager   Role = "MANAGER"
)

// IsValid returns true if the role is a recognized value.
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleInspector || r == RoleManager
}

// User is an authenticated actor. The JWT subject carries ID,
// OrganizationID, FullName, and Role; access checks use these.
type User struct {
	ID             int64
	OrganizationID int64
	FullName       string
	Email          string
	Phone          string
	Role           Role
	PasswordHash   string
	CreatedAt      time.Time
}

// IsAdmin reports whether the user may reach every inspection.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }
