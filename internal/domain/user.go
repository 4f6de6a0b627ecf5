package domain

import "time"

// Role is the capability held by a user.
type Role string

const (
	RoleRequester Role = "REQUESTER"
	RoleAgent     Role = "AGENT"
	RoleAdmin     Role = "ADMIN"
)

// IsStaff reports whether the role may work tickets.
func (r Role) IsStaff() bool {
	return r == RoleAgent || r == RoleAdmin
}

// User is anyone who can act on tickets: requesters, agents and administrators.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
