package models

import "github.com/google/uuid"

// Role tags an authenticated identity
type Role string

const (
	RoleAdmin Role = "admin"
	RoleTeam  Role = "team"
)

// Identity is the verified caller behind a request or connection.
// TeamID and Name are only set for RoleTeam.
type Identity struct {
	Role   Role      `json:"role"`
	TeamID uuid.UUID `json:"team_id,omitempty"`
	Name   string    `json:"name,omitempty"`
	Email  string    `json:"email"`
}

// AdminIdentity builds an admin identity
func AdminIdentity(email string) Identity {
	return Identity{Role: RoleAdmin, Email: email}
}

// TeamIdentity builds a team identity
func TeamIdentity(id uuid.UUID, name, email string) Identity {
	return Identity{Role: RoleTeam, TeamID: id, Name: name, Email: email}
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
func (i Identity) IsTeam() bool  { return i.Role == RoleTeam }
