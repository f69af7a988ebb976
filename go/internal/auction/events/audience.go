package events

import "github.com/google/uuid"

// Scope selects which connections receive an event
type Scope int

const (
	ScopeAll Scope = iota
	ScopeAdmins
	ScopeTeams
	ScopeTeam
	ScopeConnection
)

func (s Scope) String() string {
	switch s {
	case ScopeAll:
		return "all"
	case ScopeAdmins:
		return "admins"
	case ScopeTeams:
		return "teams"
	case ScopeTeam:
		return "team"
	case ScopeConnection:
		return "connection"
	}
	return "unknown"
}

// Audience targets an event. TeamID is set for ScopeTeam and ConnectionID
// for ScopeConnection.
type Audience struct {
	Scope        Scope
	TeamID       uuid.UUID
	ConnectionID string
}

func ToAll() Audience    { return Audience{Scope: ScopeAll} }
func ToAdmins() Audience { return Audience{Scope: ScopeAdmins} }
func ToTeams() Audience  { return Audience{Scope: ScopeTeams} }

func ToTeam(id uuid.UUID) Audience {
	return Audience{Scope: ScopeTeam, TeamID: id}
}

func ToConnection(id string) Audience {
	return Audience{Scope: ScopeConnection, ConnectionID: id}
}

// Public reports whether the event is meant for every observer, which is
// what the relay forwards downstream.
func (a Audience) Public() bool {
	return a.Scope == ScopeAll
}
