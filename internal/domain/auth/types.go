package auth

// Package auth contains domain-level types for agent authentication.
// It is pure and free of framework/adapter concerns.

import "time"

// Scope names an authorization grant carried by an agent credential.
// Keep string form for easy persistence and claims encoding.
type Scope = string

const (
	// ScopeAdmin satisfies every scope check.
	ScopeAdmin Scope = "admin"
	// ScopeTasksRead allows reading tasks and their runs.
	ScopeTasksRead Scope = "tasks:read"
	// ScopeTasksWrite allows creating, updating, and canceling tasks.
	ScopeTasksWrite Scope = "tasks:write"
	// ScopeRunsRead allows reading run results.
	ScopeRunsRead Scope = "runs:read"
	// ScopeEventsPublish allows publishing events that fire event-kind tasks.
	ScopeEventsPublish Scope = "events:publish"
	// ScopeAgentsWrite allows registering agents.
	ScopeAgentsWrite Scope = "agents:write"
)

// Identity represents the authenticated agent behind an API credential.
// Verifier adapters map token claims into this shape.
type Identity struct {
	AgentID   string // stable agent identifier (token sub)
	Name      string
	Scopes    []string
	ExpiresAt time.Time // absolute expiry from the credential
}

// HasScope reports whether the identity carries the scope. ScopeAdmin
// satisfies every check.
func (i Identity) HasScope(scope Scope) bool {
	for _, s := range i.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// Expired reports whether the credential expiry has passed.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}
