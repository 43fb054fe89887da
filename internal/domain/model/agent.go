//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"errors"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

const maxAgentNameLen = 255

// Agent represents an authenticated principal that owns tasks and receives
// run notifications.
type Agent struct {
	ID         string    `json:"id"                    db:"id"`
	Name       string    `json:"name"                  db:"name"`
	Scopes     []string  `json:"scopes"                db:"scopes"`
	WebhookURL *string   `json:"webhook_url,omitempty" db:"webhook_url"`
	CreatedAt  time.Time `json:"created_at"            db:"created_at"`
}

// HasScope reports whether the agent carries the given scope. The wildcard
// scope "admin" satisfies every check.
func (a *Agent) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope || s == "admin" {
			return true
		}
	}
	return false
}

// CreateAgentRequest represents parameters to register an agent.
type CreateAgentRequest struct {
	Name       string   `json:"name"`
	Scopes     []string `json:"scopes,omitempty"`
	WebhookURL *string  `json:"webhook_url,omitempty"`
}

// Validate validates CreateAgentRequest.
func (r *CreateAgentRequest) Validate() error {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return errors.New("name is required and cannot be empty")
	}
	if utf8.RuneCountInString(name) > maxAgentNameLen {
		return errors.New("name cannot exceed 255 characters")
	}
	r.Name = name
	for i, s := range r.Scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			return errors.New("scopes cannot contain empty entries")
		}
		r.Scopes[i] = s
	}
	if r.WebhookURL != nil {
		u := strings.TrimSpace(*r.WebhookURL)
		if u == "" {
			r.WebhookURL = nil
		} else {
			parsed, err := url.Parse(u)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
				return errors.New("webhook_url must be a valid http(s) URL")
			}
			*r.WebhookURL = u
		}
	}
	return nil
}
