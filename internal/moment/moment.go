package moment

import (
	"fmt"
	"time"
)

// Role is the part a device plays in one action. Roles are bound per run
// (which device's logs are labelled "host") and re-bound per phase (the
// device that acts first is the host of that phase).
type Role string

const (
	RoleHost     Role = "host"
	RoleResolver Role = "resolver"
)

// Endpoint names used in From/To besides the two roles.
const (
	EndpointCloud = "cloud"
)

// Other returns the opposite role. Unknown roles map to themselves.
func (r Role) Other() Role {
	switch r {
	case RoleHost:
		return RoleResolver
	case RoleResolver:
		return RoleHost
	default:
		return r
	}
}

// Valid reports whether r is one of the two device roles.
func (r Role) Valid() bool {
	return r == RoleHost || r == RoleResolver
}

func (r Role) String() string { return string(r) }

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q: must be %q or %q", s, RoleHost, RoleResolver)
	}
	return r, nil
}

// Moment is an event observed at a specific point in time.
type Moment struct {
	Name     string            `json:"name"`
	Source   Role              `json:"source"`
	From     string            `json:"from"`
	To       string            `json:"to"`
	Time     time.Time         `json:"time"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Event returns the transition key "{source}: {name}".
func (m Moment) Event() string {
	return EventKey(m.Source, m.Name)
}

// EventKey formats the transition key for a role and event name.
func EventKey(source Role, name string) string {
	return string(source) + ": " + name
}

// Meta returns a metadata value, or "" when absent.
func (m Moment) Meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// Validate checks the fields every producer must fill in.
func (m Moment) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("moment: name is required")
	}
	if !m.Source.Valid() {
		return fmt.Errorf("moment %q: invalid source %q", m.Name, m.Source)
	}
	if m.Time.IsZero() {
		return fmt.Errorf("moment %q: time is required", m.Name)
	}
	return nil
}
