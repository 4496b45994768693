// Package session provides the explicit per-session context value and the
// sharded lock registry that serializes state mutations within one session
// while leaving different sessions fully parallel.
package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidID indicates a missing or malformed session identifier.
var ErrInvalidID = errors.New("session: invalid session id")

// validID restricts identifiers to characters that are safe inside
// idempotency keys, log lines and URL path segments.
var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:@-]{0,127}$`)

// Context identifies the session an operation runs on behalf of. It is
// passed explicitly through every call boundary; nothing in this module
// reads session identity from ambient state.
type Context struct {
	// ID is the session identifier (e.g. "telegram:12345").
	ID string

	// Channel optionally names the conversation surface the session lives on.
	Channel string

	// RequestID correlates one inbound request across log lines.
	RequestID string
}

// New returns a validated Context for id.
func New(id string) (Context, error) {
	c := Context{ID: id}
	if err := c.Validate(); err != nil {
		return Context{}, err
	}
	return c, nil
}

// Validate reports whether the context carries a usable session ID.
func (c Context) Validate() error {
	if !validID.MatchString(c.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, c.ID)
	}
	return nil
}

// LogAttrs returns slog key/value pairs describing the session.
func (c Context) LogAttrs() []any {
	attrs := []any{"session_id", c.ID}
	if c.Channel != "" {
		attrs = append(attrs, "channel", c.Channel)
	}
	if c.RequestID != "" {
		attrs = append(attrs, "request_id", c.RequestID)
	}
	return attrs
}
