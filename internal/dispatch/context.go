// Package dispatch runs every inbound event through a fixed, ordered chain
// of checks (seal, authentication, admin flag, rate limit) and then resolves
// and invokes the handler from a static route table. Each stage may
// short-circuit with a deterministic Rejection; no stage ever terminates the
// connection.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
)

// Context carries one inbound event through the middleware chain and into
// its handler. The annotation fields (Authenticated, Admin) are populated by
// the chain before dispatch.
type Context struct {
	Ctx context.Context

	// Connection identity.
	ConnID     string
	RemoteAddr string
	UserID     string // empty until the connection has logged in

	// Event under processing.
	Event string
	Data  json.RawMessage

	// Chain annotations.
	Authenticated bool
	Admin         bool
}

// Bind decodes the event payload into v.
func (c *Context) Bind(v interface{}) error {
	if len(c.Data) == 0 {
		return fmt.Errorf("dispatch: event %q has no payload", c.Event)
	}
	if err := json.Unmarshal(c.Data, v); err != nil {
		return fmt.Errorf("dispatch: failed to decode %q payload: %w", c.Event, err)
	}
	return nil
}

// HandlerFunc processes an accepted event and returns a result object for
// the acknowledgement, or an error. Returning a *Rejection preserves the
// rejection kind; any other error is treated as a domain handler error.
type HandlerFunc func(c *Context) (interface{}, error)

// Handler pairs a handler function with its access requirements. Handlers
// declare their own requirements; the chain only annotates and the dispatch
// step enforces.
type Handler struct {
	Fn           HandlerFunc
	RequireAuth  bool
	RequireAdmin bool
}
