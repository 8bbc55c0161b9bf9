package dispatch

import (
	"sort"
	"strings"
)

// PrivateMarker prefixes route names that must never be reachable from the
// network. Business modules use it for shared helpers that live alongside
// their exported handlers.
const PrivateMarker = "_"

// Table is the flat, static, read-only mapping from event name to handler,
// assembled once at startup. Lookup is by exact name; there is no wildcard
// or prefix routing.
type Table struct {
	routes map[string]Handler
}

// NewTable unions the route maps of all business modules, later modules
// overriding earlier ones on name conflicts, then removes every name bearing
// the private marker. The exclusion is a closing step over the merged table,
// not a filter during iteration, so a private name is absent regardless of
// which module contributed it or in what order.
func NewTable(modules ...map[string]Handler) *Table {
	routes := make(map[string]Handler)
	for _, m := range modules {
		for name, h := range m {
			routes[name] = h
		}
	}
	for name := range routes {
		if strings.HasPrefix(name, PrivateMarker) {
			delete(routes, name)
		}
	}
	return &Table{routes: routes}
}

// Lookup resolves an event name to its handler.
func (t *Table) Lookup(event string) (Handler, bool) {
	h, ok := t.routes[event]
	return h, ok
}

// Len returns the number of routable events.
func (t *Table) Len() int {
	return len(t.routes)
}

// Names returns the sorted list of routable event names, for startup logging
// and administrative display.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.routes))
	for name := range t.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
