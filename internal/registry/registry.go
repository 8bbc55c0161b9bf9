// Package registry is the bookkeeping layer for live connections. The
// in-memory index is authoritative for "which connections belong to user U"
// and forced disconnection; a best-effort Postgres mirror gives operators a
// durable view. Mirror writes are fire-and-forget relative to the connection
// lifecycle: a store outage degrades visibility, never the connection.
package registry

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/emberchat/gateway/internal/metrics"
	"github.com/emberchat/gateway/internal/protocol"
	"github.com/emberchat/gateway/internal/ws"
)

// storeTimeout bounds every mirror write so a slow store can't hold a
// connection goroutine.
const storeTimeout = 3 * time.Second

// Registry tracks every currently-open connection.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*ws.Connection
	byUser map[string]map[string]*ws.Connection // userID -> connID -> conn

	store   *Store                  // durable mirror, may be nil
	remover func(c *ws.Connection) // closes through the server's removal path
}

// New creates a Registry. The store may be nil, in which case only the
// in-memory index is maintained.
func New(store *Store) *Registry {
	return &Registry{
		byID:   make(map[string]*ws.Connection),
		byUser: make(map[string]map[string]*ws.Connection),
		store:  store,
	}
}

// SetRemover wires the server's connection removal path, used by
// ForceDisconnect so that the normal disconnect handler fires.
func (r *Registry) SetRemover(fn func(c *ws.Connection)) {
	r.remover = fn
}

// OnConnect records a newly accepted connection with no associated user.
func (r *Registry) OnConnect(c *ws.Connection) {
	r.mu.Lock()
	r.byID[c.ID] = c
	r.mu.Unlock()

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.Insert(ctx, c.ID, c.RemoteAddr, c.CreatedAt); err != nil {
			log.Printf("registry: durable insert failed for %s: %v (degraded)", c.ID, err)
		}
	}
}

// OnAuthenticate associates an authenticated user with the connection.
// Multiple connections may carry the same user (multi-device).
func (r *Registry) OnAuthenticate(connID, userID string) {
	r.mu.Lock()
	c, ok := r.byID[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	// Re-authentication under a different user moves the index entry.
	if prev := c.User(); prev != "" && prev != userID {
		r.dropUserIndex(prev, connID)
	}
	c.SetUser(userID)
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]*ws.Connection)
		r.byUser[userID] = conns
	}
	conns[connID] = c
	r.mu.Unlock()

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.SetUser(ctx, connID, userID); err != nil {
			log.Printf("registry: durable user update failed for %s: %v (degraded)", connID, err)
		}
	}
}

// OnLogout detaches the user from the connection without closing it. The
// connection drops back to anonymous and may log in again.
func (r *Registry) OnLogout(connID string) {
	r.mu.Lock()
	c, ok := r.byID[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if userID := c.User(); userID != "" {
		r.dropUserIndex(userID, connID)
	}
	c.SetUser("")
	r.mu.Unlock()

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.SetUser(ctx, connID, ""); err != nil {
			log.Printf("registry: durable user clear failed for %s: %v (degraded)", connID, err)
		}
	}
}

// OnDisconnect removes the connection record. It is idempotent: disconnects
// may race with shutdown and with forced disconnection.
func (r *Registry) OnDisconnect(connID string) {
	r.mu.Lock()
	c, ok := r.byID[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, connID)
	if userID := c.User(); userID != "" {
		r.dropUserIndex(userID, connID)
	}
	r.mu.Unlock()

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := r.store.Delete(ctx, connID); err != nil {
			log.Printf("registry: durable delete failed for %s: %v (degraded)", connID, err)
		}
	}
}

// dropUserIndex removes one connection from a user's bucket. Caller holds mu.
func (r *Registry) dropUserIndex(userID, connID string) {
	if conns, ok := r.byUser[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// Get returns the live connection with the given id, or nil.
func (r *Registry) Get(connID string) *ws.Connection {
	r.mu.RLock()
	c := r.byID[connID]
	r.mu.RUnlock()
	return c
}

// FindByUser returns a snapshot of every live connection authenticated as
// userID.
func (r *Registry) FindByUser(userID string) []*ws.Connection {
	r.mu.RLock()
	bucket := r.byUser[userID]
	conns := make([]*ws.Connection, 0, len(bucket))
	for _, c := range bucket {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	return conns
}

// IsUserOnline reports whether the user has at least one live connection.
// This is the lookup behind the presence cache.
func (r *Registry) IsUserOnline(userID string) bool {
	r.mu.RLock()
	n := len(r.byUser[userID])
	r.mu.RUnlock()
	return n > 0
}

// AddrsByUser returns the distinct remote addresses of a user's live
// connections, for the seal-all-online-IPs administrative action.
func (r *Registry) AddrsByUser(userID string) []string {
	r.mu.RLock()
	seen := make(map[string]bool)
	addrs := make([]string, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		if !seen[c.RemoteAddr] {
			seen[c.RemoteAddr] = true
			addrs = append(addrs, c.RemoteAddr)
		}
	}
	r.mu.RUnlock()
	return addrs
}

// OnlineUser describes one authenticated connection for administrative
// display.
type OnlineUser struct {
	UserID     string `json:"userId"`
	ConnID     string `json:"connId"`
	RemoteAddr string `json:"ip"`
}

// OnlineUsers returns every authenticated connection, one entry per
// connection (a multi-device user appears once per device).
func (r *Registry) OnlineUsers() []OnlineUser {
	r.mu.RLock()
	out := make([]OnlineUser, 0, len(r.byUser))
	for userID, bucket := range r.byUser {
		for connID, c := range bucket {
			out = append(out, OnlineUser{UserID: userID, ConnID: connID, RemoteAddr: c.RemoteAddr})
		}
	}
	r.mu.RUnlock()
	return out
}

// ForceDisconnect delivers a final forceLogout push to the connection and
// closes it through the server's removal path, which in turn fires
// OnDisconnect and removes the record. Unknown connection ids are a no-op.
func (r *Registry) ForceDisconnect(connID, reason string) {
	c := r.Get(connID)
	if c == nil {
		return
	}

	payload, err := protocol.NewPushEvent(protocol.PushForceLogout, protocol.ForceLogoutPayload{Reason: reason})
	if err == nil {
		if err := c.WriteMessage(payload); err != nil {
			log.Printf("registry: forceLogout push failed for %s: %v", connID, err)
		}
	}

	metrics.ForcedDisconnectsTotal.Inc()

	if r.remover != nil {
		r.remover(c)
	} else {
		// No server wired (tests): close and clean up directly.
		_ = c.Close()
		r.OnDisconnect(connID)
	}
	log.Printf("registry: forced disconnect id=%s reason=%q", connID, reason)
}

// ForceDisconnectUser force-disconnects every live connection of a user.
// Returns the number of connections closed.
func (r *Registry) ForceDisconnectUser(userID, reason string) int {
	conns := r.FindByUser(userID)
	for _, c := range conns {
		r.ForceDisconnect(c.ID, reason)
	}
	return len(conns)
}
