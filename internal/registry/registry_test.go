package registry

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/emberchat/gateway/internal/ws"
)

// newTestConn builds a Connection over a net.Pipe with the client side
// drained, so pushes written during forced disconnect don't block.
func newTestConn(t *testing.T, id, addr string) *ws.Connection {
	t.Helper()
	server, client := net.Pipe()
	go io.Copy(io.Discard, client) //nolint:errcheck
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return &ws.Connection{
		ID:         id,
		RemoteAddr: addr,
		Conn:       server,
		CreatedAt:  time.Now(),
		LastPing:   time.Now(),
	}
}

func TestOnConnectAndAuthenticate(t *testing.T) {
	r := New(nil)

	c1 := newTestConn(t, "c1", "203.0.113.1")
	c2 := newTestConn(t, "c2", "203.0.113.2")
	r.OnConnect(c1)
	r.OnConnect(c2)

	if got := r.FindByUser("u1"); len(got) != 0 {
		t.Fatalf("expected no connections before authentication, got %d", len(got))
	}

	// Multi-device: two connections for the same user.
	r.OnAuthenticate("c1", "u1")
	r.OnAuthenticate("c2", "u1")

	if got := r.FindByUser("u1"); len(got) != 2 {
		t.Errorf("expected 2 connections for u1, got %d", len(got))
	}
	if !r.IsUserOnline("u1") {
		t.Error("expected u1 online")
	}
	if r.IsUserOnline("u2") {
		t.Error("expected u2 offline")
	}
	if c1.User() != "u1" {
		t.Errorf("expected conn user u1, got %q", c1.User())
	}
}

func TestOnAuthenticate_UnknownConnection(t *testing.T) {
	r := New(nil)
	// Authenticating an id that never connected must not panic or index.
	r.OnAuthenticate("ghost", "u1")
	if r.IsUserOnline("u1") {
		t.Error("expected no online state for unknown connection")
	}
}

func TestOnDisconnect_Idempotent(t *testing.T) {
	r := New(nil)
	c := newTestConn(t, "c1", "203.0.113.1")
	r.OnConnect(c)
	r.OnAuthenticate("c1", "u1")

	r.OnDisconnect("c1")
	r.OnDisconnect("c1") // second call races with shutdown in production

	if r.Get("c1") != nil {
		t.Error("expected connection removed")
	}
	if r.IsUserOnline("u1") {
		t.Error("expected u1 offline after disconnect")
	}
}

func TestForceDisconnect_Completeness(t *testing.T) {
	r := New(nil)
	for _, id := range []string{"c1", "c2", "c3"} {
		c := newTestConn(t, id, "203.0.113.1")
		r.OnConnect(c)
		r.OnAuthenticate(id, "u1")
	}

	closed := r.ForceDisconnectUser("u1", "account deleted")
	if closed != 3 {
		t.Errorf("expected 3 forced disconnects, got %d", closed)
	}
	if got := r.FindByUser("u1"); len(got) != 0 {
		t.Errorf("expected no connections after forced disconnect, got %d", len(got))
	}
	if r.IsUserOnline("u1") {
		t.Error("expected u1 offline after forced disconnect")
	}
}

func TestForceDisconnect_UsesRemover(t *testing.T) {
	r := New(nil)
	c := newTestConn(t, "c1", "203.0.113.1")
	r.OnConnect(c)
	r.OnAuthenticate("c1", "u1")

	var removed []string
	r.SetRemover(func(c *ws.Connection) {
		removed = append(removed, c.ID)
		// The server's removal path calls back into OnDisconnect.
		r.OnDisconnect(c.ID)
	})

	r.ForceDisconnect("c1", "sealed")
	if len(removed) != 1 || removed[0] != "c1" {
		t.Errorf("expected remover called for c1, got %v", removed)
	}
	if r.Get("c1") != nil {
		t.Error("expected record removed via disconnect handler")
	}

	// Unknown ids are a no-op.
	r.ForceDisconnect("ghost", "whatever")
}

func TestOnLogout(t *testing.T) {
	r := New(nil)
	c := newTestConn(t, "c1", "203.0.113.1")
	r.OnConnect(c)
	r.OnAuthenticate("c1", "u1")

	r.OnLogout("c1")

	if r.IsUserOnline("u1") {
		t.Error("expected u1 offline after logout")
	}
	if c.User() != "" {
		t.Errorf("expected anonymous connection, got user %q", c.User())
	}
	// The connection itself stays live and may log in again.
	if r.Get("c1") == nil {
		t.Fatal("expected connection still registered")
	}
	r.OnAuthenticate("c1", "u2")
	if !r.IsUserOnline("u2") {
		t.Error("expected re-login to work after logout")
	}

	r.OnLogout("ghost") // unknown ids are a no-op
}

func TestAddrsByUser(t *testing.T) {
	r := New(nil)
	for id, addr := range map[string]string{
		"c1": "203.0.113.1",
		"c2": "203.0.113.1", // same device twice
		"c3": "203.0.113.2",
	} {
		c := newTestConn(t, id, addr)
		r.OnConnect(c)
		r.OnAuthenticate(id, "u1")
	}

	addrs := r.AddrsByUser("u1")
	if len(addrs) != 2 {
		t.Errorf("expected 2 distinct addresses, got %v", addrs)
	}
	if got := r.AddrsByUser("u2"); len(got) != 0 {
		t.Errorf("expected no addresses for offline user, got %v", got)
	}
}

func TestOnlineUsers(t *testing.T) {
	r := New(nil)
	c1 := newTestConn(t, "c1", "203.0.113.1")
	c2 := newTestConn(t, "c2", "203.0.113.2")
	r.OnConnect(c1)
	r.OnConnect(c2)
	r.OnAuthenticate("c1", "u1")
	// c2 stays unauthenticated and must not be listed.

	users := r.OnlineUsers()
	if len(users) != 1 {
		t.Fatalf("expected 1 online user entry, got %d", len(users))
	}
	if users[0].UserID != "u1" || users[0].ConnID != "c1" || users[0].RemoteAddr != "203.0.113.1" {
		t.Errorf("unexpected entry %+v", users[0])
	}
}
