// Package messaging is the gateway's control plane: a thin NATS client over
// which administrative actions are announced (seals, forced logouts) so
// out-of-band ops tooling can eject users and audit moderation activity. It
// handles connection lifecycle and subject-based subscriptions. The gateway
// process owns all live connections itself; nothing here fans user traffic
// out to other nodes.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Control-plane subjects.
const (
	SubjectForceLogout = "gateway.control.forcelogout"
	SubjectSeal        = "gateway.control.seal"
)

// ForceLogoutCommand asks the gateway to close every connection of a user.
type ForceLogoutCommand struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// SealAnnouncement records that an admin sealed a subject. Seals are
// enforced from the store on every event; the announcement exists for audit
// tooling, not for enforcement.
type SealAnnouncement struct {
	Kind    string    `json:"kind"` // "user" or "ip"
	Subject string    `json:"subject"`
	At      time.Time `json:"at"`
}

// Client wraps the NATS connection with helpers for the control subjects.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "gateway",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishForceLogout announces that a user's connections were (or should be)
// closed.
func (c *Client) PublishForceLogout(userID, reason string) error {
	data, err := json.Marshal(ForceLogoutCommand{UserID: userID, Reason: reason})
	if err != nil {
		return fmt.Errorf("nats marshal forcelogout: %w", err)
	}
	return c.conn.Publish(SubjectForceLogout, data)
}

// SubscribeForceLogout registers the gateway-side handler for force-logout
// commands arriving from ops tooling.
func (c *Client) SubscribeForceLogout(handler func(cmd ForceLogoutCommand)) error {
	return c.subscribe(SubjectForceLogout, func(msg *nats.Msg) {
		var cmd ForceLogoutCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			log.Printf("[nats] bad forcelogout payload: %v", err)
			return
		}
		if cmd.UserID == "" {
			log.Printf("[nats] forcelogout command without userId, dropped")
			return
		}
		handler(cmd)
	})
}

// PublishSeal announces a new seal for audit tooling.
func (c *Client) PublishSeal(kind, subject string) error {
	data, err := json.Marshal(SealAnnouncement{Kind: kind, Subject: subject, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("nats marshal seal: %w", err)
	}
	return c.conn.Publish(SubjectSeal, data)
}

// SubscribeSeals registers a handler for seal announcements.
func (c *Client) SubscribeSeals(handler func(ann SealAnnouncement)) error {
	return c.subscribe(SubjectSeal, func(msg *nats.Msg) {
		var ann SealAnnouncement
		if err := json.Unmarshal(msg.Data, &ann); err != nil {
			log.Printf("[nats] bad seal payload: %v", err)
			return
		}
		handler(ann)
	})
}

// subscribe registers a handler for the given subject and stores the
// subscription internally for later cleanup.
func (c *Client) subscribe(subject string, handler func(msg *nats.Msg)) error {
	sub, err := c.conn.Subscribe(subject, handler)
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()

	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
