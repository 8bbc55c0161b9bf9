// Package gateway glues the WebSocket layer to the dispatch chain: it turns
// raw inbound frames into chain invocations and chain outcomes into wire
// acknowledgements. Success acks carry the handler's result object; rejected
// events are acknowledged with a bare string, which is the wire-level error
// convention clients rely on.
package gateway

import (
	"context"
	"log"
	"time"

	"github.com/emberchat/gateway/internal/dispatch"
	"github.com/emberchat/gateway/internal/metrics"
	"github.com/emberchat/gateway/internal/protocol"
	"github.com/emberchat/gateway/internal/ws"
)

// eventTimeout bounds one event's trip through the chain, handler included.
const eventTimeout = 10 * time.Second

// Sender delivers an outbound frame to a connection.
type Sender interface {
	SendMessage(connID string, data []byte) error
}

// Gateway routes inbound frames through the dispatch chain.
type Gateway struct {
	chain *dispatch.Chain
	send  Sender
}

// New creates a Gateway over the given chain. The sender is wired after the
// server exists via SetSender.
func New(chain *dispatch.Chain) *Gateway {
	return &Gateway{chain: chain}
}

// SetSender wires the outbound delivery path.
func (g *Gateway) SetSender(s Sender) {
	g.send = s
}

// HandleFrame is the server's onMessage callback. It validates and parses
// the frame, runs the event through the chain, and acknowledges on the
// event's id. Malformed frames are dropped with a log line: without a
// parsed id there is nothing to acknowledge on.
func (g *Gateway) HandleFrame(c *ws.Connection, data []byte) {
	if err := protocol.ValidateFrame(data); err != nil {
		log.Printf("gateway: dropping frame from conn=%s: %v", c.ID, err)
		metrics.EventsTotal.WithLabelValues("invalid").Inc()
		return
	}

	ev, err := protocol.ParseClientEvent(data)
	if err != nil {
		log.Printf("gateway: unparsable frame from conn=%s: %v", c.ID, err)
		metrics.EventsTotal.WithLabelValues("invalid").Inc()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	dc := &dispatch.Context{
		Ctx:        ctx,
		ConnID:     c.ID,
		RemoteAddr: c.RemoteAddr,
		UserID:     c.User(),
		Event:      ev.Event,
		Data:       ev.Data,
	}

	start := time.Now()
	result, err := g.chain.Process(dc)
	metrics.DispatchLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.EventsTotal.WithLabelValues("rejected").Inc()
		if rej, ok := err.(*dispatch.Rejection); ok {
			metrics.RejectionsTotal.WithLabelValues(rej.Kind.String()).Inc()
		}
		g.ack(c, ev.ID, protocol.NewErrorAck(ev.ID, err.Error()))
		return
	}

	metrics.EventsTotal.WithLabelValues("dispatched").Inc()
	out, err := protocol.NewAck(ev.ID, result)
	if err != nil {
		log.Printf("gateway: ack marshal failed for event=%s conn=%s: %v", ev.Event, c.ID, err)
		g.ack(c, ev.ID, protocol.NewErrorAck(ev.ID, "internal handler error"))
		return
	}
	g.ack(c, ev.ID, out)
}

// ack writes the acknowledgement. Events without an id get no ack; write
// failures are the connection layer's problem to surface.
func (g *Gateway) ack(c *ws.Connection, id string, data []byte) {
	if id == "" || g.send == nil {
		return
	}
	if err := g.send.SendMessage(c.ID, data); err != nil {
		log.Printf("gateway: ack delivery failed for conn=%s: %v", c.ID, err)
	}
}
