package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/emberchat/gateway/internal/dispatch"
	"github.com/emberchat/gateway/internal/moderation"
	"github.com/emberchat/gateway/internal/ratelimit"
	"github.com/emberchat/gateway/internal/ws"
)

type openSealer struct{}

func (openSealer) IsSealed(context.Context, moderation.SubjectKind, string) (bool, error) {
	return false, nil
}

type openLimiter struct{}

func (openLimiter) CheckAndIncrement(context.Context, string, string, ratelimit.Rule) (bool, error) {
	return true, nil
}

type captureSender struct {
	frames map[string][][]byte
}

func (s *captureSender) SendMessage(connID string, data []byte) error {
	if s.frames == nil {
		s.frames = make(map[string][][]byte)
	}
	s.frames[connID] = append(s.frames[connID], data)
	return nil
}

func newTestGateway(t *testing.T, routes map[string]dispatch.Handler) (*Gateway, *captureSender) {
	t.Helper()
	chain := dispatch.NewChain(openSealer{}, openLimiter{}, dispatch.NewTable(routes), dispatch.Config{})
	g := New(chain)
	sender := &captureSender{}
	g.SetSender(sender)
	return g, sender
}

func testConn() *ws.Connection {
	return &ws.Connection{ID: "c1", RemoteAddr: "203.0.113.1"}
}

func lastAck(t *testing.T, s *captureSender, connID string) (string, json.RawMessage) {
	t.Helper()
	frames := s.frames[connID]
	if len(frames) == 0 {
		t.Fatal("no ack delivered")
	}
	var ack struct {
		ID   string          `json:"id"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frames[len(frames)-1], &ack); err != nil {
		t.Fatalf("unparsable ack: %v", err)
	}
	return ack.ID, ack.Data
}

func TestHandleFrame_SuccessAck(t *testing.T) {
	g, sender := newTestGateway(t, map[string]dispatch.Handler{
		"echo": {Fn: func(c *dispatch.Context) (interface{}, error) {
			var p map[string]string
			if err := c.Bind(&p); err != nil {
				return nil, err
			}
			return p, nil
		}},
	})

	g.HandleFrame(testConn(), []byte(`{"id":"7","event":"echo","data":{"k":"v"}}`))

	id, data := lastAck(t, sender, "c1")
	if id != "7" {
		t.Errorf("ack on wrong id %q", id)
	}
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err != nil || obj["k"] != "v" {
		t.Errorf("expected object ack, got %s", data)
	}
}

func TestHandleFrame_RejectionIsStringAck(t *testing.T) {
	g, sender := newTestGateway(t, nil)

	g.HandleFrame(testConn(), []byte(`{"id":"9","event":"nosuch"}`))

	_, data := lastAck(t, sender, "c1")
	var msg string
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("rejection ack must be a bare string, got %s", data)
	}
	if msg == "" {
		t.Error("expected a rejection message")
	}
}

func TestHandleFrame_NoIDNoAck(t *testing.T) {
	g, sender := newTestGateway(t, nil)

	g.HandleFrame(testConn(), []byte(`{"event":"nosuch"}`))

	if len(sender.frames["c1"]) != 0 {
		t.Errorf("expected no ack for id-less event, got %v", sender.frames["c1"])
	}
}

func TestHandleFrame_MalformedDropped(t *testing.T) {
	g, sender := newTestGateway(t, nil)

	g.HandleFrame(testConn(), []byte(`{"id":"1"`))
	g.HandleFrame(testConn(), []byte(`{"id":"1","data":{}}`)) // no event name
	g.HandleFrame(testConn(), nil)

	if len(sender.frames["c1"]) != 0 {
		t.Errorf("malformed frames must not be acked, got %v", sender.frames["c1"])
	}
}

func TestHandleFrame_UsesConnectionUser(t *testing.T) {
	var seen string
	g, _ := newTestGateway(t, map[string]dispatch.Handler{
		"whoami": {Fn: func(c *dispatch.Context) (interface{}, error) {
			seen = c.UserID
			return map[string]string{"userId": c.UserID}, nil
		}},
	})

	c := testConn()
	c.SetUser("u-alice")
	g.HandleFrame(c, []byte(`{"id":"1","event":"whoami"}`))

	if seen != "u-alice" {
		t.Errorf("expected handler to see u-alice, got %q", seen)
	}
}
