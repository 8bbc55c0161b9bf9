package dispatch

import (
	"context"
	"fmt"
	"log"

	"github.com/emberchat/gateway/internal/moderation"
	"github.com/emberchat/gateway/internal/ratelimit"
)

// SealChecker is the moderation-store capability the chain needs.
type SealChecker interface {
	IsSealed(ctx context.Context, kind moderation.SubjectKind, subject string) (bool, error)
}

// RateLimiter is the rate-limiter capability the chain needs.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, subject, action string, rule ratelimit.Rule) (bool, error)
}

// Config is the injected, read-only policy surface of the chain.
type Config struct {
	// Admins holds the configured administrator user ids.
	Admins map[string]bool

	// Rates maps event names to their rate rules; events not listed use
	// DefaultRate.
	Rates map[string]ratelimit.Rule

	// DefaultRate bounds events without a dedicated rule.
	DefaultRate ratelimit.Rule

	// FailOpenReads lets hot-path read checks (seal lookup, rate increment)
	// pass when the backing store fails. The default is false: fail closed
	// and report the dependency failure. This is a deliberate conservative
	// default.
	FailOpenReads bool
}

// Chain executes the fixed check sequence against every inbound event:
//
//	seal -> authentication -> admin flag -> rate limit -> dispatch
//
// The order is significant: seal runs first so a sealed IP is blocked before
// it can probe authenticated-only behavior.
type Chain struct {
	seals   SealChecker
	limiter RateLimiter
	table   *Table
	cfg     Config
}

// NewChain builds a Chain over the given stores, route table, and policy.
func NewChain(seals SealChecker, limiter RateLimiter, table *Table, cfg Config) *Chain {
	if cfg.DefaultRate == (ratelimit.Rule{}) {
		cfg.DefaultRate = ratelimit.DefaultRule
	}
	return &Chain{seals: seals, limiter: limiter, table: table, cfg: cfg}
}

// Process runs one event through the chain. On success it returns the
// handler's result object; otherwise a *Rejection describing the first stage
// that short-circuited. It never panics and never returns a non-Rejection
// error.
func (ch *Chain) Process(c *Context) (interface{}, error) {
	// Stage 1: seal check. Both the remote address and, when present, the
	// authenticated user are checked; either being sealed rejects the event
	// before anything else is evaluated.
	if rej := ch.checkSeal(c); rej != nil {
		return nil, rej
	}

	// Stage 2: authentication annotation. Nothing is rejected here;
	// handlers declare whether they need a user.
	c.Authenticated = c.UserID != ""

	// Stage 3: admin-flag annotation.
	c.Admin = c.Authenticated && ch.cfg.Admins[c.UserID]

	// Stage 4: rate limit.
	if rej := ch.checkRate(c); rej != nil {
		return nil, rej
	}

	// Stage 5: dispatch.
	return ch.dispatch(c)
}

func (ch *Chain) checkSeal(c *Context) *Rejection {
	sealed, err := ch.seals.IsSealed(c.Ctx, moderation.SubjectIP, c.RemoteAddr)
	if err != nil {
		if rej := ch.storeFailure(c, "seal check", err); rej != nil {
			return rej
		}
	} else if sealed {
		return Reject(KindModeration, MsgSealed)
	}

	if c.UserID != "" {
		sealed, err = ch.seals.IsSealed(c.Ctx, moderation.SubjectUser, c.UserID)
		if err != nil {
			if rej := ch.storeFailure(c, "seal check", err); rej != nil {
				return rej
			}
		} else if sealed {
			return Reject(KindModeration, MsgSealed)
		}
	}
	return nil
}

func (ch *Chain) checkRate(c *Context) *Rejection {
	rule, ok := ch.cfg.Rates[c.Event]
	if !ok {
		rule = ch.cfg.DefaultRate
	}

	// Authenticated traffic is throttled per user so multi-device clients
	// share one budget; anonymous traffic per connection.
	subject := c.UserID
	if subject == "" {
		subject = c.ConnID
	}

	allowed, err := ch.limiter.CheckAndIncrement(c.Ctx, subject, c.Event, rule)
	if err != nil {
		return ch.storeFailure(c, "rate limit", err)
	}
	if !allowed {
		return Reject(KindRateLimited, MsgRateLimited)
	}
	return nil
}

// storeFailure applies the configured failure policy for hot-path read
// checks. Fail-open returns nil (the chain continues); fail-closed rejects
// with a dependency failure.
func (ch *Chain) storeFailure(c *Context, stage string, err error) *Rejection {
	if ch.cfg.FailOpenReads {
		log.Printf("dispatch: %s failed for conn=%s event=%s: %v (failing open)", stage, c.ConnID, c.Event, err)
		return nil
	}
	log.Printf("dispatch: %s failed for conn=%s event=%s: %v (failing closed)", stage, c.ConnID, c.Event, err)
	return Reject(KindDependency, MsgDependency)
}

// dispatch resolves the event name, enforces the handler's declared
// requirements, and invokes it. Handler panics and domain errors are
// contained here; they become rejections, never connection faults.
func (ch *Chain) dispatch(c *Context) (result interface{}, err error) {
	h, ok := ch.table.Lookup(c.Event)
	if !ok {
		return nil, Reject(KindUnknownEvent, fmt.Sprintf("unknown event: %s", c.Event))
	}
	if h.RequireAuth && !c.Authenticated {
		return nil, Reject(KindUnauthenticated, MsgLoginNeeded)
	}
	if h.RequireAdmin && !c.Admin {
		return nil, Reject(KindForbidden, MsgAdminNeeded)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch: handler panic event=%s conn=%s: %v", c.Event, c.ConnID, r)
			result = nil
			err = Reject(KindHandler, "internal handler error")
		}
	}()

	result, err = h.Fn(c)
	if err != nil {
		if rej, ok := err.(*Rejection); ok {
			return nil, rej
		}
		return nil, Reject(KindHandler, err.Error())
	}
	return result, nil
}
