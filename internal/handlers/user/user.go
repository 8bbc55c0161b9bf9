// Package user exposes the session routes of the gateway: logging a
// connection in with a signed token, logging out, and querying another
// user's online status.
package user

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/emberchat/gateway/internal/dispatch"
	"github.com/emberchat/gateway/internal/moderation"
	"github.com/emberchat/gateway/internal/token"
)

// TokenVerifier checks a presented bearer token and returns the user id it
// was issued for.
type TokenVerifier interface {
	Verify(tok string) (string, error)
}

// SessionRegistry is the connection-index capability the session routes need.
type SessionRegistry interface {
	OnAuthenticate(connID, userID string)
	OnLogout(connID string)
}

// SealChecker rejects logins from sealed users before the session is
// established.
type SealChecker interface {
	IsSealed(ctx context.Context, kind moderation.SubjectKind, subject string) (bool, error)
}

// Presence answers online-status queries, typically through the memoizing
// cache rather than the registry directly.
type Presence interface {
	IsOnline(userID string) bool
}

// Deps wires the session routes to their collaborators.
type Deps struct {
	Tokens   TokenVerifier
	Registry SessionRegistry
	Seals    SealChecker
	Presence Presence

	// Admins mirrors the chain's administrator set so the login result can
	// tell the client whether to show administrative UI.
	Admins map[string]bool
}

// Routes returns the session route map for the merged table.
func Routes(d Deps) map[string]dispatch.Handler {
	return map[string]dispatch.Handler{
		"login":    {Fn: d.login},
		"logout":   {Fn: d.logout, RequireAuth: true},
		"isOnline": {Fn: d.isOnline},
	}
}

// LoginResult is the acknowledgement payload of a successful login.
type LoginResult struct {
	UserID  string `json:"userId"`
	IsAdmin bool   `json:"isAdmin"`
}

func (d Deps) login(c *dispatch.Context) (interface{}, error) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&payload); err != nil {
		return nil, err
	}
	if payload.Token == "" {
		return nil, errors.New("token must not be empty")
	}

	userID, err := d.Tokens.Verify(payload.Token)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return nil, errors.New("token expired, log in again")
		default:
			return nil, errors.New("invalid token")
		}
	}

	// A sealed user presenting a still-valid token must not get a session.
	// The chain only sees the user id on events after this one.
	sealed, err := d.Seals.IsSealed(c.Ctx, moderation.SubjectUser, userID)
	if err != nil {
		log.Printf("user: login seal check for %s: %v", userID, err)
		return nil, dispatch.Reject(dispatch.KindDependency, dispatch.MsgDependency)
	}
	if sealed {
		return nil, dispatch.Reject(dispatch.KindModeration, dispatch.MsgSealed)
	}

	d.Registry.OnAuthenticate(c.ConnID, userID)
	log.Printf("user: login conn=%s user=%s", c.ConnID, userID)

	return LoginResult{UserID: userID, IsAdmin: d.Admins[userID]}, nil
}

func (d Deps) logout(c *dispatch.Context) (interface{}, error) {
	d.Registry.OnLogout(c.ConnID)
	log.Printf("user: logout conn=%s user=%s", c.ConnID, c.UserID)
	return map[string]string{"msg": "ok"}, nil
}

func (d Deps) isOnline(c *dispatch.Context) (interface{}, error) {
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := c.Bind(&payload); err != nil {
		return nil, err
	}
	if payload.UserID == "" {
		return nil, errors.New("userId must not be empty")
	}

	return map[string]interface{}{
		"userId":    payload.UserID,
		"isOnline":  d.Presence.IsOnline(payload.UserID),
		"checkedAt": time.Now().Unix(),
	}, nil
}
