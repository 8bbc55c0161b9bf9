// Package system exposes the administrative operations of the gateway as
// routable events: sealing and unsealing users and IPs, username bans,
// online-user listing, and global feature flags. Every route here requires
// the admin flag; the business-rule guards (no loopback seals, no
// self-seals) live at these call sites, not inside the moderation store.
package system

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/emberchat/gateway/internal/audit"
	"github.com/emberchat/gateway/internal/directory"
	"github.com/emberchat/gateway/internal/dispatch"
	"github.com/emberchat/gateway/internal/moderation"
	"github.com/emberchat/gateway/internal/registry"
)

// ModerationStore is the seal/ban capability the system routes need.
type ModerationStore interface {
	Seal(ctx context.Context, kind moderation.SubjectKind, subject string, ttl time.Duration) error
	Unseal(ctx context.Context, kind moderation.SubjectKind, subject string) error
	IsSealed(ctx context.Context, kind moderation.SubjectKind, subject string) (bool, error)
	ListSealed(ctx context.Context, kind moderation.SubjectKind) ([]string, error)
	BanUsername(ctx context.Context, username string) error
	UnbanUsername(ctx context.Context, username string) error
	ListBannedUsernames(ctx context.Context) ([]string, error)
}

// FlagStore is the feature-flag capability the system routes need.
type FlagStore interface {
	SetDisabled(ctx context.Context, name string, disabled bool) error
	All(ctx context.Context) (map[string]bool, error)
}

// UserDirectory resolves usernames and login history from the document store.
type UserDirectory interface {
	FindIDByUsername(ctx context.Context, username string) (string, error)
	UsernamesByID(ctx context.Context, ids []string) (map[string]string, error)
	LastLoginIP(ctx context.Context, userID string) (string, error)
}

// ConnRegistry is the live-connection capability the system routes need.
type ConnRegistry interface {
	OnlineUsers() []registry.OnlineUser
	AddrsByUser(userID string) []string
	ForceDisconnectUser(userID, reason string) int
}

// AuditLog records administrative actions for later review. May be nil.
type AuditLog interface {
	Record(ctx context.Context, e audit.Entry)
	Recent(ctx context.Context, limit int) []audit.Entry
}

// ControlPublisher announces administrative actions on the control plane so
// out-of-band tooling can observe and replay them. May be nil.
type ControlPublisher interface {
	PublishSeal(kind, subject string) error
	PublishForceLogout(userID, reason string) error
}

// Deps wires the system routes to their collaborators.
type Deps struct {
	Moderation ModerationStore
	Flags      FlagStore
	Directory  UserDirectory
	Registry   ConnRegistry
	Control    ControlPublisher
	Audit      AuditLog

	// Seal durations applied when an admin does not specify one.
	UserSealTTL time.Duration
	IPSealTTL   time.Duration
}

var okResult = map[string]string{"msg": "ok"}

func isLoopback(ip string) bool {
	return ip == "::1" || ip == "127.0.0.1" || ip == "localhost"
}

// depFail maps a store failure on a destructive action to a fail-closed
// dependency rejection.
func depFail(op string, err error) error {
	log.Printf("system: %s: %v", op, err)
	return dispatch.Reject(dispatch.KindDependency, dispatch.MsgDependency)
}

// Routes returns the administrative route map for the merged table.
func Routes(d Deps) map[string]dispatch.Handler {
	if d.UserSealTTL <= 0 {
		d.UserSealTTL = moderation.DefaultUserSealTTL
	}
	if d.IPSealTTL <= 0 {
		d.IPSealTTL = moderation.DefaultIPSealTTL
	}

	admin := func(fn dispatch.HandlerFunc) dispatch.Handler {
		return dispatch.Handler{Fn: fn, RequireAuth: true, RequireAdmin: true}
	}

	return map[string]dispatch.Handler{
		"sealUser":              admin(d.sealUser),
		"cancelSealUser":        admin(d.cancelSealUser),
		"sealIp":                admin(d.sealIP),
		"cancelSealIp":          admin(d.cancelSealIP),
		"sealUserOnlineIp":      admin(d.sealUserOnlineIP),
		"getSealList":           admin(d.getSealList),
		"banUsername":           admin(d.banUsername),
		"unbanUsername":         admin(d.unbanUsername),
		"getBannedUsernameList": admin(d.getBannedUsernameList),
		"getOnlineUsers":        admin(d.getOnlineUsers),
		"forceLogoutUser":       admin(d.forceLogoutUser),
		"getSystemConfig":       admin(d.getSystemConfig),
		"updateSystemConfig":    admin(d.updateSystemConfig),
		"getAuditLog":           admin(d.getAuditLog),
	}
}

// record logs an administrative action; a missing audit log is fine.
func (d Deps) record(c *dispatch.Context, action, subject string, detail map[string]string) {
	if d.Audit == nil {
		return
	}
	d.Audit.Record(c.Ctx, audit.Entry{
		Actor:   c.UserID,
		Action:  action,
		Subject: subject,
		Detail:  detail,
	})
}

func (d Deps) sealUser(c *dispatch.Context) (interface{}, error) {
	var payload struct {
		Username string `json:"username"`
	}
	if err := c.Bind(&payload); err != nil {
		return nil, err
	}
	if payload.Username == "" {
		return nil, errors.New("username must not be empty")
	}

	userID, err := d.Directory.FindIDByUsername(c.Ctx, payload.Username)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return nil, errors.New("user does not exist")
		}
		return nil, depFail("sealUser lookup", err)
	}
	if userID == c.UserID {
		return nil, errors.New("you cannot seal yourself")
	}

	if err := d.Moderation.Seal(c.Ctx, moderation.SubjectUser, userID, d.UserSealTTL); err != nil {
		if errors.Is(err, moderation.ErrAlreadySealed) {
			return nil, errors.New("user is already sealed")
		}
		return nil, depFail("sealUser", err)
	}

	d.announceSeal(string(moderation.SubjectUser), userID)
	d.record(c, audit.ActionSealUser, userID, map[string]string{"username": payload.Username})
	return okResult, nil
}

func (d Deps) cancelSealUser(c *dispatch.Context) (interface{}, error) {
	var payload struct {
		Username string `json:"username"`
	}
	if err := c.Bind(&payload); err != nil {
		return nil, err
	}
	if payload.Username == "" {
		return nil, errors.New("username must not be empty")
	}

	userID, err := d.Directory.FindIDByUsername(c.Ctx, payload.Username)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return nil, errors.New("user does not exist")
		}
		return nil, depFail("cancelSealUser lookup", err)
	}

	if err := d.Moderation.Unseal(c.Ctx, moderation.SubjectUser, userID); err != nil {
		if errors.Is(err, moderation.ErrNotSealed) {
			return nil, errors.New("user is not sealed")
		}
		return nil, depFail("cancelSealUser", err)
	}
	d.record(c, audit.ActionUnsealUser, userID, map[string]string{"username": payload.Username})
	return okResult, nil
}

func (d Deps) sealIP(c *dispatch.Context) (interface{}, error) {
	var payload struct {
		IP string `json:"ip"`
	}
	if err := c.Bind(&payload); err != nil {
		return nil, err
	}
	if payload.IP == "" {
		return nil, errors.New("ip must not be empty")
	}
	if isLoopback(payload.IP) {
		return nil, errors.New("a loopback address cannot be sealed")
	}
	if payload.IP == c.RemoteAddr {
		return nil, errors.New("you cannot seal your own address")
	}

	if err := d.Moderation.Seal(c.Ctx, moderation.SubjectIP, payload.IP, d.IPSealTTL); err != nil {
		if errors.Is(err, moderation.ErrAlreadySealed) {
			return nil, errors.New("ip is already sealed")
		}
		return nil, depFail("sealIp", err)
	}

	d.announceSeal(string(moderation.SubjectIP), payload.IP)
	d.record(c, audit.ActionSealIP, payload.IP, nil)
	return okResult, nil
}

func (d Deps) cancelSealIP(c *dispatch.Context) (interface{}, error) {
	var payload struct {
		IP string `json:"ip"`
	}
	if err := c.Bind(&payload); err != nil {
		return nil, err
	}
	if payload.IP == "" {
		return nil, errors.New("ip must not be empty")
	}

	if err := d.Moderation.Unseal(c.Ctx, moderation.SubjectIP, payload.IP); err != nil {
		if errors.Is(err, moderation.ErrNotSealed) {
			return nil, errors.New("ip is not sealed")
		}
		return nil, depFail("cancelSealIp", err)
	}
	d.record(c, audit.ActionUnsealIP, payload.IP, nil)
	return okResult, nil
}

// sealUserOnlineIP seals every address the target user is currently
// connected from, plus their last recorded login address.
func (d Deps) sealUserOnlineIP(c *dispatch.Context) (interface{}, error) {
	var payload struct {
		UserID string `json:"userId"`
	}
	if err := c.Bind(&payload); err != nil {
		return nil, err
	}
	if payload.UserID == "" {
		return nil, errors.New("userId must not be empty")
	}

	addrs := d.Registry.AddrsByUser(payload.UserID)
	if lastIP, err := d.Directory.LastLoginIP(c.Ctx, payload.UserID); err == nil && lastIP != "" {
		addrs = append(addrs, lastIP)
	}

	targets := addrs[:0]
	for _, ip := range addrs {
		if ip == "" || isLoopback(ip) || ip == c.RemoteAddr {
			continue
		}
		targets = append(targets, ip)
	}
	if len(targets) == 0 {
		return nil, errors.New("no sealable addresses for this user")
	}

	sealedAny := false
	for _, ip := range targets {
		err := d.Moderation.Seal(c.Ctx, moderation.SubjectIP, ip, d.IPSealTTL)
		switch {
		case err == nil:
			sealedAny = true
			d.announceSeal(string(moderation.SubjectIP), ip)
			d.record(c, audit.ActionSealIP, ip, map[string]string{"userId": payload.UserID})
		case errors.Is(err, moderation.ErrAlreadySealed):
			// Fine: another admin got there first.
		default:
			return nil, depFail("sealUserOnlineIp", err)
		}
	}
	if !sealedAny {
		return nil, errors.New("all addresses are already sealed")
	}
	return okResult, nil
}

func (d Deps) getSealList(c *dispatch.Context) (interface{}, error) {
	userIDs, err := d.Moderation.ListSealed(c.Ctx, moderation.SubjectUser)
	if err != nil {
		return nil, depFail("getSealList users", err)
	}
	ips, err := d.Moderation.ListSealed(c.Ctx, moderation.SubjectIP)
	if err != nil {
		return nil, depFail("getSealList ips", err)
	}

	names, err := d.Directory.UsernamesByID(c.Ctx, userIDs)
	if err != nil {
		return nil, depFail("getSealList names", err)
	}
	users := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if name, ok := names[id]; ok {
			users = append(users, name)
		} else {
			users = append(users, id)
		}
	}

	return map[string]interface{}{
		"users": users,
		"ips":   ips,
	}, nil
}

func (d Deps) banUsername(c *dispatch.Context) (interface{}, error) {
	var payload struct {
		Username string `json:"username"`
	}
	if err := c.Bind(&payload); err != nil {
		return nil, err
	}
	if payload.Username == "" {
		return nil, errors.New("username must not be empty")
	}

	if err := d.Moderation.BanUsername(c.Ctx, payload.Username); err != nil {
		if errors.Is(err, moderation.ErrAlreadyBanned) {
			return nil, errors.New("username is already banned")
		}
		return nil, depFail("banUsername", err)
	}
	d.record(c, audit.ActionBanName, payload.Username, nil)
	return okResult, nil
}

func (d Deps) unbanUsername(c *dispatch.Context) (interface{}, error) {
	var payload struct {
		Username string `json:"username"`
	}
	if err := c.Bind(&payload); err != nil {
		return nil, err
	}
	if payload.Username == "" {
		return nil, errors.New("username must not be empty")
	}

	if err := d.Moderation.UnbanUsername(c.Ctx, payload.Username); err != nil {
		if errors.Is(err, moderation.ErrNotBanned) {
			return nil, errors.New("username is not banned")
		}
		return nil, depFail("unbanUsername", err)
	}
	d.record(c, audit.ActionUnbanName, payload.Username, nil)
	return okResult, nil
}

func (d Deps) getBannedUsernameList(c *dispatch.Context) (interface{}, error) {
	usernames, err := d.Moderation.ListBannedUsernames(c.Ctx)
	if err != nil {
		return nil, depFail("getBannedUsernameList", err)
	}
	return map[string]interface{}{"usernames": usernames}, nil
}

func (d Deps) getOnlineUsers(c *dispatch.Context) (interface{}, error) {
	online := d.Registry.OnlineUsers()

	ids := make([]string, 0, len(online))
	for _, u := range online {
		ids = append(ids, u.UserID)
	}
	names, err := d.Directory.UsernamesByID(c.Ctx, ids)
	if err != nil {
		return nil, depFail("getOnlineUsers names", err)
	}

	type onlineEntry struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
		IP       string `json:"ip"`
	}
	// One entry per user; multi-device users collapse to their first
	// connection seen.
	seen := make(map[string]bool, len(online))
	out := make([]onlineEntry, 0, len(online))
	for _, u := range online {
		if seen[u.UserID] {
			continue
		}
		seen[u.UserID] = true
		out = append(out, onlineEntry{UserID: u.UserID, Username: names[u.UserID], IP: u.RemoteAddr})
	}
	return map[string]interface{}{"users": out}, nil
}

func (d Deps) forceLogoutUser(c *dispatch.Context) (interface{}, error) {
	var payload struct {
		UserID string `json:"userId"`
		Reason string `json:"reason"`
	}
	if err := c.Bind(&payload); err != nil {
		return nil, err
	}
	if payload.UserID == "" {
		return nil, errors.New("userId must not be empty")
	}
	if payload.UserID == c.UserID {
		return nil, errors.New("you cannot force-logout yourself")
	}
	if payload.Reason == "" {
		payload.Reason = "logged out by administrator"
	}

	closed := d.Registry.ForceDisconnectUser(payload.UserID, payload.Reason)
	if d.Control != nil {
		if err := d.Control.PublishForceLogout(payload.UserID, payload.Reason); err != nil {
			log.Printf("system: control publish forceLogout: %v", err)
		}
	}
	d.record(c, audit.ActionForceLogout, payload.UserID, map[string]string{"reason": payload.Reason})
	return map[string]int{"closed": closed}, nil
}

func (d Deps) getSystemConfig(c *dispatch.Context) (interface{}, error) {
	flags, err := d.Flags.All(c.Ctx)
	if err != nil {
		return nil, depFail("getSystemConfig", err)
	}
	return map[string]interface{}{"disabled": flags}, nil
}

func (d Deps) updateSystemConfig(c *dispatch.Context) (interface{}, error) {
	var payload struct {
		Disabled map[string]bool `json:"disabled"`
	}
	if err := c.Bind(&payload); err != nil {
		return nil, err
	}
	if len(payload.Disabled) == 0 {
		return nil, errors.New("no flags to update")
	}

	for name, disabled := range payload.Disabled {
		if err := d.Flags.SetDisabled(c.Ctx, name, disabled); err != nil {
			if errors.Is(err, moderation.ErrUnknownFlag) {
				return nil, errors.New("unknown feature flag: " + name)
			}
			return nil, depFail("updateSystemConfig", err)
		}
		d.record(c, audit.ActionConfig, name, map[string]string{"disabled": strconv.FormatBool(disabled)})
	}
	return okResult, nil
}

func (d Deps) getAuditLog(c *dispatch.Context) (interface{}, error) {
	var payload struct {
		Limit int `json:"limit"`
	}
	if len(c.Data) > 0 {
		if err := c.Bind(&payload); err != nil {
			return nil, err
		}
	}
	if d.Audit == nil {
		return map[string]interface{}{"entries": []audit.Entry{}}, nil
	}
	return map[string]interface{}{"entries": d.Audit.Recent(c.Ctx, payload.Limit)}, nil
}

func (d Deps) announceSeal(kind, subject string) {
	if d.Control == nil {
		return
	}
	if err := d.Control.PublishSeal(kind, subject); err != nil {
		log.Printf("system: control publish seal: %v", err)
	}
}
