package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Global feature flags, stored in Redis so they survive restarts and can be
// toggled by administrators at runtime. A missing key means the feature is
// enabled.
const (
	FlagRegistration    = "registration"
	FlagCreateGroup     = "createGroup"
	FlagDeleteMessage   = "deleteMessage"
	FlagNewUserPosting  = "newUserPosting"

	flagPrefix = "flag:disabled:"
)

// KnownFlags lists every toggleable feature flag.
var KnownFlags = []string{
	FlagRegistration,
	FlagCreateGroup,
	FlagDeleteMessage,
	FlagNewUserPosting,
}

// ErrUnknownFlag is returned when a flag name is not in KnownFlags.
var ErrUnknownFlag = errors.New("moderation: unknown feature flag")

// Flags reads and toggles global feature flags.
type Flags struct {
	client *redis.Client
}

// NewFlags creates a Flags accessor using the provided Redis client.
func NewFlags(client *redis.Client) *Flags {
	return &Flags{client: client}
}

func validFlag(name string) bool {
	for _, f := range KnownFlags {
		if f == name {
			return true
		}
	}
	return false
}

// SetDisabled enables or disables a feature. Disabling writes a permanent
// key; enabling deletes it.
func (f *Flags) SetDisabled(ctx context.Context, name string, disabled bool) error {
	if !validFlag(name) {
		return ErrUnknownFlag
	}
	var err error
	if disabled {
		err = f.client.Set(ctx, flagPrefix+name, "true", 0).Err()
	} else {
		err = f.client.Del(ctx, flagPrefix+name).Err()
	}
	if err != nil {
		return fmt.Errorf("moderation: set flag %s: %w", name, err)
	}
	return nil
}

// IsDisabled reports whether a feature has been disabled.
func (f *Flags) IsDisabled(ctx context.Context, name string) (bool, error) {
	if !validFlag(name) {
		return false, ErrUnknownFlag
	}
	n, err := f.client.Exists(ctx, flagPrefix+name).Result()
	if err != nil {
		return false, fmt.Errorf("moderation: read flag %s: %w", name, err)
	}
	return n > 0, nil
}

// All returns the disabled state of every known flag, keyed by flag name.
func (f *Flags) All(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool, len(KnownFlags))
	for _, name := range KnownFlags {
		disabled, err := f.IsDisabled(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = disabled
	}
	return out, nil
}
