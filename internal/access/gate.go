// Package access decides who may talk to the bot. Three tiers: the single
// admin, allowed users, everyone else. A ban always wins over an allow.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"checkinbot/internal/storage"
)

const (
	ModeOpen      = "open"
	ModeAllowlist = "allowlist"

	// Non-admin users poking at admin commands get banned on the third
	// attempt within one day.
	adminAttemptLimit = 3
)

type Gate struct {
	store       *storage.Store
	adminUserID int64
	mode        string
	loc         *time.Location
	log         zerolog.Logger
}

func NewGate(store *storage.Store, adminUserID int64, mode string, loc *time.Location, log zerolog.Logger) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	return &Gate{
		store:       store,
		adminUserID: adminUserID,
		mode:        mode,
		loc:         loc,
		log:         log.With().Str("component", "access").Logger(),
	}
}

func (g *Gate) IsAdmin(userID int64) bool {
	return userID == g.adminUserID
}

func (g *Gate) IsBanned(ctx context.Context, userID int64) (bool, error) {
	if g.IsAdmin(userID) {
		return false, nil
	}
	return g.store.IsBanned(ctx, userID)
}

// IsAllowed reports whether a user may use the bot at all. Order matters:
// admin always passes, a ban always blocks, then the allowlist (or open
// mode), then an unexpired temp grant.
func (g *Gate) IsAllowed(ctx context.Context, userID int64) (bool, error) {
	if g.IsAdmin(userID) {
		return true, nil
	}
	banned, err := g.store.IsBanned(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check ban: %w", err)
	}
	if banned {
		return false, nil
	}
	if g.mode == ModeOpen {
		return true, nil
	}
	allowed, err := g.store.IsAllowed(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check allowlist: %w", err)
	}
	if allowed {
		return true, nil
	}

	grant, err := g.store.GetTempGrant(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check temp grant: %w", err)
	}
	return time.Now().Before(grant.ExpiresAt), nil
}

// HasTempGrant reports whether the user currently runs on an unexpired
// temporary grant rather than a full allow.
func (g *Gate) HasTempGrant(ctx context.Context, userID int64) (bool, error) {
	if g.IsAdmin(userID) {
		return false, nil
	}
	allowed, err := g.store.IsAllowed(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check allowlist: %w", err)
	}
	if allowed {
		return false, nil
	}
	grant, err := g.store.GetTempGrant(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("check temp grant: %w", err)
	}
	return time.Now().Before(grant.ExpiresAt), nil
}

// RecordAdminAttempt counts a non-admin user's use of an admin command.
// Returns banned=true when the attempt crossed the daily limit and the user
// was auto-banned.
func (g *Gate) RecordAdminAttempt(ctx context.Context, userID int64, command string) (attempts int, banned bool, err error) {
	day := time.Now().In(g.loc).Format("2006-01-02")
	attempts, err = g.store.IncrementAdminAttempt(ctx, userID, day, command)
	if err != nil {
		return 0, false, fmt.Errorf("record admin attempt: %w", err)
	}
	if attempts < adminAttemptLimit {
		return attempts, false, nil
	}

	if err := g.store.AddBanned(ctx, userID, "repeated admin command misuse"); err != nil {
		return attempts, false, fmt.Errorf("auto-ban: %w", err)
	}
	g.log.Warn().
		Int64("user_id", userID).
		Str("command", command).
		Int("attempts", attempts).
		Msg("auto-banned user for admin command misuse")
	return attempts, true, nil
}

// Allow adds the user to the allowlist and clears any ban.
func (g *Gate) Allow(ctx context.Context, userID, addedBy int64) error {
	if err := g.store.RemoveBanned(ctx, userID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("clear ban: %w", err)
	}
	if err := g.store.AddAllowed(ctx, userID, addedBy); err != nil {
		return err
	}
	return nil
}

func (g *Gate) Disallow(ctx context.Context, userID int64) error {
	return g.store.RemoveAllowed(ctx, userID)
}

func (g *Gate) Ban(ctx context.Context, userID int64, reason string) error {
	if g.IsAdmin(userID) {
		return fmt.Errorf("cannot ban the admin")
	}
	return g.store.AddBanned(ctx, userID, reason)
}

// Unban lifts the ban and hands out a time-boxed temp grant so the user can
// resume with a reduced quota.
func (g *Gate) Unban(ctx context.Context, userID int64, grantTTL time.Duration) error {
	if err := g.store.RemoveBanned(ctx, userID); err != nil {
		return err
	}
	if grantTTL > 0 {
		if err := g.store.UpsertTempGrant(ctx, userID, time.Now().Add(grantTTL)); err != nil {
			return fmt.Errorf("grant temp access: %w", err)
		}
	}
	return nil
}
