// Package quota enforces the per-user daily check-in limit. The ledger lives
// in the database so counters survive restarts and reset naturally at local
// midnight by keying on the day string.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"checkinbot/internal/storage"
)

// SettingDailyLimit is the settings key holding the admin-tuned global limit.
const SettingDailyLimit = "daily_limit"

type Ledger struct {
	store        *storage.Store
	adminUserID  int64
	defaultLimit int
	tempLimit    int
	loc          *time.Location
}

func NewLedger(store *storage.Store, adminUserID int64, defaultLimit, tempLimit int, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	if defaultLimit <= 0 {
		defaultLimit = 3
	}
	if tempLimit <= 0 {
		tempLimit = 1
	}
	return &Ledger{
		store:        store,
		adminUserID:  adminUserID,
		defaultLimit: defaultLimit,
		tempLimit:    tempLimit,
		loc:          loc,
	}
}

func (l *Ledger) day(now time.Time) string {
	return now.In(l.loc).Format("2006-01-02")
}

// Limit resolves the effective daily limit for a user: a per-user override
// wins, then the temp-grant limit, then the admin-set global limit, then the
// configured default. The admin is unlimited (0 means no cap).
func (l *Ledger) Limit(ctx context.Context, userID int64, onTempGrant bool) (int, error) {
	if userID == l.adminUserID {
		return 0, nil
	}

	override, err := l.store.GetQuotaOverride(ctx, userID)
	if err == nil {
		return override, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("read quota override: %w", err)
	}

	if onTempGrant {
		return l.tempLimit, nil
	}

	raw, err := l.store.GetSetting(ctx, SettingDailyLimit)
	if err == nil {
		if n, convErr := strconv.Atoi(raw); convErr == nil && n > 0 {
			return n, nil
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("read daily limit setting: %w", err)
	}
	return l.defaultLimit, nil
}

// Check reports whether the user may run another check-in right now.
// Returned used/limit feed the "今日已使用 X/Y次" suffix; limit 0 means
// unlimited.
func (l *Ledger) Check(ctx context.Context, userID int64, onTempGrant bool, now time.Time) (allowed bool, used, limit int, err error) {
	limit, err = l.Limit(ctx, userID, onTempGrant)
	if err != nil {
		return false, 0, 0, err
	}
	if limit == 0 {
		return true, 0, 0, nil
	}

	used, err = l.store.GetDailyUsage(ctx, l.day(now), userID)
	if err != nil {
		return false, 0, limit, fmt.Errorf("read daily usage: %w", err)
	}
	return used < limit, used, limit, nil
}

// Consume records one check-in against today's quota and the lifetime stats.
// Admin runs are counted in lifetime stats but never against a quota.
func (l *Ledger) Consume(ctx context.Context, userID int64, now time.Time) (used int, err error) {
	if userID != l.adminUserID {
		used, err = l.store.IncrementDailyUsage(ctx, l.day(now), userID)
		if err != nil {
			return 0, fmt.Errorf("increment daily usage: %w", err)
		}
	}
	if err := l.store.RecordRun(ctx, userID, now); err != nil {
		return used, fmt.Errorf("record lifetime run: %w", err)
	}
	return used, nil
}

// SetGlobalLimit persists the admin-tuned daily limit.
func (l *Ledger) SetGlobalLimit(ctx context.Context, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}
	return l.store.SetSetting(ctx, SettingDailyLimit, strconv.Itoa(limit))
}
