package storage

import "time"

// Account holds one set of site credentials owned by a Telegram user.
// Password and TOTP seed are stored as secrets.Envelope JSON.
type Account struct {
	Site          string
	UserID        int64
	Username      string
	EncPassword   string
	EncTOTPSecret *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Task is one scheduled check-in. ID is deterministic from
// (user, site, hour, minute), so re-adding the same schedule overwrites.
type Task struct {
	ID        string
	UserID    int64
	Site      string
	Hour      int
	Minute    int
	Enabled   bool
	CreatedAt time.Time
	LastRun   *time.Time
}

type UsageStat struct {
	UserID     int64
	TotalCount int64
	LastRun    *time.Time
}

type TempGrant struct {
	UserID    int64
	ExpiresAt time.Time
}

type AdminLogEntry struct {
	ID        int64
	UserID    int64
	Action    string
	Detail    string
	CreatedAt time.Time
}
