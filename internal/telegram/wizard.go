package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	wizardKindCheckin  = "checkin"
	wizardKindSchedule = "schedule"

	stepUsername = "username"
	stepPassword = "password"
	stepTOTP     = "totp"
	stepSite     = "site"
	stepTime     = "time"
)

// wizardState is one user's in-flight conversation. The password is sealed
// with the keyring before it ever touches redis.
type wizardState struct {
	Kind        string `json:"kind"`
	Step        string `json:"step"`
	Site        string `json:"site"`
	Username    string `json:"username"`
	SealedPass  string `json:"sealed_pass,omitempty"`
	SealedTOTP  string `json:"sealed_totp,omitempty"`
}

type wizardStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func newWizardStore(rdb *redis.Client, ttl time.Duration) *wizardStore {
	return &wizardStore{redis: rdb, ttl: ttl}
}

func (w *wizardStore) key(userID int64) string {
	return fmt.Sprintf("checkinbot:wizard:%d", userID)
}

func (w *wizardStore) Set(ctx context.Context, userID int64, state wizardState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return w.redis.Set(ctx, w.key(userID), string(b), w.ttl).Err()
}

func (w *wizardStore) Get(ctx context.Context, userID int64) (*wizardState, error) {
	raw, err := w.redis.Get(ctx, w.key(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state wizardState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (w *wizardStore) Clear(ctx context.Context, userID int64) error {
	return w.redis.Del(ctx, w.key(userID)).Err()
}
