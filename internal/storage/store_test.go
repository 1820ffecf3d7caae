package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	// Named in-memory database so parallel connections in the pool see the
	// same data without leaking state between tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAccountUpsertRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	totp := `{"key_id":"k1","nonce":"bm9uY2U=","ciphertext":"c2VjcmV0"}`
	a := Account{
		Site:          "acck",
		UserID:        42,
		Username:      "user@example.com",
		EncPassword:   `{"key_id":"k1","nonce":"bm9uY2U=","ciphertext":"cHc="}`,
		EncTOTPSecret: &totp,
	}
	if err := s.UpsertAccount(ctx, a); err != nil {
		t.Fatalf("upsert account: %v", err)
	}

	got, err := s.GetAccount(ctx, "acck", 42)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.EncPassword != a.EncPassword {
		t.Fatalf("enc_password changed in storage: %q vs %q", got.EncPassword, a.EncPassword)
	}
	if got.EncTOTPSecret == nil || *got.EncTOTPSecret != totp {
		t.Fatalf("enc_totp_secret changed in storage: %#v", got.EncTOTPSecret)
	}

	// Re-binding the same site overwrites.
	a.Username = "other@example.com"
	a.EncTOTPSecret = nil
	if err := s.UpsertAccount(ctx, a); err != nil {
		t.Fatalf("re-upsert account: %v", err)
	}
	got, err = s.GetAccount(ctx, "acck", 42)
	if err != nil {
		t.Fatalf("get account after re-upsert: %v", err)
	}
	if got.Username != "other@example.com" {
		t.Fatalf("expected username overwritten, got %q", got.Username)
	}
	if got.EncTOTPSecret != nil {
		t.Fatalf("expected totp secret cleared, got %#v", got.EncTOTPSecret)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetAccount(context.Background(), "akile", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAccountsForUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, site := range []string{"acck", "akile"} {
		if err := s.UpsertAccount(ctx, Account{Site: site, UserID: 7, Username: site + "-u", EncPassword: "{}"}); err != nil {
			t.Fatalf("upsert %s: %v", site, err)
		}
	}
	n, err := s.DeleteAccountsForUser(ctx, 7)
	if err != nil {
		t.Fatalf("delete accounts: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	if _, err := s.GetAccount(ctx, "acck", 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected account gone, got %v", err)
	}
}

func TestTaskUpsertIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := Task{ID: "123_Acck_0010", UserID: 123, Site: "acck", Hour: 0, Minute: 10, Enabled: true}
	if err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("upsert task: %v", err)
	}
	if err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("re-upsert task: %v", err)
	}

	tasks, err := s.ListTasksForUser(ctx, 123)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task after duplicate add, got %d", len(tasks))
	}
	if tasks[0].Hour != 0 || tasks[0].Minute != 10 {
		t.Fatalf("unexpected task time %02d:%02d", tasks[0].Hour, tasks[0].Minute)
	}
}

func TestTaskLastRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := Task{ID: "9_Akile_0800", UserID: 9, Site: "akile", Hour: 8, Minute: 0, Enabled: true}
	if err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("upsert task: %v", err)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.LastRun != nil {
		t.Fatalf("expected nil last_run on fresh task, got %v", got.LastRun)
	}

	at := time.Date(2026, 8, 29, 8, 0, 12, 0, time.UTC)
	if err := s.SetTaskLastRun(ctx, task.ID, at); err != nil {
		t.Fatalf("set last_run: %v", err)
	}
	got, err = s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task after last_run: %v", err)
	}
	if got.LastRun == nil || !got.LastRun.Equal(at) {
		t.Fatalf("expected last_run %v, got %v", at, got.LastRun)
	}
}

func TestDeleteTaskOwnership(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := Task{ID: "5_Acck_1230", UserID: 5, Site: "acck", Hour: 12, Minute: 30, Enabled: true}
	if err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("upsert task: %v", err)
	}

	if err := s.DeleteTask(ctx, task.ID, 6); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong owner, got %v", err)
	}
	if err := s.DeleteTask(ctx, task.ID, 5); err != nil {
		t.Fatalf("delete own task: %v", err)
	}
}

func TestAllowedAndBannedLists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AddAllowed(ctx, 100, 1); err != nil {
		t.Fatalf("add allowed: %v", err)
	}
	if err := s.AddAllowed(ctx, 100, 1); err != nil {
		t.Fatalf("re-add allowed: %v", err)
	}
	ok, err := s.IsAllowed(ctx, 100)
	if err != nil || !ok {
		t.Fatalf("expected allowed, got ok=%v err=%v", ok, err)
	}
	ids, err := s.ListAllowed(ctx)
	if err != nil {
		t.Fatalf("list allowed: %v", err)
	}
	if len(ids) != 1 || ids[0] != 100 {
		t.Fatalf("unexpected allowed list %v", ids)
	}

	if err := s.AddBanned(ctx, 100, "abuse"); err != nil {
		t.Fatalf("add banned: %v", err)
	}
	ok, err = s.IsBanned(ctx, 100)
	if err != nil || !ok {
		t.Fatalf("expected banned, got ok=%v err=%v", ok, err)
	}
	if err := s.RemoveBanned(ctx, 100); err != nil {
		t.Fatalf("remove banned: %v", err)
	}
	if err := s.RemoveBanned(ctx, 100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double unban, got %v", err)
	}
}

func TestIncrementAdminAttempt(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementAdminAttempt(ctx, 77, "2026-08-29", "/ban")
		if err != nil {
			t.Fatalf("increment attempt #%d: %v", want, err)
		}
		if got != want {
			t.Fatalf("expected attempt count %d, got %d", want, got)
		}
	}
	// A new day starts a fresh counter.
	got, err := s.IncrementAdminAttempt(ctx, 77, "2026-08-30", "/ban")
	if err != nil {
		t.Fatalf("increment attempt new day: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected fresh count 1 on new day, got %d", got)
	}
}

func TestDailyUsageCounter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementDailyUsage(ctx, "2026-08-29", 555)
		if err != nil {
			t.Fatalf("increment usage #%d: %v", want, err)
		}
		if got != want {
			t.Fatalf("expected usage %d, got %d", want, got)
		}
	}
	n, err := s.GetDailyUsage(ctx, "2026-08-30", 555)
	if err != nil {
		t.Fatalf("get usage new day: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 usage on new day, got %d", n)
	}
}

func TestUsageStatsAndTop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := s.RecordRun(ctx, 1, now); err != nil {
			t.Fatalf("record run user 1: %v", err)
		}
	}
	if err := s.RecordRun(ctx, 2, now); err != nil {
		t.Fatalf("record run user 2: %v", err)
	}

	st, err := s.GetUsageStat(ctx, 1)
	if err != nil {
		t.Fatalf("get usage stat: %v", err)
	}
	if st.TotalCount != 3 {
		t.Fatalf("expected total 3, got %d", st.TotalCount)
	}

	top, err := s.ListTopUsers(ctx, 10)
	if err != nil {
		t.Fatalf("list top: %v", err)
	}
	if len(top) != 2 || top[0].UserID != 1 {
		t.Fatalf("unexpected top order %v", top)
	}

	users, checkins, err := s.CountStats(ctx)
	if err != nil {
		t.Fatalf("count stats: %v", err)
	}
	if users != 2 || checkins != 4 {
		t.Fatalf("expected 2 users / 4 checkins, got %d / %d", users, checkins)
	}
}

func TestSettingsAndQuotaOverride(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "daily_limit"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unset key, got %v", err)
	}
	if err := s.SetSetting(ctx, "daily_limit", "5"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	v, err := s.GetSetting(ctx, "daily_limit")
	if err != nil || v != "5" {
		t.Fatalf("expected daily_limit=5, got %q err=%v", v, err)
	}

	if err := s.SetQuotaOverride(ctx, 9, 10); err != nil {
		t.Fatalf("set override: %v", err)
	}
	limit, err := s.GetQuotaOverride(ctx, 9)
	if err != nil || limit != 10 {
		t.Fatalf("expected override 10, got %d err=%v", limit, err)
	}
	if err := s.RemoveQuotaOverride(ctx, 9); err != nil {
		t.Fatalf("remove override: %v", err)
	}
	if _, err := s.GetQuotaOverride(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestTempGrant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exp := time.Date(2026, 9, 5, 0, 0, 0, 0, time.UTC)
	if err := s.UpsertTempGrant(ctx, 321, exp); err != nil {
		t.Fatalf("upsert temp grant: %v", err)
	}
	g, err := s.GetTempGrant(ctx, 321)
	if err != nil {
		t.Fatalf("get temp grant: %v", err)
	}
	if !g.ExpiresAt.Equal(exp) {
		t.Fatalf("expected expiry %v, got %v", exp, g.ExpiresAt)
	}
}
