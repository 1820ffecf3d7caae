package quota

import (
	"context"
	"fmt"
	"testing"
	"time"

	"checkinbot/internal/storage"
)

const adminID int64 = 1

func newTestLedger(t *testing.T) (*Ledger, *storage.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	s, err := storage.Open(context.Background(), "sqlite", dsn, true, "")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewLedger(s, adminID, 3, 1, time.UTC), s
}

func TestAdminUnlimited(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 10; i++ {
		allowed, _, limit, err := l.Check(ctx, adminID, false, now)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if !allowed || limit != 0 {
			t.Fatalf("expected admin unlimited, got allowed=%v limit=%d", allowed, limit)
		}
		if _, err := l.Consume(ctx, adminID, now); err != nil {
			t.Fatalf("consume: %v", err)
		}
	}
}

func TestDefaultLimitRejectsFourth(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	for i := 1; i <= 3; i++ {
		allowed, used, limit, err := l.Check(ctx, 555, false, now)
		if err != nil {
			t.Fatalf("check #%d: %v", i, err)
		}
		if !allowed || limit != 3 || used != i-1 {
			t.Fatalf("check #%d: expected allowed with used=%d/3, got allowed=%v used=%d limit=%d", i, i-1, allowed, used, limit)
		}
		got, err := l.Consume(ctx, 555, now)
		if err != nil {
			t.Fatalf("consume #%d: %v", i, err)
		}
		if got != i {
			t.Fatalf("consume #%d: expected used %d, got %d", i, i, got)
		}
	}

	allowed, used, limit, err := l.Check(ctx, 555, false, now)
	if err != nil {
		t.Fatalf("check #4: %v", err)
	}
	if allowed || used != 3 || limit != 3 {
		t.Fatalf("expected fourth attempt rejected at 3/3, got allowed=%v used=%d limit=%d", allowed, used, limit)
	}
}

func TestQuotaResetsNextDay(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	day1 := time.Date(2026, 8, 29, 23, 50, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 30, 0, 10, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if _, err := l.Consume(ctx, 7, day1); err != nil {
			t.Fatalf("consume day1: %v", err)
		}
	}
	allowed, _, _, err := l.Check(ctx, 7, false, day1)
	if err != nil {
		t.Fatalf("check day1: %v", err)
	}
	if allowed {
		t.Fatalf("expected day1 exhausted")
	}

	allowed, used, _, err := l.Check(ctx, 7, false, day2)
	if err != nil {
		t.Fatalf("check day2: %v", err)
	}
	if !allowed || used != 0 {
		t.Fatalf("expected fresh quota on day2, got allowed=%v used=%d", allowed, used)
	}
}

func TestOverrideBeatsEverything(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	if err := l.SetGlobalLimit(ctx, 5); err != nil {
		t.Fatalf("set global limit: %v", err)
	}
	if err := s.SetQuotaOverride(ctx, 8, 10); err != nil {
		t.Fatalf("set override: %v", err)
	}

	limit, err := l.Limit(ctx, 8, true)
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	if limit != 10 {
		t.Fatalf("expected override 10 even on temp grant, got %d", limit)
	}
}

func TestTempGrantLimit(t *testing.T) {
	l, _ := newTestLedger(t)
	limit, err := l.Limit(context.Background(), 9, true)
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	if limit != 1 {
		t.Fatalf("expected temp limit 1, got %d", limit)
	}
}

func TestGlobalSettingBeatsDefault(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	if err := l.SetGlobalLimit(ctx, 5); err != nil {
		t.Fatalf("set global limit: %v", err)
	}
	limit, err := l.Limit(ctx, 10, false)
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	if limit != 5 {
		t.Fatalf("expected global setting 5, got %d", limit)
	}
}

func TestSetGlobalLimitRejectsNonPositive(t *testing.T) {
	l, _ := newTestLedger(t)
	if err := l.SetGlobalLimit(context.Background(), 0); err == nil {
		t.Fatalf("expected error for non-positive limit")
	}
}
