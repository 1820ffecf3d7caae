package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestWizardStore(t *testing.T) *wizardStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return newWizardStore(rdb, time.Minute)
}

func TestWizardStoreRoundTrip(t *testing.T) {
	w := newTestWizardStore(t)
	ctx := context.Background()

	if state, err := w.Get(ctx, 42); err != nil || state != nil {
		t.Fatalf("expected empty state, got %v err %v", state, err)
	}

	in := wizardState{Kind: wizardKindCheckin, Step: stepPassword, Site: "acck", Username: "user@example.com"}
	if err := w.Set(ctx, 42, in); err != nil {
		t.Fatalf("set state: %v", err)
	}

	out, err := w.Get(ctx, 42)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if out == nil || out.Kind != in.Kind || out.Step != in.Step || out.Site != in.Site || out.Username != in.Username {
		t.Fatalf("state mismatch: %+v", out)
	}

	if err := w.Clear(ctx, 42); err != nil {
		t.Fatalf("clear state: %v", err)
	}
	if state, err := w.Get(ctx, 42); err != nil || state != nil {
		t.Fatalf("expected cleared state, got %v err %v", state, err)
	}
}

func TestWizardStoreIsolatedPerUser(t *testing.T) {
	w := newTestWizardStore(t)
	ctx := context.Background()

	if err := w.Set(ctx, 1, wizardState{Kind: wizardKindSchedule, Step: stepSite}); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if state, err := w.Get(ctx, 2); err != nil || state != nil {
		t.Fatalf("expected no state for other user, got %v err %v", state, err)
	}
}

func TestCommandRemainder(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/allow 123", "123"},
		{"/allow", ""},
		{"/broadcast hello world", "hello world"},
		{"  /del 1_Acck_0010", "1_Acck_0010"},
	}
	for _, tc := range cases {
		if got := commandRemainder(tc.in); got != tc.want {
			t.Errorf("commandRemainder(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitFirstWord(t *testing.T) {
	first, rest := splitFirstWord(" 123 5 ")
	if first != "123" || rest != "5" {
		t.Fatalf("got %q %q", first, rest)
	}
	first, rest = splitFirstWord("123")
	if first != "123" || rest != "" {
		t.Fatalf("got %q %q", first, rest)
	}
}
