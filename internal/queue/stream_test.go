package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*StreamQueue, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := NewStreamQueue(rdb, "test:jobs", "test-workers", "consumer-1", 50*time.Millisecond)
	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("ensure group: %v", err)
	}
	return q, rdb
}

func TestEnqueueReadAck(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := CheckinJob{
		UserID:    42,
		ChatID:    42,
		MessageID: 7,
		Site:      "acck",
		Origin:    OriginManual,
	}
	if _, err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msgs, err := q.Read(ctx, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	got := msgs[0].Job
	if got.UserID != 42 || got.Site != "acck" || got.Origin != OriginManual {
		t.Fatalf("unexpected job %+v", got)
	}
	if got.JobID == "" {
		t.Fatalf("expected generated job id")
	}
	if got.EnqueuedAt.IsZero() {
		t.Fatalf("expected enqueued_at set")
	}

	if err := q.Ack(ctx, msgs[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	msgs, err = q.Read(ctx, 10)
	if err != nil {
		t.Fatalf("read after ack: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty stream after ack, got %d", len(msgs))
	}
}

func TestScheduledJobCarriesTaskID(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := CheckinJob{
		UserID: 9,
		ChatID: 9,
		Site:   "akile",
		Origin: OriginScheduled,
		TaskID: "9_Akile_0010",
	}
	if _, err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msgs, err := q.Read(ctx, 1)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Job.TaskID != "9_Akile_0010" {
		t.Fatalf("expected task id preserved, got %+v", msgs)
	}
}

func TestDeduplicatorMarksFirstOnly(t *testing.T) {
	_, rdb := newTestQueue(t)
	d := NewUpdateDeduplicator(rdb, time.Minute)
	ctx := context.Background()

	first, err := d.MarkFirst(ctx, 1001)
	if err != nil {
		t.Fatalf("mark first: %v", err)
	}
	if !first {
		t.Fatalf("expected first sighting")
	}

	first, err = d.MarkFirst(ctx, 1001)
	if err != nil {
		t.Fatalf("mark second: %v", err)
	}
	if first {
		t.Fatalf("expected duplicate flagged")
	}
}
