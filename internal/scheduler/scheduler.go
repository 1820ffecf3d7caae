// Package scheduler fires scheduled check-ins. A single cron job scans the
// enabled tasks every minute and enqueues the ones whose (hour, minute)
// matches the current wall clock in the configured timezone. Missed windows
// are skipped, never replayed.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"checkinbot/internal/queue"
	"checkinbot/internal/sites"
	"checkinbot/internal/storage"
)

// Enqueuer is the slice of the job queue the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.CheckinJob) (string, error)
}

type taskStore interface {
	ListEnabledTasks(ctx context.Context) ([]storage.Task, error)
	SetTaskLastRun(ctx context.Context, id string, at time.Time) error
}

type Config struct {
	Location *time.Location
}

type Scheduler struct {
	cron     gocron.Scheduler
	store    taskStore
	enqueuer Enqueuer
	loc      *time.Location
	log      zerolog.Logger

	dispatched func(site string)
}

func New(cfg Config, store taskStore, enq Enqueuer, log zerolog.Logger, dispatched func(site string)) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	cron, err := gocron.NewScheduler(gocron.WithLocation(loc))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	return &Scheduler{
		cron:       cron,
		store:      store,
		enqueuer:   enq,
		loc:        loc,
		log:        log.With().Str("component", "scheduler").Logger(),
		dispatched: dispatched,
	}, nil
}

// Start registers the minute scan and begins firing.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.NewJob(
		gocron.CronJob("* * * * *", false),
		gocron.NewTask(func() { s.Scan(ctx, time.Now()) }),
		gocron.WithName("checkin-scan"),
	)
	if err != nil {
		return fmt.Errorf("register scan job: %w", err)
	}
	s.cron.Start()
	s.log.Info().Str("timezone", s.loc.String()).Msg("scheduler started")
	return nil
}

func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	return nil
}

// Scan enqueues every enabled task matching the current minute. A task whose
// last_run already falls inside this minute is skipped, so an overlapping
// scan cannot double-fire.
func (s *Scheduler) Scan(ctx context.Context, now time.Time) {
	local := now.In(s.loc)
	tasks, err := s.store.ListEnabledTasks(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list enabled tasks")
		return
	}

	minuteStart := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, s.loc)
	for _, t := range tasks {
		if t.Hour != local.Hour() || t.Minute != local.Minute() {
			continue
		}
		if t.LastRun != nil && !t.LastRun.In(s.loc).Before(minuteStart) {
			continue
		}

		job := queue.CheckinJob{
			UserID: t.UserID,
			ChatID: t.UserID,
			Site:   t.Site,
			Origin: queue.OriginScheduled,
			TaskID: t.ID,
		}
		if _, err := s.enqueuer.Enqueue(ctx, job); err != nil {
			s.log.Error().Err(err).Str("task_id", t.ID).Msg("enqueue scheduled check-in")
			continue
		}
		// Stamp immediately so a second scan in the same minute skips it.
		// The worker stamps again on completion.
		if err := s.store.SetTaskLastRun(ctx, t.ID, now); err != nil {
			s.log.Error().Err(err).Str("task_id", t.ID).Msg("stamp task last_run")
		}
		if s.dispatched != nil {
			s.dispatched(t.Site)
		}
		s.log.Info().
			Str("task_id", t.ID).
			Str("site", sites.DisplayName(t.Site)).
			Int64("user_id", t.UserID).
			Msg("scheduled check-in dispatched")
	}
}
