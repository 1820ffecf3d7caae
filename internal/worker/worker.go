// Package worker consumes check-in jobs from the redis stream and runs them
// end to end: access and quota gates, credential decryption, the site
// check-in itself, bookkeeping, and the chat report.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/rs/zerolog"

	"checkinbot/internal/access"
	"checkinbot/internal/metrics"
	"checkinbot/internal/queue"
	"checkinbot/internal/quota"
	"checkinbot/internal/secrets"
	"checkinbot/internal/sites"
	"checkinbot/internal/storage"
)

type Worker struct {
	bot           *gotgbot.Bot
	store         *storage.Store
	queue         *queue.StreamQueue
	keyring       *secrets.Keyring
	registry      *sites.Registry
	gate          *access.Gate
	ledger        *quota.Ledger
	siteLog       *SiteLog
	maxJobRetries int
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

type Config struct {
	Bot           *gotgbot.Bot
	Store         *storage.Store
	Queue         *queue.StreamQueue
	Keyring       *secrets.Keyring
	Registry      *sites.Registry
	Gate          *access.Gate
	Ledger        *quota.Ledger
	SiteLog       *SiteLog
	MaxJobRetries int
	Logger        zerolog.Logger
	Metrics       *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.MaxJobRetries < 0 {
		cfg.MaxJobRetries = 0
	}
	return &Worker{
		bot:           cfg.Bot,
		store:         cfg.Store,
		queue:         cfg.Queue,
		keyring:       cfg.Keyring,
		registry:      cfg.Registry,
		gate:          cfg.Gate,
		ledger:        cfg.Ledger,
		siteLog:       cfg.SiteLog,
		maxJobRetries: cfg.MaxJobRetries,
		logger:        cfg.Logger,
		metrics:       m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			time.Sleep(1 * time.Second)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		for _, msg := range messages {
			err := w.processJob(ctx, msg.Job)
			if err == nil {
				w.metrics.ProcessedJobs.Inc()
				if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack message")
				}
				continue
			}

			w.metrics.FailedJobs.Inc()
			log.Error().Err(err).Str("job_id", msg.Job.JobID).Int("attempt", msg.Job.Attempts).Msg("job failed")

			if msg.Job.Attempts < w.maxJobRetries {
				msg.Job.Attempts++
				if _, enqueueErr := w.queue.Enqueue(ctx, msg.Job); enqueueErr != nil {
					log.Error().Err(enqueueErr).Str("job_id", msg.Job.JobID).Msg("failed to re-enqueue failed job")
					continue
				}
				if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack after re-enqueue")
				}
				continue
			}

			_ = w.send(ctx, msg.Job.ChatID, msg.Job.MessageID, "签到执行出错，请稍后重试")
			if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
				log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack terminal failed message")
			}
		}
	}
}

// processJob runs one check-in. A failed check-in is still a processed job;
// errors are reserved for infrastructure trouble that deserves a retry.
func (w *Worker) processJob(ctx context.Context, job queue.CheckinJob) error {
	banned, err := w.gate.IsBanned(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("check ban: %w", err)
	}
	if banned {
		if job.Origin == queue.OriginManual {
			_ = w.send(ctx, job.ChatID, job.MessageID, "您已被封禁，无法使用签到功能")
		}
		return nil
	}

	onTempGrant, err := w.gate.HasTempGrant(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("check temp grant: %w", err)
	}

	now := time.Now()
	allowed, used, limit, err := w.ledger.Check(ctx, job.UserID, onTempGrant, now)
	if err != nil {
		return fmt.Errorf("check quota: %w", err)
	}
	if !allowed {
		_ = w.send(ctx, job.ChatID, job.MessageID,
			fmt.Sprintf("今日签到次数已用完 (%d/%d)，明天再来吧", used, limit))
		return nil
	}

	account, err := w.store.GetAccount(ctx, job.Site, job.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = w.send(ctx, job.ChatID, job.MessageID,
				fmt.Sprintf("未绑定 %s 账号，请先使用 /%s 绑定", sites.DisplayName(job.Site), job.Site))
			return nil
		}
		return fmt.Errorf("load account: %w", err)
	}

	creds, err := w.decryptCredentials(account)
	if err != nil {
		return fmt.Errorf("decrypt credentials: %w", err)
	}

	client, err := w.registry.Get(job.Site)
	if err != nil {
		_ = w.send(ctx, job.ChatID, job.MessageID, "不支持的站点: "+job.Site)
		return nil
	}

	result, err := client.CheckIn(ctx, creds)
	if err != nil {
		return fmt.Errorf("run check-in: %w", err)
	}

	outcome := "failure"
	if result.Success {
		outcome = "success"
	}
	w.metrics.CheckinsTotal.WithLabelValues(job.Site, outcome).Inc()

	used, err = w.ledger.Consume(ctx, job.UserID, now)
	if err != nil {
		w.logger.Error().Err(err).Int64("user_id", job.UserID).Msg("record quota usage")
	}
	if job.TaskID != "" {
		if err := w.store.SetTaskLastRun(ctx, job.TaskID, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
			w.logger.Error().Err(err).Str("task_id", job.TaskID).Msg("stamp task last_run")
		}
	}
	if w.siteLog != nil {
		w.siteLog.Append(job.Site, account.Username, result.Success, result.Message)
	}

	report := result.Report()
	if !w.gate.IsAdmin(job.UserID) && limit > 0 {
		report += fmt.Sprintf("\n今日已使用 %d/%d次", used, limit)
	}
	if job.Origin == queue.OriginScheduled {
		report = fmt.Sprintf("[定时签到 %s]\n%s", sites.DisplayName(job.Site), report)
	}
	if err := w.send(ctx, job.ChatID, job.MessageID, report); err != nil {
		return fmt.Errorf("send report: %w", err)
	}

	w.logger.Info().
		Str("site", job.Site).
		Int64("user_id", job.UserID).
		Str("origin", job.Origin).
		Bool("success", result.Success).
		Msg("check-in processed")
	return nil
}

func (w *Worker) decryptCredentials(a storage.Account) (sites.Credentials, error) {
	password, err := w.keyring.OpenString(a.EncPassword)
	if err != nil {
		return sites.Credentials{}, fmt.Errorf("open password: %w", err)
	}
	creds := sites.Credentials{Email: a.Username, Password: password}
	if a.EncTOTPSecret != nil && *a.EncTOTPSecret != "" {
		secret, err := w.keyring.OpenString(*a.EncTOTPSecret)
		if err != nil {
			return sites.Credentials{}, fmt.Errorf("open totp secret: %w", err)
		}
		creds.TOTPSecret = secret
	}
	return creds, nil
}

func (w *Worker) send(ctx context.Context, chatID, replyTo int64, text string) error {
	opts := &gotgbot.SendMessageOpts{}
	if replyTo > 0 {
		opts.ReplyParameters = &gotgbot.ReplyParameters{MessageId: replyTo}
	}
	_, err := w.bot.SendMessageWithContext(ctx, chatID, text, opts)
	return err
}
