package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"checkinbot/internal/access"
	"checkinbot/internal/config"
	"checkinbot/internal/metrics"
	"checkinbot/internal/queue"
	"checkinbot/internal/quota"
	"checkinbot/internal/scheduler"
	"checkinbot/internal/secrets"
	"checkinbot/internal/sites"
	"checkinbot/internal/storage"
	"checkinbot/internal/telegram"
	"checkinbot/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("access_mode", cfg.BotAccessMode).
		Int64("admin_user_id", cfg.AdminUserID).
		Str("timezone", cfg.Sched.Timezone).
		Msg("starting checkinbot")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	keyring, err := secrets.NewKeyring(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize keyring")
	}

	bot, err := gotgbot.NewBot(cfg.BotToken, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create telegram bot")
	}
	log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")

	m := metrics.Global()
	jobQueue := queue.NewStreamQueue(rdb, cfg.Redis.QueueStream, cfg.Redis.QueueGroup, cfg.Worker.ConsumerName, cfg.Redis.QueueBlock)
	gate := access.NewGate(store, cfg.AdminUserID, cfg.BotAccessMode, cfg.Sched.Location, log.Logger)
	ledger := quota.NewLedger(store, cfg.AdminUserID, cfg.Quota.DailyDefault, cfg.Quota.TempLimit, cfg.Sched.Location)
	registry := sites.NewRegistry(sites.RegistryConfig{Timeout: cfg.HTTP.ClientTimeout})
	siteLog := worker.NewSiteLog(filepath.Join(cfg.DataDir, "logs"), cfg.Sched.Location, log.Logger)

	markerPath := filepath.Join(cfg.DataDir, cfg.RestartMarker)
	notifyAfterRestart(bot, cfg.AdminUserID, markerPath)

	errCh := make(chan error, 4)
	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, cfg.BotToken))
	}

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		MaxRoutines:      100,
		UnhandledErrFunc: logTelegramErr,
		Processor: telegram.Processor{
			Dedupe:  queue.NewUpdateDeduplicator(rdb, cfg.Redis.UpdateTTL),
			Metrics: m,
			Logger:  log.Logger,
		},
	})
	service := telegram.NewService(telegram.Config{
		Store:        store,
		Queue:        jobQueue,
		Keyring:      keyring,
		Gate:         gate,
		Ledger:       ledger,
		Redis:        rdb,
		SiteLog:      siteLog,
		Logger:       log.Logger,
		Metrics:      m,
		WizardTTL:    cfg.Redis.WizardTTL,
		TempGrantTTL: cfg.Quota.TempGrantTTL,
		Location:     cfg.Sched.Location,
		DataDir:      cfg.DataDir,
		AdminUserID:  cfg.AdminUserID,
		Restart:      restartSelf(markerPath, cancel),
		Shutdown:     cancel,
	})
	service.Register(dispatcher)

	updater := ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
		UnhandledErrFunc: logTelegramErr,
	})
	if err := updater.StartPolling(bot, &ext.PollingOpts{
		EnableWebhookDeletion: true,
		DropPendingUpdates:    false,
		GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
			Timeout: 50,
			RequestOpts: &gotgbot.RequestOpts{
				Timeout: 60 * time.Second,
			},
		},
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to start polling")
	}
	log.Info().Msg("polling started")

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle(cfg.Server.MetricsPath, promhttp.Handler())
	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	w := worker.New(worker.Config{
		Bot:           bot,
		Store:         store,
		Queue:         jobQueue,
		Keyring:       keyring,
		Registry:      registry,
		Gate:          gate,
		Ledger:        ledger,
		SiteLog:       siteLog,
		MaxJobRetries: cfg.Worker.MaxRetries,
		Logger:        log.Logger,
		Metrics:       m,
	})
	go func() {
		if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("worker failed: %w", err)
		}
	}()
	log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker started")

	sched, err := scheduler.New(scheduler.Config{Location: cfg.Sched.Location}, store, jobQueue, log.Logger, func(site string) {
		m.ScheduledRuns.WithLabelValues(site).Inc()
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}
	log.Info().Msg("scheduler started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop scheduler")
	}
	if err := updater.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop updater")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")

	if _, err := os.Stat(markerPath); err == nil {
		execReplacement(markerPath)
	}
}

// restartSelf arms a restart: a marker file tells the next process to notify
// the admin, then the normal shutdown path re-execs the binary.
func restartSelf(markerPath string, cancel context.CancelFunc) func() error {
	return func() error {
		if err := os.MkdirAll(filepath.Dir(markerPath), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(markerPath, []byte(time.Now().Format(time.RFC3339)), 0o600); err != nil {
			return err
		}
		cancel()
		return nil
	}
}

func execReplacement(markerPath string) {
	self, err := os.Executable()
	if err != nil {
		log.Error().Err(err).Msg("cannot resolve executable for restart")
		_ = os.Remove(markerPath)
		return
	}
	if err := syscall.Exec(self, os.Args, os.Environ()); err != nil {
		// Exec failed, fall back to spawning a child so the restart still
		// happens.
		log.Error().Err(err).Msg("exec failed, spawning child instead")
		cmd := exec.Command(self, os.Args[1:]...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			log.Error().Err(err).Msg("restart spawn failed")
			_ = os.Remove(markerPath)
		}
	}
}

func notifyAfterRestart(bot *gotgbot.Bot, adminUserID int64, markerPath string) {
	if _, err := os.Stat(markerPath); err != nil {
		return
	}
	_ = os.Remove(markerPath)
	if adminUserID > 0 {
		if _, err := bot.SendMessage(adminUserID, "重启成功，Bot已恢复运行。", nil); err != nil {
			log.Warn().Err(err).Msg("restart notification failed")
		}
	}
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func sanitizeTelegramErr(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}

	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
		msg = strings.ReplaceAll(msg, "bot"+botID+"/", "bot<redacted>/")
	}
	return msg
}
