// Package telegram wires the bot commands: per-site check-in wizards,
// schedule management, self-service status, and the admin command set.
package telegram

import (
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/message"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"checkinbot/internal/access"
	"checkinbot/internal/metrics"
	"checkinbot/internal/queue"
	"checkinbot/internal/quota"
	"checkinbot/internal/secrets"
	"checkinbot/internal/storage"
	"checkinbot/internal/worker"
)

type Service struct {
	store       *storage.Store
	queue       *queue.StreamQueue
	keyring     *secrets.Keyring
	gate        *access.Gate
	ledger      *quota.Ledger
	wizard      *wizardStore
	siteLog     *worker.SiteLog
	logger      zerolog.Logger
	metrics     *metrics.Metrics
	loc         *time.Location
	dataDir     string
	adminUserID int64
	grantTTL    time.Duration

	// Restart and Shutdown are provided by main; both may be nil in tests.
	restart  func() error
	shutdown func()
}

type Config struct {
	Store       *storage.Store
	Queue       *queue.StreamQueue
	Keyring     *secrets.Keyring
	Gate        *access.Gate
	Ledger      *quota.Ledger
	Redis       *redis.Client
	SiteLog     *worker.SiteLog
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	WizardTTL   time.Duration
	// TempGrantTTL bounds the temporary access handed out by /unban.
	TempGrantTTL time.Duration
	Location     *time.Location
	DataDir     string
	AdminUserID int64
	Restart     func() error
	Shutdown    func()
}

func NewService(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.WizardTTL <= 0 {
		cfg.WizardTTL = 20 * time.Minute
	}
	if cfg.TempGrantTTL <= 0 {
		cfg.TempGrantTTL = 24 * time.Hour
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:       cfg.Store,
		queue:       cfg.Queue,
		keyring:     cfg.Keyring,
		gate:        cfg.Gate,
		ledger:      cfg.Ledger,
		wizard:      newWizardStore(cfg.Redis, cfg.WizardTTL),
		siteLog:     cfg.SiteLog,
		logger:      cfg.Logger,
		metrics:     m,
		loc:         loc,
		dataDir:     cfg.DataDir,
		adminUserID: cfg.AdminUserID,
		grantTTL:    cfg.TempGrantTTL,
		restart:     cfg.Restart,
		shutdown:    cfg.Shutdown,
	}
}

func (s *Service) Register(d *ext.Dispatcher) {
	d.AddHandler(handlers.NewCommand("start", s.start))
	d.AddHandler(handlers.NewCommand("help", s.help))
	d.AddHandler(handlers.NewCommand("acck", s.acckEntry))
	d.AddHandler(handlers.NewCommand("akile", s.akileEntry))
	d.AddHandler(handlers.NewCommand("me", s.me))
	d.AddHandler(handlers.NewCommand("unbind", s.unbind))
	d.AddHandler(handlers.NewCommand("cancel", s.cancelWizard))
	d.AddHandler(handlers.NewCommand("add", s.addTask))
	d.AddHandler(handlers.NewCommand("del", s.delTask))
	d.AddHandler(handlers.NewCommand("all", s.listTasks))
	d.AddHandler(handlers.NewCommand("allow", s.allowUser))
	d.AddHandler(handlers.NewCommand("disallow", s.disallowUser))
	d.AddHandler(handlers.NewCommand("ban", s.banUser))
	d.AddHandler(handlers.NewCommand("unban", s.unbanUser))
	d.AddHandler(handlers.NewCommand("stats", s.stats))
	d.AddHandler(handlers.NewCommand("top", s.top))
	d.AddHandler(handlers.NewCommand("broadcast", s.broadcast))
	d.AddHandler(handlers.NewCommand("export", s.export))
	d.AddHandler(handlers.NewCommand("setlimit", s.setLimit))
	d.AddHandler(handlers.NewCommand("setquota", s.setQuota))
	d.AddHandler(handlers.NewCommand("summary", s.summary))
	d.AddHandler(handlers.NewCommand("logs", s.siteLogs))
	d.AddHandler(handlers.NewCommand("menu", s.menu))
	d.AddHandler(handlers.NewCommand("restart", s.restartCmd))
	d.AddHandler(handlers.NewCommand("shutdown", s.shutdownCmd))
	d.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbPrefix), s.onCallback))
	d.AddHandler(handlers.NewMessage(func(msg *gotgbot.Message) bool {
		return message.Private(msg) && message.Text(msg)
	}, s.privateText))
}

func (s *Service) now() time.Time {
	return time.Now()
}

func (s *Service) tempGrantTTL() time.Duration {
	return s.grantTTL
}

func userID(ctx *ext.Context) int64 {
	if ctx.EffectiveUser == nil {
		return 0
	}
	return ctx.EffectiveUser.Id
}

func (s *Service) reply(ctx *ext.Context, b *gotgbot.Bot, text string) error {
	if ctx.EffectiveChat == nil {
		return nil
	}
	_, err := b.SendMessage(ctx.EffectiveChat.Id, text, nil)
	return err
}
