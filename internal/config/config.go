package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	AccessModeOpen      = "open"
	AccessModeAllowlist = "allowlist"
)

var (
	ErrMissingBotToken    = errors.New("BOT_TOKEN is required")
	ErrMissingAdminUserID = errors.New("ADMIN_USER_ID is required and must be > 0")
	ErrInvalidAccessMode  = errors.New("BOT_ACCESS_MODE must be 'open' or 'allowlist'")
	ErrMissingDatabaseDSN = errors.New("DB_DSN is required")
	ErrMissingMasterKey   = errors.New("at least one master key is required")
	ErrInvalidTimezone    = errors.New("SCHED_TIMEZONE is not a valid IANA timezone")
)

type Config struct {
	BotToken      string
	BotAccessMode string
	AdminUserID   int64

	DB     DBConfig
	Redis  RedisConfig
	Worker WorkerConfig
	HTTP   HTTPConfig
	Quota  QuotaConfig
	Sched  SchedConfig
	Server ServerConfig
	Crypto CryptoConfig
	Log    LogConfig

	DataDir       string
	RestartMarker string
}

type DBConfig struct {
	Driver      string
	DSN         string
	AutoMigrate bool
}

type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	QueueStream string
	QueueGroup  string
	QueueBlock  time.Duration
	UpdateTTL   time.Duration
	WizardTTL   time.Duration
}

type WorkerConfig struct {
	Concurrency  int
	ConsumerName string
	MaxRetries   int
}

type HTTPConfig struct {
	ClientTimeout time.Duration
}

type QuotaConfig struct {
	DailyDefault int
	TempLimit    int
	TempGrantTTL time.Duration
}

type SchedConfig struct {
	Timezone string
	Location *time.Location
}

type ServerConfig struct {
	ListenAddr  string
	HealthPath  string
	MetricsPath string
}

type CryptoConfig struct {
	CurrentKeyID string
	Keys         map[string][]byte
}

type LogConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		BotToken:      mustEnv("BOT_TOKEN", ""),
		BotAccessMode: strings.ToLower(mustEnv("BOT_ACCESS_MODE", AccessModeAllowlist)),
		AdminUserID:   mustInt64("ADMIN_USER_ID", 0),
		DB: DBConfig{
			Driver:      strings.ToLower(mustEnv("DB_DRIVER", "sqlite")),
			DSN:         mustEnv("DB_DSN", "file:data/checkinbot.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"),
			AutoMigrate: mustBool("AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:        mustEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    mustEnv("REDIS_PASSWORD", ""),
			DB:          mustInt("REDIS_DB", 0),
			QueueStream: mustEnv("QUEUE_STREAM", "checkinbot:jobs"),
			QueueGroup:  mustEnv("QUEUE_GROUP", "checkinbot-workers"),
			QueueBlock:  mustDuration("QUEUE_BLOCK", 5*time.Second),
			UpdateTTL:   mustDuration("UPDATE_DEDUPE_TTL", 6*time.Hour),
			WizardTTL:   mustDuration("WIZARD_TTL", 20*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency:  mustInt("WORKER_CONCURRENCY", 2),
			ConsumerName: mustEnv("WORKER_CONSUMER_NAME", hostnameOr("worker")),
			MaxRetries:   mustInt("WORKER_MAX_RETRIES", 1),
		},
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("HTTP_TIMEOUT", 20*time.Second),
		},
		Quota: QuotaConfig{
			DailyDefault: mustInt("QUOTA_DAILY_DEFAULT", 3),
			TempLimit:    mustInt("QUOTA_TEMP_LIMIT", 1),
			TempGrantTTL: mustDuration("TEMP_GRANT_TTL", 7*24*time.Hour),
		},
		Sched: SchedConfig{
			Timezone: mustEnv("SCHED_TIMEZONE", "Asia/Shanghai"),
		},
		Server: ServerConfig{
			ListenAddr:  mustEnv("LISTEN_ADDR", ":8080"),
			HealthPath:  mustEnv("HEALTH_PATH", "/healthz"),
			MetricsPath: mustEnv("METRICS_PATH", "/metrics"),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("LOG_LEVEL", "info")),
		},
		DataDir:       mustEnv("DATA_DIR", "data"),
		RestartMarker: mustEnv("RESTART_MARKER", ".restarting"),
	}

	if cfg.BotToken == "" {
		return nil, ErrMissingBotToken
	}
	if cfg.AdminUserID <= 0 {
		return nil, ErrMissingAdminUserID
	}
	if cfg.BotAccessMode != AccessModeOpen && cfg.BotAccessMode != AccessModeAllowlist {
		return nil, ErrInvalidAccessMode
	}
	if cfg.DB.DSN == "" {
		return nil, ErrMissingDatabaseDSN
	}

	loc, err := time.LoadLocation(cfg.Sched.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, cfg.Sched.Timezone)
	}
	cfg.Sched.Location = loc

	cc, err := loadCryptoConfig()
	if err != nil {
		return nil, err
	}
	cfg.Crypto = cc

	return cfg, nil
}

func loadCryptoConfig() (CryptoConfig, error) {
	keysB64 := map[string]string{}

	if raw := mustEnv("MASTER_KEYS_JSON", ""); raw != "" {
		var parsed map[string]string
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return CryptoConfig{}, fmt.Errorf("parse MASTER_KEYS_JSON: %w", err)
		}
		for id, val := range parsed {
			if strings.TrimSpace(id) == "" || strings.TrimSpace(val) == "" {
				continue
			}
			keysB64[id] = val
		}
	}

	for _, e := range os.Environ() {
		parts := strings.SplitN(e, "=", 2)
		if len(parts) != 2 {
			continue
		}
		k, v := parts[0], parts[1]
		if !strings.HasPrefix(k, "MASTER_KEY_") || !strings.HasSuffix(k, "_B64") {
			continue
		}
		if k == "MASTER_KEY_B64" {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, "MASTER_KEY_"), "_B64")
		if id == "" || v == "" {
			continue
		}
		keysB64[id] = v
	}

	current := mustEnv("MASTER_KEY_CURRENT_ID", "")
	if singleton := mustEnv("MASTER_KEY_B64", ""); singleton != "" {
		if current == "" {
			current = "default"
		}
		keysB64[current] = singleton
	}

	if len(keysB64) == 0 {
		return CryptoConfig{}, ErrMissingMasterKey
	}

	keys := make(map[string][]byte, len(keysB64))
	for id, b64 := range keysB64 {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return CryptoConfig{}, fmt.Errorf("decode master key %q: %w", id, err)
		}
		if len(raw) != 32 {
			return CryptoConfig{}, fmt.Errorf("master key %q must be 32 bytes after base64 decode", id)
		}
		keys[id] = raw
	}

	if current == "" {
		for id := range keys {
			current = id
			break
		}
	}
	if _, ok := keys[current]; !ok {
		return CryptoConfig{}, fmt.Errorf("MASTER_KEY_CURRENT_ID=%q does not exist in provided keys", current)
	}

	return CryptoConfig{
		CurrentKeyID: current,
		Keys:         keys,
	}, nil
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustInt64(key string, def int64) int64 {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func hostnameOr(def string) string {
	h, err := os.Hostname()
	if err != nil || strings.TrimSpace(h) == "" {
		return def
	}
	return h
}
