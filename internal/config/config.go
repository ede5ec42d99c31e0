package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	WhatsApp WhatsAppConfig
	SMTP     SMTPConfig
	Redis    RedisConfig
	Dispatch DispatchConfig
	Retry    RetryConfig
}

type ServerConfig struct {
	Address string
}

type StoreConfig struct {
	Driver      string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string
}

type WhatsAppConfig struct {
	URL string
}

// SMTPConfig configures the email channel. The channel is disabled when
// Host is empty.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != ""
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type DispatchConfig struct {
	Interval        time.Duration
	ReclaimInterval time.Duration
	StaleAfter      time.Duration
	BatchSize       int
	Concurrency     int
	SendTimeout     time.Duration
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func LoadAll() (*Config, error) {
	var errs []error

	intVal := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	seconds := func(key string, def int) time.Duration {
		return time.Duration(intVal(key, def)) * time.Second
	}

	storeCfg, err := loadStoreConfig()
	if err != nil {
		errs = append(errs, err)
	}

	redisCfg, err := loadRedisConfig()
	if err != nil {
		errs = append(errs, err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Store:    storeCfg,
		WhatsApp: WhatsAppConfig{URL: getEnv("WHATSAPP_URL", "http://localhost:3000")},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     intVal("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     getEnv("SMTP_FROM", os.Getenv("SMTP_USERNAME")),
		},
		Redis: redisCfg,
		Dispatch: DispatchConfig{
			Interval:        seconds("SCHED_INTERVAL_SECONDS", 5),
			ReclaimInterval: seconds("RECLAIM_INTERVAL_SECONDS", 60),
			StaleAfter:      seconds("RECLAIM_AFTER_SECONDS", 300),
			BatchSize:       intVal("SCHED_BATCH_SIZE", 16),
			Concurrency:     intVal("SCHED_CONCURRENCY", 4),
			SendTimeout:     seconds("SEND_TIMEOUT_SECONDS", 60),
		},
		Retry: RetryConfig{
			MaxAttempts: intVal("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   seconds("RETRY_BASE_DELAY_SECONDS", 10),
			MaxDelay:    seconds("RETRY_MAX_DELAY_SECONDS", 600),
		},
	}

	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadStoreConfig() (StoreConfig, error) {
	driver := getEnv("STORE_DRIVER", "sqlite")
	sc := StoreConfig{Driver: driver}

	switch driver {
	case "sqlite":
		sc.SQLitePath = getEnv("SQLITE_PATH", "schedules.db")
	case "postgres":
		url, err := requireEnv("POSTGRES_URL")
		if err != nil {
			return sc, err
		}
		sc.PostgresURL = url
	default:
		return sc, fmt.Errorf("unsupported STORE_DRIVER: %s", driver)
	}
	return sc, nil
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, nil
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Dispatch.BatchSize <= 0 {
		errs = append(errs, errors.New("SCHED_BATCH_SIZE must be > 0"))
	}
	if cfg.Dispatch.Concurrency <= 0 {
		errs = append(errs, errors.New("SCHED_CONCURRENCY must be > 0"))
	}
	if cfg.Dispatch.Interval <= 0 {
		errs = append(errs, errors.New("SCHED_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Dispatch.ReclaimInterval <= 0 {
		errs = append(errs, errors.New("RECLAIM_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Dispatch.StaleAfter <= 0 {
		errs = append(errs, errors.New("RECLAIM_AFTER_SECONDS must be > 0"))
	}
	if cfg.Dispatch.SendTimeout <= 0 {
		errs = append(errs, errors.New("SEND_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.Retry.BaseDelay <= 0 {
		errs = append(errs, errors.New("RETRY_BASE_DELAY_SECONDS must be > 0"))
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		errs = append(errs, errors.New("RETRY_MAX_DELAY_SECONDS must be >= RETRY_BASE_DELAY_SECONDS"))
	}
	if cfg.SMTP.Enabled() && cfg.SMTP.From == "" {
		errs = append(errs, errors.New("SMTP_FROM (or SMTP_USERNAME) is required when SMTP_HOST is set"))
	}

	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	nonNil := errs[:0]
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return errors.Join(nonNil...)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}
