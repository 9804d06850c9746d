package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// MinJWTSecretLen is the shortest accepted token signing secret
const MinJWTSecretLen = 32

// Config holds application configuration
type Config struct {
	Port     string
	DBConn   string // empty runs on in-memory stores
	LogLevel string

	JWTSecret      string
	JWTTTL         time.Duration
	MonitorKeyHash string // bcrypt hash of the delinquency monitor API key

	CBRURL        string
	RateMarginBps int64

	EarlyPayoffFeeBps     int64
	AccelerationThreshold int
	CycleCron             string

	RedisAddr     string // empty uses the in-process note lock
	RedisPassword string
	LockTTL       time.Duration

	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	SenderEmail   string
	NotifyEmailTo string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBConn:         getEnv("DB_CONN", ""),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		MonitorKeyHash: getEnv("MONITOR_KEY_HASH", ""),
		CBRURL:         getEnv("CBR_URL", "https://www.cbr.ru/DailyInfoWebServ/DailyInfo.asmx"),
		CycleCron:      getEnv("CYCLE_CRON", "0 0 6 * * *"),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		SMTPHost:       getEnv("SMTP_HOST", ""),
		SMTPPort:       getEnv("SMTP_PORT", "587"),
		SMTPUsername:   getEnv("SMTP_USERNAME", ""),
		SMTPPassword:   getEnv("SMTP_PASSWORD", ""),
		SenderEmail:    getEnv("SENDER_EMAIL", "repayments@lending.local"),
		NotifyEmailTo:  getEnv("NOTIFY_EMAIL_TO", ""),
	}

	var err error
	if cfg.JWTTTL, err = getDuration("JWT_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.LockTTL, err = getDuration("LOCK_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateMarginBps, err = getInt64("RATE_MARGIN_BPS", 500); err != nil {
		return nil, err
	}
	if cfg.EarlyPayoffFeeBps, err = getInt64("EARLY_PAYOFF_FEE_BPS", 300); err != nil {
		return nil, err
	}
	threshold, err := getInt64("ACCELERATION_THRESHOLD", 3)
	if err != nil {
		return nil, err
	}
	cfg.AccelerationThreshold = int(threshold)

	if len(cfg.JWTSecret) < MinJWTSecretLen {
		return nil, fmt.Errorf("JWT_SECRET is required and must be at least %d bytes", MinJWTSecretLen)
	}
	if cfg.EarlyPayoffFeeBps < 0 || cfg.EarlyPayoffFeeBps > 10000 {
		return nil, fmt.Errorf("EARLY_PAYOFF_FEE_BPS must be within 0..10000, got %d", cfg.EarlyPayoffFeeBps)
	}
	if cfg.AccelerationThreshold < 1 {
		return nil, fmt.Errorf("ACCELERATION_THRESHOLD must be positive, got %d", cfg.AccelerationThreshold)
	}
	if cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("LOCK_TTL must be positive")
	}

	return cfg, nil
}

// EmailEnabled reports whether SMTP notifications are configured
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != "" && c.NotifyEmailTo != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
