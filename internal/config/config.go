package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Default notification window, in hours of day
const (
	DefaultNotificationStartHour = 8
	DefaultNotificationEndHour   = 22
)

// Config holds process-level settings read from the environment
type Config struct {
	TelegramToken string
	// DBType is "sqlite" or "postgres"
	DBType      string
	DatabaseURL string
	SQLitePath  string
	RedisAddr   string

	OpenAIKey   string
	OpenAIModel string

	EngineConfigPath string
	LogMode          string
	MetricsAddr      string

	SnapshotIntervalMinutes  int
	ReconcileIntervalMinutes int
	NotificationStartHour    int
	NotificationEndHour      int
}

// Load reads an optional .env file and then the process environment
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{
		TelegramToken:            os.Getenv("TELEGRAM_BOT_TOKEN"),
		DBType:                   strings.ToLower(getenv("DB_TYPE", "sqlite")),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		SQLitePath:               getenv("SQLITE_PATH", "data/masterybot.db"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		OpenAIKey:                os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:              getenv("OPENAI_MODEL", "gpt-4o-mini"),
		EngineConfigPath:         os.Getenv("ENGINE_CONFIG"),
		LogMode:                  getenv("LOG_MODE", "dev"),
		MetricsAddr:              os.Getenv("METRICS_ADDR"),
		SnapshotIntervalMinutes:  getenvInt("SNAPSHOT_INTERVAL_MINUTES", 5),
		ReconcileIntervalMinutes: getenvInt("RECONCILE_INTERVAL_MINUTES", 60),
		NotificationStartHour:    getenvInt("NOTIFICATION_START_HOUR", DefaultNotificationStartHour),
		NotificationEndHour:      getenvInt("NOTIFICATION_END_HOUR", DefaultNotificationEndHour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be defaulted
func (c *Config) Validate() error {
	switch c.DBType {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for DB_TYPE=sqlite")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for DB_TYPE=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_TYPE %q", c.DBType)
	}
	if c.NotificationStartHour < 0 || c.NotificationStartHour > 23 ||
		c.NotificationEndHour < 0 || c.NotificationEndHour > 23 {
		return fmt.Errorf("notification hours must be within 0-23")
	}
	if c.SnapshotIntervalMinutes < 1 || c.ReconcileIntervalMinutes < 1 {
		return fmt.Errorf("job intervals must be at least one minute")
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
