// Package config reads the process configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Data backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Backup archives.
const (
	ArchiveNone = "none"
	ArchiveFS   = "fs"
	ArchiveS3   = "s3"
)

type Config struct {
	// Telegram
	TelegramToken       string
	AuthorizedIDs       []int64
	TelegramTimeout     time.Duration
	TelegramConcurrency int

	// HTTP Server (health, metrics)
	Port string

	// Ledger persistence
	DataBackend  string
	DataFile     string
	SQLiteDBPath string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Backup archive
	BackupArchive     string
	BackupDir         string
	BackupS3Bucket    string
	BackupS3Region    string
	BackupS3Endpoint  string
	BackupS3PathStyle bool
	BackupS3Prefix    string

	// Google Sheets mirror
	GoogleSpreadsheetID      string
	GoogleSheetName          string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// Worker
	SyncInterval time.Duration

	// Chat
	RateLimitPerMinute int
	SessionTTL         time.Duration

	LogLevel string

	// parse problems found while loading, reported by Validate
	loadErrors []string
}

func Load() *Config {
	cfg := &Config{
		TelegramToken:       getEnv("TELEGRAM_TOKEN", ""),
		TelegramConcurrency: getEnvInt("TELEGRAM_CONCURRENCY", 8),
		TelegramTimeout:     getEnvDuration("TELEGRAM_TIMEOUT", 90*time.Second),

		Port: getEnv("PORT", "8081"),

		DataBackend:  getEnv("DATA_BACKEND", BackendFile),
		DataFile:     getEnv("DATA_FILE", "./data/housing_data.json"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/housefees.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "housefees"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		BackupArchive:     getEnv("BACKUP_ARCHIVE", ArchiveFS),
		BackupDir:         getEnv("BACKUP_DIR", "./data/backups"),
		BackupS3Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
		BackupS3Region:    getEnv("BACKUP_S3_REGION", ""),
		BackupS3Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
		BackupS3PathStyle: getEnvBool("BACKUP_S3_PATH_STYLE", false),
		BackupS3Prefix:    getEnv("BACKUP_S3_PREFIX", "backups/"),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:          getEnv("GOOGLE_SHEET_NAME", "Ledger"),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		SyncInterval: getEnvDuration("SYNC_INTERVAL", 5*time.Minute),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		SessionTTL:         getEnvDuration("SESSION_TTL", 30*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	ids, err := ParseIDs(os.Getenv("AUTHORIZED_IDS"))
	if err != nil {
		cfg.loadErrors = append(cfg.loadErrors, err.Error())
	}
	cfg.AuthorizedIDs = ids

	return cfg
}

// ParseIDs reads a comma separated list of numeric user ids. Blank entries
// are skipped.
func ParseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return ids, fmt.Errorf("invalid authorized id '%s': must be a number", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MirrorEnabled reports whether a Google Sheets mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return c.GoogleSpreadsheetID != ""
}

// Validate checks the parts of the configuration every command needs.
// Telegram settings are checked by ValidateBot.
func (c *Config) Validate() error {
	errors := append([]string(nil), c.loadErrors...)

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.DataBackend {
	case BackendFile:
		if c.DataFile == "" {
			errors = append(errors, "data file path cannot be empty when using file backend")
		}
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		}
	case BackendMemory:
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v",
			c.DataBackend, []string{BackendFile, BackendSQLite, BackendMemory}))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	switch c.BackupArchive {
	case ArchiveNone:
	case ArchiveFS:
		if c.BackupDir == "" {
			errors = append(errors, "backup directory cannot be empty when using fs archive")
		}
	case ArchiveS3:
		if c.BackupS3Bucket == "" {
			errors = append(errors, "BACKUP_S3_BUCKET is required when using s3 archive")
		}
		if c.BackupS3Endpoint != "" {
			if u, err := url.Parse(c.BackupS3Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
				errors = append(errors, fmt.Sprintf("invalid S3 endpoint '%s'", c.BackupS3Endpoint))
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid backup archive '%s': must be one of %v",
			c.BackupArchive, []string{ArchiveNone, ArchiveFS, ArchiveS3}))
	}

	if c.MirrorEnabled() {
		if c.GoogleSheetName == "" {
			errors = append(errors, "Google Sheet name is required when a spreadsheet ID is set")
		}
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
			errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for the sheets mirror")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}

	if c.SyncInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 second", c.SyncInterval))
	} else if c.SyncInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 24 hours", c.SyncInterval))
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 per minute", c.RateLimitPerMinute))
	}
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// ValidateBot checks the settings only the chat process needs.
func (c *Config) ValidateBot() error {
	var errors []string
	if c.TelegramToken == "" {
		errors = append(errors, "TELEGRAM_TOKEN is required")
	}
	if len(c.AuthorizedIDs) == 0 {
		errors = append(errors, "AUTHORIZED_IDS must list at least one user id")
	}
	if c.TelegramTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid Telegram timeout %v: must be at least 1 second", c.TelegramTimeout))
	}
	if c.TelegramConcurrency < 1 || c.TelegramConcurrency > 256 {
		errors = append(errors, fmt.Sprintf("invalid Telegram concurrency %d: must be between 1 and 256", c.TelegramConcurrency))
	}
	if len(errors) > 0 {
		return fmt.Errorf("bot configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
