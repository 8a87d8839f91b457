// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the relay's configuration from environment
// variables, with an optional YAML file overlay, following spec.md §6
// ("tokens, DB connection string, cache configuration via configuration
// file or environment variables").
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	Dispatch   DispatchConfig
	Report     ReportConfig
	SMTPPool   SMTPPoolConfig
	Secrets    SecretsConfig
	Logger     LoggerConfig
	Attachment AttachmentConfig
}

// AttachmentConfig tunes the AttachmentManager (spec.md §6/§9).
type AttachmentConfig struct {
	// FilesystemRoot confines fetch_mode=filesystem attachments to one
	// directory; storage_path is resolved relative to it and rejected
	// if it would escape.
	FilesystemRoot string

	// S3 enrichment (spec.md §6 fetch_mode=s3): enabled only when
	// S3Region is set, since a bucket alone cannot be resolved to a
	// signing region. Endpoint/AccessKey/SecretKey are optional,
	// needed only against S3-compatible stores (MinIO) rather than AWS.
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

type DatabaseConfig struct {
	DSN string
}

type ServerConfig struct {
	ListenAddr  string
	AdminToken  string
}

// DispatchConfig tunes the DispatchLoop (spec.md §4.5, §5).
type DispatchConfig struct {
	TickInterval             time.Duration
	GlobalBatchSize          int
	MaxConcurrencyPerAccount int
	MaxRetries               int
}

// ReportConfig tunes the ReportSynchronizer (spec.md §4.6).
type ReportConfig struct {
	BatchSize       int
	SyncInterval    time.Duration
	RetentionSeconds int
	HTTPTimeout     time.Duration
}

// SMTPPoolConfig tunes SMTPPool (spec.md §4.3).
type SMTPPoolConfig struct {
	MaxPerAccount  int
	IdleTTL        time.Duration
	ConnectTimeout time.Duration
	CleanupInterval time.Duration
}

// SecretsConfig carries the AES-256 key used to encrypt Account
// credentials at rest (spec.md §6, §9 SecretsProvider).
type SecretsConfig struct {
	Key []byte
}

type LoggerConfig struct {
	Level  string
	Format string
}

// fileOverlay mirrors Config's shape loosely for YAML decoding; only
// fields present in the file override values already read from the
// environment.
type fileOverlay struct {
	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
		AdminToken string `yaml:"admin_token"`
	} `yaml:"server"`
	Logger struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logger"`
}

// Load reads configuration from environment variables, then applies an
// optional CONFIG_FILE YAML overlay on top.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.DSN = mustGetEnv("MAILRELAY_DB_DSN")
	cfg.Server.ListenAddr = getEnv("MAILRELAY_LISTEN_ADDR", ":8080")
	cfg.Server.AdminToken = mustGetEnv("MAILRELAY_ADMIN_TOKEN")

	cfg.Dispatch.TickInterval = getEnvDuration("MAILRELAY_DISPATCH_TICK_INTERVAL", 5*time.Second)
	cfg.Dispatch.GlobalBatchSize = getEnvInt("MAILRELAY_DISPATCH_BATCH_SIZE", 100)
	cfg.Dispatch.MaxConcurrencyPerAccount = getEnvInt("MAILRELAY_DISPATCH_MAX_CONCURRENCY_PER_ACCOUNT", 4)
	cfg.Dispatch.MaxRetries = getEnvInt("MAILRELAY_DISPATCH_MAX_RETRIES", 5)

	cfg.Report.BatchSize = getEnvInt("MAILRELAY_REPORT_BATCH_SIZE", 200)
	cfg.Report.SyncInterval = getEnvDuration("MAILRELAY_REPORT_SYNC_INTERVAL", 300*time.Second)
	cfg.Report.RetentionSeconds = getEnvInt("MAILRELAY_REPORT_RETENTION_SECONDS", 3600)
	cfg.Report.HTTPTimeout = getEnvDuration("MAILRELAY_REPORT_HTTP_TIMEOUT", 15*time.Second)

	cfg.Attachment.FilesystemRoot = getEnv("MAILRELAY_ATTACHMENT_FS_ROOT", "/var/lib/mailrelay/attachments")
	cfg.Attachment.S3Region = getEnv("MAILRELAY_ATTACHMENT_S3_REGION", "")
	cfg.Attachment.S3Endpoint = getEnv("MAILRELAY_ATTACHMENT_S3_ENDPOINT", "")
	cfg.Attachment.S3AccessKey = getEnv("MAILRELAY_ATTACHMENT_S3_ACCESS_KEY", "")
	cfg.Attachment.S3SecretKey = getEnv("MAILRELAY_ATTACHMENT_S3_SECRET_KEY", "")

	cfg.SMTPPool.MaxPerAccount = getEnvInt("MAILRELAY_SMTP_POOL_MAX_PER_ACCOUNT", 8)
	cfg.SMTPPool.IdleTTL = getEnvDuration("MAILRELAY_SMTP_POOL_IDLE_TTL", 90*time.Second)
	cfg.SMTPPool.ConnectTimeout = getEnvDuration("MAILRELAY_SMTP_POOL_CONNECT_TIMEOUT", 10*time.Second)
	cfg.SMTPPool.CleanupInterval = getEnvDuration("MAILRELAY_SMTP_POOL_CLEANUP_INTERVAL", 60*time.Second)

	key, err := parseSecretsKey()
	if err != nil {
		return nil, fmt.Errorf("parse secrets key: %w", err)
	}
	cfg.Secrets.Key = key

	cfg.Logger.Level = getEnv("MAILRELAY_LOG_LEVEL", "info")
	cfg.Logger.Format = getEnv("MAILRELAY_LOG_FORMAT", "json")

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := applyFileOverlay(cfg, path); err != nil {
			return nil, fmt.Errorf("apply config file overlay %s: %w", path, err)
		}
	}

	return cfg, nil
}

func applyFileOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if overlay.Database.DSN != "" {
		cfg.Database.DSN = overlay.Database.DSN
	}
	if overlay.Server.ListenAddr != "" {
		cfg.Server.ListenAddr = overlay.Server.ListenAddr
	}
	if overlay.Server.AdminToken != "" {
		cfg.Server.AdminToken = overlay.Server.AdminToken
	}
	if overlay.Logger.Level != "" {
		cfg.Logger.Level = overlay.Logger.Level
	}
	if overlay.Logger.Format != "" {
		cfg.Logger.Format = overlay.Logger.Format
	}
	return nil
}

func parseSecretsKey() ([]byte, error) {
	raw := mustGetEnv("MAILRELAY_SECRETS_KEY")
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("MAILRELAY_SECRETS_KEY must be exactly 32 bytes, got %d", len(raw))
}

func mustGetEnv(key string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		panic(fmt.Sprintf("missing required environment variable: %s", key))
	}
	return value
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
