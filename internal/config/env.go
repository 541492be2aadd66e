package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ProvidersConfig defines engines and models per provider.
type ProvidersConfig struct {
	PrimaryEngine   string // "openai"|"anthropic"
	SecondaryEngine string // "anthropic"|"openai"
	OpenAIKey       string
	AnthropicKey    string
	OpenAIModel     string
	AnthropicModel  string
	RequestTimeout  time.Duration
}

// ExtractionConfig bounds a preview extraction session.
type ExtractionConfig struct {
	MaxPages         int
	CheckInterval    int
	MinAnalysisPages int
	OCRConcurrency   int
	OCRLanguage      string
	PreviewChars     int
	ScriptPath       string
	WorkDir          string
	SessionTimeout   time.Duration
}

// BooksConfig configures the Google Books lookup.
type BooksConfig struct {
	APIKey string
}

// StoreConfig configures the session status store.
type StoreConfig struct {
	RedisURL string
}

// ArchiveConfig configures session archiving to S3.
type ArchiveConfig struct {
	Bucket     string
	Passphrase string
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging    LoggingConfig
	Axiom      AxiomConfig
	Providers  ProvidersConfig
	Extraction ExtractionConfig
	Books      BooksConfig
	Store      StoreConfig
	Archive    ArchiveConfig
	Server     ServerConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/bookfetcher.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_bookfetcher",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Providers = ProvidersConfig{
		PrimaryEngine:   getEnv("PRIMARY_ENGINE", "openai"),
		SecondaryEngine: getEnv("SECONDARY_ENGINE", "anthropic"),
		OpenAIKey:       getEnv("OPENAI_API_KEY", ""),
		AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o"),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet"),
		RequestTimeout:  parseDuration(getEnv("REQUEST_TIMEOUT", "60s"), 60*time.Second),
	}

	cfg.Extraction = ExtractionConfig{
		MaxPages:         parseInt(getEnv("MAX_PAGES", "18"), 18),
		CheckInterval:    parseInt(getEnv("CHECK_INTERVAL", "3"), 3),
		MinAnalysisPages: parseInt(getEnv("MIN_ANALYSIS_PAGES", "3"), 3),
		OCRConcurrency:   parseInt(getEnv("OCR_CONCURRENCY", "4"), 4),
		OCRLanguage:      getEnv("OCR_LANGUAGE", "eng"),
		PreviewChars:     parseInt(getEnv("PREVIEW_CHARS", "400"), 400),
		ScriptPath:       getEnv("AUTOMATION_SCRIPT", "scripts/preview_capture.py"),
		WorkDir:          getEnv("WORK_DIR", os.TempDir()),
		SessionTimeout:   parseDuration(getEnv("SESSION_TIMEOUT", "10m"), 10*time.Minute),
	}

	cfg.Books = BooksConfig{
		APIKey: getEnv("GOOGLE_BOOKS_API_KEY", ""),
	}

	cfg.Store = StoreConfig{
		RedisURL: getEnv("REDIS_URL", ""),
	}

	cfg.Archive = ArchiveConfig{
		Bucket:     getEnv("ARCHIVE_BUCKET", ""),
		Passphrase: getEnv("ARCHIVE_PASSPHRASE", ""),
	}

	cfg.Server = ServerConfig{
		Port:            parseInt(getEnv("PORT", "8080"), 8080),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "15s"), 15*time.Second),
	}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
