// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MaxRetries bounds GYMCHAT_RETRY_MAX.
const MaxRetries = 10

// Config holds all application configuration.
type Config struct {
	APIBaseURL     string
	Endpoints      Endpoints
	Personality    string
	Email          string
	ModelProvider  string
	BenefitOfDoubt bool
	DBPath         string
	LogFile        string
	MockAddr       string
	HTTP           HTTPConfig
	Archive        ArchiveConfig
	History        HistoryConfig
}

// Endpoints are the backend paths, resolved against APIBaseURL.
type Endpoints struct {
	Screening string
	Chat      string
	Summarize string
	Archive   string
	Messages  string
	Session   string
	Captcha   string
}

// HTTPConfig controls the retrying API client.
type HTTPConfig struct {
	RequestTimeout time.Duration
	StreamTimeout  time.Duration // also the chat watchdog
	RetryMax       int
	RetryBaseDelay time.Duration
	RetryMaxJitter time.Duration
	LogRequests    bool
}

// ArchiveConfig controls when and how older messages are archived.
type ArchiveConfig struct {
	MaxMessages      int
	MaxTokens        int
	SummaryWordCount int
	PageLimit        int
	PollInterval     time.Duration
	IdleBefore       time.Duration
}

// HistoryConfig controls chat-history pagination.
type HistoryConfig struct {
	PageLimit int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL: getEnv("GYMCHAT_API_URL", "http://localhost:8787"),
		Endpoints: Endpoints{
			Screening: getEnv("GYMCHAT_PATH_SCREENING", "/api/screen"),
			Chat:      getEnv("GYMCHAT_PATH_CHAT", "/api/chat"),
			Summarize: getEnv("GYMCHAT_PATH_SUMMARIZE", "/api/summarize"),
			Archive:   getEnv("GYMCHAT_PATH_ARCHIVE", "/api/archive"),
			Messages:  getEnv("GYMCHAT_PATH_MESSAGES", "/api/messages"),
			Session:   getEnv("GYMCHAT_PATH_SESSION", "/api/session"),
			Captcha:   getEnv("GYMCHAT_PATH_CAPTCHA", "/api/captcha"),
		},
		Personality:    getEnv("GYMCHAT_PERSONALITY", "GymBuddy"),
		Email:          getEnv("GYMCHAT_EMAIL", ""),
		ModelProvider:  getEnv("GYMCHAT_MODEL_PROVIDER", "OpenAI"),
		BenefitOfDoubt: getEnvBool("GYMCHAT_BENEFIT_OF_DOUBT", false),
		DBPath:         getEnv("GYMCHAT_DB_PATH", "./data/gymchat.db"),
		LogFile:        getEnv("GYMCHAT_LOG_FILE", "./data/gymchat.log"),
		MockAddr:       getEnv("GYMCHAT_MOCK_ADDR", ":8787"),
		HTTP: HTTPConfig{
			RequestTimeout: getEnvDuration("GYMCHAT_REQUEST_TIMEOUT", 30*time.Second),
			StreamTimeout:  getEnvDuration("GYMCHAT_STREAM_TIMEOUT", 300*time.Second),
			RetryMax:       getEnvInt("GYMCHAT_RETRY_MAX", 3),
			RetryBaseDelay: getEnvDuration("GYMCHAT_RETRY_BASE_DELAY", 100*time.Millisecond),
			RetryMaxJitter: getEnvDuration("GYMCHAT_RETRY_MAX_JITTER", 1000*time.Millisecond),
			LogRequests:    getEnvBool("GYMCHAT_LOG_REQUESTS", false),
		},
		Archive: ArchiveConfig{
			MaxMessages:      100,
			MaxTokens:        14336,
			SummaryWordCount: getEnvInt("GYMCHAT_SUMMARY_WORDS", 200),
			PageLimit:        getEnvInt("GYMCHAT_ARCHIVE_PAGE_LIMIT", 50),
			PollInterval:     getEnvDuration("GYMCHAT_ARCHIVE_POLL", time.Minute),
			IdleBefore:       getEnvDuration("GYMCHAT_IDLE_BEFORE_ARCHIVE", 2*time.Minute),
		},
		History: HistoryConfig{
			PageLimit: getEnvInt("GYMCHAT_HISTORY_PAGE_LIMIT", 50),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("GYMCHAT_API_URL cannot be empty")
	}
	if c.Personality == "" {
		return fmt.Errorf("GYMCHAT_PERSONALITY cannot be empty")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("GYMCHAT_REQUEST_TIMEOUT must be > 0")
	}
	if c.HTTP.StreamTimeout <= 0 {
		return fmt.Errorf("GYMCHAT_STREAM_TIMEOUT must be > 0")
	}
	if c.HTTP.RetryMax < 0 || c.HTTP.RetryMax > MaxRetries {
		return fmt.Errorf("GYMCHAT_RETRY_MAX must be between 0 and %d", MaxRetries)
	}
	if c.Archive.SummaryWordCount <= 0 {
		return fmt.Errorf("GYMCHAT_SUMMARY_WORDS must be > 0")
	}
	if c.Archive.PageLimit <= 0 {
		return fmt.Errorf("GYMCHAT_ARCHIVE_PAGE_LIMIT must be > 0")
	}
	if c.History.PageLimit <= 0 {
		return fmt.Errorf("GYMCHAT_HISTORY_PAGE_LIMIT must be > 0")
	}
	if c.Archive.PollInterval <= 0 {
		return fmt.Errorf("GYMCHAT_ARCHIVE_POLL must be > 0")
	}
	return nil
}

// URL resolves an endpoint path against the API base URL.
func (c *Config) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(c.APIBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings ("45s") or plain milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
