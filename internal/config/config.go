package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the task companion service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	GeneratorMode    string
	GeneratorTimeout time.Duration
	OllamaHost       string
	OllamaModel      string
	GeneratorHTTPURL string

	CharactersFile      string
	ChatRequireListener bool

	ReminderCap       int
	ReminderMinWindow time.Duration
	ReminderStep      time.Duration
	ExtendDefault     time.Duration

	DatabaseURL       string
	JournalSQLitePath string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "cheerup"),
		LogLevel:          strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(envOrDefault("APP_LOG_FORMAT", "text")),
		GeneratorMode:     strings.ToLower(envOrDefault("GENERATOR_MODE", "auto")),
		OllamaHost:        envOrDefault("OLLAMA_HOST", "http://127.0.0.1:11434"),
		OllamaModel:       envOrDefault("OLLAMA_MODEL", "llama3.2"),
		GeneratorHTTPURL:  trimmedEnv("GENERATOR_HTTP_URL"),
		CharactersFile:    trimmedEnv("CHARACTERS_FILE"),
		DatabaseURL:       trimmedEnv("DATABASE_URL"),
		JournalSQLitePath: trimmedEnv("JOURNAL_SQLITE_PATH"),
		ShutdownTimeout:   15 * time.Second,
		GeneratorTimeout:  60 * time.Second,
		ReminderCap:       4,
		ReminderMinWindow: 30 * time.Minute,
		ReminderStep:      150 * time.Minute,
		ExtendDefault:     30 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatRequireListener, err = boolFromEnv("CHAT_REQUIRE_LISTENER", cfg.ChatRequireListener)
	if err != nil {
		return Config{}, err
	}
	cfg.GeneratorTimeout, err = durationFromEnv("GENERATOR_TIMEOUT", cfg.GeneratorTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReminderCap, err = intFromEnv("REMINDER_CAP", cfg.ReminderCap)
	if err != nil {
		return Config{}, err
	}
	cfg.ReminderMinWindow, err = durationFromEnv("REMINDER_MIN_WINDOW", cfg.ReminderMinWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.ReminderStep, err = durationFromEnv("REMINDER_STEP", cfg.ReminderStep)
	if err != nil {
		return Config{}, err
	}
	cfg.ExtendDefault, err = durationFromEnv("EXTEND_DEFAULT", cfg.ExtendDefault)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ReminderCap < 0 {
		return fmt.Errorf("REMINDER_CAP must be >= 0")
	}
	if c.ReminderMinWindow < 0 {
		return fmt.Errorf("REMINDER_MIN_WINDOW must be >= 0")
	}
	if c.ReminderStep <= 0 {
		return fmt.Errorf("REMINDER_STEP must be positive")
	}
	if c.ExtendDefault <= 0 {
		return fmt.Errorf("EXTEND_DEFAULT must be positive")
	}
	if c.GeneratorTimeout <= 0 {
		return fmt.Errorf("GENERATOR_TIMEOUT must be positive")
	}
	switch c.GeneratorMode {
	case "auto", "ollama", "http", "mock":
	default:
		return fmt.Errorf("GENERATOR_MODE must be one of auto, ollama, http, mock")
	}
	if c.GeneratorMode == "http" && c.GeneratorHTTPURL == "" {
		return fmt.Errorf("GENERATOR_HTTP_URL is required when GENERATOR_MODE=http")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be text or json")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level. Load has already validated it.
func (c Config) SlogLevel() slog.Level {
	lvl, _ := parseLevel(c.LogLevel)
	return lvl
}

func parseLevel(v string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo, fmt.Errorf("APP_LOG_LEVEL parse error: %w", err)
	}
	return lvl, nil
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
