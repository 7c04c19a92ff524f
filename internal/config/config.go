// Package config assembles runtime configuration from environment
// variables, with an optional .env file loaded first.
//
// Environment Variables:
//
// Translation:
//   - TRANSLATE_SERVICE: backend service name (default: google)
//   - SOURCE_LANG: source language code or "auto" (default: auto)
//   - TARGET_LANG: target language code (default: ko)
//   - BILINGUAL: keep original text alongside the translation (default: false)
//
// Backend:
//   - GOOGLE_API_KEY / DEEPL_API_KEY / OPENAI_API_KEY: service credentials
//   - OPENAI_BASE_URL: any OpenAI-compatible endpoint (default: https://api.openai.com/v1)
//   - OPENAI_MODEL: chat model (default: gpt-4o-mini)
//   - OLLAMA_BASE_URL: local ollama endpoint (default: http://localhost:11434)
//   - OLLAMA_MODEL: ollama model (default: llama3)
//   - BACKEND_TIMEOUT: per-request timeout in seconds (default: 30)
//
// Workers:
//   - TEXT_WORKERS: text pool size (default: 4)
//   - IMAGE_WORKERS: image pool size (default: 2)
//   - RATE_LIMIT_RETRIES: retries after a backend rate limit (default: 3)
//
// Cache:
//   - CACHE_DIR: cache directory (default: ~/.epubtrans)
//   - NO_CACHE: bypass the cache entirely (default: false)
//
// Watch:
//   - WATCH_DIRS: comma-separated directories to scan
//   - WATCH_CRON: scan schedule (default: "*/30 * * * *")
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"

	"github.com/epubtrans/epubtrans/internal/lang"
	"github.com/epubtrans/epubtrans/pkg/log"
)

type Config struct {
	Translate TranslateConfig
	Backend   BackendConfig
	Workers   WorkerConfig
	Cache     CacheConfig
	Watch     WatchConfig

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type TranslateConfig struct {
	Service    string `envconfig:"TRANSLATE_SERVICE" default:"google"`
	SourceLang string `envconfig:"SOURCE_LANG" default:"auto"`
	TargetLang string `envconfig:"TARGET_LANG" default:"ko"`
	Bilingual  bool   `envconfig:"BILINGUAL" default:"false"`
}

type BackendConfig struct {
	GoogleAPIKey  string `envconfig:"GOOGLE_API_KEY"`
	DeepLAPIKey   string `envconfig:"DEEPL_API_KEY"`
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OllamaBaseURL string `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
	OllamaModel   string `envconfig:"OLLAMA_MODEL" default:"llama3"`
	TimeoutSecs   int    `envconfig:"BACKEND_TIMEOUT" default:"30"`
}

type WorkerConfig struct {
	TextWorkers      int `envconfig:"TEXT_WORKERS" default:"4"`
	ImageWorkers     int `envconfig:"IMAGE_WORKERS" default:"2"`
	RateLimitRetries int `envconfig:"RATE_LIMIT_RETRIES" default:"3"`
}

type CacheConfig struct {
	Dir     string `envconfig:"CACHE_DIR"`
	Disable bool   `envconfig:"NO_CACHE" default:"false"`
}

type WatchConfig struct {
	Dirs []string `envconfig:"WATCH_DIRS"`
	Cron string   `envconfig:"WATCH_CRON" default:"*/30 * * * *"`
}

// Option mutates a loaded Config, typically from CLI flags.
type Option func(*Config)

// NewFromEnv loads configuration. envFile, when non-empty, is loaded
// into the process environment first; a missing default .env is fine.
func NewFromEnv(envFile string, opts ...Option) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load env file %s: %w", envFile, err)
			}
			log.Debug("env file %s not found, using process environment", envFile)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes language codes and checks the parts that would
// otherwise fail halfway into a run.
func (c *Config) Validate() error {
	if c.Translate.SourceLang != lang.Auto {
		code, err := lang.Validate(c.Translate.SourceLang)
		if err != nil {
			return fmt.Errorf("source language: %w", err)
		}
		c.Translate.SourceLang = code
	}
	code, err := lang.Validate(c.Translate.TargetLang)
	if err != nil {
		return fmt.Errorf("target language: %w", err)
	}
	c.Translate.TargetLang = code

	if c.Workers.TextWorkers <= 0 || c.Workers.ImageWorkers <= 0 {
		return fmt.Errorf("worker counts must be positive (text=%d image=%d)",
			c.Workers.TextWorkers, c.Workers.ImageWorkers)
	}
	if len(c.Watch.Dirs) > 0 {
		if _, err := cron.ParseStandard(c.Watch.Cron); err != nil {
			return fmt.Errorf("watch cron %q: %w", c.Watch.Cron, err)
		}
	}
	return nil
}
