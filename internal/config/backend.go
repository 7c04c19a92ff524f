package config

import (
	"time"

	"github.com/epubtrans/epubtrans/internal/backend"
)

// AdapterOptions maps the loaded configuration onto the options for
// the configured translation service.
func (c *Config) AdapterOptions() backend.Options {
	opts := backend.Options{
		Timeout:    time.Duration(c.Backend.TimeoutSecs) * time.Second,
		MaxRetries: 2,
	}
	switch c.Translate.Service {
	case "google":
		opts.APIKey = c.Backend.GoogleAPIKey
	case "deepl":
		opts.APIKey = c.Backend.DeepLAPIKey
	case "openai":
		opts.APIKey = c.Backend.OpenAIAPIKey
		opts.BaseURL = c.Backend.OpenAIBaseURL
		opts.Model = c.Backend.OpenAIModel
	case "ollama":
		opts.BaseURL = c.Backend.OllamaBaseURL
		opts.Model = c.Backend.OllamaModel
		// Local models are slow; give them room unless overridden.
		if c.Backend.TimeoutSecs <= 30 {
			opts.Timeout = 120 * time.Second
		}
	}
	return opts
}
