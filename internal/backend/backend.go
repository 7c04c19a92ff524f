// Package backend implements the pluggable translation provider
// adapters. Each adapter owns its own rate limiting, request-level
// retries for transient network failures, and error classification.
package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Adapter translates batches of text segments. Implementations must be
// safe for concurrent use; workers from both pools share one adapter.
type Adapter interface {
	// Translate returns translations in the same order as the input.
	// Empty or whitespace-only segments pass through unchanged.
	Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error)
	Name() string
}

// Options carries provider settings shared by all adapters.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds each HTTP request. Local-model adapters may need
	// substantially more than remote APIs.
	Timeout time.Duration
	// RateLimitDelay is the minimum spacing between requests for
	// adapters that throttle client-side (google).
	RateLimitDelay time.Duration
	// MaxRetries bounds the adapter-internal retry loop for transient
	// network failures.
	MaxRetries int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.RateLimitDelay <= 0 {
		o.RateLimitDelay = 500 * time.Millisecond
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 2
	}
	return o
}

type factory func(Options) (Adapter, error)

var services = map[string]factory{
	"google": newGoogle,
	"deepl":  newDeepL,
	"openai": newOpenAI,
	"ollama": newOllama,
}

// New builds the adapter for a service name. Unknown names are a
// config error listing the available services.
func New(service string, opts Options) (Adapter, error) {
	create, ok := services[strings.ToLower(service)]
	if !ok {
		return nil, NewError(KindConfig, service,
			fmt.Sprintf("unknown service; available: %s", strings.Join(ServiceNames(), ", ")))
	}
	return create(opts.withDefaults())
}

func ServiceNames() []string {
	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// languageNames maps codes to the names LLM prompts use.
var languageNames = map[string]string{
	"en":    "English",
	"zh":    "Chinese",
	"zh-cn": "Simplified Chinese",
	"zh-tw": "Traditional Chinese",
	"ja":    "Japanese",
	"ko":    "Korean",
	"fr":    "French",
	"de":    "German",
	"es":    "Spanish",
	"ru":    "Russian",
	"pt":    "Portuguese",
	"it":    "Italian",
	"nl":    "Dutch",
	"pl":    "Polish",
	"ar":    "Arabic",
	"hi":    "Hindi",
}

func languageName(code string) string {
	code = strings.ToLower(code)
	if name, ok := languageNames[code]; ok {
		return name
	}
	return strings.ToUpper(code)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
