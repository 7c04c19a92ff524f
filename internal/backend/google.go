package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const googleDefaultBaseURL = "https://translate.googleapis.com/translate_a/single"

// googleAdapter uses the free Google Translate web endpoint. No API key
// is needed, so requests are spaced out client-side to stay under the
// unofficial rate limits.
type googleAdapter struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

func newGoogle(opts Options) (Adapter, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = googleDefaultBaseURL
	}
	return &googleAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Every(opts.RateLimitDelay), 1),
		maxRetries: opts.MaxRetries,
	}, nil
}

func (g *googleAdapter) Name() string {
	return "google"
}

func (g *googleAdapter) Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([]string, len(texts))
	for i, text := range texts {
		if isBlank(text) {
			results[i] = text
			continue
		}
		translated, err := g.translateWithRetries(ctx, text, sourceLang, targetLang)
		if err != nil {
			return nil, err
		}
		results[i] = translated
	}
	return results, nil
}

// translateWithRetries retries transient network failures with a
// computed backoff. Rate-limit responses are surfaced to the caller,
// which owns the slowdown policy.
func (g *googleAdapter) translateWithRetries(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, 500*time.Millisecond, 4*time.Second)
			select {
			case <-ctx.Done():
				return "", WrapError(KindNetwork, g.Name(), "canceled while retrying", ctx.Err())
			case <-time.After(delay):
			}
		}
		translated, err := g.translateSingle(ctx, text, sourceLang, targetLang)
		if err == nil {
			return translated, nil
		}
		if !IsKind(err, KindNetwork) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (g *googleAdapter) translateSingle(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", googleLangCode(sourceLang))
	params.Set("tl", googleLangCode(targetLang))
	params.Set("dt", "t")
	params.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", WrapError(KindProvider, g.Name(), "build request", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	if err := g.limiter.Wait(ctx); err != nil {
		return "", WrapError(KindNetwork, g.Name(), "canceled while rate limiting", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return "", WrapError(KindNetwork, g.Name(), "request timed out", err)
		}
		return "", WrapError(KindNetwork, g.Name(), "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", WrapError(KindNetwork, g.Name(), "read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", NewError(KindRateLimited, g.Name(), "rate limited by endpoint")
	case resp.StatusCode >= 500:
		return "", NewError(KindNetwork, g.Name(), fmt.Sprintf("server error %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", NewError(KindProvider, g.Name(), fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200)))
	}

	return parseGoogleResponse(body, text, g.Name())
}

// parseGoogleResponse handles the undocumented nested-array payload:
// [[["translated","original",...],...],...]. All first-level segments
// are concatenated.
func parseGoogleResponse(body []byte, original, service string) (string, error) {
	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", WrapError(KindProvider, service, "parse response", err)
	}
	if len(payload) == 0 {
		return original, nil
	}

	var segments [][]json.RawMessage
	if err := json.Unmarshal(payload[0], &segments); err != nil {
		return "", WrapError(KindProvider, service, "parse segments", err)
	}

	var sb strings.Builder
	for _, segment := range segments {
		if len(segment) == 0 {
			continue
		}
		var piece string
		if err := json.Unmarshal(segment[0], &piece); err != nil {
			continue
		}
		sb.WriteString(piece)
	}
	if sb.Len() == 0 {
		return original, nil
	}
	return sb.String(), nil
}

// googleLangCode normalizes codes to the forms the endpoint expects.
func googleLangCode(code string) string {
	switch strings.ToLower(code) {
	case "zh", "zh-cn":
		return "zh-CN"
	case "zh-tw":
		return "zh-TW"
	default:
		return strings.ToLower(code)
	}
}

// backoffDelay doubles the base per attempt up to max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if delay > max {
		return max
	}
	return delay
}

func truncate(body []byte, n int) string {
	s := string(body)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
