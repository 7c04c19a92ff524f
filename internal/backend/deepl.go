package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

const (
	deeplFreeBaseURL = "https://api-free.deepl.com/v2"
	deeplProBaseURL  = "https://api.deepl.com/v2"
)

type deeplAdapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func newDeepL(opts Options) (Adapter, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("DEEPL_API_KEY")
	}
	if apiKey == "" {
		return nil, NewError(KindAuth, "deepl", "API key required; set DEEPL_API_KEY or pass --api-key")
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		// Free-plan keys carry a ":fx" suffix.
		if strings.HasSuffix(apiKey, ":fx") {
			baseURL = deeplFreeBaseURL
		} else {
			baseURL = deeplProBaseURL
		}
	}

	return &deeplAdapter{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

func (d *deeplAdapter) Name() string {
	return "deepl"
}

type deeplRequest struct {
	Text       []string `json:"text"`
	SourceLang string   `json:"source_lang,omitempty"`
	TargetLang string   `json:"target_lang"`
}

type deeplResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
	Message string `json:"message"`
}

func (d *deeplAdapter) Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	// Blank segments keep their positions without being sent.
	indices := make([]int, 0, len(texts))
	payload := make([]string, 0, len(texts))
	for i, text := range texts {
		if !isBlank(text) {
			indices = append(indices, i)
			payload = append(payload, text)
		}
	}
	results := append([]string(nil), texts...)
	if len(payload) == 0 {
		return results, nil
	}

	reqBody := deeplRequest{
		Text:       payload,
		TargetLang: deeplLangCode(targetLang, true),
	}
	if sourceLang != "" && sourceLang != "auto" {
		reqBody.SourceLang = deeplLangCode(sourceLang, false)
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, WrapError(KindProvider, d.Name(), "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(KindProvider, d.Name(), "build request", err)
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return nil, WrapError(KindNetwork, d.Name(), "request timed out", err)
		}
		return nil, WrapError(KindNetwork, d.Name(), "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, WrapError(KindNetwork, d.Name(), "read response", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, NewError(KindAuth, d.Name(), "authorization failed; check the API key")
	case http.StatusTooManyRequests:
		return nil, NewError(KindRateLimited, d.Name(), "too many requests")
	case 456:
		// Quota exceeded; recoverable only by waiting.
		return nil, NewError(KindRateLimited, d.Name(), "quota exceeded")
	default:
		if resp.StatusCode >= 500 {
			return nil, NewError(KindNetwork, d.Name(), fmt.Sprintf("server error %d", resp.StatusCode))
		}
		return nil, NewError(KindProvider, d.Name(), fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, truncate(respBody, 200)))
	}

	var parsed deeplResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, WrapError(KindProvider, d.Name(), "parse response", err)
	}
	if len(parsed.Translations) != len(payload) {
		return nil, NewError(KindProvider, d.Name(),
			fmt.Sprintf("expected %d translations, got %d", len(payload), len(parsed.Translations)))
	}

	for i, idx := range indices {
		results[idx] = parsed.Translations[i].Text
	}
	return results, nil
}

// deeplLangCode maps to DeepL's codes; target English and Portuguese
// need regional variants.
func deeplLangCode(code string, isTarget bool) string {
	upper := strings.ToUpper(code)
	switch upper {
	case "ZH-CN", "ZH-TW":
		return "ZH"
	case "EN":
		if isTarget {
			return "EN-US"
		}
		return "EN"
	case "PT":
		if isTarget {
			return "PT-PT"
		}
		return "PT"
	default:
		return upper
	}
}
