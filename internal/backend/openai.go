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

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// openaiAdapter speaks the chat-completions protocol and therefore
// works against OpenAI itself or any OpenAI-compatible endpoint
// (LM Studio, vLLM, OpenRouter, ...) via a custom base URL.
type openaiAdapter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func newOpenAI(opts Options) (Adapter, error) {
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, NewError(KindAuth, "openai", "API key required; set OPENAI_API_KEY or pass --api-key")
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &openaiAdapter{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

func (o *openaiAdapter) Name() string {
	return "openai"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (o *openaiAdapter) Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([]string, len(texts))
	for i, text := range texts {
		if isBlank(text) {
			results[i] = text
			continue
		}
		translated, err := o.translateSingle(ctx, text, sourceLang, targetLang)
		if err != nil {
			return nil, err
		}
		results[i] = translated
	}
	return results, nil
}

func (o *openaiAdapter) translateSingle(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	systemPrompt := fmt.Sprintf(
		"You are a professional translator. Translate the following text from %s to %s. Only output the translation, nothing else.",
		languageName(sourceLang), languageName(targetLang))

	request := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0.3,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", WrapError(KindProvider, o.Name(), "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", WrapError(KindProvider, o.Name(), "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return "", WrapError(KindNetwork, o.Name(), "request timed out", err)
		}
		return "", WrapError(KindNetwork, o.Name(), "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", WrapError(KindNetwork, o.Name(), "read response", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", NewError(KindAuth, o.Name(), "authorization failed; check the API key")
	case http.StatusTooManyRequests:
		return "", NewError(KindRateLimited, o.Name(), "rate limited")
	default:
		if resp.StatusCode >= 500 {
			return "", NewError(KindNetwork, o.Name(), fmt.Sprintf("server error %d", resp.StatusCode))
		}
		return "", NewError(KindProvider, o.Name(), fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, truncate(respBody, 200)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", WrapError(KindProvider, o.Name(), "parse response", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", NewError(KindProvider, o.Name(), parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", NewError(KindProvider, o.Name(), "no choices in response")
	}

	translated := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if translated == "" {
		return text, nil
	}
	return cleanLLMArtifacts(translated), nil
}
