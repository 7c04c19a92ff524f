package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"syscall"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

// ollamaAdapter runs translations through a local Ollama server.
// Inference latency depends entirely on the model and hardware, so the
// timeout should be configured generously.
type ollamaAdapter struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func newOllama(opts Options) (Adapter, error) {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	model := opts.Model
	if model == "" {
		model = "llama3"
	}

	return &ollamaAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: opts.Timeout},
	}, nil
}

func (a *ollamaAdapter) Name() string {
	return "ollama"
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (a *ollamaAdapter) Translate(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([]string, len(texts))
	for i, text := range texts {
		if isBlank(text) {
			results[i] = text
			continue
		}
		translated, err := a.translateSingle(ctx, text, sourceLang, targetLang)
		if err != nil {
			return nil, err
		}
		results[i] = translated
	}
	return results, nil
}

func (a *ollamaAdapter) translateSingle(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	prompt := fmt.Sprintf(
		"Translate the following text from %s to %s. "+
			"Only provide the translation without any explanations or additional text.\n\n"+
			"Text: %s\n\nTranslation:",
		languageName(sourceLang), languageName(targetLang), text)

	body, err := json.Marshal(ollamaRequest{
		Model:   a.model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"temperature": 0.3},
	})
	if err != nil {
		return "", WrapError(KindProvider, a.Name(), "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", WrapError(KindProvider, a.Name(), "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return "", WrapError(KindNetwork, a.Name(),
				fmt.Sprintf("cannot connect to Ollama at %s; make sure it is running", a.baseURL), err)
		}
		if os.IsTimeout(err) {
			return "", WrapError(KindNetwork, a.Name(), "request timed out", err)
		}
		return "", WrapError(KindNetwork, a.Name(), "request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", WrapError(KindNetwork, a.Name(), "read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			return "", NewError(KindNetwork, a.Name(), fmt.Sprintf("server error %d", resp.StatusCode))
		}
		return "", NewError(KindProvider, a.Name(), fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, truncate(respBody, 200)))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", WrapError(KindProvider, a.Name(), "parse response", err)
	}
	if parsed.Error != "" {
		return "", NewError(KindProvider, a.Name(), parsed.Error)
	}

	translated := cleanLLMArtifacts(strings.TrimSpace(parsed.Response))
	if translated == "" {
		return text, nil
	}
	return translated, nil
}

// cleanLLMArtifacts strips common chat-model noise from a translation.
func cleanLLMArtifacts(text string) string {
	prefixes := []string{
		"Translation:",
		"Here is the translation:",
		"The translation is:",
	}
	for _, prefix := range prefixes {
		if len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
			text = strings.TrimSpace(text[len(prefix):])
		}
	}
	if len(text) >= 2 {
		if (text[0] == '"' && text[len(text)-1] == '"') ||
			(text[0] == '\'' && text[len(text)-1] == '\'') {
			text = text[1 : len(text)-1]
		}
	}
	return text
}
