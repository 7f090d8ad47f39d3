package llm

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
	"time"

	openai "github.com/sashabaranov/go-openai"

	"patchloop/internal/config"
)

// Provider is the single capability every completion backend exposes.
type Provider interface {
	// Generate returns one text completion for the system/user message pair.
	Generate(ctx context.Context, system, prompt string) (string, error)
	// ModelName identifies the active model for token accounting and logs.
	ModelName() string
}

// ProviderError carries an HTTP-like status so the retry policy can tell
// transient failures from client errors.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// StatusOf extracts the HTTP status from an error chain, 0 when absent.
func StatusOf(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}

// --- Hosted chat API (OpenAI-compatible, incl. DeepSeek) ---

// ChatProvider talks to any OpenAI-compatible chat completions endpoint.
type ChatProvider struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewChatProvider builds a provider from one configured endpoint.
func NewChatProvider(cfg config.APIProvider) *ChatProvider {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	cc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	return &ChatProvider{
		client:      openai.NewClientWithConfig(cc),
		model:       cfg.ModelName,
		temperature: float32(cfg.Temperature),
	}
}

func (p *ChatProvider) ModelName() string { return p.model }

func (p *ChatProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		N:           1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Message: fmt.Sprintf("no choices from %s", p.model)}
	}
	return resp.Choices[0].Message.Content, nil
}

// --- Vendor-native API (Gemini generateContent) ---

// GeminiProvider talks to the Google generative language REST API.
type GeminiProvider struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	http        *http.Client
}

// NewGeminiProvider builds a provider for one Gemini model.
func NewGeminiProvider(cfg config.APIProvider) *GeminiProvider {
	return &GeminiProvider{
		apiKey:      os.Getenv(cfg.APIKeyEnv),
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       cfg.ModelName,
		temperature: cfg.Temperature,
		http:        &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *GeminiProvider) ModelName() string { return p.model }

type geminiRequest struct {
	SystemInstruction geminiContent   `json:"systemInstruction"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

func (p *GeminiProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	url := fmt.Sprintf("%s/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)

	body, err := postJSON(ctx, p.http, url, geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: system}}},
		Contents:          []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig:  geminiGenConfig{Temperature: p.temperature},
	})
	if err != nil {
		return "", err
	}

	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", &ProviderError{Message: "gemini blocked content: " + resp.PromptFeedback.BlockReason}
		}
		return "", &ProviderError{Message: "unexpected gemini response shape"}
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// --- Local inference API (Ollama chat) ---

// OllamaProvider talks to a local Ollama service.
type OllamaProvider struct {
	baseURL     string
	model       string
	temperature float64
	http        *http.Client
}

// NewOllamaProvider resolves the model alias through the configured map and
// builds a provider. Local inference gets a longer request timeout.
func NewOllamaProvider(cfg config.OllamaConfig, alias string) *OllamaProvider {
	model := alias
	if tag, ok := cfg.Models[alias]; ok {
		model = tag
	}
	return &OllamaProvider{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       model,
		temperature: cfg.Temperature,
		http:        &http.Client{Timeout: 300 * time.Second},
	}
}

func (p *OllamaProvider) ModelName() string { return p.model }

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
}

func (p *OllamaProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	body, err := postJSON(ctx, p.http, p.baseURL+"/api/chat", ollamaRequest{
		Model: p.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Stream:  false,
		Options: map[string]any{"temperature": p.temperature},
	})
	if err != nil {
		return "", err
	}

	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("parse ollama response: %w", err)
	}
	if resp.Message.Content == "" {
		return "", &ProviderError{Message: "empty ollama response"}
	}
	return resp.Message.Content, nil
}

// postJSON posts a JSON payload and returns the response body, mapping
// non-2xx statuses to ProviderError.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &ProviderError{Status: resp.StatusCode, Message: truncate(string(body), 500)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// NewProvider builds the provider selected by name from the configuration.
// Hosted OpenAI-compatible endpoints and Gemini are looked up in
// api_providers; anything listed under the Ollama model map resolves to the
// local service.
func NewProvider(cfg config.LLMConfig, name string) (Provider, error) {
	if name == "" {
		name = cfg.Provider
	}

	if pc, ok := cfg.APIProviders[name]; ok {
		if name == "google" {
			return NewGeminiProvider(pc), nil
		}
		return NewChatProvider(pc), nil
	}

	if _, ok := cfg.LocalProviders.Ollama.Models[name]; ok {
		return NewOllamaProvider(cfg.LocalProviders.Ollama, name), nil
	}
	if name == "ollama" {
		return nil, fmt.Errorf("specify an ollama model alias (e.g. %q), not %q",
			firstKey(cfg.LocalProviders.Ollama.Models), name)
	}

	return nil, fmt.Errorf("unknown LLM provider: %s", name)
}

func firstKey(m map[string]string) string {
	for k := range m {
		return k
	}
	return "qwen_32b"
}
