package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type OpenAICompatibleClient struct {
	httpClient       *http.Client
	logger           *zap.Logger
	completeTimeout  time.Duration
	firstByteTimeout time.Duration
	idleTimeout      time.Duration
}

type ClientOption func(*OpenAICompatibleClient)

// WithHTTPClient replaces the transport. The client must not carry an overall
// Timeout, or long streams get cut; use WithStreamTimeouts instead.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *OpenAICompatibleClient) {
		c.httpClient = hc
	}
}

// WithStreamTimeouts sets the first-byte and inter-fragment windows. Zero
// disables the corresponding watchdog.
func WithStreamTimeouts(firstByte, idle time.Duration) ClientOption {
	return func(c *OpenAICompatibleClient) {
		c.firstByteTimeout = firstByte
		c.idleTimeout = idle
	}
}

func NewOpenAICompatibleClient(logger *zap.Logger, opts ...ClientOption) *OpenAICompatibleClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &OpenAICompatibleClient{
		httpClient:       &http.Client{},
		logger:           logger.Named("llm"),
		completeTimeout:  90 * time.Second,
		firstByteTimeout: 30 * time.Second,
		idleTimeout:      60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete performs a single non-streaming completion.
func (c *OpenAICompatibleClient) Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (string, error) {
	if err := validateRequest(cfg, messages); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.completeTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, cfg, messages, false)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("read llm response failed: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &ProtocolError{StatusCode: resp.StatusCode, Body: truncate(string(raw), maxErrorBody)}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ProtocolError{StatusCode: resp.StatusCode, Body: "parse llm json failed: " + err.Error()}
	}
	if len(parsed.Choices) == 0 {
		return "", &ProtocolError{StatusCode: resp.StatusCode, Body: "empty llm choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *OpenAICompatibleClient) newRequest(ctx context.Context, cfg ChatConfig, messages []ChatMessage, stream bool) (*http.Request, error) {
	bodyBytes, err := json.Marshal(chatRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Stream:      stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal llm request failed: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build llm request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

var placeholderKeys = map[string]struct{}{
	"your-api-key": {},
	"your_api_key": {},
	"sk-xxx":       {},
	"sk-your-key":  {},
	"change-me":    {},
	"<api-key>":    {},
}

// IsPlaceholderKey reports whether key is empty or one of the sample values
// shipped in config templates.
func IsPlaceholderKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return true
	}
	_, ok := placeholderKeys[key]
	return ok
}

func validateRequest(cfg ChatConfig, messages []ChatMessage) error {
	if IsPlaceholderKey(cfg.APIKey) {
		return fmt.Errorf("%w: api key is missing or a placeholder", ErrConfiguration)
	}
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("%w: base url and model are required", ErrConfiguration)
	}

	hasPrompt := false
	for i, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			return fmt.Errorf("%w: message %d is empty", ErrInvalidMessages, i)
		}
		if m.Role == RoleSystem || m.Role == RoleUser {
			hasPrompt = true
		}
	}
	if !hasPrompt {
		return fmt.Errorf("%w: no system or user message", ErrInvalidMessages)
	}
	return nil
}

const maxErrorBody = 2048

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
