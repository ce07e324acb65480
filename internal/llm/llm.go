// Package llm is a client for OpenAI-compatible chat completion APIs
// (Groq, OpenAI, OpenRouter and similar).
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "mixtral-8x7b-32768"
)

// ErrNoAPIKey is returned without contacting the provider when no key is configured.
var ErrNoAPIKey = errors.New("llm: api key not configured")

// Completer produces a single completion for a user prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Request struct {
	Model       string
	Prompt      string
	Temperature float64
}

// ProviderError reports a failed completion call.
type ProviderError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llm provider: %v", e.Err)
	}
	return fmt.Sprintf("llm provider: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Client implements Completer over the /chat/completions endpoint.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{Timeout: 120 * time.Second},
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		model:   DefaultModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Model() string { return c.model }

func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c.apiKey == "" {
		return "", &ProviderError{Err: ErrNoAPIKey}
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	temperature := req.Temperature
	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: &temperature,
	})
	if err != nil {
		return "", &ProviderError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &ProviderError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &ProviderError{Err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ProviderError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &ProviderError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if len(out.Choices) == 0 {
		return "", &ProviderError{StatusCode: resp.StatusCode, Err: errors.New("no choices in response")}
	}
	return out.Choices[0].Message.Content, nil
}

// --- wire format ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
