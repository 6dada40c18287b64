// Package openrouter adapts the OpenRouter chat completions API to
// provider.Generator. It serves as the secondary provider of the chain.
package openrouter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/bakebake-xr/bakebake/internal/provider"
)

// Name is the provider identifier used in credentials, logs and metrics.
const Name = "openrouter"

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "openai/gpt-4o-mini"
	defaultTimeout = 30 * time.Second
)

// Config describes how to reach OpenRouter with a single key.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client communicates with the OpenRouter API.
type Client struct {
	model string
	http  *resty.Client
}

var _ provider.Generator = (*Client)(nil)

// NewClient creates an OpenRouter client. Empty fields fall back to defaults.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	hc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("HTTP-Referer", "https://github.com/bakebake-xr/bakebake").
		SetHeader("X-Title", "bakebake")

	return &Client{model: model, http: hc}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

// Generate sends a non-streaming chat completion and returns the first
// choice's message content. The hint is not forwarded: OpenRouter's JSON mode
// forces a top-level object while the prompt asks for an array, so the
// output shape is left to the prompt.
func (c *Client) Generate(ctx context.Context, prompt string, _ *provider.Schema) (string, error) {
	req := chatRequest{
		Model:    c.model,
		Messages: []message{{Role: "user", Content: prompt}},
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/chat/completions")
	if err != nil {
		return "", &provider.Error{Provider: Name, Err: fmt.Errorf("executing request: %w", err)}
	}

	raw := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		msg := gjson.GetBytes(raw, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", &provider.Error{Provider: Name, StatusCode: resp.StatusCode(), Message: msg}
	}

	// OpenRouter reports some upstream failures inside a 200 body.
	if e := gjson.GetBytes(raw, "error"); e.Exists() {
		return "", &provider.Error{
			Provider:   Name,
			StatusCode: int(e.Get("code").Int()),
			Message:    e.Get("message").String(),
		}
	}

	text := strings.TrimSpace(gjson.GetBytes(raw, "choices.0.message.content").String())
	if text == "" {
		return "", &provider.Error{Provider: Name, StatusCode: resp.StatusCode(), Err: provider.ErrEmptyResponse}
	}
	return text, nil
}
