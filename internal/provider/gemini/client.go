// Package gemini adapts the Google Generative Language generateContent API
// to provider.Generator. One Client is bound to one API key.
package gemini

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
const Name = "gemini"

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.0-flash"
	defaultTimeout = 30 * time.Second
)

// Config describes how to reach the Gemini API with a single key.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

// Client calls generateContent for one credential.
type Client struct {
	model       string
	temperature float64
	http        *resty.Client
}

var _ provider.Generator = (*Client)(nil)

// NewClient creates a Client. Empty fields fall back to defaults.
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
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = 1.0
	}

	hc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-goog-api-key", cfg.APIKey)

	return &Client{model: model, temperature: temperature, http: hc}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
	ResponseSchema   any     `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

// Generate sends prompt as a single user turn and returns the concatenated
// text parts of the first candidate.
func (c *Client) Generate(ctx context.Context, prompt string, hint *provider.Schema) (string, error) {
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature: c.temperature,
		},
	}
	if hint != nil {
		body.GenerationConfig.ResponseMIMEType = "application/json"
		body.GenerationConfig.ResponseSchema = toGeminiSchema(hint)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetPathParam("model", c.model).
		Post("/v1beta/models/{model}:generateContent")
	if err != nil {
		return "", &provider.Error{Provider: Name, Err: fmt.Errorf("executing request: %w", err)}
	}

	raw := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		parsed := gjson.ParseBytes(raw)
		msg := parsed.Get("error.message").String()
		if msg == "" {
			msg = truncate(strings.TrimSpace(string(raw)), 512)
		}
		return "", &provider.Error{
			Provider:   Name,
			StatusCode: resp.StatusCode(),
			Status:     parsed.Get("error.status").String(),
			Message:    msg,
		}
	}

	var sb strings.Builder
	for _, p := range gjson.GetBytes(raw, "candidates.0.content.parts.#.text").Array() {
		sb.WriteString(p.String())
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		reason := gjson.GetBytes(raw, "candidates.0.finishReason").String()
		if reason == "" {
			reason = gjson.GetBytes(raw, "promptFeedback.blockReason").String()
		}
		return "", &provider.Error{Provider: Name, StatusCode: resp.StatusCode(), Status: reason, Err: provider.ErrEmptyResponse}
	}
	return text, nil
}

// toGeminiSchema converts a hint to the OpenAPI subset Gemini accepts, which
// spells types in upper case.
func toGeminiSchema(s *provider.Schema) map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{"type": strings.ToUpper(s.Type)}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for k, v := range s.Properties {
			props[k] = toGeminiSchema(v)
		}
		out["properties"] = props
	}
	if s.Items != nil {
		out["items"] = toGeminiSchema(s.Items)
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
