// Package provider defines the capability every generative backend exposes
// and the error classification the fallback chain relies on.
//
// Each vendor lives in its own subpackage (gemini, openrouter) and is
// constructed once per credential.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Generator produces raw response text for a composed prompt. The optional
// hint asks the backend for structured output; backends that cannot honor
// it may ignore it.
type Generator interface {
	Generate(ctx context.Context, prompt string, hint *Schema) (string, error)
}

// Credential identifies one API key of one provider. Rank is the key's
// position within that provider's key list, starting at 0.
type Credential struct {
	Provider string
	Key      string
	Rank     int
}

// String renders the credential without its secret.
func (c Credential) String() string {
	return fmt.Sprintf("%s#%d", c.Provider, c.Rank)
}

// Schema describes the expected JSON output of a structured generation.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// ErrEmptyResponse is returned when a provider answered successfully but
// without any usable text.
var ErrEmptyResponse = errors.New("empty response")

// Error is a classified failure reported by a provider.
type Error struct {
	Provider   string
	StatusCode int
	// Status is the upstream status string, e.g. "RESOURCE_EXHAUSTED".
	Status  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Provider)
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, ": HTTP %d", e.StatusCode)
	}
	if e.Status != "" {
		fmt.Fprintf(&sb, " %s", e.Status)
	}
	if e.Message != "" {
		fmt.Fprintf(&sb, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err looks like a passing upstream fault: a 5xx
// status or a transport failure that never produced a status. Rate limits
// and empty responses are not transient.
func IsTransient(err error) bool {
	if err == nil || IsRateLimit(err) || errors.Is(err, ErrEmptyResponse) {
		return false
	}
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	if pe.StatusCode >= http.StatusInternalServerError {
		return true
	}
	return pe.StatusCode == 0 && pe.Err != nil
}

var rateLimitPatterns = []string{
	"resource exhausted",
	"quota",
	"rate limit",
}

// IsRateLimit reports whether err signals provider throttling: HTTP 429 or
// a message mentioning resource exhaustion, quota or rate limits.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}

	var pe *Error
	if errors.As(err, &pe) && pe.StatusCode == http.StatusTooManyRequests {
		return true
	}

	msg := strings.ToLower(err.Error())
	msg = strings.ReplaceAll(msg, "_", " ")
	for _, p := range rateLimitPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
