package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bakebake-xr/bakebake/internal/concept"
	"github.com/bakebake-xr/bakebake/internal/composer"
	"github.com/bakebake-xr/bakebake/internal/pipeline"
	"github.com/bakebake-xr/bakebake/internal/retry"
)

// StatusClientClosedRequest is returned when the caller went away before the
// concepts were ready.
const StatusClientClosedRequest = 499

// ConceptsRequest is the body of POST /api/concepts. Every field must be
// present; folklore and answers may be empty.
type ConceptsRequest struct {
	Handle   *pipeline.Handle      `json:"handle" validate:"required"`
	Answers  map[string]string     `json:"answers" validate:"required,max=32,dive,max=2000"`
	Folklore []concept.FolkloreHit `json:"folklore" validate:"required,dive"`
}

// ConceptsResponse is the body of a successful POST /api/concepts.
type ConceptsResponse struct {
	Concepts []concept.Candidate `json:"concepts"`
}

// Status is the body of GET /api/status.
type Status struct {
	Configured bool           `json:"configured"`
	Cooldown   CooldownStatus `json:"cooldown"`
	Providers  ProviderStatus `json:"providers"`
}

type CooldownStatus struct {
	Active        bool       `json:"active"`
	RemainingMs   int64      `json:"remaining_ms"`
	NextAllowedAt *time.Time `json:"next_allowed_at,omitempty"`
	WindowMs      int64      `json:"window_ms"`
}

type ProviderStatus struct {
	PrimaryKeys int  `json:"primary_keys"`
	Secondary   bool `json:"secondary"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeConceptsRequest validates a request body and converts it for the
// pipeline. Folklore beyond what the prompt uses is dropped.
func decodeConceptsRequest(data []byte) (pipeline.Request, error) {
	var body ConceptsRequest
	if err := json.Unmarshal(data, &body); err != nil {
		return pipeline.Request{}, fmt.Errorf("invalid request body: %w", err)
	}
	if err := validate.Struct(body); err != nil {
		return pipeline.Request{}, describeValidation(err)
	}

	hits := body.Folklore
	if len(hits) > composer.MaxFolkloreHits {
		hits = hits[:composer.MaxFolkloreHits]
	}
	return pipeline.Request{
		Handle:   *body.Handle,
		Answers:  body.Answers,
		Folklore: hits,
	}, nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "ConceptsRequest.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func handleConcepts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req, err := decodeConceptsRequest(raw)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		if !deps.Generator.Configured() {
			httpError(w, http.StatusServiceUnavailable, "configuration_error", "%v", pipeline.ErrNotConfigured)
			return
		}

		ctx := r.Context()
		if deps.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, deps.RequestTimeout)
			defer cancel()
		}

		concepts, meta, err := deps.Generator.Generate(ctx, req)
		w.Header().Set(HeaderProcessingTime, strconv.FormatInt(meta.ProcessingTime.Milliseconds(), 10))
		w.Header().Set(HeaderCooldownFallback, strconv.FormatBool(meta.CooldownFallback))

		switch {
		case err == nil:
		case errors.Is(err, pipeline.ErrNotConfigured):
			httpError(w, http.StatusServiceUnavailable, "configuration_error", "%v", err)
			return
		case errors.Is(err, retry.ErrCancelled) && r.Context().Err() != nil:
			slog.Info("client went away during generation", "request_id", requestIDFrom(r.Context()))
			httpError(w, StatusClientClosedRequest, "cancelled", "request cancelled")
			return
		case errors.Is(err, retry.ErrCancelled):
			slog.Warn("generation deadline exceeded",
				"request_id", requestIDFrom(r.Context()),
				"timeout", deps.RequestTimeout,
			)
			httpError(w, http.StatusGatewayTimeout, "timeout", "generation timed out after %s", deps.RequestTimeout)
			return
		default:
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		slog.Info("concepts generated",
			"request_id", requestIDFrom(r.Context()),
			"handle", req.Handle.ID,
			"concepts", len(concepts),
			"cooldown_fallback", meta.CooldownFallback,
			"credential", meta.Credential,
			"duration_ms", meta.ProcessingTime.Milliseconds(),
		)
		writeJSON(w, http.StatusOK, ConceptsResponse{Concepts: concepts})
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, currentStatus(deps.Generator))
	}
}

func currentStatus(g *pipeline.Generator) Status {
	gate := g.Gate()
	active, remaining := gate.Check()
	primary, secondary := g.Chain().Size()

	st := Status{
		Configured: g.Configured(),
		Cooldown: CooldownStatus{
			Active:      active,
			RemainingMs: remaining.Milliseconds(),
			WindowMs:    gate.Window().Milliseconds(),
		},
		Providers: ProviderStatus{PrimaryKeys: primary, Secondary: secondary},
	}
	if active {
		next := gate.NextAllowedAt().UTC()
		st.Cooldown.NextAllowedAt = &next
	}
	return st
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
