package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bakebake-xr/bakebake/internal/chain"
	"github.com/bakebake-xr/bakebake/internal/composer"
	"github.com/bakebake-xr/bakebake/internal/concept"
	"github.com/bakebake-xr/bakebake/internal/cooldown"
	"github.com/bakebake-xr/bakebake/internal/metrics"
	"github.com/bakebake-xr/bakebake/internal/repair"
)

// ErrNotConfigured is returned when no provider credential is available.
var ErrNotConfigured = errors.New("no provider credentials configured")

// Handle identifies the visitor and carries their own account of the
// experience.
type Handle struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text"`
}

// Request is one generation request.
type Request struct {
	Handle  Handle
	Answers map[string]string
	// Folklore is the ranked retrieval result for this visitor.
	Folklore []concept.FolkloreHit
}

// Metadata captures diagnostic information about one generation.
type Metadata struct {
	CooldownFallback  bool
	CooldownRemaining time.Duration
	ProcessingTime    time.Duration
	// Credential that answered, e.g. "gemini#1"; empty when none did.
	Credential string
	Shape      string
	Failures   int
}

// Recorder receives pipeline-level telemetry.
type Recorder interface {
	ObserveShortCircuit()
	ObserveParse(shape string)
	ObserveGeneration(path string, elapsed time.Duration)
}

// Generator orchestrates one request: cooldown check, provider chain,
// response repair, and merge with the folklore hits.
type Generator struct {
	gate     *cooldown.Gate
	chain    *chain.Chain
	composer *composer.Composer
	recorder Recorder
}

// NewGenerator wires the pipeline. rec may be nil.
func NewGenerator(gate *cooldown.Gate, ch *chain.Chain, comp *composer.Composer, rec Recorder) *Generator {
	if comp == nil {
		comp = composer.New(0)
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Generator{gate: gate, chain: ch, composer: comp, recorder: rec}
}

// Configured reports whether any provider credential is available.
func (g *Generator) Configured() bool { return g.chain.Configured() }

// Gate exposes the shared cooldown gate for status reporting.
func (g *Generator) Gate() *cooldown.Gate { return g.gate }

// Chain exposes the provider chain for status reporting.
func (g *Generator) Chain() *chain.Chain { return g.chain }

// Generate always returns a non-empty candidate list unless ctx is cancelled
// (the error then matches retry.ErrCancelled) or no credential is
// configured (ErrNotConfigured). Provider failures never surface as errors.
func (g *Generator) Generate(ctx context.Context, req Request) (concepts []concept.Candidate, meta Metadata, err error) {
	start := time.Now()
	path := metrics.PathChain
	defer func() {
		meta.ProcessingTime = time.Since(start)
		if err == nil {
			g.recorder.ObserveGeneration(path, meta.ProcessingTime)
		}
	}()

	if !g.Configured() {
		return nil, meta, ErrNotConfigured
	}

	if blocked, remaining := g.gate.Check(); blocked {
		path = metrics.PathCooldown
		meta.CooldownFallback = true
		meta.CooldownRemaining = remaining
		g.recorder.ObserveShortCircuit()
		slog.Info("cooldown active, skipping providers",
			"handle", req.Handle.ID,
			"remaining", remaining.Round(time.Millisecond),
		)
		return concept.Merge(req.Folklore, []concept.Candidate{concept.Placeholder(concept.LabelRateLimitFallback)}), meta, nil
	}

	prompt := g.composer.Compose(req.Handle.Text, req.Answers, req.Folklore)
	out, err := g.chain.Run(ctx, prompt, composer.OutputSchema())
	meta.Failures = len(out.Failures)
	if err != nil {
		return nil, meta, fmt.Errorf("generating concepts: %w", err)
	}
	if out.OK() {
		meta.Credential = out.Credential.String()
	}

	parsed := repair.Parse(out.Text)
	meta.Shape = parsed.Shape.String()
	g.recorder.ObserveParse(meta.Shape)

	concepts = concept.Merge(req.Folklore, parsed.Candidates)
	slog.Debug("generation complete",
		"handle", req.Handle.ID,
		"credential", meta.Credential,
		"shape", meta.Shape,
		"failures", meta.Failures,
		"concepts", len(concepts),
	)
	return concepts, meta, nil
}

type nopRecorder struct{}

func (nopRecorder) ObserveShortCircuit()                    {}
func (nopRecorder) ObserveParse(string)                     {}
func (nopRecorder) ObserveGeneration(string, time.Duration) {}
