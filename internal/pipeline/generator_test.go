package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bakebake-xr/bakebake/internal/chain"
	"github.com/bakebake-xr/bakebake/internal/concept"
	"github.com/bakebake-xr/bakebake/internal/cooldown"
	"github.com/bakebake-xr/bakebake/internal/provider"
	"github.com/bakebake-xr/bakebake/internal/retry"
)

// --- mock provider ---

type mockProvider struct {
	mu         sync.Mutex
	calls      int
	generateFn func(ctx context.Context, prompt string) (string, error)
}

func (m *mockProvider) Generate(ctx context.Context, prompt string, hint *provider.Schema) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.generateFn != nil {
		return m.generateFn(ctx, prompt)
	}
	return "", nil
}

func (m *mockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func answering(text string) *mockProvider {
	return &mockProvider{generateFn: func(context.Context, string) (string, error) { return text, nil }}
}

func failingWith(err error) *mockProvider {
	return &mockProvider{generateFn: func(context.Context, string) (string, error) { return "", err }}
}

var (
	errRateLimited = &provider.Error{Provider: "gemini", StatusCode: 429, Status: "RESOURCE_EXHAUSTED"}
	errServer      = &provider.Error{Provider: "gemini", StatusCode: 500, Message: "internal"}
)

// --- mock recorder ---

type mockRecorder struct {
	mu            sync.Mutex
	shortCircuits int
	shapes        []string
	paths         []string
}

func (m *mockRecorder) ObserveShortCircuit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortCircuits++
}

func (m *mockRecorder) ObserveParse(shape string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shapes = append(m.shapes, shape)
}

func (m *mockRecorder) ObserveGeneration(path string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths = append(m.paths, path)
}

type fixture struct {
	gen   *Generator
	gate  *cooldown.Gate
	clock *clock.Mock
	rec   *mockRecorder
}

func newFixture(primary []provider.Generator, secondary provider.Generator) fixture {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC))
	gate := cooldown.New(cooldown.WithClock(mock))

	cfg := chain.Config{MaxAttempts: 3}
	for i, p := range primary {
		cfg.Primary = append(cfg.Primary, chain.Link{
			Credential: provider.Credential{Provider: "gemini", Key: "k", Rank: i},
			Generator:  p,
		})
	}
	if secondary != nil {
		cfg.Secondary = &chain.Link{
			Credential: provider.Credential{Provider: "openrouter", Key: "k"},
			Generator:  secondary,
		}
	}

	rec := &mockRecorder{}
	return fixture{
		gen:   NewGenerator(gate, chain.New(gate, cfg), nil, rec),
		gate:  gate,
		clock: mock,
		rec:   rec,
	}
}

func request(hits ...concept.FolkloreHit) Request {
	return Request{
		Handle:   Handle{ID: "visitor-1", Text: "夜道で名前を呼ばれた"},
		Answers:  map[string]string{"where": "川辺", "when": "夕暮れ"},
		Folklore: hits,
	}
}

func TestGenerate_RetrievalCandidateFirst(t *testing.T) {
	f := newFixture([]provider.Generator{answering(`[{"name":"呼び声","reading":"よびごえ"}]`)}, nil)

	got, meta, err := f.gen.Generate(context.Background(), request(
		concept.FolkloreHit{ID: "f1", KaiiName: "封じ蔵", Content: "..."},
	))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), 1)

	assert.Equal(t, concept.SourceRetrieval, got[0].Source)
	assert.Equal(t, "封じ蔵", got[0].Name)
	assert.Equal(t, concept.LabelDatabase, got[0].Label)
	assert.Equal(t, "f1", got[0].FolkloreRef)

	require.Len(t, got, 2)
	assert.Equal(t, concept.SourceGenerative, got[1].Source)
	assert.Equal(t, "呼び声", got[1].Name)

	assert.False(t, meta.CooldownFallback)
	assert.Equal(t, "gemini#0", meta.Credential)
	assert.Equal(t, "many", meta.Shape)
}

func TestGenerate_PromptCarriesRequest(t *testing.T) {
	var seen string
	p := &mockProvider{generateFn: func(_ context.Context, prompt string) (string, error) {
		seen = prompt
		return `{"name":"x"}`, nil
	}}
	f := newFixture([]provider.Generator{p}, nil)

	_, _, err := f.gen.Generate(context.Background(), request(concept.FolkloreHit{ID: "f1", KaiiName: "封じ蔵"}))
	require.NoError(t, err)
	assert.Contains(t, seen, "夜道で名前を呼ばれた")
	assert.Contains(t, seen, "- where: 川辺")
	assert.Contains(t, seen, "封じ蔵")
}

func TestGenerate_ChainExhaustedYieldsFallback(t *testing.T) {
	f := newFixture(
		[]provider.Generator{failingWith(errServer), failingWith(errServer)},
		failingWith(errServer),
	)

	got, meta, err := f.gen.Generate(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, concept.SourceGenerative, got[0].Source)
	assert.Equal(t, concept.LabelFallback, got[0].Label)
	assert.Equal(t, "none", meta.Shape)
	assert.Equal(t, 3, meta.Failures)
	assert.Empty(t, meta.Credential)
}

func TestGenerate_CooldownWindowSkipsProviders(t *testing.T) {
	a, b := failingWith(errRateLimited), answering(`[{"name":"b"}]`)
	f := newFixture([]provider.Generator{a, b}, nil)

	// The first request observes the rate limit but still succeeds on B.
	got, meta, err := f.gen.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "b", got[0].Name)
	assert.False(t, meta.CooldownFallback)
	tripped := f.clock.Now()

	for _, offset := range []time.Duration{0, time.Millisecond, 20 * time.Second, 44999 * time.Millisecond} {
		f.clock.Set(tripped.Add(offset))
		got, meta, err := f.gen.Generate(context.Background(), request(concept.FolkloreHit{ID: "f1", KaiiName: "封じ蔵"}))
		require.NoError(t, err)
		assert.True(t, meta.CooldownFallback, "offset %v", offset)
		require.Len(t, got, 2)
		assert.Equal(t, concept.SourceRetrieval, got[0].Source)
		assert.Equal(t, concept.LabelRateLimitFallback, got[1].Label)
		assert.Equal(t, concept.SourceGenerative, got[1].Source)
	}
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 1, b.Calls())
	assert.Equal(t, 4, f.rec.shortCircuits)

	f.clock.Set(tripped.Add(45 * time.Second))
	_, meta, err = f.gen.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, meta.CooldownFallback)
	assert.Equal(t, 2, a.Calls())
}

func TestGenerate_SuccessClearsCooldownForNextRequest(t *testing.T) {
	var f fixture
	// Another request trips the gate while this call is in flight.
	p := &mockProvider{generateFn: func(context.Context, string) (string, error) {
		f.gate.Trip()
		return `[{"name":"ok"}]`, nil
	}}
	f = newFixture([]provider.Generator{p}, nil)

	_, _, err := f.gen.Generate(context.Background(), request())
	require.NoError(t, err)

	f.clock.Add(time.Millisecond)
	_, meta, err := f.gen.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, meta.CooldownFallback)
	assert.Equal(t, 2, p.Calls())
}

func TestGenerate_NeverEmpty(t *testing.T) {
	providers := map[string]func() ([]provider.Generator, provider.Generator){
		"healthy":      func() ([]provider.Generator, provider.Generator) { return []provider.Generator{answering(`[{"name":"a"}]`)}, nil },
		"garbage":      func() ([]provider.Generator, provider.Generator) { return []provider.Generator{answering("no json here")}, nil },
		"empty":        func() ([]provider.Generator, provider.Generator) { return []provider.Generator{answering("")}, nil },
		"down":         func() ([]provider.Generator, provider.Generator) { return []provider.Generator{failingWith(errServer)}, nil },
		"rate limited": func() ([]provider.Generator, provider.Generator) { return []provider.Generator{failingWith(errRateLimited)}, nil },
		"secondary only": func() ([]provider.Generator, provider.Generator) {
			return nil, answering(`{"name":"s"}`)
		},
	}

	for name, build := range providers {
		for n := 0; n <= 3; n++ {
			t.Run(fmt.Sprintf("%s/%d hits", name, n), func(t *testing.T) {
				primary, secondary := build()
				f := newFixture(primary, secondary)
				hits := make([]concept.FolkloreHit, n)
				for i := range hits {
					hits[i] = concept.FolkloreHit{ID: fmt.Sprintf("f%d", i), KaiiName: "妖"}
				}

				// Second call exercises the cooldown path where applicable.
				for i := 0; i < 2; i++ {
					got, _, err := f.gen.Generate(context.Background(), request(hits...))
					require.NoError(t, err)
					assert.NotEmpty(t, got)
					assert.LessOrEqual(t, countSource(got, concept.SourceRetrieval), concept.MaxRetrievalCandidates)
				}
			})
		}
	}
}

func countSource(cs []concept.Candidate, s concept.Source) int {
	n := 0
	for _, c := range cs {
		if c.Source == s {
			n++
		}
	}
	return n
}

func TestGenerate_NotConfigured(t *testing.T) {
	f := newFixture(nil, nil)
	assert.False(t, f.gen.Configured())

	_, _, err := f.gen.Generate(context.Background(), request())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGenerate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &mockProvider{generateFn: func(ctx context.Context, _ string) (string, error) {
		cancel()
		return "", &provider.Error{Provider: "gemini", Err: ctx.Err()}
	}}
	next := answering("[]")
	f := newFixture([]provider.Generator{p, next}, nil)

	got, _, err := f.gen.Generate(ctx, request())
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrCancelled)
	assert.Nil(t, got)
	assert.Zero(t, next.Calls())
	assert.Empty(t, f.rec.paths)
}

func TestGenerate_RecordsTelemetry(t *testing.T) {
	f := newFixture([]provider.Generator{answering(`{"name":"x"}`)}, nil)

	_, meta, err := f.gen.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, meta.ProcessingTime, time.Duration(0))
	assert.Equal(t, []string{"single"}, f.rec.shapes)
	assert.Equal(t, []string{"chain"}, f.rec.paths)
}
