package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/socialagent/internal/metrics"
)

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"rate limit", errors.New("Rate limit exceeded"), true},
		{"quota exceeded", errors.New("quota exceeded for model"), true},
		{"invalid api key", errors.New("Invalid API key"), true},
		{"401 status", errors.New("HTTP 401: not allowed"), true},
		{"403 status", errors.New("HTTP 403: forbidden"), true},
		{"wrapped error", fmt.Errorf("embed: %w", errors.New("credit balance too low")), true},
		{"404 not fatal", errors.New("HTTP 404: not found"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, isFatalAPIError(tt.err))
		})
	}
}

func TestWrapFatalError(t *testing.T) {
	fatal := errors.New("invalid api key provided")
	wrapped := wrapFatalError(fatal)
	assert.ErrorIs(t, wrapped, ErrFatalAPI)
	assert.ErrorIs(t, wrapped, fatal)

	transient := errors.New("network timeout")
	assert.Same(t, transient, wrapFatalError(transient))

	assert.NoError(t, wrapFatalError(nil))
}

// fakeLLM is a scripted llms.Model.
type fakeLLM struct {
	reply    string
	info     map[string]any
	err      error
	messages []llms.MessageContent
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply, GenerationInfo: f.info}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestModel_GenerateWithSystem(t *testing.T) {
	collector := metrics.NewCollector()
	fake := &fakeLLM{reply: "gm", info: map[string]any{"PromptTokens": 12, "CompletionTokens": 3}}
	m := NewModelFrom(fake, "test-model", collector)

	out, err := m.GenerateWithSystem(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "gm", out)
	require.Len(t, fake.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, fake.messages[0].Role)
	assert.Equal(t, "test-model", m.Model())

	gen := collector.Snapshot().Operations[metrics.OpLLMGenerate]
	require.NotNil(t, gen.InputTokens)
	assert.Equal(t, int64(12), *gen.InputTokens)
	assert.Equal(t, int64(3), *gen.OutputTokens)
}

func TestModel_GenerateFatalError(t *testing.T) {
	m := NewModelFrom(&fakeLLM{err: errors.New("401 unauthorized")}, "m", nil)

	_, err := m.Generate(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalAPI)
}

type fakeEmbeddings struct {
	dim int
	err error
}

func (f fakeEmbeddings) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f fakeEmbeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func TestEmbedder(t *testing.T) {
	collector := metrics.NewCollector()
	e := NewEmbedderFrom(fakeEmbeddings{dim: 4}, "mini", 4, collector)

	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, v, 4)

	batch, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	empty, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.Equal(t, int64(2), collector.Snapshot().Operations[metrics.OpEmbedding].Count)
	assert.Equal(t, "mini", e.Model())
	assert.Equal(t, 4, e.Dimension())
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	e := NewEmbedderFrom(fakeEmbeddings{dim: 3}, "mini", 4, nil)

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestEmbedder_ProviderError(t *testing.T) {
	e := NewEmbedderFrom(fakeEmbeddings{err: errors.New("quota exceeded")}, "mini", 4, nil)

	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrFatalAPI)
}
