package oracle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skelly-dev/sumtree/internal/chunk"
	"github.com/skelly-dev/sumtree/internal/tokens"
)

type recorder struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string, call int) (string, error)
}

func (r *recorder) gen() GeneratorFunc {
	return func(ctx context.Context, prompt string, maxTokens int) (string, error) {
		r.mu.Lock()
		r.prompts = append(r.prompts, prompt)
		call := len(r.prompts)
		r.mu.Unlock()
		return r.reply(prompt, call)
	}
}

func (r *recorder) count(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

func fastOptions() Options {
	return Options{Backoff: time.Millisecond, Timeout: time.Second}
}

func TestClient_SummarizeTrimsOutput(t *testing.T) {
	rec := &recorder{reply: func(string, int) (string, error) { return "  concise  \n", nil }}
	c := NewClient(rec.gen(), tokens.Estimator{}, fastOptions())

	out, err := c.Summarize(context.Background(), "prompt", 50)
	require.NoError(t, err)
	require.Equal(t, "concise", out)
	require.EqualValues(t, 1, c.Calls())
}

func TestClient_RetriesThenSucceeds(t *testing.T) {
	rec := &recorder{reply: func(_ string, call int) (string, error) {
		if call < 3 {
			return "", errors.New("rate limited")
		}
		return "ok", nil
	}}
	opts := fastOptions()
	opts.Retries = 3
	c := NewClient(rec.gen(), tokens.Estimator{}, opts)

	out, err := c.Summarize(context.Background(), "prompt", 50)
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.EqualValues(t, 3, c.Calls())
}

func TestClient_EmptyResponseIsRetried(t *testing.T) {
	rec := &recorder{reply: func(_ string, call int) (string, error) {
		if call == 1 {
			return "   ", nil
		}
		return "filled", nil
	}}
	opts := fastOptions()
	opts.Retries = 1
	c := NewClient(rec.gen(), tokens.Estimator{}, opts)

	out, err := c.Summarize(context.Background(), "prompt", 50)
	require.NoError(t, err)
	require.Equal(t, "filled", out)
}

func TestClient_ExhaustedRetriesReturnError(t *testing.T) {
	boom := errors.New("upstream down")
	rec := &recorder{reply: func(string, int) (string, error) { return "", boom }}
	opts := fastOptions()
	opts.Retries = 2
	c := NewClient(rec.gen(), tokens.Estimator{}, opts)

	_, err := c.Summarize(context.Background(), "prompt", 50)
	require.Error(t, err)
	require.True(t, IsFailure(err))
	require.ErrorIs(t, err, boom)

	var oe *Error
	require.ErrorAs(t, err, &oe)
	require.Equal(t, 3, oe.Attempts)
	require.Equal(t, "func", oe.Provider)
}

func TestClient_CancelledContextIsNotAnOracleFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{reply: func(string, int) (string, error) {
		cancel()
		return "", errors.New("interrupted")
	}}
	opts := fastOptions()
	opts.Retries = 5
	c := NewClient(rec.gen(), tokens.Estimator{}, opts)

	_, err := c.Summarize(ctx, "prompt", 50)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, IsFailure(err))
	require.EqualValues(t, 1, c.Calls())
}

func TestClient_SummarizeLongMapsThenReduces(t *testing.T) {
	rec := &recorder{reply: func(prompt string, _ int) (string, error) {
		if strings.Contains(prompt, "Consolidate") {
			return "final", nil
		}
		return "part", nil
	}}
	opts := fastOptions()
	opts.ContextWindow = 200
	opts.ChunkTokens = 20
	c := NewClient(rec.gen(), tokens.Estimator{}, opts)

	text := strings.Repeat("line of code here\n", 20)
	expected := chunk.NewSplitter(tokens.Estimator{}, 20, nil).Split(context.Background(), "x.txt", text)
	require.Greater(t, len(expected), 1)

	out, err := c.SummarizeLong(context.Background(), "x.txt", text, 64)
	require.NoError(t, err)
	require.Equal(t, "final", out)
	require.Equal(t, len(expected), rec.count("one part of a larger"))
	require.Equal(t, 1, rec.count("Consolidate"))
}

func TestClient_SummarizeLongCollapsesOversizedPartials(t *testing.T) {
	rec := &recorder{reply: func(prompt string, _ int) (string, error) {
		if strings.Contains(prompt, "Consolidate") {
			return "merged", nil
		}
		return strings.Repeat("word ", 20), nil
	}}
	opts := fastOptions()
	opts.ContextWindow = 200
	opts.ChunkTokens = 100
	c := NewClient(rec.gen(), tokens.Estimator{}, opts)

	text := strings.Repeat("some source line\n", 240)
	out, err := c.SummarizeLong(context.Background(), "big.txt", text, 64)
	require.NoError(t, err)
	require.Equal(t, "merged", out)
	require.Greater(t, rec.count("Consolidate"), 1)
}

func TestClient_SummarizeLongPropagatesFailure(t *testing.T) {
	rec := &recorder{reply: func(string, int) (string, error) { return "", errors.New("nope") }}
	opts := fastOptions()
	opts.ContextWindow = 100
	opts.ChunkTokens = 10
	c := NewClient(rec.gen(), tokens.Estimator{}, opts)

	_, err := c.SummarizeLong(context.Background(), "x", strings.Repeat("abc def\n", 30), 32)
	require.True(t, IsFailure(err))
}

func TestNewGenerator(t *testing.T) {
	gen, err := NewGenerator(context.Background(), ProviderConfig{Provider: "offline"})
	require.NoError(t, err)
	require.Equal(t, "echo", gen.Name())

	_, err = NewGenerator(context.Background(), ProviderConfig{Provider: "mystery"})
	require.Error(t, err)

	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err = NewGenerator(context.Background(), ProviderConfig{Provider: "claude"})
	require.ErrorContains(t, err, "ANTHROPIC_API_KEY")

	gen, err = NewGenerator(context.Background(), ProviderConfig{Provider: "ollama", BaseURL: "http://127.0.0.1:11434"})
	require.NoError(t, err)
	require.Equal(t, "ollama", gen.Name())
}

func TestEcho_Deterministic(t *testing.T) {
	ctx := context.Background()
	first, err := Echo{}.Generate(ctx, "File name: a.py\nCode: x = 1", 10)
	require.NoError(t, err)
	second, err := Echo{}.Generate(ctx, "File name: a.py\nCode: x = 1", 10)
	require.NoError(t, err)
	other, err := Echo{}.Generate(ctx, "File name: a.py\nCode: x = 2", 10)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.NotEqual(t, first, other)
	require.Contains(t, first, "a.py")
}
