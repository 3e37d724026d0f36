package oracle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/skelly-dev/sumtree/internal/chunk"
	"github.com/skelly-dev/sumtree/internal/prompt"
	"github.com/skelly-dev/sumtree/internal/tokens"
)

const (
	DefaultContextWindow = 8192
	DefaultRetries       = 3
	DefaultBackoff       = 2 * time.Second
	DefaultTimeout       = 2 * time.Minute
	DefaultConcurrency   = 4
	// DefaultCollapseDepth bounds how many times partial summaries are
	// re-reduced when they still exceed the context window.
	DefaultCollapseDepth = 4
)

// Options tunes a Client. Zero values select the defaults above.
type Options struct {
	ContextWindow int
	// ChunkTokens is the chunk size for SummarizeLong; defaults to half the
	// context window.
	ChunkTokens int
	// ChainTokens caps the output of intermediate map and collapse calls;
	// zero uses the caller's limit.
	ChainTokens int
	// Retries is the number of extra attempts after a failure; zero disables
	// retrying.
	Retries           int
	Backoff           time.Duration
	Timeout           time.Duration
	Concurrency       int
	RequestsPerMinute int
	CollapseDepth     int
	Grammars          *chunk.Registry
	Logger            *slog.Logger
}

// Client is the Oracle used by the reducer. It bounds concurrent model calls,
// applies a request rate limit and retries failures with exponential backoff.
type Client struct {
	gen      Generator
	counter  tokens.Counter
	splitter *chunk.Splitter
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	opts     Options
	log      *slog.Logger
	calls    atomic.Int64
}

func NewClient(gen Generator, counter tokens.Counter, opts Options) *Client {
	if opts.ContextWindow <= 0 {
		opts.ContextWindow = DefaultContextWindow
	}
	if opts.ChunkTokens <= 0 {
		opts.ChunkTokens = opts.ContextWindow / 2
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.CollapseDepth <= 0 {
		opts.CollapseDepth = DefaultCollapseDepth
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Client{
		gen:      gen,
		counter:  counter,
		splitter: chunk.NewSplitter(counter, opts.ChunkTokens, opts.Grammars),
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		limiter:  limiter,
		opts:     opts,
		log:      log.With("component", "oracle", "provider", gen.Name()),
	}
}

func (c *Client) CountTokens(text string) int {
	return c.counter.Count(text)
}

func (c *Client) ContextWindow() int {
	return c.opts.ContextWindow
}

// Calls reports how many generation attempts were sent to the backend.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

func (c *Client) Summarize(ctx context.Context, p string, maxTokens int) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.sem.Release(1)

	attempts := c.opts.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		text, err := c.generate(ctx, p, maxTokens)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		delay := c.opts.Backoff << (attempt - 1)
		c.log.Warn("model call failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", &Error{Provider: c.gen.Name(), Attempts: attempts, Err: lastErr}
}

func (c *Client) generate(ctx context.Context, p string, maxTokens int) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	c.calls.Add(1)
	text, err := c.gen.Generate(callCtx, p, maxTokens)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errEmptyResponse
	}
	return text, nil
}

// SummarizeLong maps every chunk of text to a partial summary, then reduces
// the partials into one summary.
func (c *Client) SummarizeLong(ctx context.Context, name, text string, maxTokens int) (string, error) {
	chunks := c.splitter.Split(ctx, name, text)
	if len(chunks) == 0 {
		return "", &Error{Provider: c.gen.Name(), Err: errors.New("nothing to summarize")}
	}
	c.log.Debug("summarizing in chunks", "name", name, "chunks", len(chunks))

	partials, err := c.mapChunks(ctx, chunks, prompt.Map, c.chainTokens(maxTokens))
	if err != nil {
		return "", err
	}
	return c.reduce(ctx, partials, maxTokens, 0)
}

func (c *Client) chainTokens(maxTokens int) int {
	if c.opts.ChainTokens > 0 {
		return c.opts.ChainTokens
	}
	return maxTokens
}

func (c *Client) mapChunks(ctx context.Context, chunks []string, build func(string) string, maxTokens int) ([]string, error) {
	partials := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	for i, piece := range chunks {
		g.Go(func() error {
			out, err := c.Summarize(gctx, build(piece), maxTokens)
			if err != nil {
				return err
			}
			partials[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return partials, nil
}

func (c *Client) reduce(ctx context.Context, partials []string, maxTokens, depth int) (string, error) {
	p := prompt.Reduce(partials)
	if len(partials) == 1 || depth >= c.opts.CollapseDepth || c.counter.Count(p) <= c.opts.ContextWindow {
		return c.Summarize(ctx, p, maxTokens)
	}

	groups := c.splitter.Split(ctx, "", strings.Join(partials, "\n\n"))
	if len(groups) >= len(partials) {
		// Splitting made no progress; reduce what fits.
		return c.Summarize(ctx, p, maxTokens)
	}
	collapsed, err := c.mapChunks(ctx, groups, func(group string) string {
		return prompt.Reduce([]string{group})
	}, c.chainTokens(maxTokens))
	if err != nil {
		return "", err
	}
	return c.reduce(ctx, collapsed, maxTokens, depth+1)
}
