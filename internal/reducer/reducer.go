// Package reducer summarizes a directory tree bottom-up, reusing cached
// summaries for every node whose input has not changed.
package reducer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/skelly-dev/sumtree/internal/budget"
	"github.com/skelly-dev/sumtree/internal/ignore"
	"github.com/skelly-dev/sumtree/internal/oracle"
	"github.com/skelly-dev/sumtree/internal/prompt"
	"github.com/skelly-dev/sumtree/internal/register"
	"github.com/skelly-dev/sumtree/internal/summary"
)

var (
	ErrPathNotFound   = errors.New("path does not exist")
	ErrEmptyInput     = errors.New("nothing to summarize")
	ErrUnreadableFile = errors.New("unreadable file")
)

// RootKey is the key and path of the summarized root directory.
const RootKey = "."

// FilesKeyPrefix namespaces the reduction over a directory's own files so it
// never collides with the directory's own key.
const FilesKeyPrefix = "files@"

// FilesKey returns the key of the own-files reduction for dir.
func FilesKey(dir string) string {
	return FilesKeyPrefix + dir
}

// NodeState tracks one node through a run.
type NodeState int

const (
	Pending NodeState = iota
	Cached
	Generating
	Done
	Failed
	Empty
	Skipped
)

func (s NodeState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Cached:
		return "cached"
	case Generating:
		return "generating"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Empty:
		return "empty"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a Reducer.
type Options struct {
	BaseTokensCode      int
	BaseTokensSummaries int
	Logger              *slog.Logger
	// Progress, when set, is called after every node state change. It may be
	// called from several goroutines at once.
	Progress func(key string, state NodeState)
}

// Reducer walks one root. It is safe to call Run repeatedly, but not
// concurrently, on the same register.
type Reducer struct {
	root   string
	filter *ignore.Filter
	reg    *register.Register
	budget *budget.Budget
	oracle oracle.Oracle
	opts   Options
	log    *slog.Logger
}

func New(root string, filter *ignore.Filter, reg *register.Register, b *budget.Budget, o oracle.Oracle, opts Options) *Reducer {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Reducer{
		root:   root,
		filter: filter,
		reg:    reg,
		budget: b,
		oracle: o,
		opts:   opts,
		log:    log.With("component", "reducer"),
	}
}

// Result is the outcome of a run.
type Result struct {
	Root   summary.Summary
	States map[string]NodeState
	Stats  summary.Stats
}

// Keys returns the keys in state, sorted.
func (r *Result) Keys(state NodeState) []string {
	keys := make([]string, 0)
	for key, s := range r.States {
		if s == state {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Recomputed returns the keys that were freshly generated.
func (r *Result) Recomputed() []string {
	return r.Keys(Done)
}

// maxOpenFiles bounds concurrent file reads within one run.
const maxOpenFiles = 64

type run struct {
	*Reducer
	mu     sync.Mutex
	states map[string]NodeState
	stats  summary.Stats
	io     chan struct{}
}

// Run summarizes the tree. Nodes whose summarization fails are logged and
// left out of their parent; an empty root or a cancelled context is fatal.
func (r *Reducer) Run(ctx context.Context) (*Result, error) {
	info, err := os.Stat(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, r.root)
		}
		return nil, err
	}

	rn := &run{Reducer: r, states: make(map[string]NodeState), io: make(chan struct{}, maxOpenFiles)}
	var root summary.Summary
	if info.IsDir() {
		root, err = rn.dir(ctx, RootKey)
	} else {
		root, err = rn.file(ctx, filepath.Base(r.root), r.root)
	}
	if err != nil {
		if errors.Is(err, ErrEmptyInput) {
			return nil, fmt.Errorf("%w under %s", ErrEmptyInput, r.root)
		}
		return nil, err
	}

	rn.mu.Lock()
	defer rn.mu.Unlock()
	return &Result{Root: root, States: rn.states, Stats: rn.stats}, nil
}

func (rn *run) mark(key string, state NodeState, count func(*summary.Stats)) {
	rn.mu.Lock()
	rn.states[key] = state
	if count != nil {
		count(&rn.stats)
	}
	rn.mu.Unlock()
	if rn.opts.Progress != nil {
		rn.opts.Progress(key, state)
	}
}

func (rn *run) tally(count func(*summary.Stats)) {
	rn.mu.Lock()
	count(&rn.stats)
	rn.mu.Unlock()
}

// omitted reports whether err drops a node from its parent rather than
// aborting the run.
func omitted(err error) bool {
	return errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrUnreadableFile) || oracle.IsFailure(err)
}

func (rn *run) dir(ctx context.Context, rel string) (summary.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirs, files, err := rn.list(rel)
	if err != nil {
		if rel == RootKey {
			return nil, err
		}
		rn.log.Warn("skipping unreadable directory", "path", rel, "error", err)
		rn.mark(rel, Skipped, func(s *summary.Stats) { s.Skipped++ })
		return nil, fmt.Errorf("%w: %s", ErrUnreadableFile, rel)
	}
	rn.tally(func(s *summary.Stats) { s.Directories++ })

	subs := make([]summary.Summary, len(dirs))
	leaves := make([]summary.Summary, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range dirs {
		g.Go(func() error {
			s, err := rn.dir(gctx, d)
			if err != nil {
				if omitted(err) {
					return nil
				}
				return err
			}
			subs[i] = s
			return nil
		})
	}
	for i, f := range files {
		g.Go(func() error {
			s, err := rn.file(gctx, f, filepath.Join(rn.root, filepath.FromSlash(f)))
			if err != nil {
				if omitted(err) {
					return nil
				}
				return err
			}
			leaves[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	children := compact(subs)
	own := compact(leaves)
	switch len(own) {
	case 0:
	case 1:
		children = append(children, own[0])
	default:
		files, err := rn.reduce(ctx, FilesKey(rel), rel, own)
		if err != nil {
			if !omitted(err) {
				return nil, err
			}
		} else {
			children = append(children, files)
		}
	}

	switch len(children) {
	case 0:
		rn.mark(rel, Empty, func(s *summary.Stats) { s.Empty++ })
		return nil, fmt.Errorf("%w: %s", ErrEmptyInput, rel)
	case 1:
		return children[0], nil
	}
	return rn.reduce(ctx, rel, rel, children)
}

// list returns the root-relative paths of the sub-directories and regular
// files of rel that pass the filter, each in lexical order.
func (r *Reducer) list(rel string) (dirs, files []string, err error) {
	entries, err := os.ReadDir(filepath.Join(r.root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, nil, err
	}
	for _, entry := range entries {
		child := path.Join(rel, entry.Name())
		switch {
		case entry.IsDir():
			if r.filter.ShouldSkipDir(child) {
				r.log.Debug("skipping directory", "path", child)
				continue
			}
			dirs = append(dirs, child)
		case entry.Type().IsRegular():
			if r.filter.ShouldSkipFile(child) {
				r.log.Debug("skipping file", "path", child)
				continue
			}
			files = append(files, child)
		default:
			r.log.Debug("skipping non-regular entry", "path", child)
		}
	}
	return dirs, files, nil
}

func (rn *run) file(ctx context.Context, key, full string) (summary.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := rn.read(ctx, full)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rn.log.Warn("skipping unreadable file", "path", key, "error", err)
		rn.mark(key, Skipped, func(s *summary.Stats) { s.Skipped++ })
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableFile, key, err)
	}
	if !utf8.Valid(data) {
		rn.log.Warn("skipping file that is not valid UTF-8", "path", key)
		rn.mark(key, Skipped, func(s *summary.Stats) { s.Skipped++ })
		return nil, fmt.Errorf("%w: %s: not valid UTF-8", ErrUnreadableFile, key)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		rn.log.Debug("skipping empty file", "path", key)
		rn.mark(key, Empty, func(s *summary.Stats) { s.Empty++ })
		return nil, fmt.Errorf("%w: %s", ErrEmptyInput, key)
	}

	if text, ok := rn.cached(key, content); ok {
		rn.mark(key, Cached, func(s *summary.Stats) { s.Files++; s.CacheHits++ })
		return summary.NewLeaf(key, text), nil
	}

	rn.mark(key, Generating, nil)
	maxTokens := rn.budget.MaxOutputTokens(key, rn.opts.BaseTokensCode)
	name := path.Base(key)
	text, err := rn.generate(ctx, key, prompt.Code(name, content), name, content, maxTokens)
	if err != nil {
		return nil, err
	}
	rn.reg.Set(key, content, text)
	rn.mark(key, Done, func(s *summary.Stats) { s.Files++; s.Generated++ })
	return summary.NewLeaf(key, text), nil
}

func (rn *run) read(ctx context.Context, full string) ([]byte, error) {
	select {
	case rn.io <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-rn.io }()
	return os.ReadFile(full)
}

func (rn *run) reduce(ctx context.Context, key, rel string, children []summary.Summary) (summary.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	input := childInput(children)
	if text, ok := rn.cached(key, input); ok {
		rn.mark(key, Cached, func(s *summary.Stats) { s.CacheHits++ })
		return summary.NewInterior(key, rel, text, children)
	}

	rn.mark(key, Generating, nil)
	items := make([]prompt.Item, len(children))
	for i, child := range children {
		items[i] = prompt.Item{Name: child.Key(), Text: child.Text()}
	}
	component := rel
	if rel == RootKey {
		component = filepath.Base(rn.root)
	}
	maxTokens := rn.budget.MaxOutputTokens(rel, rn.opts.BaseTokensSummaries)
	if key == FilesKey(rel) {
		maxTokens = rn.budget.MaxOutputTokensForCount(len(children), rn.opts.BaseTokensSummaries)
	}
	text, err := rn.generate(ctx, key, prompt.Summaries(component, items), component, prompt.FormatItems(items), maxTokens)
	if err != nil {
		return nil, err
	}
	rn.reg.Set(key, input, text)
	rn.mark(key, Done, func(s *summary.Stats) { s.Generated++ })
	return summary.NewInterior(key, rel, text, children)
}

func (rn *run) cached(key, input string) (string, bool) {
	if rn.reg.IsChanged(key, input) {
		return "", false
	}
	text, err := rn.reg.Get(key)
	if err != nil {
		return "", false
	}
	return text, true
}

// generate asks the oracle for a summary, switching to the chunked path when
// the prompt does not fit the context window.
func (rn *run) generate(ctx context.Context, key, p, name, body string, maxTokens int) (string, error) {
	var (
		text string
		err  error
	)
	if rn.budget.PromptExceedsContext(p, rn.oracle.ContextWindow()) {
		rn.log.Info("prompt exceeds context window, summarizing in chunks", "key", key)
		rn.mark(key, Generating, func(s *summary.Stats) { s.Chunked++ })
		text, err = rn.oracle.SummarizeLong(ctx, name, body, maxTokens)
	} else {
		text, err = rn.oracle.Summarize(ctx, p, maxTokens)
	}
	if err != nil {
		if oracle.IsFailure(err) {
			rn.log.Warn("summarization failed, omitting node", "key", key, "error", err)
			rn.mark(key, Failed, func(s *summary.Stats) { s.Failed++ })
		}
		return "", err
	}
	return text, nil
}

// childInput is the hashed input of a reduction: the ordered child paths and
// texts as a JSON array of pairs.
func childInput(children []summary.Summary) string {
	pairs := make([][2]string, len(children))
	for i, child := range children {
		pairs[i] = [2]string{child.Path(), child.Text()}
	}
	return encodePairs(pairs)
}

func encodePairs(pairs [][2]string) string {
	data, _ := json.Marshal(pairs)
	return string(data)
}

func compact(nodes []summary.Summary) []summary.Summary {
	out := make([]summary.Summary, 0, len(nodes))
	for _, n := range nodes {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}
