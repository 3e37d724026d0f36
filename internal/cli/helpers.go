package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/skelly-dev/sumtree/internal/budget"
	"github.com/skelly-dev/sumtree/internal/chunk"
	"github.com/skelly-dev/sumtree/internal/config"
	"github.com/skelly-dev/sumtree/internal/ignore"
	"github.com/skelly-dev/sumtree/internal/logging"
	"github.com/skelly-dev/sumtree/internal/oracle"
	"github.com/skelly-dev/sumtree/internal/prompt"
	"github.com/skelly-dev/sumtree/internal/reducer"
	"github.com/skelly-dev/sumtree/internal/register"
	"github.com/skelly-dev/sumtree/internal/sink"
	"github.com/skelly-dev/sumtree/internal/summary"
	"github.com/skelly-dev/sumtree/internal/tokens"
)

// session holds everything one command needs to plan or run a summary.
type session struct {
	root      string
	cfg       *config.Config
	log       *slog.Logger
	filter    *ignore.Filter
	reg       *register.Register
	generator oracle.Generator
	client    *oracle.Client
	reducer   *reducer.Reducer
	progress  *progressReporter
}

// loadConfig resolves the root and settings for cmd.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, globalFlags, error) {
	g, err := readGlobalFlags(cmd)
	if err != nil {
		return nil, g, err
	}
	rootPath, err := resolveRoot(args)
	if err != nil {
		return nil, g, err
	}
	cfg, err := config.Load(rootPath, g.configFile, cmd.Flags())
	if err != nil {
		return nil, g, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, g, err
	}
	return cfg, g, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config, g globalFlags) *slog.Logger {
	level := logging.LevelFromString(cfg.LogLevel)
	if g.quiet || g.verbosity > 0 {
		level = logging.LevelFromVerbosity(g.verbosity, g.quiet)
	}
	return logging.NewLogger(cmd.ErrOrStderr(), level)
}

func loadFilter(cfg *config.Config) (*ignore.Filter, error) {
	dir := treeDir(cfg.Root)
	rules, err := ignore.LoadRules(dir)
	if err != nil {
		return nil, err
	}
	opts := ignore.Options{
		DirPatterns:  cfg.SkipDirs,
		FilePatterns: cfg.SkipFiles,
		Rules:        rules,
		Exclude:      generatedPaths(cfg),
	}
	if cfg.RespectGitignore {
		if opts.GitIgnore, err = ignore.LoadGitIgnore(dir); err != nil {
			return nil, err
		}
	}
	return ignore.NewFilter(opts), nil
}

// generatedPaths lists the files sumtree writes inside the tree, relative to
// it, so runs never summarize their own cache or outputs.
func generatedPaths(cfg *config.Config) []string {
	var paths []string
	for _, p := range []string{cfg.CachePath(), cfg.OutputPath()} {
		rel := relToTree(cfg.Root, p)
		if filepath.IsAbs(rel) || rel == "." {
			continue
		}
		paths = append(paths, rel)
	}
	return paths
}

// loadRegister reads the cache file. A corrupt cache is reported and
// replaced by an empty one so the run starts cold.
func loadRegister(cfg *config.Config, log *slog.Logger) (*register.Register, error) {
	reg, err := register.Load(cfg.CachePath())
	if err != nil {
		if errors.Is(err, register.ErrCorrupt) {
			log.Warn("corrupt cache file, recomputing every summary", "path", cfg.CachePath(), "error", err)
			return reg, nil
		}
		return nil, err
	}
	return reg, nil
}

func newCounter(cfg *config.Config, log *slog.Logger) tokens.Counter {
	counter, err := tokens.New(cfg.Tokenizer)
	if err != nil {
		log.Warn("tokenizer unavailable, estimating token counts", "tokenizer", cfg.Tokenizer, "error", err)
		return tokens.Estimator{}
	}
	return counter
}

// openSession builds the pipeline for cmd. Without withOracle the reducer
// can only Plan, and no provider is contacted. Callers must call close.
func openSession(cmd *cobra.Command, args []string, withOracle bool) (*session, error) {
	cfg, g, err := loadConfig(cmd, args)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.Root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", reducer.ErrPathNotFound, cfg.Root)
		}
		return nil, err
	}
	log := newLogger(cmd, cfg, g)

	filter, err := loadFilter(cfg)
	if err != nil {
		return nil, err
	}
	reg, err := loadRegister(cfg, log)
	if err != nil {
		return nil, err
	}

	s := &session{
		root:   cfg.Root,
		cfg:    cfg,
		log:    log,
		filter: filter,
		reg:    reg,
	}
	tc := newCounter(cfg, log)
	var (
		counter budget.Counter = planCounter{tc}
		o       oracle.Oracle
	)
	if withOracle {
		gen, err := oracle.NewGenerator(commandContext(cmd), cfg.ProviderConfig())
		if err != nil {
			return nil, err
		}
		s.generator = gen
		s.client = oracle.NewClient(gen, tc, oracle.Options{
			ContextWindow:     cfg.ContextWindow,
			ChunkTokens:       cfg.ChunkTokens,
			ChainTokens:       cfg.MaxTokensChain,
			Retries:           cfg.Retries,
			Timeout:           cfg.Timeout,
			Concurrency:       cfg.Concurrency,
			RequestsPerMinute: cfg.RequestsPerMinute,
			Grammars:          chunk.NewDefaultRegistry(),
			Logger:            log,
		})
		counter, o = s.client, s.client
	}

	b := budget.New(treeDir(cfg.Root), filter, counter, cfg.BudgetFactor)
	s.reducer = reducer.New(cfg.Root, filter, reg, b, o, reducer.Options{
		BaseTokensCode:      cfg.BaseTokensCode,
		BaseTokensSummaries: cfg.BaseTokensSummaries,
		Logger:              log,
		Progress: func(key string, state reducer.NodeState) {
			s.progress.Update(key, state)
		},
	})
	return s, nil
}

// planCounter counts prompt tokens when no oracle client exists.
type planCounter struct{ tokens.Counter }

func (c planCounter) CountTokens(text string) int { return c.Count(text) }

func (s *session) close() {
	if s.generator == nil {
		return
	}
	if closer, ok := s.generator.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.log.Debug("failed to close provider", "error", err)
		}
	}
}

func (s *session) saveRegister() error {
	if err := s.reg.Save(s.cfg.CachePath()); err != nil {
		return fmt.Errorf("failed to save cache: %w", err)
	}
	return nil
}

// metadata describes the run for the root of the output document.
func (s *session) metadata(stats *summary.Stats, started time.Time) *summary.Metadata {
	return &summary.Metadata{
		RunID:               uuid.NewString(),
		Time:                started.UTC(),
		Root:                s.root,
		Provider:            s.generator.Name(),
		Model:               s.cfg.ModelName(),
		ContextWindow:       s.cfg.ContextWindow,
		BaseTokensCode:      s.cfg.BaseTokensCode,
		BaseTokensSummaries: s.cfg.BaseTokensSummaries,
		BudgetFactor:        s.cfg.BudgetFactor,
		Prompts:             prompt.Templates(),
		Stats:               stats,
	}
}

// runOnce performs one summarize pass and writes its outputs. The cache is
// saved even when the run fails so finished nodes are not lost, unless the
// root itself is gone.
func (s *session) runOnce(ctx context.Context, progress *progressReporter, prune bool) (RunSummary, error) {
	started := time.Now()
	callsBefore := s.client.Calls()

	s.progress = progress
	res, runErr := s.reducer.Run(ctx)
	progress.Done()

	out := RunSummary{
		Mode:       "summarize",
		RootPath:   s.root,
		Provider:   s.generator.Name(),
		Model:      s.cfg.ModelName(),
		CacheFile:  s.cfg.CachePath(),
		OutputDir:  s.cfg.OutputPath(),
		Experiment: s.cfg.Experiment,
	}
	if runErr != nil {
		if errors.Is(runErr, reducer.ErrPathNotFound) {
			return out, runErr
		}
		if err := s.saveRegister(); err != nil {
			s.log.Error("failed to save cache after error", "error", err)
		}
		return out, runErr
	}

	if prune {
		out.PrunedKeys = s.reg.Prune()
	}
	if err := s.saveRegister(); err != nil {
		return out, err
	}

	stats := res.Stats
	stats.OracleCalls = int(s.client.Calls() - callsBefore)
	doc := summary.ToDocument(res.Root, s.metadata(&stats, started))

	formats, err := sink.ParseFormats(s.cfg.Formats)
	if err != nil {
		return out, err
	}
	if s.cfg.Experiment != "" {
		resultsPath := filepath.Join(s.cfg.OutputPath(), sink.ResultsFile)
		if err := sink.AppendExperiment(resultsPath, s.cfg.Experiment, doc); err != nil {
			return out, err
		}
		out.Written = []string{resultsPath}
	} else {
		written, err := sink.WriteAll(s.cfg.OutputPath(), doc, formats)
		if err != nil {
			return out, err
		}
		out.Written = written
	}

	out.RunID = doc.Details.RunID
	out.Stats = stats
	out.Recomputed = res.Recomputed()
	out.DurationMS = time.Since(started).Milliseconds()
	for _, f := range formats {
		out.Formats = append(out.Formats, string(f))
	}
	return out, nil
}
