// Package config loads sumtree settings from defaults, a YAML file, the
// environment and command flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/skelly-dev/sumtree/internal/budget"
	"github.com/skelly-dev/sumtree/internal/fileutil"
	"github.com/skelly-dev/sumtree/internal/ignore"
	"github.com/skelly-dev/sumtree/internal/oracle"
	"github.com/skelly-dev/sumtree/internal/register"
	"github.com/skelly-dev/sumtree/internal/sink"
	"github.com/skelly-dev/sumtree/internal/tokens"
)

const (
	// FileName is looked up in the summarized root when no file is given.
	FileName = ".sumtree.yaml"
	// EnvPrefix prefixes every environment override, e.g. SUMTREE_MODEL.
	EnvPrefix = "SUMTREE"
	// DefaultOutputDir is relative to the summarized root.
	DefaultOutputDir = ".sumtree"
)

// Config is the complete set of run settings.
type Config struct {
	Provider            string        `mapstructure:"provider" yaml:"provider"`
	Model               string        `mapstructure:"model" yaml:"model,omitempty"`
	BaseURL             string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Temperature         float64       `mapstructure:"temperature" yaml:"temperature"`
	ContextWindow       int           `mapstructure:"context_window" yaml:"context_window"`
	BaseTokensCode      int           `mapstructure:"base_tokens_code" yaml:"base_tokens_code"`
	BaseTokensSummaries int           `mapstructure:"base_tokens_summaries" yaml:"base_tokens_summaries"`
	BudgetFactor        float64       `mapstructure:"budget_factor" yaml:"budget_factor"`
	ChunkTokens         int           `mapstructure:"chunk_tokens" yaml:"chunk_tokens"`
	MaxTokensChain      int           `mapstructure:"max_tokens_chain" yaml:"max_tokens_chain"`
	CacheFile           string        `mapstructure:"cache_file" yaml:"cache_file"`
	OutputDir           string        `mapstructure:"output_dir" yaml:"output_dir"`
	Formats             []string      `mapstructure:"formats" yaml:"formats"`
	Experiment          string        `mapstructure:"experiment" yaml:"experiment,omitempty"`
	Concurrency         int           `mapstructure:"concurrency" yaml:"concurrency"`
	Timeout             time.Duration `mapstructure:"timeout" yaml:"-"`
	Retries             int           `mapstructure:"retries" yaml:"retries"`
	RequestsPerMinute   int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	SkipDirs            []string      `mapstructure:"skip_dirs" yaml:"skip_dirs"`
	SkipFiles           []string      `mapstructure:"skip_files" yaml:"skip_files"`
	RespectGitignore    bool          `mapstructure:"respect_gitignore" yaml:"respect_gitignore"`
	Tokenizer           string        `mapstructure:"tokenizer" yaml:"tokenizer"`
	LogLevel            string        `mapstructure:"log_level" yaml:"log_level"`

	// Root is the summarized directory; set by Load, never read from file.
	Root string `mapstructure:"-" yaml:"-"`
	// File is the config file that was read, empty when none existed.
	File string `mapstructure:"-" yaml:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Provider:            "echo",
		Temperature:         0.2,
		ContextWindow:       oracle.DefaultContextWindow,
		BaseTokensCode:      100,
		BaseTokensSummaries: 150,
		BudgetFactor:        budget.DefaultFactor,
		CacheFile:           register.DefaultFile,
		OutputDir:           DefaultOutputDir,
		Formats:             []string{string(sink.JSON)},
		Concurrency:         oracle.DefaultConcurrency,
		Timeout:             oracle.DefaultTimeout,
		Retries:             oracle.DefaultRetries,
		SkipDirs:            slices.Clone(ignore.DefaultDirPatterns),
		SkipFiles:           slices.Clone(ignore.DefaultFilePatterns),
		RespectGitignore:    true,
		Tokenizer:           tokens.DefaultEncoding,
		LogLevel:            "warn",
	}
}

// FlagBindings maps command flag names onto config keys.
var FlagBindings = map[string]string{
	"provider":    "provider",
	"model":       "model",
	"cache":       "cache_file",
	"output-dir":  "output_dir",
	"format":      "formats",
	"concurrency": "concurrency",
	"experiment":  "experiment",
}

// Load resolves settings for the tree at rootPath. explicitFile, when set,
// must exist; otherwise <root>/.sumtree.yaml is read if present. Flags in
// flags that the user changed override everything else.
func Load(rootPath, explicitFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if explicitFile != "" {
		v.SetConfigFile(explicitFile)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(baseDir(rootPath))
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for flagName, key := range FlagBindings {
			if f := flags.Lookup(flagName); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind --%s: %w", flagName, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicitFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Root = rootPath
	cfg.File = v.ConfigFileUsed()
	cfg.Provider = oracle.NormalizeProvider(cfg.Provider)
	cfg.Formats = splitList(cfg.Formats)
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("provider", d.Provider)
	v.SetDefault("model", d.Model)
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("temperature", d.Temperature)
	v.SetDefault("context_window", d.ContextWindow)
	v.SetDefault("base_tokens_code", d.BaseTokensCode)
	v.SetDefault("base_tokens_summaries", d.BaseTokensSummaries)
	v.SetDefault("budget_factor", d.BudgetFactor)
	v.SetDefault("chunk_tokens", d.ChunkTokens)
	v.SetDefault("max_tokens_chain", d.MaxTokensChain)
	v.SetDefault("cache_file", d.CacheFile)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("formats", d.Formats)
	v.SetDefault("experiment", d.Experiment)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("retries", d.Retries)
	v.SetDefault("requests_per_minute", d.RequestsPerMinute)
	v.SetDefault("skip_dirs", d.SkipDirs)
	v.SetDefault("skip_files", d.SkipFiles)
	v.SetDefault("respect_gitignore", d.RespectGitignore)
	v.SetDefault("tokenizer", d.Tokenizer)
	v.SetDefault("log_level", d.LogLevel)
}

// splitList flattens comma-separated entries, which is how list values
// arrive from flags and the environment.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return fileutil.DedupeStrings(out)
}

// Validate reports the first invalid setting as an *Error.
func (c *Config) Validate() error {
	if !slices.Contains(oracle.Providers(), oracle.NormalizeProvider(c.Provider)) {
		return &Error{Field: "provider", Message: fmt.Sprintf("unknown provider %q (expected one of %s)", c.Provider, strings.Join(oracle.Providers(), ", "))}
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return &Error{Field: "temperature", Message: "must be between 0 and 2"}
	}
	if c.ContextWindow <= 0 {
		return &Error{Field: "context_window", Message: "must be positive"}
	}
	if c.BaseTokensCode <= 0 {
		return &Error{Field: "base_tokens_code", Message: "must be positive"}
	}
	if c.BaseTokensSummaries <= 0 {
		return &Error{Field: "base_tokens_summaries", Message: "must be positive"}
	}
	if c.BudgetFactor < 0 {
		return &Error{Field: "budget_factor", Message: "must not be negative"}
	}
	if c.ChunkTokens < 0 || c.ChunkTokens > c.ContextWindow {
		return &Error{Field: "chunk_tokens", Message: "must be between 0 and context_window"}
	}
	if c.MaxTokensChain < 0 {
		return &Error{Field: "max_tokens_chain", Message: "must not be negative"}
	}
	if strings.TrimSpace(c.CacheFile) == "" {
		return &Error{Field: "cache_file", Message: "must not be empty"}
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return &Error{Field: "output_dir", Message: "must not be empty"}
	}
	if _, err := sink.ParseFormats(c.Formats); err != nil {
		return &Error{Field: "formats", Message: err.Error()}
	}
	if len(splitList(c.Formats)) == 0 {
		return &Error{Field: "formats", Message: "at least one format is required"}
	}
	if c.Concurrency <= 0 {
		return &Error{Field: "concurrency", Message: "must be positive"}
	}
	if c.Timeout <= 0 {
		return &Error{Field: "timeout", Message: "must be positive"}
	}
	if c.Retries < 0 {
		return &Error{Field: "retries", Message: "must not be negative"}
	}
	if c.RequestsPerMinute < 0 {
		return &Error{Field: "requests_per_minute", Message: "must not be negative"}
	}
	if strings.TrimSpace(c.Tokenizer) == "" {
		return &Error{Field: "tokenizer", Message: "must not be empty"}
	}
	return nil
}

// CachePath resolves the cache file against Root.
func (c *Config) CachePath() string {
	return c.resolve(c.CacheFile)
}

// OutputPath resolves the output directory against Root.
func (c *Config) OutputPath() string {
	return c.resolve(c.OutputDir)
}

func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir(c.Root), p)
}

// baseDir is root itself, or its parent when root is a single file.
func baseDir(root string) string {
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		return filepath.Dir(root)
	}
	return root
}

// ProviderConfig returns the backend selection for oracle.NewGenerator.
func (c *Config) ProviderConfig() oracle.ProviderConfig {
	return oracle.ProviderConfig{
		Provider:    c.Provider,
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
	}
}

// ModelName is the configured model or the provider's default.
func (c *Config) ModelName() string {
	if c.Model != "" {
		return c.Model
	}
	return oracle.DefaultModels[oracle.NormalizeProvider(c.Provider)]
}

// MarshalYAML writes Timeout as a duration string.
func (c Config) MarshalYAML() (any, error) {
	type plain Config
	return struct {
		plain   `yaml:",inline"`
		Timeout string `yaml:"timeout"`
	}{plain: plain(c), Timeout: c.Timeout.String()}, nil
}

// WriteFile writes c as YAML to path.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return fileutil.WriteFileAtomic(path, data, 0644)
}

// Error describes one invalid setting.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
