package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/skelly-dev/sumtree/internal/config"
	"github.com/skelly-dev/sumtree/internal/fileutil"
	"github.com/skelly-dev/sumtree/internal/oracle"
	"github.com/skelly-dev/sumtree/internal/register"
	"github.com/skelly-dev/sumtree/internal/sink"
	"github.com/skelly-dev/sumtree/internal/tokens"
)

func RunDoctor(cmd *cobra.Command, args []string) error {
	asJSON, err := OptionalBoolFlag(cmd, "json", false)
	if err != nil {
		return err
	}
	g, err := readGlobalFlags(cmd)
	if err != nil {
		return err
	}
	rootPath, err := resolveRoot(args)
	if err != nil {
		return err
	}

	summary := DoctorSummary{Mode: "doctor", RootPath: rootPath}
	if _, err := os.Stat(rootPath); err != nil {
		summary.Problems = append(summary.Problems, fmt.Sprintf("root %s is not accessible: %v", rootPath, err))
	}

	cfg, err := config.Load(rootPath, g.configFile, cmd.Flags())
	if err != nil {
		summary.Problems = append(summary.Problems, err.Error())
		summary.Suggestions = append(summary.Suggestions, "fix the config file or run sumtree init --force")
		cfg = config.Default()
		cfg.Root = rootPath
	} else if err := cfg.Validate(); err != nil {
		summary.Problems = append(summary.Problems, err.Error())
	}
	summary.ConfigFile = cfg.File
	summary.Provider = cfg.Provider
	summary.Model = cfg.ModelName()
	if cfg.File == "" {
		summary.Suggestions = append(summary.Suggestions, "run sumtree init to write "+config.FileName)
	}

	gen, err := oracle.NewGenerator(commandContext(cmd), cfg.ProviderConfig())
	if err != nil {
		summary.Problems = append(summary.Problems, "provider: "+err.Error())
	} else if closer, ok := gen.(io.Closer); ok {
		_ = closer.Close()
	}
	if gen != nil && gen.Name() == "echo" {
		summary.Suggestions = append(summary.Suggestions, "provider echo produces placeholder summaries; set provider to a real model")
	}

	if _, err := tokens.New(cfg.Tokenizer); err != nil {
		summary.Problems = append(summary.Problems, fmt.Sprintf("tokenizer %q unavailable: %v", cfg.Tokenizer, err))
		summary.Suggestions = append(summary.Suggestions, "set tokenizer: "+tokens.EstimateName+" to count tokens offline")
	}

	reg, err := register.Load(cfg.CachePath())
	switch {
	case errors.Is(err, register.ErrCorrupt):
		summary.Problems = append(summary.Problems, "cache file is corrupt; the next run recomputes every summary")
	case err != nil:
		summary.Problems = append(summary.Problems, err.Error())
	case reg.Len() == 0:
		summary.Suggestions = append(summary.Suggestions, "run sumtree summarize to build the cache")
	}

	if formats, err := sink.ParseFormats(cfg.Formats); err == nil {
		for _, f := range formats {
			path := filepath.Join(cfg.OutputPath(), sink.BaseName+f.Extension())
			if _, err := os.Stat(path); err != nil {
				summary.Suggestions = append(summary.Suggestions, "run sumtree summarize to write "+relToTree(rootPath, path))
			}
		}
	}

	summary.Problems = fileutil.DedupeStrings(summary.Problems)
	summary.Suggestions = fileutil.DedupeStrings(summary.Suggestions)
	sort.Strings(summary.Suggestions)
	summary.Healthy = len(summary.Problems) == 0

	return PrintDoctorSummary(cmd.OutOrStdout(), summary, asJSON)
}
