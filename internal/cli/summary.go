package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/skelly-dev/sumtree/internal/fileutil"
	"github.com/skelly-dev/sumtree/internal/summary"
)

type RunSummary struct {
	Mode       string        `json:"mode"`
	RunID      string        `json:"run_id,omitempty"`
	RootPath   string        `json:"root_path"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	CacheFile  string        `json:"cache_file"`
	OutputDir  string        `json:"output_dir"`
	Formats    []string      `json:"formats,omitempty"`
	Experiment string        `json:"experiment,omitempty"`
	Stats      summary.Stats `json:"stats"`
	DurationMS int64         `json:"duration_ms"`
	Recomputed []string      `json:"recomputed,omitempty"`
	PrunedKeys []string      `json:"pruned,omitempty"`
	Written    []string      `json:"written,omitempty"`
}

type StatusSummary struct {
	Mode         string   `json:"mode"`
	RootPath     string   `json:"root_path"`
	CacheFile    string   `json:"cache_file"`
	CacheEntries int      `json:"cache_entries"`
	Nodes        int      `json:"nodes"`
	Stale        int      `json:"stale"`
	Fresh        int      `json:"fresh"`
	Clean        bool     `json:"clean"`
	DurationMS   int64    `json:"duration_ms"`
	StaleKeys    []string `json:"stale_keys,omitempty"`
	SkippedFiles []string `json:"skipped_files,omitempty"`
	OrphanedKeys []string `json:"orphaned_keys,omitempty"`
}

type DoctorSummary struct {
	Mode        string   `json:"mode"`
	RootPath    string   `json:"root_path"`
	ConfigFile  string   `json:"config_file,omitempty"`
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Healthy     bool     `json:"healthy"`
	Problems    []string `json:"problems,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func PrintRunSummary(w io.Writer, s RunSummary, asJSON bool) error {
	if asJSON {
		return fileutil.PrintJSON(w, s)
	}

	fmt.Fprintf(w, "%s complete in %dms (provider=%s model=%s)\n", s.Mode, s.DurationMS, s.Provider, s.Model)
	fmt.Fprintf(w, "nodes: files=%d directories=%d cache_hits=%d generated=%d chunked=%d\n",
		s.Stats.Files, s.Stats.Directories, s.Stats.CacheHits, s.Stats.Generated, s.Stats.Chunked)
	fmt.Fprintf(w, "omitted: failed=%d skipped=%d empty=%d oracle_calls=%d\n",
		s.Stats.Failed, s.Stats.Skipped, s.Stats.Empty, s.Stats.OracleCalls)
	if len(s.Recomputed) > 0 {
		fmt.Fprintf(w, "recomputed (%d): %s\n", len(s.Recomputed), SummarizePaths(s.Recomputed, 8))
	}
	if len(s.PrunedKeys) > 0 {
		fmt.Fprintf(w, "pruned (%d): %s\n", len(s.PrunedKeys), SummarizePaths(s.PrunedKeys, 8))
	}
	if s.Experiment != "" {
		fmt.Fprintf(w, "experiment: %s\n", s.Experiment)
	}
	if len(s.Written) > 0 {
		fmt.Fprintf(w, "output: %s\n", strings.Join(s.Written, ", "))
	} else {
		fmt.Fprintf(w, "output: %s (unchanged)\n", s.OutputDir)
	}
	return nil
}

func PrintStatusSummary(w io.Writer, s StatusSummary, asJSON bool) error {
	if asJSON {
		return fileutil.PrintJSON(w, s)
	}

	fmt.Fprintf(w, "status: nodes=%d stale=%d fresh=%d cache_entries=%d duration=%dms\n",
		s.Nodes, s.Stale, s.Fresh, s.CacheEntries, s.DurationMS)
	if s.Clean {
		fmt.Fprintln(w, "all summaries are up to date")
	}
	if len(s.StaleKeys) > 0 {
		fmt.Fprintf(w, "would regenerate (%d): %s\n", len(s.StaleKeys), SummarizePaths(s.StaleKeys, 8))
	}
	if len(s.SkippedFiles) > 0 {
		fmt.Fprintf(w, "skipped files (%d): %s\n", len(s.SkippedFiles), SummarizePaths(s.SkippedFiles, 8))
	}
	if len(s.OrphanedKeys) > 0 {
		fmt.Fprintf(w, "orphaned cache entries (%d): %s\n", len(s.OrphanedKeys), SummarizePaths(s.OrphanedKeys, 8))
	}
	return nil
}

func PrintDoctorSummary(w io.Writer, s DoctorSummary, asJSON bool) error {
	if asJSON {
		return fileutil.PrintJSON(w, s)
	}

	state := "healthy"
	if !s.Healthy {
		state = "unhealthy"
	}
	fmt.Fprintf(w, "doctor: %s (provider=%s model=%s)\n", state, s.Provider, s.Model)
	if s.ConfigFile != "" {
		fmt.Fprintf(w, "config: %s\n", s.ConfigFile)
	}
	for _, problem := range s.Problems {
		fmt.Fprintf(w, "  problem: %s\n", problem)
	}
	for _, suggestion := range s.Suggestions {
		fmt.Fprintf(w, "  suggestion: %s\n", suggestion)
	}
	return nil
}

func SummarizePaths(paths []string, max int) string {
	if len(paths) <= max {
		return strings.Join(paths, ", ")
	}
	return fmt.Sprintf("%s ... (+%d more)", strings.Join(paths[:max], ", "), len(paths)-max)
}
