package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skelly-dev/sumtree/internal/config"
	"github.com/skelly-dev/sumtree/internal/reducer"
	"github.com/skelly-dev/sumtree/internal/register"
	"github.com/skelly-dev/sumtree/internal/summary"
)

func TestSummarizeStatusFlow(t *testing.T) {
	root := projectTree(t)

	var run RunSummary
	decodeJSON(t, mustRunCLI(t, "summarize", root, "--json", "--format", "json,markdown"), &run)
	require.Equal(t, "echo", run.Provider)
	require.Equal(t, 2, run.Stats.Files)
	require.Equal(t, 3, run.Stats.Generated)
	require.Equal(t, 3, run.Stats.OracleCalls)
	require.NotEmpty(t, run.RunID)
	require.Equal(t, []string{"json", "markdown"}, run.Formats)
	assertExists(t, filepath.Join(root, ".sumtree", "summary.json"))
	assertExists(t, filepath.Join(root, ".sumtree", "summary.md"))
	assertExists(t, filepath.Join(root, register.DefaultFile))

	var status StatusSummary
	decodeJSON(t, mustRunCLI(t, "status", root, "--json"), &status)
	require.True(t, status.Clean)
	require.Equal(t, 3, status.Nodes)
	require.Equal(t, 3, status.CacheEntries)
	require.Empty(t, status.OrphanedKeys)

	mustWriteFile(t, filepath.Join(root, "a.py"), "def a():\n    return 2\n")
	decodeJSON(t, mustRunCLI(t, "status", root, "--json"), &status)
	require.False(t, status.Clean)
	require.Equal(t, []string{"a.py", "."}, status.StaleKeys)

	run = RunSummary{}
	decodeJSON(t, mustRunCLI(t, "summarize", root, "--json"), &run)
	require.ElementsMatch(t, status.StaleKeys, run.Recomputed)
	require.Equal(t, 1, run.Stats.CacheHits, "b/c.py is served from the cache")
	require.Equal(t, 2, run.Stats.OracleCalls)
}

func TestSummarizeIsIdempotent(t *testing.T) {
	root := projectTree(t)
	mustRunCLI(t, "summarize", root)
	first, err := os.ReadFile(filepath.Join(root, ".sumtree", "summary.json"))
	require.NoError(t, err)

	var run RunSummary
	decodeJSON(t, mustRunCLI(t, "summarize", root, "--json"), &run)
	require.Zero(t, run.Stats.OracleCalls)
	require.Empty(t, run.Recomputed)

	second, err := os.ReadFile(filepath.Join(root, ".sumtree", "summary.json"))
	require.NoError(t, err)

	var a, b summary.Document
	require.NoError(t, json.Unmarshal(first, &a))
	require.NoError(t, json.Unmarshal(second, &b))
	a.Details, b.Details = nil, nil
	require.Equal(t, a, b, "summaries are identical across runs")
}

func TestSummarizeHumanOutput(t *testing.T) {
	root := projectTree(t)
	out := mustRunCLI(t, "summarize", root)
	require.Contains(t, out, "summarize complete in")
	require.Contains(t, out, "provider=echo")
	require.Contains(t, out, "generated=3")
}

func TestSummarizeExperimentAppends(t *testing.T) {
	root := projectTree(t)
	mustRunCLI(t, "summarize", root, "--experiment", "baseline")
	mustRunCLI(t, "summarize", root, "--experiment", "baseline")

	data, err := os.ReadFile(filepath.Join(root, ".sumtree", "results.json"))
	require.NoError(t, err)
	var results map[string][]summary.Document
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results["baseline"], 2)
	require.NotEqual(t, results["baseline"][0].Details.RunID, results["baseline"][1].Details.RunID)
	assertNotExists(t, filepath.Join(root, ".sumtree", "summary.json"))

	outDir := t.TempDir()
	mustRunCLI(t, "render", filepath.Join(root, ".sumtree", "results.json"), "--experiment", "baseline", "--run", "0", "--format", "html", "--output-dir", outDir)
	assertExists(t, filepath.Join(outDir, "summary.html"))
}

func TestSummarizePrune(t *testing.T) {
	root := projectTree(t)
	mustRunCLI(t, "summarize", root)

	cachePath := filepath.Join(root, register.DefaultFile)
	reg, err := register.Load(cachePath)
	require.NoError(t, err)
	reg.Set("deleted.py", "old", "summary of a deleted file")
	require.NoError(t, reg.Save(cachePath))

	var run RunSummary
	decodeJSON(t, mustRunCLI(t, "summarize", root, "--json", "--prune"), &run)
	require.Equal(t, []string{"deleted.py"}, run.PrunedKeys)

	reg, err = register.Load(cachePath)
	require.NoError(t, err)
	require.Equal(t, []string{".", "a.py", "b/c.py"}, reg.Keys())
}

func TestSummarizeRecoversFromCorruptCache(t *testing.T) {
	root := projectTree(t)
	mustWriteFile(t, filepath.Join(root, register.DefaultFile), "{not json")

	var run RunSummary
	decodeJSON(t, mustRunCLI(t, "summarize", root, "--json"), &run)
	require.Equal(t, 3, run.Stats.Generated)

	_, err := register.Load(filepath.Join(root, register.DefaultFile))
	require.NoError(t, err, "a clean cache is written back")
}

func TestSummarizeEmptyRootFails(t *testing.T) {
	offlineEnv(t)
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "notes.txt"), "skipped by default patterns")

	_, err := runCLI(t, "summarize", root)
	require.ErrorIs(t, err, reducer.ErrEmptyInput)
	assertNotExists(t, filepath.Join(root, ".sumtree", "summary.json"))
}

func TestSummarizeMissingRootFails(t *testing.T) {
	offlineEnv(t)
	missing := filepath.Join(t.TempDir(), "missing")
	for range 2 {
		_, err := runCLI(t, "summarize", missing)
		require.ErrorIs(t, err, reducer.ErrPathNotFound)
		assertNotExists(t, missing)
	}
}

func TestSummarizeSkipsCustomCacheAndOutputs(t *testing.T) {
	root := projectTree(t)
	args := []string{"summarize", root, "--json", "--cache", "summaries.cache", "--output-dir", "out", "--format", "html,markdown"}

	var run RunSummary
	decodeJSON(t, mustRunCLI(t, args...), &run)
	require.Equal(t, 2, run.Stats.Files)
	assertExists(t, filepath.Join(root, "summaries.cache"))
	assertExists(t, filepath.Join(root, "out", "summary.md"))

	for range 2 {
		run = RunSummary{}
		decodeJSON(t, mustRunCLI(t, args...), &run)
		require.Equal(t, 2, run.Stats.Files)
		require.Zero(t, run.Stats.OracleCalls)
		require.Empty(t, run.Recomputed)
	}

	var status StatusSummary
	decodeJSON(t, mustRunCLI(t, "status", root, "--json", "--cache", "summaries.cache", "--output-dir", "out"), &status)
	require.True(t, status.Clean)
	require.Equal(t, 3, status.Nodes)
}

func TestStatusNeedsNoProviderCredentials(t *testing.T) {
	root := projectTree(t)
	t.Setenv("SUMTREE_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_KEY", "")
	t.Setenv("SUMTREE_BASE_URL", "")

	_, err := runCLI(t, "summarize", root)
	require.Error(t, err)

	var status StatusSummary
	decodeJSON(t, mustRunCLI(t, "status", root, "--json"), &status)
	require.False(t, status.Clean)
	require.ElementsMatch(t, []string{"a.py", "b/c.py", "."}, status.StaleKeys)
}

func TestSummarizeRejectsInvalidConfig(t *testing.T) {
	root := projectTree(t)
	_, err := runCLI(t, "summarize", root, "--provider", "mystery")
	var cfgErr *config.Error
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "provider", cfgErr.Field)
}

func TestSummarizeHonorsIgnoreRules(t *testing.T) {
	root := projectTree(t)
	mustWriteFile(t, filepath.Join(root, "gen", "big.py"), "x = 1\n")
	mustWriteFile(t, filepath.Join(root, ".sumtreeignore"), "gen/\n")
	mustWriteFile(t, filepath.Join(root, ".gitignore"), "b/\n")

	var run RunSummary
	decodeJSON(t, mustRunCLI(t, "summarize", root, "--json"), &run)
	require.Equal(t, 1, run.Stats.Files, "only a.py survives")
}

func TestInitWritesConfigUsedBySummarize(t *testing.T) {
	root := projectTree(t)
	out := mustRunCLI(t, "init", root, "--provider", "offline")
	require.Contains(t, out, config.FileName)
	assertExists(t, filepath.Join(root, config.FileName))
	assertExists(t, filepath.Join(root, ".sumtreeignore"))

	_, err := runCLI(t, "init", root)
	require.ErrorContains(t, err, "already exists")

	cfg := config.Default()
	cfg.Formats = []string{"yaml", "html"}
	cfg.OutputDir = "docs/summary"
	require.NoError(t, cfg.WriteFile(filepath.Join(root, config.FileName)))

	mustRunCLI(t, "summarize", root)
	assertExists(t, filepath.Join(root, "docs", "summary", "summary.yaml"))
	assertExists(t, filepath.Join(root, "docs", "summary", "summary.html"))
}

func TestRenderFromSummaryJSON(t *testing.T) {
	root := projectTree(t)
	mustRunCLI(t, "summarize", root)

	outDir := t.TempDir()
	out := mustRunCLI(t, "render", filepath.Join(root, ".sumtree", "summary.json"), "--output-dir", outDir)
	require.Contains(t, out, "wrote ")

	html, err := os.ReadFile(filepath.Join(outDir, "summary.html"))
	require.NoError(t, err)
	require.Contains(t, string(html), "Summary of c.py")
	md, err := os.ReadFile(filepath.Join(outDir, "summary.md"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(md), "# Summary of ."))

	out = mustRunCLI(t, "render", filepath.Join(root, ".sumtree", "summary.json"), "--output-dir", outDir)
	require.Contains(t, out, "up to date")
}

func TestDoctorReportsState(t *testing.T) {
	root := projectTree(t)

	var doctor DoctorSummary
	decodeJSON(t, mustRunCLI(t, "doctor", root, "--json"), &doctor)
	require.True(t, doctor.Healthy, "problems: %v", doctor.Problems)
	require.Equal(t, "echo", doctor.Provider)
	require.Contains(t, strings.Join(doctor.Suggestions, "\n"), "sumtree init")

	mustWriteFile(t, filepath.Join(root, register.DefaultFile), "[broken")
	decodeJSON(t, mustRunCLI(t, "doctor", root, "--json"), &doctor)
	require.False(t, doctor.Healthy)
	require.Contains(t, strings.Join(doctor.Problems, "\n"), "corrupt")
}

func TestVersion(t *testing.T) {
	require.Equal(t, "sumtree test\n", mustRunCLI(t, "version"))
}

func offlineEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SUMTREE_TOKENIZER", "estimate")
	t.Setenv("SUMTREE_PROVIDER", "echo")
}

func projectTree(t *testing.T) string {
	t.Helper()
	offlineEnv(t)
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "a.py"), "def a():\n    return 1\n")
	mustWriteFile(t, filepath.Join(root, "b", "c.py"), "def c():\n    return 3\n")
	return root
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "-q"))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func mustRunCLI(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("sumtree %s failed: %v", strings.Join(args, " "), err)
	}
	return out
}

func decodeJSON(t *testing.T, data string, target any) {
	t.Helper()
	if err := json.Unmarshal([]byte(data), target); err != nil {
		t.Fatalf("failed to decode output %q: %v", data, err)
	}
}

func assertExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
}

func assertNotExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected %s to not exist", path)
	} else if !os.IsNotExist(err) {
		t.Fatalf("expected %s to be absent: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
}
