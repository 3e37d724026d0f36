package sink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/skelly-dev/sumtree/internal/summary"
)

func sampleDocument() summary.Document {
	return summary.Document{
		Path:    ".",
		Summary: "The **root** project.",
		Summaries: []summary.Document{
			{Path: "b/c.py", Summary: "Computes c."},
			{Path: "a.py", Summary: "Defines <script>a</script>."},
		},
		Details: &summary.Metadata{
			RunID:               "run-1",
			Time:                time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Root:                "/src/project",
			Provider:            "echo",
			Model:               "echo",
			ContextWindow:       8192,
			BaseTokensCode:      60,
			BaseTokensSummaries: 80,
			Prompts:             map[string]string{"code": "Summarize {file}", "summaries": "Combine {items}"},
			Stats:               &summary.Stats{Files: 2, Generated: 3},
		},
	}
}

func TestParseFormats(t *testing.T) {
	formats, err := ParseFormats([]string{"json,md", " HTML ", "yml", "json"})
	require.NoError(t, err)
	require.Equal(t, []Format{JSON, Markdown, HTML, YAML}, formats)

	_, err = ParseFormats([]string{"pdf"})
	require.ErrorContains(t, err, "unsupported format")

	formats, err = ParseFormats(nil)
	require.NoError(t, err)
	require.Empty(t, formats)
}

func TestEncodeJSON_RoundTrips(t *testing.T) {
	doc := sampleDocument()
	data, err := Encode(doc, JSON)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(data), "}\n"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, ".", decoded["path"])
	details := decoded["details"].(map[string]any)
	require.Equal(t, "echo", details["model_type"])
	require.Len(t, decoded["summaries"], 2)
}

func TestEncodeYAML(t *testing.T) {
	data, err := Encode(sampleDocument(), YAML)
	require.NoError(t, err)

	var decoded summary.Document
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	require.Equal(t, ".", decoded.Path)
	require.Equal(t, "a.py", decoded.Summaries[1].Path)
	require.Equal(t, 8192, decoded.Details.ContextWindow)
}

func TestRenderHTML(t *testing.T) {
	data, err := Encode(sampleDocument(), HTML)
	require.NoError(t, err)
	html := string(data)

	require.Contains(t, html, "<title>Summary of .</title>")
	require.Contains(t, html, "<strong>root</strong>")
	require.Contains(t, html, `class="configuration"`)
	require.Contains(t, html, "model_type:</b> echo")
	require.Contains(t, html, "Summary of c.py")
	require.Equal(t, 2, strings.Count(html, `<details class="summary-detail"`))
	require.NotContains(t, html, "<script>a</script>", "raw HTML in summaries is not passed through")
}

func TestRenderHTML_ConfigurationOnlyAtRoot(t *testing.T) {
	doc := sampleDocument()
	doc.Details = nil
	data, err := Encode(doc, HTML)
	require.NoError(t, err)
	require.NotContains(t, string(data), `<div class="configuration">`)
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(sampleDocument())

	require.True(t, strings.HasPrefix(md, "# Summary of .\n\nThe **root** project."))
	require.Contains(t, md, "## Configuration")
	require.Contains(t, md, "- **model_name:** echo")
	require.Contains(t, md, "<details><summary>Prompt: code</summary>")
	require.Contains(t, md, "## Summary of c.py")
	require.Less(t, strings.Index(md, "Summary of c.py"), strings.Index(md, "Summary of a.py"), "child order is kept")
	require.Equal(t, strings.Count(md, "<details>"), strings.Count(md, "</details>"))
	require.True(t, strings.HasSuffix(md, "\n"))
}

func TestWriteAll_OnlyReportsChanges(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".sumtree")
	doc := sampleDocument()

	written, err := WriteAll(dir, doc, []Format{JSON, Markdown})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "summary.json"), filepath.Join(dir, "summary.md")}, written)

	written, err = WriteAll(dir, doc, []Format{JSON, Markdown})
	require.NoError(t, err)
	require.Empty(t, written)

	doc.Summary = "changed"
	written, err = WriteAll(dir, doc, []Format{JSON})
	require.NoError(t, err)
	require.Len(t, written, 1)

	back, err := ReadDocument(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	require.Equal(t, "changed", back.Summary)
}

func TestAppendExperiment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ResultsFile)
	doc := sampleDocument()

	require.NoError(t, AppendExperiment(path, "baseline", doc))
	require.NoError(t, AppendExperiment(path, "baseline", doc))
	require.NoError(t, AppendExperiment(path, "small-model", doc))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var results map[string][]summary.Document
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results["baseline"], 2)
	require.Len(t, results["small-model"], 1)

	require.Error(t, AppendExperiment(path, " ", doc))
}

func TestAppendExperiment_CorruptResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), ResultsFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	err := AppendExperiment(path, "x", sampleDocument())
	require.ErrorContains(t, err, "failed to parse")
}
