package sink

import (
	"bytes"
	"html/template"
	"io"
	"path"

	"github.com/yuin/goldmark"

	"github.com/skelly-dev/sumtree/internal/fileutil"
	"github.com/skelly-dev/sumtree/internal/summary"
)

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Summary of {{.Root.Name}}</title>
<style>
  div.summary-container { font-family: Arial, sans-serif; margin: 20px; }
  .configuration { background-color: #f3f3f3; padding: 10px; border-radius: 8px; margin: 10px 0; }
  p, ol { margin: 5px 0; }
  h2, h3 { margin: 10px 0; }
  h2 { color: #333366; }
  h3 { color: #666699; }
  details.summary-detail { margin-top: 10px; }
  summary.summary-title { font-weight: bold; cursor: pointer; }
</style>
</head>
<body>
<div class="summary-container">
{{template "node" .Root}}
</div>
</body>
</html>
{{define "node"}}<h2 style="margin-left: {{.Indent}}px;">Summary of {{.Name}}</h2>
{{if .Config}}<div class="configuration">
  <h3>Configuration</h3>
{{range .Config}}  <p><b>{{.Key}}:</b> {{.Value}}</p>
{{end}}{{if .Prompts}}  <p><b>prompts:</b></p>
  <ol>
{{range .Prompts}}    <li><b>{{.Key}}</b><pre>{{.Value}}</pre></li>
{{end}}  </ol>
{{end}}</div>
{{end}}<div class="summary-body" style="margin-left: {{.Indent}}px;">{{.Body}}</div>
{{range .Children}}<details class="summary-detail" style="margin-left: {{$.Indent}}px;">
  <summary class="summary-title">Summaries used as input</summary>
{{template "node" .}}
</details>
{{end}}{{end}}`

var page = template.Must(template.New("page").Parse(pageTemplate))

type pair struct {
	Key   string
	Value string
}

type htmlNode struct {
	Name     string
	Indent   int
	Body     template.HTML
	Config   []pair
	Prompts  []pair
	Children []htmlNode
}

// RenderHTML writes doc as a standalone page with one collapsible section per
// child. Summary text is rendered as markdown; raw HTML in it is dropped.
func RenderHTML(w io.Writer, doc summary.Document) error {
	root, err := buildHTMLNode(doc, 0)
	if err != nil {
		return err
	}
	if doc.Details != nil {
		root.Config = configPairs(doc.Details)
		root.Prompts = promptPairs(doc.Details.Prompts)
	}
	return page.Execute(w, struct{ Root htmlNode }{Root: root})
}

func buildHTMLNode(doc summary.Document, depth int) (htmlNode, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(doc.Summary), &body); err != nil {
		return htmlNode{}, err
	}
	node := htmlNode{
		Name:   displayName(doc),
		Indent: depth * 20,
		Body:   template.HTML(body.String()),
	}
	for _, child := range doc.Summaries {
		c, err := buildHTMLNode(child, depth+1)
		if err != nil {
			return htmlNode{}, err
		}
		node.Children = append(node.Children, c)
	}
	return node, nil
}

func displayName(doc summary.Document) string {
	if doc.Key != "" && doc.Key != doc.Path {
		return doc.Key
	}
	if doc.Path == "" || doc.Path == "." {
		return doc.Path
	}
	return path.Base(doc.Path)
}

func configPairs(meta *summary.Metadata) []pair {
	pairs := []pair{
		{Key: "time", Value: meta.Time.Format("2006-01-02 15:04:05 MST")},
		{Key: "run_id", Value: meta.RunID},
		{Key: "root", Value: meta.Root},
		{Key: "model_type", Value: meta.Provider},
		{Key: "model_name", Value: meta.Model},
		{Key: "context_window", Value: itoa(meta.ContextWindow)},
		{Key: "max_base_tokens_code", Value: itoa(meta.BaseTokensCode)},
		{Key: "max_base_tokens_summaries", Value: itoa(meta.BaseTokensSummaries)},
	}
	if meta.Stats != nil {
		pairs = append(pairs,
			pair{Key: "files", Value: itoa(meta.Stats.Files)},
			pair{Key: "cache_hits", Value: itoa(meta.Stats.CacheHits)},
			pair{Key: "generated", Value: itoa(meta.Stats.Generated)},
		)
	}
	return pairs
}

func promptPairs(prompts map[string]string) []pair {
	names := fileutil.MapKeysSorted(prompts)
	pairs := make([]pair, len(names))
	for i, name := range names {
		pairs[i] = pair{Key: name, Value: prompts[name]}
	}
	return pairs
}
