package sink

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/skelly-dev/sumtree/internal/fileutil"
	"github.com/skelly-dev/sumtree/internal/summary"
)

// RenderMarkdown renders doc with the configuration at the top and every
// child in a collapsible details block.
func RenderMarkdown(doc summary.Document) string {
	var b strings.Builder
	writeMarkdownNode(&b, doc, 1, false)
	return fileutil.EnsureTrailingNewline(strings.TrimRight(b.String(), "\n"))
}

func writeMarkdownNode(b *strings.Builder, doc summary.Document, level int, nested bool) {
	heading := strings.Repeat("#", min(level, 6))
	if nested {
		fmt.Fprintf(b, "<details><summary>%s</summary>\n\n", displayName(doc))
	}
	fmt.Fprintf(b, "%s Summary of %s\n\n", heading, displayName(doc))
	fmt.Fprintf(b, "%s\n\n", strings.TrimSpace(doc.Summary))

	if doc.Details != nil {
		fmt.Fprintf(b, "%s# Configuration\n\n", heading)
		for _, p := range configPairs(doc.Details) {
			fmt.Fprintf(b, "- **%s:** %s\n", p.Key, p.Value)
		}
		b.WriteString("\n")
		for _, p := range promptPairs(doc.Details.Prompts) {
			fmt.Fprintf(b, "<details><summary>Prompt: %s</summary>\n\n```\n%s\n```\n\n</details>\n\n", p.Key, p.Value)
		}
	}

	if len(doc.Summaries) > 0 {
		fmt.Fprintf(b, "%s# Summaries used as input\n\n", heading)
		for _, child := range doc.Summaries {
			writeMarkdownNode(b, child, level+1, true)
		}
	}

	if nested {
		b.WriteString("</details>\n\n")
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
