// Package prompt builds the model prompts used for summarization.
package prompt

import (
	"fmt"
	"strings"
)

const (
	codeTemplate = `Write a concise summary of the code between the triple backticks. Be specific about what it defines and does; skip generalities.
File name: %s
Code: ` + "```" + `
%s
` + "```"

	summariesTemplate = `The summaries between the triple backticks describe the files and directories that form one component of a codebase.
Component name: %s
Summaries: ` + "```" + `
%s
` + "```" + `

From these summaries, write a concise summary of the component. Be specific; skip generalities.`

	mapTemplate = `The following text is one part of a larger codebase component.
Part: ` + "```" + `
%s
` + "```" + `

Describe what this part does in a few specific sentences.`

	reduceTemplate = `The summaries between the triple backticks each describe one part of a codebase component.
Summaries: ` + "```" + `
%s
` + "```" + `

Consolidate them into a single concise summary of the component.`
)

// Item is one child summary fed into a reduction prompt.
type Item struct {
	Name string
	Text string
}

// Code asks for a summary of one source file.
func Code(fileName, code string) string {
	return fmt.Sprintf(codeTemplate, fileName, code)
}

// Summaries asks for a summary of a component from its children's
// summaries.
func Summaries(component string, items []Item) string {
	return fmt.Sprintf(summariesTemplate, component, FormatItems(items))
}

// Map asks for a summary of one chunk of an oversized input.
func Map(chunk string) string {
	return fmt.Sprintf(mapTemplate, chunk)
}

// Reduce asks for one summary consolidating chunk summaries.
func Reduce(partials []string) string {
	return fmt.Sprintf(reduceTemplate, strings.Join(partials, "\n\n"))
}

// FormatItems renders items as a bullet list, one child per entry.
func FormatItems(items []Item) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s: %s", item.Name, strings.TrimSpace(item.Text))
	}
	return b.String()
}

// Templates returns the raw templates by name for run metadata.
func Templates() map[string]string {
	return map[string]string{
		"code":      codeTemplate,
		"summaries": summariesTemplate,
		"map":       mapTemplate,
		"reduce":    reduceTemplate,
	}
}
