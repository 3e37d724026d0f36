// Package summary defines the tree of summaries produced by a run.
package summary

import (
	"errors"
	"time"
)

// Summary is either a *Leaf (one file) or an *Interior (a reduction over
// child summaries). No other implementations exist.
type Summary interface {
	// Key is the register key the text is cached under.
	Key() string
	// Path is the root-relative, slash-separated path the summary covers.
	Path() string
	Text() string
	Children() []Summary
	sealed()
}

// Leaf summarizes one file.
type Leaf struct {
	path string
	text string
}

func NewLeaf(path, text string) *Leaf {
	return &Leaf{path: path, text: text}
}

func (l *Leaf) Key() string         { return l.path }
func (l *Leaf) Path() string        { return l.path }
func (l *Leaf) Text() string        { return l.text }
func (l *Leaf) Children() []Summary { return nil }
func (l *Leaf) sealed()             {}

// Interior summarizes an ordered, non-empty list of children.
type Interior struct {
	key      string
	path     string
	text     string
	children []Summary
}

var errNoChildren = errors.New("interior summary needs at least one child")

func NewInterior(key, path, text string, children []Summary) (*Interior, error) {
	if len(children) == 0 {
		return nil, errNoChildren
	}
	copied := make([]Summary, len(children))
	copy(copied, children)
	return &Interior{key: key, path: path, text: text, children: copied}, nil
}

func (n *Interior) Key() string         { return n.key }
func (n *Interior) Path() string        { return n.path }
func (n *Interior) Text() string        { return n.text }
func (n *Interior) Children() []Summary { return n.children }
func (n *Interior) sealed()             {}

// Walk visits s and its descendants in pre-order. Returning false from fn
// stops descent into that node's children.
func Walk(s Summary, fn func(node Summary, depth int) bool) {
	walk(s, 0, fn)
}

func walk(s Summary, depth int, fn func(Summary, int) bool) {
	if s == nil || !fn(s, depth) {
		return
	}
	for _, child := range s.Children() {
		walk(child, depth+1, fn)
	}
}

// Count returns the number of leaves and interiors under s, inclusive.
func Count(s Summary) (leaves, interiors int) {
	Walk(s, func(node Summary, _ int) bool {
		switch node.(type) {
		case *Leaf:
			leaves++
		case *Interior:
			interiors++
		}
		return true
	})
	return leaves, interiors
}

// Stats describes the work done by one run.
type Stats struct {
	Files       int `json:"files" yaml:"files"`
	Directories int `json:"directories" yaml:"directories"`
	CacheHits   int `json:"cache_hits" yaml:"cache_hits"`
	Generated   int `json:"generated" yaml:"generated"`
	Chunked     int `json:"chunked" yaml:"chunked"`
	Failed      int `json:"failed" yaml:"failed"`
	Skipped     int `json:"skipped" yaml:"skipped"`
	Empty       int `json:"empty" yaml:"empty"`
	OracleCalls int `json:"oracle_calls" yaml:"oracle_calls"`
}

// Metadata describes how a run was configured. It is attached to the root
// of the output only and never read back by the summarizer.
type Metadata struct {
	RunID               string            `json:"run_id" yaml:"run_id"`
	Time                time.Time         `json:"time" yaml:"time"`
	Root                string            `json:"root" yaml:"root"`
	Provider            string            `json:"model_type" yaml:"model_type"`
	Model               string            `json:"model_name" yaml:"model_name"`
	ContextWindow       int               `json:"context_window" yaml:"context_window"`
	BaseTokensCode      int               `json:"max_base_tokens_code" yaml:"max_base_tokens_code"`
	BaseTokensSummaries int               `json:"max_base_tokens_summaries" yaml:"max_base_tokens_summaries"`
	BudgetFactor        float64           `json:"budget_factor" yaml:"budget_factor"`
	Prompts             map[string]string `json:"prompts,omitempty" yaml:"prompts,omitempty"`
	Stats               *Stats            `json:"stats,omitempty" yaml:"stats,omitempty"`
}
