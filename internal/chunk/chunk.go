// Package chunk splits oversized inputs into pieces that fit a token limit,
// cutting source files at top-level syntax boundaries when a grammar is
// known.
package chunk

import (
	"context"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/skelly-dev/sumtree/internal/tokens"
)

// Splitter cuts text into chunks of at most MaxTokens tokens. Concatenating
// the chunks of a Split reproduces the input exactly.
type Splitter struct {
	counter   tokens.Counter
	maxTokens int
	grammars  *Registry
}

// NewSplitter returns a Splitter. grammars may be nil to always split by
// lines.
func NewSplitter(counter tokens.Counter, maxTokens int, grammars *Registry) *Splitter {
	return &Splitter{counter: counter, maxTokens: maxTokens, grammars: grammars}
}

// Split chunks text. name selects a grammar by extension; unknown names and
// unparsable content fall back to line boundaries.
func (s *Splitter) Split(ctx context.Context, name, text string) []string {
	if text == "" {
		return nil
	}
	if s.maxTokens <= 0 || s.counter.Count(text) <= s.maxTokens {
		return []string{text}
	}

	var pieces []string
	if g, ok := s.grammars.ForFile(name); ok {
		pieces = syntaxPieces(ctx, g.Language, text)
	}
	if len(pieces) == 0 {
		pieces = linePieces(text)
	}
	return s.pack(pieces)
}

// syntaxPieces returns one piece per top-level node. Bytes between nodes
// (comments, blank lines) are attached to the following node.
func syntaxPieces(ctx context.Context, lang *sitter.Language, text string) []string {
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(lang)

	content := []byte(text)
	tree, err := p.ParseCtx(ctx, nil, content)
	if err != nil || tree == nil {
		return nil
	}
	defer tree.Close()

	root := tree.RootNode()
	pieces := make([]string, 0, int(root.ChildCount()))
	start := uint32(0)
	for i := 0; i < int(root.ChildCount()); i++ {
		end := root.Child(i).EndByte()
		if end <= start || int(end) > len(content) {
			continue
		}
		pieces = append(pieces, text[start:end])
		start = end
	}
	if int(start) < len(content) {
		pieces = append(pieces, text[start:])
	}
	return pieces
}

func linePieces(text string) []string {
	return strings.SplitAfter(text, "\n")
}

// pack greedily merges consecutive pieces while they fit.
func (s *Splitter) pack(pieces []string) []string {
	chunks := make([]string, 0)
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		for _, part := range s.splitOversized(piece) {
			if current.Len() > 0 && s.counter.Count(current.String()+part) > s.maxTokens {
				flush()
			}
			current.WriteString(part)
		}
	}
	flush()
	return chunks
}

// splitOversized halves text, preferring a newline or space near the middle,
// until every part fits or is a single rune.
func (s *Splitter) splitOversized(text string) []string {
	if s.counter.Count(text) <= s.maxTokens || utf8.RuneCountInString(text) <= 1 {
		return []string{text}
	}
	cut := splitPoint(text)
	return append(s.splitOversized(text[:cut]), s.splitOversized(text[cut:])...)
}

func splitPoint(text string) int {
	mid := len(text) / 2
	for mid > 0 && !utf8.RuneStart(text[mid]) {
		mid--
	}
	if mid == 0 {
		_, size := utf8.DecodeRuneInString(text)
		return size
	}
	window := len(text) / 4
	if i := strings.LastIndexByte(text[mid-min(mid, window):mid], '\n'); i >= 0 {
		if cut := mid - min(mid, window) + i + 1; cut > 0 && cut < len(text) {
			return cut
		}
	}
	if i := strings.LastIndexByte(text[mid-min(mid, window):mid], ' '); i >= 0 {
		if cut := mid - min(mid, window) + i + 1; cut > 0 && cut < len(text) {
			return cut
		}
	}
	return mid
}
