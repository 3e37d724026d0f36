// Package budget sizes model outputs by how much code sits under a node.
package budget

import (
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/skelly-dev/sumtree/internal/ignore"
)

// DefaultFactor is the K in ceil(base + sqrt(files * K)).
const DefaultFactor = 30

// Counter is the token counting capability of the summarizing model.
type Counter interface {
	CountTokens(text string) int
}

// Budget computes per-node output limits. It holds no mutable state and is
// safe for concurrent use.
type Budget struct {
	root    string
	filter  *ignore.Filter
	counter Counter
	factor  float64
}

// New returns a Budget for the tree at root. A non-positive factor selects
// DefaultFactor.
func New(root string, filter *ignore.Filter, counter Counter, factor float64) *Budget {
	if factor <= 0 {
		factor = DefaultFactor
	}
	return &Budget{root: root, filter: filter, counter: counter, factor: factor}
}

// Limit is the pure budget formula: ceil(base + sqrt(fileCount * factor)).
func Limit(fileCount int, base, factor float64) int {
	if fileCount < 0 {
		fileCount = 0
	}
	return int(math.Ceil(base + math.Sqrt(float64(fileCount)*factor)))
}

// MaxOutputTokens returns the output budget for the node at the
// root-relative relPath. The file count is recomputed on every call.
func (b *Budget) MaxOutputTokens(relPath string, baseTokens int) int {
	return Limit(b.FileCount(relPath), float64(baseTokens), b.factor)
}

// MaxOutputTokensForCount returns the output budget for a node that covers
// exactly fileCount files, such as the own-files reduction of a directory.
func (b *Budget) MaxOutputTokensForCount(fileCount, baseTokens int) int {
	return Limit(fileCount, float64(baseTokens), b.factor)
}

// FileCount counts the non-skipped files at or below relPath. A file counts
// as one; unreadable subtrees count as zero.
func (b *Budget) FileCount(relPath string) int {
	full := filepath.Join(b.root, filepath.FromSlash(relPath))
	info, err := os.Stat(full)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		if b.filter.ShouldSkipFile(relPath) {
			return 0
		}
		return 1
	}

	count := 0
	_ = filepath.WalkDir(full, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && b.filter.ShouldSkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && !b.filter.ShouldSkipFile(rel) {
			count++
		}
		return nil
	})
	return count
}

// PromptExceedsContext reports whether prompt has more tokens than
// contextWindow.
func (b *Budget) PromptExceedsContext(prompt string, contextWindow int) bool {
	return b.counter.CountTokens(prompt) > contextWindow
}
