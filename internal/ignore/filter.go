package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// RulesFile holds extra gitignore-style rules for a summarized tree.
const RulesFile = ".sumtreeignore"

// DefaultDirPatterns excludes directories whose any path component matches.
var DefaultDirPatterns = []string{
	".*",
	"*.egg-info",
	"build",
	"dist",
	"target",
	"venv",
	"node_modules",
	"vendor",
	"__pycache__",
	"testdata",
}

// DefaultFilePatterns excludes files by name.
var DefaultFilePatterns = []string{
	".*",
	"__init__.py",
	"*.txt",
	"*.xml",
	"*.json",
	"*.lock",
	"go.sum",
	"*.png",
	"*.jpg",
	"*.jpeg",
	"*.gif",
	"*.ico",
	"*.svg",
	"*.zip",
	"*.gz",
	"*.tar",
	"*.pdf",
	"*.docx",
	"*.exe",
	"*.so",
	"*.dylib",
	"*.bin",
}

// Options configures a Filter. Nil pattern lists mean "use the defaults";
// an empty non-nil list disables that list.
type Options struct {
	DirPatterns  []string
	FilePatterns []string
	// Rules are gitignore-style lines applied to both files and directories.
	Rules     []string
	GitIgnore *gitignore.GitIgnore
	// Exclude lists root-relative paths skipped outright along with
	// everything below them, such as the cache file and output directory.
	Exclude []string
}

// Filter decides which paths of a tree take part in summarization. It is
// immutable after construction and safe for concurrent use.
type Filter struct {
	dirs  *Matcher
	files *Matcher
	rules   *Matcher
	git     *gitignore.GitIgnore
	exclude []string
}

func NewFilter(opts Options) *Filter {
	dirPatterns := opts.DirPatterns
	if dirPatterns == nil {
		dirPatterns = DefaultDirPatterns
	}
	filePatterns := opts.FilePatterns
	if filePatterns == nil {
		filePatterns = DefaultFilePatterns
	}
	var exclude []string
	for _, p := range opts.Exclude {
		if p = normalizePath(p); p != "" {
			exclude = append(exclude, p)
		}
	}
	return &Filter{
		dirs:    NewMatcher(dirPatterns),
		files:   NewBasenameMatcher(filePatterns),
		rules:   NewMatcher(opts.Rules),
		git:     opts.GitIgnore,
		exclude: exclude,
	}
}

// ShouldSkipDir reports whether the root-relative directory relPath, or any
// directory above it, is excluded. The root itself is never skipped.
func (f *Filter) ShouldSkipDir(relPath string) bool {
	relPath = normalizePath(relPath)
	if relPath == "" {
		return false
	}
	if f.excluded(relPath) {
		return true
	}
	if f.dirs.ShouldIgnore(relPath, true) || f.rules.ShouldIgnore(relPath, true) {
		return true
	}
	return f.gitIgnored(relPath, true)
}

// ShouldSkipFile reports whether the root-relative file relPath is excluded,
// either by name or because a directory on its path is excluded.
func (f *Filter) ShouldSkipFile(relPath string) bool {
	relPath = normalizePath(relPath)
	if relPath == "" {
		return true
	}
	if dir := path.Dir(relPath); dir != "." && f.ShouldSkipDir(dir) {
		return true
	}
	if f.excluded(relPath) {
		return true
	}
	if f.files.ShouldIgnore(relPath, false) || f.rules.ShouldIgnore(relPath, false) {
		return true
	}
	return f.gitIgnored(relPath, false)
}

func (f *Filter) excluded(relPath string) bool {
	for _, p := range f.exclude {
		if relPath == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
	}
	return false
}

func (f *Filter) gitIgnored(relPath string, isDir bool) bool {
	if f.git == nil {
		return false
	}
	if f.git.MatchesPath(relPath) {
		return true
	}
	return isDir && f.git.MatchesPath(relPath+"/")
}

// LoadRules reads gitignore-style lines from rootPath/.sumtreeignore.
// A missing file yields no rules.
func LoadRules(rootPath string) ([]string, error) {
	file, err := os.Open(filepath.Join(rootPath, RulesFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", RulesFile, err)
	}
	defer file.Close()

	rules := make([]string, 0)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rules = append(rules, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", RulesFile, err)
	}
	return rules, nil
}

// LoadGitIgnore compiles rootPath/.gitignore. A missing file yields nil.
func LoadGitIgnore(rootPath string) (*gitignore.GitIgnore, error) {
	gitignorePath := filepath.Join(rootPath, ".gitignore")
	if _, err := os.Stat(gitignorePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	gi, err := gitignore.CompileIgnoreFile(gitignorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to compile .gitignore: %w", err)
	}
	return gi, nil
}
