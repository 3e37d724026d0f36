package ignore

import (
	"os"
	"path/filepath"
	"testing"

	gitignore "github.com/sabhiram/go-gitignore"
)

func TestMatcher_UserOverrides(t *testing.T) {
	m := NewMatcher([]string{
		"node_modules/",
		"vendor/**",
		"!vendor/keep/file.go",
		"*.tmp",
	})

	cases := []struct {
		path    string
		isDir   bool
		ignored bool
	}{
		{path: "node_modules/pkg/index.js", isDir: false, ignored: true},
		{path: "web/node_modules", isDir: true, ignored: true},
		{path: "vendor/lib/a.go", isDir: false, ignored: true},
		{path: "vendor/keep/file.go", isDir: false, ignored: false},
		{path: "nested/cache.tmp", isDir: false, ignored: true},
		{path: "src/main.go", isDir: false, ignored: false},
	}

	for _, tc := range cases {
		got := m.ShouldIgnore(tc.path, tc.isDir)
		if got != tc.ignored {
			t.Fatalf("path %s: expected ignored=%v, got %v", tc.path, tc.ignored, got)
		}
	}
}

func TestMatcher_NegatedDirectoryRule(t *testing.T) {
	m := NewMatcher([]string{
		"build/",
		"!build/include/",
	})

	if !m.ShouldIgnore("build/out/file.go", false) {
		t.Fatalf("expected build/out/file.go to be ignored")
	}
	if m.ShouldIgnore("build/include/file.go", false) {
		t.Fatalf("expected build/include/file.go to be included")
	}
}

func TestBasenameMatcher_IgnoresParentSegments(t *testing.T) {
	m := NewBasenameMatcher([]string{"*.txt"})

	if !m.ShouldIgnore("docs/notes.txt", false) {
		t.Fatalf("expected docs/notes.txt to be ignored")
	}
	if m.ShouldIgnore("data.txt/main.go", false) {
		t.Fatalf("expected data.txt/main.go to be kept")
	}
}

func TestFilter_Defaults(t *testing.T) {
	f := NewFilter(Options{})

	dirs := []struct {
		path string
		skip bool
	}{
		{path: ".", skip: false},
		{path: "src", skip: false},
		{path: ".git", skip: true},
		{path: "foo/build/bar", skip: true},
		{path: "pkg/mylib.egg-info", skip: true},
		{path: "app/__pycache__", skip: true},
		{path: "internal/reducer", skip: false},
	}
	for _, tc := range dirs {
		if got := f.ShouldSkipDir(tc.path); got != tc.skip {
			t.Fatalf("dir %s: expected skip=%v, got %v", tc.path, tc.skip, got)
		}
	}

	files := []struct {
		path string
		skip bool
	}{
		{path: "main.go", skip: false},
		{path: "pkg/__init__.py", skip: true},
		{path: "README.txt", skip: true},
		{path: ".env", skip: true},
		{path: "assets/logo.png", skip: true},
		{path: "foo/build/gen.go", skip: true},
		{path: "./src/app.py", skip: false},
		{path: "", skip: true},
	}
	for _, tc := range files {
		if got := f.ShouldSkipFile(tc.path); got != tc.skip {
			t.Fatalf("file %s: expected skip=%v, got %v", tc.path, tc.skip, got)
		}
	}
}

func TestFilter_EmptyListsDisableDefaults(t *testing.T) {
	f := NewFilter(Options{DirPatterns: []string{}, FilePatterns: []string{}})

	if f.ShouldSkipDir("build") {
		t.Fatalf("expected build to be kept with empty dir patterns")
	}
	if f.ShouldSkipFile("notes.txt") {
		t.Fatalf("expected notes.txt to be kept with empty file patterns")
	}
}

func TestFilter_RulesAndGitIgnore(t *testing.T) {
	gi := gitignore.CompileIgnoreLines("generated/", "*.pb.go")
	f := NewFilter(Options{
		Rules:     []string{"experiments/"},
		GitIgnore: gi,
	})

	if !f.ShouldSkipDir("experiments") {
		t.Fatalf("expected experiments/ to be skipped by rules")
	}
	if !f.ShouldSkipDir("generated") {
		t.Fatalf("expected generated/ to be skipped by .gitignore")
	}
	if !f.ShouldSkipFile("api/service.pb.go") {
		t.Fatalf("expected api/service.pb.go to be skipped by .gitignore")
	}
	if f.ShouldSkipFile("api/service.go") {
		t.Fatalf("expected api/service.go to be kept")
	}
}

func TestFilter_ExcludePaths(t *testing.T) {
	f := NewFilter(Options{
		FilePatterns: []string{},
		DirPatterns:  []string{},
		Exclude:      []string{"summaries.cache", "./out/", ""},
	})

	if !f.ShouldSkipFile("summaries.cache") {
		t.Fatalf("expected the excluded file to be skipped")
	}
	if !f.ShouldSkipDir("out") || !f.ShouldSkipFile("out/summary.md") {
		t.Fatalf("expected the excluded directory and its files to be skipped")
	}
	if f.ShouldSkipFile("outline.py") || f.ShouldSkipDir("src/out") {
		t.Fatalf("expected exclusion to match whole root-relative paths only")
	}
	if f.ShouldSkipDir("") {
		t.Fatalf("expected the root never to be skipped")
	}
}

func TestLoadRules(t *testing.T) {
	root := t.TempDir()
	if rules, err := LoadRules(root); err != nil || len(rules) != 0 {
		t.Fatalf("expected no rules for missing file, got %v (err=%v)", rules, err)
	}

	content := "# comment\n\nscratch/\n*.bak\n"
	if err := os.WriteFile(filepath.Join(root, RulesFile), []byte(content), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	rules, err := LoadRules(root)
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	if len(rules) != 2 || rules[0] != "scratch/" || rules[1] != "*.bak" {
		t.Fatalf("unexpected rules: %v", rules)
	}
}

func TestLoadGitIgnore(t *testing.T) {
	root := t.TempDir()
	gi, err := LoadGitIgnore(root)
	if err != nil || gi != nil {
		t.Fatalf("expected nil matcher for missing .gitignore, got %v (err=%v)", gi, err)
	}

	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte("out/\n"), 0644); err != nil {
		t.Fatalf("write .gitignore: %v", err)
	}
	gi, err = LoadGitIgnore(root)
	if err != nil || gi == nil {
		t.Fatalf("expected compiled matcher, got %v (err=%v)", gi, err)
	}
	if !NewFilter(Options{GitIgnore: gi}).ShouldSkipFile("out/a.go") {
		t.Fatalf("expected out/a.go to be skipped")
	}
}
