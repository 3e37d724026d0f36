package chunk

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Grammar ties a tree-sitter language to the file extensions it parses.
type Grammar struct {
	Name       string
	Extensions []string
	Language   *sitter.Language
}

// Registry looks up grammars by file extension.
type Registry struct {
	byExt map[string]Grammar
}

func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Grammar)}
}

func (r *Registry) Register(g Grammar) {
	for _, ext := range g.Extensions {
		r.byExt[strings.ToLower(ext)] = g
	}
}

// ForFile returns the grammar for name's extension.
func (r *Registry) ForFile(name string) (Grammar, bool) {
	if r == nil {
		return Grammar{}, false
	}
	g, ok := r.byExt[strings.ToLower(filepath.Ext(name))]
	return g, ok
}

// NewDefaultRegistry knows Go, Python, Ruby, JavaScript and TypeScript.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Grammar{Name: "go", Extensions: []string{".go"}, Language: golang.GetLanguage()})
	r.Register(Grammar{Name: "python", Extensions: []string{".py"}, Language: python.GetLanguage()})
	r.Register(Grammar{Name: "ruby", Extensions: []string{".rb"}, Language: ruby.GetLanguage()})
	r.Register(Grammar{Name: "javascript", Extensions: []string{".js", ".jsx", ".mjs", ".cjs"}, Language: javascript.GetLanguage()})
	r.Register(Grammar{Name: "typescript", Extensions: []string{".ts", ".mts", ".cts"}, Language: typescript.GetLanguage()})
	r.Register(Grammar{Name: "tsx", Extensions: []string{".tsx"}, Language: tsx.GetLanguage()})
	return r
}
