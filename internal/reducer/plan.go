package reducer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// PlannedNode is one node a run would visit.
type PlannedNode struct {
	Key   string `json:"key"`
	Path  string `json:"path"`
	Stale bool   `json:"stale"`
}

// Plan lists the nodes of the tree in post-order and whether each one would
// be regenerated by the next Run.
type Plan struct {
	Nodes   []PlannedNode `json:"nodes"`
	Skipped []string      `json:"skipped,omitempty"`
}

// Stale returns the keys that would be regenerated.
func (p *Plan) Stale() []string {
	out := make([]string, 0)
	for _, n := range p.Nodes {
		if n.Stale {
			out = append(out, n.Key)
		}
	}
	return out
}

// Fresh returns the keys that would be served from the register.
func (p *Plan) Fresh() []string {
	out := make([]string, 0)
	for _, n := range p.Nodes {
		if !n.Stale {
			out = append(out, n.Key)
		}
	}
	return out
}

type plannedRef struct {
	key   string
	path  string
	text  string
	stale bool
}

// Plan walks the tree like Run but never calls the oracle. A reduction whose
// children are all fresh is checked against the register exactly; any stale
// child makes its parent stale.
func (r *Reducer) Plan(ctx context.Context) (*Plan, error) {
	info, err := os.Stat(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, r.root)
		}
		return nil, err
	}

	p := &Plan{Nodes: make([]PlannedNode, 0)}
	if info.IsDir() {
		_, err = r.planDir(ctx, p, RootKey)
	} else {
		_, err = r.planFile(p, filepath.Base(r.root), r.root)
	}
	if err != nil {
		if errors.Is(err, ErrEmptyInput) {
			return nil, fmt.Errorf("%w under %s", ErrEmptyInput, r.root)
		}
		return nil, err
	}
	return p, nil
}

func (r *Reducer) planDir(ctx context.Context, p *Plan, rel string) (*plannedRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirs, files, err := r.list(rel)
	if err != nil {
		if rel == RootKey {
			return nil, err
		}
		p.Skipped = append(p.Skipped, rel)
		return nil, fmt.Errorf("%w: %s", ErrUnreadableFile, rel)
	}

	children := make([]*plannedRef, 0, len(dirs)+1)
	for _, d := range dirs {
		ref, err := r.planDir(ctx, p, d)
		if err != nil {
			if omitted(err) {
				continue
			}
			return nil, err
		}
		children = append(children, ref)
	}

	own := make([]*plannedRef, 0, len(files))
	for _, f := range files {
		ref, err := r.planFile(p, f, filepath.Join(r.root, filepath.FromSlash(f)))
		if err != nil {
			if omitted(err) {
				continue
			}
			return nil, err
		}
		own = append(own, ref)
	}

	switch len(own) {
	case 0:
	case 1:
		children = append(children, own[0])
	default:
		children = append(children, r.planReduce(p, FilesKey(rel), rel, own))
	}

	switch len(children) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrEmptyInput, rel)
	case 1:
		return children[0], nil
	}
	return r.planReduce(p, rel, rel, children), nil
}

func (r *Reducer) planFile(p *Plan, key, full string) (*plannedRef, error) {
	data, err := os.ReadFile(full)
	if err != nil || !utf8.Valid(data) {
		p.Skipped = append(p.Skipped, key)
		return nil, fmt.Errorf("%w: %s", ErrUnreadableFile, key)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyInput, key)
	}
	ref := &plannedRef{key: key, path: key, stale: r.reg.IsChanged(key, content)}
	if !ref.stale {
		entry, _ := r.reg.Lookup(key)
		ref.text = entry.Output
	}
	p.Nodes = append(p.Nodes, PlannedNode{Key: key, Path: path.Clean(key), Stale: ref.stale})
	return ref, nil
}

func (r *Reducer) planReduce(p *Plan, key, rel string, children []*plannedRef) *plannedRef {
	ref := &plannedRef{key: key, path: rel}
	for _, child := range children {
		if child.stale {
			ref.stale = true
			break
		}
	}
	if !ref.stale {
		pairs := make([][2]string, len(children))
		for i, child := range children {
			pairs[i] = [2]string{child.path, child.text}
		}
		ref.stale = r.reg.IsChanged(key, encodePairs(pairs))
		if !ref.stale {
			entry, _ := r.reg.Lookup(key)
			ref.text = entry.Output
		}
	}
	p.Nodes = append(p.Nodes, PlannedNode{Key: key, Path: rel, Stale: ref.stale})
	return ref
}
