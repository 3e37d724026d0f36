// Package sink writes a finished summary tree to disk in several formats.
package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/skelly-dev/sumtree/internal/fileutil"
	"github.com/skelly-dev/sumtree/internal/summary"
)

// Format names an output encoding.
type Format string

const (
	JSON     Format = "json"
	HTML     Format = "html"
	Markdown Format = "markdown"
	YAML     Format = "yaml"
)

// BaseName is the file name, without extension, of every output.
const BaseName = "summary"

// ResultsFile collects documents of named experiments.
const ResultsFile = "results.json"

// Extension returns the file extension for f.
func (f Format) Extension() string {
	switch f {
	case Markdown:
		return ".md"
	default:
		return "." + string(f)
	}
}

// ParseFormats validates and de-duplicates format names. "md" and "yml" are
// accepted as aliases.
func ParseFormats(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			switch part {
			case "":
				continue
			case "md":
				part = string(Markdown)
			case "yml":
				part = string(YAML)
			}
			f := Format(part)
			switch f {
			case JSON, HTML, Markdown, YAML:
				out = append(out, f)
			default:
				return nil, fmt.Errorf("unsupported format %q (expected json, html, markdown, yaml)", part)
			}
		}
	}
	deduped := make([]Format, 0, len(out))
	seen := make(map[Format]bool, len(out))
	for _, f := range out {
		if !seen[f] {
			seen[f] = true
			deduped = append(deduped, f)
		}
	}
	return deduped, nil
}

// Encode renders doc in format f.
func Encode(doc summary.Document, f Format) ([]byte, error) {
	switch f {
	case JSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case YAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case HTML:
		var buf bytes.Buffer
		if err := RenderHTML(&buf, doc); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Markdown:
		return []byte(RenderMarkdown(doc)), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", f)
	}
}

// WriteAll writes doc into dir once per format and returns the paths whose
// content changed.
func WriteAll(dir string, doc summary.Document, formats []Format) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	written := make([]string, 0, len(formats))
	for _, f := range formats {
		data, err := Encode(doc, f)
		if err != nil {
			return written, fmt.Errorf("failed to render %s: %w", f, err)
		}
		path := filepath.Join(dir, BaseName+f.Extension())
		changed, err := fileutil.WriteIfChangedTracked(path, data)
		if err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		if changed {
			written = append(written, path)
		}
	}
	return written, nil
}

// AppendExperiment adds doc to the run list of experiment name in the
// results file at path, creating the file when missing.
func AppendExperiment(path, name string, doc summary.Document) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("experiment name is required")
	}
	results := make(map[string][]summary.Document)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, &results); err != nil {
				return fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	results[name] = append(results[name], doc)
	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return fileutil.WriteFileAtomic(path, append(out, '\n'), 0644)
}

// ReadDocument loads a JSON summary document from path.
func ReadDocument(path string) (summary.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return summary.Document{}, err
	}
	defer f.Close()
	return summary.DecodeDocument(f)
}
