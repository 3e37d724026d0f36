package summary

import (
	"encoding/json"
	"fmt"
	"io"
)

// Document is the serialized form of a summary tree.
type Document struct {
	Path      string     `json:"path" yaml:"path"`
	Key       string     `json:"key,omitempty" yaml:"key,omitempty"`
	Summary   string     `json:"summary" yaml:"summary"`
	Summaries []Document `json:"summaries,omitempty" yaml:"summaries,omitempty"`
	Details   *Metadata  `json:"details,omitempty" yaml:"details,omitempty"`
}

// ToDocument converts s into its serialized form, attaching meta to the
// root only.
func ToDocument(s Summary, meta *Metadata) Document {
	doc := toDocument(s)
	doc.Details = meta
	return doc
}

func toDocument(s Summary) Document {
	doc := Document{Path: s.Path(), Summary: s.Text()}
	if s.Key() != s.Path() {
		doc.Key = s.Key()
	}
	children := s.Children()
	if len(children) > 0 {
		doc.Summaries = make([]Document, len(children))
		for i, child := range children {
			doc.Summaries[i] = toDocument(child)
		}
	}
	return doc
}

// FromDocument rebuilds a summary tree. Documents without children become
// leaves.
func FromDocument(doc Document) (Summary, error) {
	if len(doc.Summaries) == 0 {
		return NewLeaf(doc.Path, doc.Summary), nil
	}
	children := make([]Summary, len(doc.Summaries))
	for i, childDoc := range doc.Summaries {
		child, err := FromDocument(childDoc)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}
	key := doc.Key
	if key == "" {
		key = doc.Path
	}
	return NewInterior(key, doc.Path, doc.Summary, children)
}

// DecodeDocument reads one JSON document from r.
func DecodeDocument(r io.Reader) (Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode summary document: %w", err)
	}
	if doc.Path == "" && doc.Summary == "" {
		return Document{}, fmt.Errorf("summary document has neither path nor summary")
	}
	return doc, nil
}
