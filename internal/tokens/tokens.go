// Package tokens counts tokens the way model context windows do.
package tokens

import (
	"fmt"
	"strings"
	"unicode/utf8"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding approximates every supported provider well enough for
// budgeting.
const DefaultEncoding = "cl100k_base"

// EstimateName selects the offline Estimator.
const EstimateName = "estimate"

// Counter reports how many tokens a text occupies.
type Counter interface {
	Count(text string) int
}

// Tiktoken counts with a BPE encoding.
type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads encoding (for example "cl100k_base"). Loading may fetch
// the BPE ranks on first use; see TIKTOKEN_CACHE_DIR.
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokens: get encoding %s: %w", encoding, err)
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// Estimator approximates one token per CharsPerToken runes, rounding up.
type Estimator struct {
	CharsPerToken int
}

func (e Estimator) ratio() int {
	if e.CharsPerToken <= 0 {
		return 4
	}
	return e.CharsPerToken
}

func (e Estimator) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + e.ratio() - 1) / e.ratio()
}

// New returns the counter named by name: "estimate" for Estimator, anything
// else is treated as a tiktoken encoding name. An empty name selects
// DefaultEncoding.
func New(name string) (Counter, error) {
	name = strings.TrimSpace(name)
	switch name {
	case EstimateName:
		return Estimator{}, nil
	case "":
		name = DefaultEncoding
	}
	return NewTiktoken(name)
}
