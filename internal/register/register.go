// Package register persists the output of every summarization call keyed by
// node, together with the hash of the input that produced it.
package register

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/skelly-dev/sumtree/internal/fileutil"
)

// DefaultFile is the cache file name inside the summarized root.
const DefaultFile = ".summary_cache.json"

var (
	// ErrNotFound is returned by Get for keys with no stored entry.
	ErrNotFound = errors.New("register entry not found")
	// ErrCorrupt marks a cache file that exists but cannot be decoded.
	ErrCorrupt = errors.New("register cache is corrupt")
)

// Entry is one cached result. It is stored on disk as [hash, output].
type Entry struct {
	Hash   string
	Output string
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.Hash, e.Output})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("expected [hash, output], got %d elements", len(pair))
	}
	e.Hash = pair[0]
	e.Output = pair[1]
	return nil
}

// Register maps node keys to cached entries. All methods are safe for
// concurrent use; writes are serialized.
type Register struct {
	mu      sync.RWMutex
	entries map[string]Entry
	touched map[string]bool
}

func New() *Register {
	return &Register{
		entries: make(map[string]Entry),
		touched: make(map[string]bool),
	}
}

// Hash returns the lowercase hex SHA-256 of text's UTF-8 bytes.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Set records output for key along with the hash of input.
func (r *Register) Set(key, input, output string) {
	entry := Entry{Hash: Hash(input), Output: output}
	r.mu.Lock()
	r.entries[key] = entry
	r.touched[key] = true
	r.mu.Unlock()
}

// Get returns the cached output for key.
func (r *Register) Get(key string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	r.touched[key] = true
	return entry.Output, nil
}

// IsChanged reports whether key is absent or was stored for a different input.
func (r *Register) IsChanged(key, input string) bool {
	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()
	if !ok {
		return true
	}
	return entry.Hash != Hash(input)
}

// Lookup returns the entry stored for key without marking it as used.
func (r *Register) Lookup(key string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[key]
	return entry, ok
}

func (r *Register) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Keys returns every stored key in sorted order.
func (r *Register) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fileutil.MapKeysSorted(r.entries)
}

// Prune drops every entry that was neither read nor written since the
// register was loaded and returns the removed keys.
func (r *Register) Prune() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := make([]string, 0)
	for key := range r.entries {
		if !r.touched[key] {
			removed = append(removed, key)
			delete(r.entries, key)
		}
	}
	sort.Strings(removed)
	return removed
}

// Load reads a register from path. A missing file yields an empty register.
// An undecodable file also yields an empty, usable register together with
// an error wrapping ErrCorrupt, so callers can warn and continue cold.
func Load(path string) (*Register, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return New(), fmt.Errorf("failed to read register %s: %w", path, err)
	}

	r := New()
	if len(bytes.TrimSpace(data)) == 0 {
		return r, nil
	}
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return r, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	for key, entry := range entries {
		r.entries[key] = entry
	}
	return r, nil
}

// Save writes the full mapping to path. Keys are emitted in sorted order so
// unchanged registers produce identical bytes.
func (r *Register) Save(path string) error {
	r.mu.RLock()
	data, err := json.MarshalIndent(r.entries, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode register: %w", err)
	}
	if err := fileutil.WriteIfChanged(path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write register %s: %w", path, err)
	}
	return nil
}
