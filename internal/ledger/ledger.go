// Package ledger records which channels the last reconciliation pass
// deployed. Cleanup consults it to find channels that no longer appear in
// either the desired state or the remote listing.
package ledger

import (
	"context"
	"sort"
	"sync"
)

// Ledger stores the set of deployed channel names.
type Ledger interface {
	// Load returns the recorded names in sorted order. An empty ledger
	// returns no names and no error.
	Load(ctx context.Context) ([]string, error)
	// Replace overwrites the record with names.
	Replace(ctx context.Context, names []string) error
	Close() error
}

// Memory is an in-process Ledger.
type Memory struct {
	mu    sync.Mutex
	names []string
}

var _ Ledger = (*Memory)(nil)

// NewMemory returns a ledger seeded with names.
func NewMemory(names ...string) *Memory {
	return &Memory{names: normalize(names)}
}

func (m *Memory) Load(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.names...), nil
}

func (m *Memory) Replace(ctx context.Context, names []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = normalize(names)
	return nil
}

func (m *Memory) Close() error { return nil }

// normalize returns a sorted copy of names without blanks or duplicates.
func normalize(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
