// Package testutil provides shared test helpers for ledgers, fetchers, and clocks.
package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/starford/mimir/internal/contrib"
	"github.com/starford/mimir/internal/models"
)

// TestLedger creates a temporary SQLite ledger that is automatically cleaned up.
func TestLedger(t *testing.T) *contrib.Ledger {
	t.Helper()
	dbFile, err := os.CreateTemp("", "mimir-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	ledger, err := contrib.OpenLedger(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

// Clock is a controllable time source for tests.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at the given instant.
func NewClock(at time.Time) *Clock {
	return &Clock{now: at}
}

// Now returns the current instant. Pass this method as a Now option.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// StaticFetcher serves a fixed note set and counts fetches. Err, when set,
// is returned instead of the notes.
type StaticFetcher struct {
	mu      sync.Mutex
	Notes   map[string]models.Note
	Err     error
	fetches int
}

// FetchNotes returns the configured notes or error.
func (f *StaticFetcher) FetchNotes(_ context.Context, _ string) (map[string]models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.Err != nil {
		return nil, f.Err
	}
	out := make(map[string]models.Note, len(f.Notes))
	for k, v := range f.Notes {
		out[k] = v
	}
	return out, nil
}

// Fetches reports how many times FetchNotes has been called.
func (f *StaticFetcher) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// Set replaces the served note map.
func (f *StaticFetcher) Set(notes map[string]models.Note, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Notes = notes
	f.Err = err
}

// Note builds a note whose title is derived the same way the loader does it.
func Note(path, title, content string) models.Note {
	return models.Note{Path: path, Title: title, Content: content, Topic: models.DefaultTopic}
}
