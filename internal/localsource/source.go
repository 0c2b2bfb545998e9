// Package localsource reads the knowledge base from a local directory
// instead of the remote repository. It exists for development: the directory
// plays the role of the note repo's default branch, and a file watcher plays
// the role of the push webhook.
package localsource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/models"
	"github.com/starford/mimir/internal/parser"
)

// Source fetches notes from a directory of top-level .md files plus an
// optional clusters.json, mirroring the remote repository layout.
type Source struct {
	root string
}

// New creates a Source rooted at dir. The directory must exist.
func New(dir string) (*Source, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("localsource: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("localsource: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("localsource: root is not a directory: %s", abs)
	}
	return &Source{root: abs}, nil
}

// FetchNotes implements kb.Fetcher. The branch argument is ignored; a local
// directory has only one state. Unreadable files are skipped, matching the
// remote adapter's partial-failure behavior.
func (s *Source) FetchNotes(_ context.Context, _ string) (map[string]models.Note, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", apperr.ErrFetch, s.root, err)
	}

	manifest := s.readManifest()

	notes := make(map[string]models.Note)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			slog.Warn("skipping unreadable note",
				slog.String("path", e.Name()), slog.String("error", err.Error()))
			continue
		}
		content := string(data)
		notes[e.Name()] = models.Note{
			Path:    e.Name(),
			Title:   parser.TitleOrFilename(content, e.Name()),
			Content: content,
			Topic:   manifest.TopicFor(e.Name()),
		}
	}
	return notes, nil
}

func (s *Source) readManifest() *models.Manifest {
	data, err := os.ReadFile(filepath.Join(s.root, "clusters.json"))
	if err != nil {
		return &models.Manifest{}
	}
	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Debug("malformed clusters.json, topics default to General",
			slog.String("error", err.Error()))
		return &models.Manifest{}
	}
	return &m
}
