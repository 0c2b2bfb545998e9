package kb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/models"
	"github.com/starford/mimir/internal/parser"
)

// NoKnowledgeBaseMessage is returned by the query surface when no notes are
// loaded. The primary caller is a conversational agent, so this is a message
// rather than an error.
const NoKnowledgeBaseMessage = "No knowledge base loaded. Please ensure notes are available."

// SearchResult is a single search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SurfaceEvent asks the UI to display a note, optionally scrolled to a
// highlight or section.
type SurfaceEvent struct {
	Type          string `json:"type"`
	Path          string `json:"path"`
	Title         string `json:"title"`
	HighlightText string `json:"highlight_text,omitempty"`
	SectionTitle  string `json:"section_title,omitempty"`
}

// Service is the read/draft query surface over the note cache.
type Service struct {
	cache *Cache
}

// NewService creates a Service backed by cache.
func NewService(cache *Cache) *Service {
	return &Service{cache: cache}
}

// Cache exposes the underlying cache for refresh endpoints.
func (s *Service) Cache() *Cache { return s.cache }

// Notes returns the current note mapping, refreshing when stale.
func (s *Service) Notes(ctx context.Context) map[string]models.Note {
	return s.cache.Get(ctx, false)
}

// List renders a topic-grouped listing of every note.
func (s *Service) List(ctx context.Context) string {
	notes := s.Notes(ctx)
	if len(notes) == 0 {
		return NoKnowledgeBaseMessage
	}

	byTopic := make(map[string][]models.Note)
	for _, n := range notes {
		topic := n.Topic
		if topic == "" {
			topic = models.DefaultTopic
		}
		byTopic[topic] = append(byTopic[topic], n)
	}
	topics := make([]string, 0, len(byTopic))
	for t := range byTopic {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	var b strings.Builder
	fmt.Fprintf(&b, "Knowledge Base: %d note(s) across %d topic(s)\n\n", len(notes), len(topics))
	for _, topic := range topics {
		group := byTopic[topic]
		sort.Slice(group, func(i, j int) bool { return group[i].Title < group[j].Title })
		fmt.Fprintf(&b, "## %s (%d notes)\n", topic, len(group))
		for _, n := range group {
			fmt.Fprintf(&b, "- **%s** (`%s`)\n", n.Title, n.Path)
		}
		b.WriteString("\n")
	}
	b.WriteString("Use search_knowledge to find specific information, or get_note to read a full note.")
	return b.String()
}

// Search returns every note whose title or content contains query,
// case-insensitively. Results are ordered by path for determinism; the
// snippet is a ±100 character window around the first content match, or the
// first 200 characters when the match was title-only.
func (s *Service) Search(ctx context.Context, query string) []SearchResult {
	notes := s.Notes(ctx)
	q := strings.ToLower(query)

	paths := make([]string, 0, len(notes))
	for p := range notes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []SearchResult
	for _, p := range paths {
		n := notes[p]
		if !strings.Contains(strings.ToLower(n.Title), q) &&
			!strings.Contains(strings.ToLower(n.Content), q) {
			continue
		}
		out = append(out, SearchResult{
			Path:    n.Path,
			Title:   n.Title,
			Snippet: parser.Snippet(n.Content, query),
		})
	}
	return out
}

// FormatSearch renders search results for the conversational caller.
func (s *Service) FormatSearch(ctx context.Context, query string) string {
	if len(s.Notes(ctx)) == 0 {
		return NoKnowledgeBaseMessage
	}
	matches := s.Search(ctx, query)
	if len(matches) == 0 {
		return fmt.Sprintf("No notes found matching %q. Try different keywords or use list_notes to see all available notes.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d note(s) matching %q:\n\n", len(matches), query)
	shown := matches
	if len(shown) > 10 {
		shown = shown[:10]
	}
	for _, m := range shown {
		fmt.Fprintf(&b, "**%s** (`%s`)\n> %s\n\n", m.Title, m.Path, m.Snippet)
	}
	if len(matches) > 10 {
		fmt.Fprintf(&b, "...and %d more results.", len(matches)-10)
	}
	return strings.TrimSpace(b.String())
}

// Get returns the note at path, trying an exact match first and then a
// partial match (path fragment or missing directory/extension). A miss is
// apperr.ErrNotFound; use NotFoundMessage for the conversational rendering.
func (s *Service) Get(ctx context.Context, path string) (models.Note, error) {
	notes := s.Notes(ctx)
	if n, ok := notes[path]; ok {
		return n, nil
	}

	paths := make([]string, 0, len(notes))
	for p := range notes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if strings.Contains(p, path) || strings.HasSuffix(p, path) {
			return notes[p], nil
		}
	}
	return models.Note{}, fmt.Errorf("%w: note %s", apperr.ErrNotFound, path)
}

// NotFoundMessage renders a helpful miss for path, listing up to five
// available note paths.
func (s *Service) NotFoundMessage(ctx context.Context, path string) string {
	notes := s.Notes(ctx)
	paths := make([]string, 0, len(notes))
	for p := range notes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if len(paths) > 5 {
		paths = paths[:5]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Note '%s' not found.\n\nAvailable notes include:\n", path)
	for _, p := range paths {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	b.WriteString("\nUse list_notes to see all available notes.")
	return b.String()
}

// Draft prepares a note contribution for review. The title falls back to the
// content's first H1 heading and then to "Untitled Note"; the path falls
// back to the slugified title. Whether the draft is new is advisory, judged
// against the current snapshot only; remote state is authoritative at
// submission time.
func (s *Service) Draft(ctx context.Context, content, title, path string) models.DraftNote {
	if title == "" {
		firstLine, _, _ := strings.Cut(strings.TrimSpace(content), "\n")
		if strings.HasPrefix(firstLine, "# ") {
			title = strings.TrimSpace(firstLine[2:])
		} else {
			title = "Untitled Note"
		}
	}
	if path == "" {
		path = parser.Slug(title) + ".md"
	}
	_, exists := s.Notes(ctx)[path]
	return models.DraftNote{
		Path:    path,
		Title:   title,
		Content: content,
		IsNew:   !exists,
	}
}

// Surface builds a surface event for path. A miss is apperr.ErrNotFound.
func (s *Service) Surface(ctx context.Context, path, highlightText, sectionTitle string) (SurfaceEvent, error) {
	notes := s.Notes(ctx)
	n, ok := notes[path]
	if !ok {
		return SurfaceEvent{}, fmt.Errorf("%w: note %s", apperr.ErrNotFound, path)
	}
	return SurfaceEvent{
		Type:          "surface_note",
		Path:          path,
		Title:         n.Title,
		HighlightText: highlightText,
		SectionTitle:  sectionTitle,
	}, nil
}
