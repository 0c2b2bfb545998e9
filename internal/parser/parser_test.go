package parser

import (
	"strings"
	"testing"
)

func TestTitle_FirstHeading(t *testing.T) {
	content := "# Feature Flags\n\nSome body text.\n# Second Heading\n"
	if got := Title(content); got != "Feature Flags" {
		t.Errorf("Title = %q, want %q", got, "Feature Flags")
	}
}

func TestTitle_IndentedHeading(t *testing.T) {
	content := "intro line\n   # Padded Heading\nbody"
	if got := Title(content); got != "Padded Heading" {
		t.Errorf("Title = %q, want %q", got, "Padded Heading")
	}
}

func TestTitle_NoHeading(t *testing.T) {
	if got := Title("no headings here\n## only h2"); got != "" {
		t.Errorf("Title = %q, want empty", got)
	}
}

func TestTitleOrFilename(t *testing.T) {
	cases := []struct {
		name     string
		content  string
		filename string
		want     string
	}{
		{"heading wins", "# From Heading\nbody", "other-name.md", "From Heading"},
		{"hyphenated filename", "no heading", "feature-flags.md", "Feature Flags"},
		{"underscored filename", "no heading", "release_process.md", "Release Process"},
		{"mixed separators", "", "on-call_runbook.md", "On Call Runbook"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TitleOrFilename(tc.content, tc.filename); got != tc.want {
				t.Errorf("TitleOrFilename = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSlug(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Feature Flags", "feature-flags"},
		{"  Rollout: Phase #2  ", "rollout-phase-2"},
		{"already-slugged", "already-slugged"},
		{"Multiple   Spaces!!And??Punct", "multiple-spaces-and-punct"},
	}
	for _, tc := range cases {
		if got := Slug(tc.title); got != tc.want {
			t.Errorf("Slug(%q) = %q, want %q", tc.title, got, tc.want)
		}
	}
}

func TestSnippet_WindowAroundMatch(t *testing.T) {
	content := strings.Repeat("a", 150) + "NEEDLE" + strings.Repeat("b", 150)
	got := Snippet(content, "needle")
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
		t.Errorf("snippet should be ellipsized on both sides: %q", got)
	}
	if !strings.Contains(got, "NEEDLE") {
		t.Errorf("snippet should contain the match: %q", got)
	}
	// 100 chars each side plus the match and two ellipses.
	if want := 3 + 100 + 6 + 100 + 3; len(got) != want {
		t.Errorf("snippet length = %d, want %d", len(got), want)
	}
}

func TestSnippet_MatchAtStart(t *testing.T) {
	content := "NEEDLE" + strings.Repeat("x", 300)
	got := Snippet(content, "NEEDLE")
	if strings.HasPrefix(got, "...") {
		t.Errorf("match at offset zero should not have leading ellipsis: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated tail should have trailing ellipsis: %q", got)
	}
}

func TestSnippet_TitleOnlyFallback(t *testing.T) {
	long := strings.Repeat("z", 250)
	got := Snippet(long, "absent")
	if got != long[:200]+"..." {
		t.Errorf("fallback should be first 200 chars + ellipsis, got %d chars", len(got))
	}

	short := "short body"
	if got := Snippet(short, "absent"); got != short {
		t.Errorf("short fallback = %q, want full content", got)
	}
}
