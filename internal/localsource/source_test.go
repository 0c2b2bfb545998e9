package localsource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/mimir/internal/apperr"
	"github.com/starford/mimir/internal/models"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNew_RequiresDirectory(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing directory should fail")
	}

	file := filepath.Join(t.TempDir(), "file.md")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(file); err == nil {
		t.Error("regular file should fail")
	}
}

func TestFetchNotes_ReadsMarkdownOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "guide.md", "# Guide\n\nbody")
	writeFile(t, dir, "readme.txt", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, filepath.Join("nested", "deep.md"), "# Deep\nignored, top level only")

	src, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	notes, err := src.FetchNotes(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 {
		t.Fatalf("got %d notes, want 1", len(notes))
	}
	n := notes["guide.md"]
	if n.Title != "Guide" || n.Topic != models.DefaultTopic {
		t.Errorf("note = %+v", n)
	}
}

func TestFetchNotes_AssignsTopicsFromManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "deploy.md", "# Deploy\nbody")
	writeFile(t, dir, "misc.md", "# Misc\nbody")
	writeFile(t, dir, "clusters.json", `{"clusters":[{"name":"Operations","notes":["deploy.md"]}]}`)

	src, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	notes, err := src.FetchNotes(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if got := notes["deploy.md"].Topic; got != "Operations" {
		t.Errorf("Topic = %q", got)
	}
	if got := notes["misc.md"].Topic; got != models.DefaultTopic {
		t.Errorf("unlisted note Topic = %q", got)
	}
}

func TestFetchNotes_MalformedManifestTolerated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "# A\nbody")
	writeFile(t, dir, "clusters.json", `{broken`)

	src, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	notes, err := src.FetchNotes(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if got := notes["a.md"].Topic; got != models.DefaultTopic {
		t.Errorf("Topic = %q", got)
	}
}

func TestFetchNotes_RemovedRootIsFetchError(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "kb")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	src, err := New(sub)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(sub); err != nil {
		t.Fatal(err)
	}

	if _, err := src.FetchNotes(context.Background(), ""); !errors.Is(err, apperr.ErrFetch) {
		t.Errorf("err = %v, want ErrFetch", err)
	}
}
