package mcpserver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/mimir/internal/kb"
	"github.com/starford/mimir/internal/models"
	"github.com/starford/mimir/internal/sse"
	"github.com/starford/mimir/internal/testutil"
)

func testServer(t *testing.T, notes map[string]models.Note) (*Server, *sse.Broker) {
	t.Helper()

	fetcher := &testutil.StaticFetcher{Notes: notes}
	clock := testutil.NewClock(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC))
	svc := kb.NewService(kb.NewCache(kb.CacheOptions{Fetcher: fetcher, Now: clock.Now}))

	broker := sse.NewBroker()
	t.Cleanup(broker.Close)

	return New(svc, broker), broker
}

func sampleNotes() map[string]models.Note {
	return map[string]models.Note{
		"deployment.md": {
			Path:    "deployment.md",
			Title:   "Deployment",
			Content: "# Deployment\n\nShip with blue-green rollouts.",
			Topic:   "Operations",
		},
	}
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct call-tool test helper, so invoke the handler
	// functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_notes":
		result, err = srv.listNotes(ctx, req)
	case "search_knowledge":
		result, err = srv.searchKnowledge(ctx, req)
	case "get_note":
		result, err = srv.getNote(ctx, req)
	case "draft_note":
		result, err = srv.draftNote(ctx, req)
	case "surface_note":
		result, err = srv.surfaceNote(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestListNotes(t *testing.T) {
	srv, _ := testServer(t, sampleNotes())
	text := resultText(callTool(t, srv, "list_notes", map[string]interface{}{}))
	if !strings.Contains(text, "## Operations (1 notes)") {
		t.Errorf("list = %q", text)
	}
}

func TestListNotes_Empty(t *testing.T) {
	srv, _ := testServer(t, nil)
	text := resultText(callTool(t, srv, "list_notes", map[string]interface{}{}))
	if text != kb.NoKnowledgeBaseMessage {
		t.Errorf("list = %q, want the empty-KB message", text)
	}
}

func TestSearchKnowledge(t *testing.T) {
	srv, _ := testServer(t, sampleNotes())
	text := resultText(callTool(t, srv, "search_knowledge", map[string]interface{}{
		"query": "rollouts",
	}))
	if !strings.Contains(text, "**Deployment**") {
		t.Errorf("search = %q", text)
	}
}

func TestGetNote(t *testing.T) {
	srv, _ := testServer(t, sampleNotes())
	text := resultText(callTool(t, srv, "get_note", map[string]interface{}{
		"path": "deployment.md",
	}))
	if !strings.Contains(text, "Ship with blue-green rollouts.") {
		t.Errorf("get = %q", text)
	}
}

func TestGetNote_MissingIsHelpfulText(t *testing.T) {
	srv, _ := testServer(t, sampleNotes())
	r := callTool(t, srv, "get_note", map[string]interface{}{"path": "nope.md"})
	if r.IsError {
		t.Error("a miss should be a text result, not a tool error")
	}
	text := resultText(r)
	if !strings.Contains(text, "Note 'nope.md' not found.") || !strings.Contains(text, "- deployment.md") {
		t.Errorf("miss = %q", text)
	}
}

func TestDraftNote_PublishesEvent(t *testing.T) {
	srv, broker := testServer(t, sampleNotes())
	events := broker.Subscribe()
	defer broker.Unsubscribe(events)

	r := callTool(t, srv, "draft_note", map[string]interface{}{
		"content": "# Release Checklist\n\n- tag the build",
	})
	text := resultText(r)
	if !strings.Contains(text, "I've drafted the note 'Release Checklist' (created)") {
		t.Errorf("draft = %q", text)
	}
	if !strings.Contains(text, `"path":"release-checklist.md"`) {
		t.Errorf("draft payload missing path: %q", text)
	}

	select {
	case msg := <-events:
		if !strings.Contains(string(msg), "event: note.drafted") {
			t.Errorf("event = %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no note.drafted event")
	}
}

func TestDraftNote_ExistingPathIsUpdate(t *testing.T) {
	srv, _ := testServer(t, sampleNotes())
	r := callTool(t, srv, "draft_note", map[string]interface{}{
		"content": "# Deployment\n\nrevised",
		"path":    "deployment.md",
	})
	if !strings.Contains(resultText(r), "(updated)") {
		t.Errorf("draft = %q", resultText(r))
	}
}

func TestSurfaceNote_PublishesEvent(t *testing.T) {
	srv, broker := testServer(t, sampleNotes())
	events := broker.Subscribe()
	defer broker.Unsubscribe(events)

	r := callTool(t, srv, "surface_note", map[string]interface{}{
		"path":           "deployment.md",
		"highlight_text": "blue-green",
	})
	if !strings.Contains(resultText(r), "Note 'Deployment' has been surfaced") {
		t.Errorf("surface = %q", resultText(r))
	}

	select {
	case msg := <-events:
		s := string(msg)
		if !strings.Contains(s, "event: note.surfaced") || !strings.Contains(s, `"highlight_text":"blue-green"`) {
			t.Errorf("event = %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no note.surfaced event")
	}
}

func TestSurfaceNote_Missing(t *testing.T) {
	srv, _ := testServer(t, sampleNotes())
	r := callTool(t, srv, "surface_note", map[string]interface{}{"path": "nope.md"})
	if r.IsError {
		t.Error("a miss should be a text result, not a tool error")
	}
	if !strings.Contains(resultText(r), "not found") {
		t.Errorf("surface miss = %q", resultText(r))
	}
}
