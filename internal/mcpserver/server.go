// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes the knowledge base tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/mimir/internal/kb"
	"github.com/starford/mimir/internal/sse"
)

// Server wraps the MCP server with the Mimir tools.
type Server struct {
	mcp    *server.MCPServer
	svc    *kb.Service
	broker *sse.Broker
}

// New creates an MCP server with all tools registered. broker may be nil;
// draft and surface events are then only returned to the tool caller.
func New(svc *kb.Service, broker *sse.Broker) *Server {
	s := &Server{svc: svc, broker: broker}

	s.mcp = server.NewMCPServer(
		"Mimir",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List all available notes in the knowledge base organized by topic."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("search_knowledge",
		mcp.WithDescription("Search the knowledge base for notes matching the query. "+
			"Returns matching notes with relevant snippets."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string to match against note titles and content")),
	), s.searchKnowledge)

	s.mcp.AddTool(mcp.NewTool("get_note",
		mcp.WithDescription("Retrieve the full content of a specific knowledge note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the note (e.g. deployment-guide.md)")),
	), s.getNote)

	s.mcp.AddTool(mcp.NewTool("draft_note",
		mcp.WithDescription("Draft a new note or changes to an existing note for user review. "+
			"The draft appears in the user's editor where they can review, modify, and submit it as a PR."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full markdown content of the note. Include a # Title as the first line.")),
		mcp.WithString("title", mcp.Description("Optional title; extracted from content when omitted")),
		mcp.WithString("path", mcp.Description("Optional path (e.g. my-new-note.md); generated from the title when omitted. For existing notes, use their exact path.")),
	), s.draftNote)

	s.mcp.AddTool(mcp.NewTool("surface_note",
		mcp.WithDescription("Surface a note to the user interface with optional highlighting. "+
			"Use this to show a specific note to the user alongside your explanation."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the note to surface")),
		mcp.WithString("highlight_text", mcp.Description("Optional text snippet to highlight in the note")),
		mcp.WithString("section_title", mcp.Description("Optional section heading to scroll to")),
	), s.surfaceNote)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listNotes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.svc.List(ctx)), nil
}

func (s *Server) searchKnowledge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(s.svc.FormatSearch(ctx, query)), nil
}

func (s *Server) getNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(s.svc.Notes(ctx)) == 0 {
		return mcp.NewToolResultText(kb.NoKnowledgeBaseMessage), nil
	}
	note, getErr := s.svc.Get(ctx, path)
	if getErr != nil {
		// A miss is a helpful message, not a tool error: the agent should
		// recover conversationally.
		return mcp.NewToolResultText(s.svc.NotFoundMessage(ctx, path)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("<note path=%q title=%q>\n%s\n</note>", note.Path, note.Title, note.Content)), nil
}

func (s *Server) draftNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title := req.GetString("title", "")
	path := req.GetString("path", "")

	draft := s.svc.Draft(ctx, content, title, path)
	s.broker.Publish(sse.EventNoteDrafted, draft)

	payload, _ := json.Marshal(draft)
	action := "created"
	if !draft.IsNew {
		action = "updated"
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"%s\nI've drafted the note '%s' (%s). Please review the content in the editor above. "+
			"You can make any changes and then click 'Submit PR' to contribute it to the knowledge base.",
		payload, draft.Title, action)), nil
}

func (s *Server) surfaceNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	highlight := req.GetString("highlight_text", "")
	section := req.GetString("section_title", "")

	event, surfErr := s.svc.Surface(ctx, path, highlight, section)
	if surfErr != nil {
		return mcp.NewToolResultText(s.svc.NotFoundMessage(ctx, path)), nil
	}
	s.broker.Publish(sse.EventNoteSurfaced, event)

	payload, _ := json.Marshal(event)
	return mcp.NewToolResultText(fmt.Sprintf(
		"%s\nNote '%s' has been surfaced to the user's viewer.", payload, event.Title)), nil
}
