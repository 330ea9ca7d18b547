// Package mcpserver exposes the voice note repository as MCP (Model Context
// Protocol) tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/noterepo"
	"github.com/starford/ansuz/internal/query"
	"github.com/starford/ansuz/internal/reminder"
)

// Server wraps the MCP server with Ansuz tools.
type Server struct {
	mcp  *server.MCPServer
	repo *noterepo.Repository
}

// New creates an MCP server with all note tools registered.
func New(repo *noterepo.Repository) *Server {
	s := &Server{repo: repo}

	s.mcp = server.NewMCPServer(
		"Ansuz",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List all voice notes, most recent first, with tags, reminder status, and transcription when available."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Filter voice notes by a free-text tag query and an optional calendar date."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Whitespace-separated tag tokens; a note matches when any token is a substring of any tag")),
		mcp.WithString("date", mcp.Description("Optional calendar date (YYYY-MM-DD) the note was created on, local time")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("transcribe_note",
		mcp.WithDescription("Produce (or re-request) the transcription text for a voice note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.transcribeNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a voice note and its audio."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.deleteNote)

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

// noteSummary is the tool-facing note shape.
type noteSummary struct {
	ID            string   `json:"id"`
	CreatedAt     string   `json:"created_at"`
	Tags          []string `json:"tags"`
	Reminder      string   `json:"reminder,omitempty"`
	Transcription string   `json:"transcription,omitempty"`
}

func (s *Server) summaries(ctx context.Context, tagQuery, date string) ([]noteSummary, error) {
	notes, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if date == "" {
		date = query.DateAll
	}
	filtered := query.Filter(notes, tagQuery, date)

	now := time.Now()
	out := make([]noteSummary, len(filtered))
	for i, n := range filtered {
		sum := noteSummary{
			ID:            n.ID,
			CreatedAt:     n.CreatedAt.Format(time.RFC3339),
			Tags:          n.Tags,
			Transcription: n.Transcription,
		}
		if st := reminder.Evaluate(n, now); st.Kind != reminder.None {
			sum.Reminder = fmt.Sprintf("%s (%s)", st.Kind, st.At.Format(time.RFC3339))
		}
		out[i] = sum
	}
	return out, nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sums, err := s.summaries(ctx, "", "")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(sums, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	date := ""
	if d, err := req.RequireString("date"); err == nil {
		date = d
	}

	sums, err := s.summaries(ctx, q, date)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(sums, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) transcribeNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := s.repo.Transcribe(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("note not found: %s", id)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted %s", id)), nil
}
