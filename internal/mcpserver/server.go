// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes skillnotes tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
	"github.com/starford/skillnotes/internal/noteservice"
)

const formatURI = "skillnotes://note-format"

// Server wraps the MCP server with skillnotes tools.
type Server struct {
	mcp   *server.MCPServer
	notes *noteservice.Service
}

// New creates a new MCP server with all skillnotes tools registered.
func New(notes *noteservice.Service, version string) *Server {
	s := &Server{notes: notes}

	s.mcp = server.NewMCPServer(
		"Skillnotes",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List public notes, newest first."),
		mcp.WithString("subject", mcp.Description("Optional subject filter")),
		mcp.WithString("cursor", mcp.Description("Cursor from a previous page")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("list_my_notes",
		mcp.WithDescription("List the notes published by the signed-in user."),
		mcp.WithString("cursor", mcp.Description("Cursor from a previous page")),
	), s.listMine)

	s.mcp.AddTool(mcp.NewTool("get_note",
		mcp.WithDescription("Read the metadata and download URL of one note."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.getNote)

	s.mcp.AddTool(mcp.NewTool("publish_note",
		mcp.WithDescription("Publish a file as a note. Metadata MUST follow the publishing "+
			"contract; read it first via get_metadata_contract or the "+formatURI+" resource."),
		mcp.WithString("file", mcp.Required(), mcp.Description("Base64 data URI, http(s) URL or local path")),
		mcp.WithString("filename", mcp.Description("File name with extension; derived from the source when empty")),
		mcp.WithString("title", mcp.Description("Note title")),
		mcp.WithString("description", mcp.Description("Short description")),
		mcp.WithString("college", mcp.Description("College name")),
		mcp.WithString("stream", mcp.Description("Stream, for example Engineering")),
		mcp.WithString("branch", mcp.Description("Branch, for example CSE")),
		mcp.WithNumber("semester", mcp.Description("Semester, 1 to 10")),
		mcp.WithString("subject", mcp.Description("Subject name")),
		mcp.WithBoolean("is_public", mcp.Description("Visible to everyone (default true)")),
	), s.publishNote)

	s.mcp.AddTool(mcp.NewTool("retract_note",
		mcp.WithDescription("Delete one of the signed-in user's notes."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
	), s.retractNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Change metadata of one of the signed-in user's notes. Only the given fields change."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Note id")),
		mcp.WithString("title", mcp.Description("Note title")),
		mcp.WithString("description", mcp.Description("Short description")),
		mcp.WithString("college", mcp.Description("College name")),
		mcp.WithString("stream", mcp.Description("Stream")),
		mcp.WithString("branch", mcp.Description("Branch")),
		mcp.WithNumber("semester", mcp.Description("Semester, 1 to 10")),
		mcp.WithString("subject", mcp.Description("Subject name")),
		mcp.WithBoolean("is_public", mcp.Description("Visible to everyone")),
		mcp.WithString("file_url", mcp.Description("Replacement download URL")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("get_metadata_contract",
		mcp.WithDescription("Returns the skillnotes publishing contract. "+
			"Call this before publishing to ensure correct metadata."),
	), s.getContract)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Publishing Contract",
			mcp.WithResourceDescription("File types and metadata rules that every published note must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

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

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := s.notes.ListNotes(ctx, req.GetString("subject", ""), req.GetString("cursor", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(page)
}

func (s *Server) listMine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := s.notes.ListMine(ctx, req.GetString("cursor", ""))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(page)
}

func (s *Server) getNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.notes.GetNote(ctx, id)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(n)
}

func (s *Server) publishNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := req.RequireString("file")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, name, err := loadSource(ctx, src, req.GetString("filename", ""), s.notes.MaxFileSize())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	fields := models.NoteFields{
		Title:       req.GetString("title", ""),
		Description: req.GetString("description", ""),
		College:     req.GetString("college", ""),
		Stream:      req.GetString("stream", ""),
		Branch:      req.GetString("branch", ""),
		Semester:    req.GetInt("semester", 0),
		Subject:     req.GetString("subject", ""),
		IsPublic:    req.GetBool("is_public", true),
	}
	n, err := s.notes.Publish(ctx, models.Upload{Name: name, Data: data}, fields)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(n)
}

func (s *Server) retractNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.notes.Retract(ctx, id); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("retracted: %s", id)), nil
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.notes.Update(ctx, id, patchFrom(req))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(n)
}

// patchFrom sets only the fields present in the call arguments.
func patchFrom(req mcp.CallToolRequest) models.NoteUpdate {
	args := req.GetArguments()
	str := func(name string) *string {
		if _, ok := args[name]; !ok {
			return nil
		}
		v := req.GetString(name, "")
		return &v
	}
	var patch models.NoteUpdate
	patch.Title = str("title")
	patch.Description = str("description")
	patch.College = str("college")
	patch.Stream = str("stream")
	patch.Branch = str("branch")
	patch.Subject = str("subject")
	patch.FileURL = str("file_url")
	if _, ok := args["semester"]; ok {
		v := req.GetInt("semester", 0)
		patch.Semester = &v
	}
	if _, ok := args["is_public"]; ok {
		v := req.GetBool("is_public", true)
		patch.IsPublic = &v
	}
	return patch
}

func (s *Server) getContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcpserver: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError renders err for the model. Validation failures list each field
// and publication failures name the phase.
func toolError(err error) *mcp.CallToolResult {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		out, _ := json.Marshal(map[string]any{"error": "validation failed", "fields": ve.Fields})
		return mcp.NewToolResultError(string(out))
	}
	var pe *apperr.PhaseError
	if errors.As(err, &pe) {
		return mcp.NewToolResultError(fmt.Sprintf("publish failed during %s: %v", pe.Phase, pe.Err))
	}
	return mcp.NewToolResultError(err.Error())
}
