// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Quire tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/quire/internal/hierarchy"
	"github.com/starford/quire/internal/noteservice"
	"github.com/starford/quire/internal/verify"
)

const formatURI = "quire://note-format"

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithFetcher replaces the downloader used by upload_asset for http(s) URLs.
func WithFetcher(fetch Fetcher) Option {
	return func(s *Server) {
		s.fetch = fetch
	}
}

// Server wraps the MCP server with Quire tools.
type Server struct {
	mcp      *server.MCPServer
	svc      *noteservice.Service
	verifier *verify.Verifier
	logger   *slog.Logger
	fetch    Fetcher
}

// New creates a new MCP server with all Quire tools registered.
func New(svc *noteservice.Service, verifier *verify.Verifier, opts ...Option) *Server {
	s := &Server{svc: svc, verifier: verifier, logger: slog.Default(), fetch: fetchHTTP}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		"Quire",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notebooks",
		mcp.WithDescription("List stacks and notebooks as a tree in display order."),
	), s.listNotebooks)

	s.mcp.AddTool(mcp.NewTool("move_notebook",
		mcp.WithDescription("Move a notebook into a stack or to the root, or reorder a stack. "+
			"Give either target_id with position (before, after, inside) or parent_id with index. "+
			"Stacks stay at the root and cycles are rejected."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Notebook or stack id")),
		mcp.WithNumber("target_id", mcp.Description("Node to place relative to")),
		mcp.WithString("position", mcp.Description("before, after or inside (default inside)")),
		mcp.WithNumber("parent_id", mcp.Description("New parent stack id; omit or 0 for the root")),
		mcp.WithNumber("index", mcp.Description("Position among siblings (default 0)")),
	), s.moveNotebook)

	s.mcp.AddTool(mcp.NewTool("find_or_create_tag",
		mcp.WithDescription("Return the tag with this name under the parent (case-insensitive), creating it if absent."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Tag name")),
		mcp.WithNumber("parent_id", mcp.Description("Parent tag id; omit for a top-level tag")),
	), s.findOrCreateTag)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List live notes, optionally in one notebook or with one tag."),
		mcp.WithNumber("notebook_id", mcp.Description("Notebook filter")),
		mcp.WithNumber("tag_id", mcp.Description("Tag filter")),
		mcp.WithNumber("limit", mcp.Description("Max notes (default all)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Find live notes whose title matches a query."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Title text to look for")),
		mcp.WithNumber("limit", mcp.Description("Max notes (default 20)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read a note with its body, tags and attachments. Asset references are durable "+
			"hh/<hash>.<ext> paths. Look up by id or external_id."),
		mcp.WithNumber("id", mcp.Description("Note id")),
		mcp.WithString("external_id", mcp.Description("Note external id (as used in note:// links)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("verify_export",
		mcp.WithDescription("Check an export bundle for missing files, dangling links and non-portable references."),
		mcp.WithString("root", mcp.Required(), mcp.Description("Export root directory (the directory holding manifest.json)")),
	), s.verifyExport)

	s.mcp.AddTool(mcp.NewTool("upload_asset",
		mcp.WithDescription("Import an image or document into the asset store from an http(s) URL or a base64 data URI. "+
			"Returns the durable reference and a markup element ready to paste into a note body."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:<mime>;base64,<data>")),
		mcp.WithString("filename", mcp.Description("Optional file name; derived from the URL when omitted")),
		mcp.WithNumber("note_id", mcp.Description("Optional note to attach the asset to")),
	), s.uploadAsset)

	s.mcp.AddTool(mcp.NewTool("get_note_contract",
		mcp.WithDescription("Returns the note markup contract. Read it before writing note bodies."),
	), s.getNoteContract)

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Note Markup Contract",
			mcp.WithResourceDescription("Markup rules for note bodies and asset references."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readNoteFormatResource,
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

func (s *Server) listNotebooks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tree, err := s.svc.NotebookTree(ctx)
	if err != nil {
		return s.toolError("list_notebooks", err), nil
	}
	return jsonResult(tree)
}

func (s *Server) moveNotebook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()
	var changed any
	if _, ok := args["target_id"]; ok {
		pos, err := hierarchy.ParsePosition(req.GetString("position", string(hierarchy.Inside)))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		changed, err = s.svc.MoveNotebookRelative(ctx, int64(id), int64(req.GetInt("target_id", 0)), pos)
		if err != nil {
			return s.toolError("move_notebook", err), nil
		}
	} else {
		changed, err = s.svc.MoveNotebook(ctx, int64(id), optionalID(req, "parent_id"), req.GetInt("index", 0))
		if err != nil {
			return s.toolError("move_notebook", err), nil
		}
	}
	return jsonResult(map[string]any{"changed": changed})
}

func (s *Server) findOrCreateTag(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tag, created, err := s.svc.FindOrCreateTag(ctx, name, optionalID(req, "parent_id"))
	if err != nil {
		return s.toolError("find_or_create_tag", err), nil
	}
	return jsonResult(map[string]any{"tag": tag, "created": created})
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.svc.ListNotes(ctx, optionalID(req, "notebook_id"), optionalID(req, "tag_id"), req.GetInt("limit", 0))
	if err != nil {
		return s.toolError("list_notes", err), nil
	}
	return jsonResult(notes)
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	notes, err := s.svc.SearchNotes(ctx, query, req.GetInt("limit", 0))
	if err != nil {
		return s.toolError("search_notes", err), nil
	}
	return jsonResult(notes)
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		note *noteservice.NoteDetail
		err  error
	)
	switch ext := req.GetString("external_id", ""); {
	case ext != "":
		note, err = s.svc.GetNoteByExternalID(ctx, ext)
	case req.GetInt("id", 0) > 0:
		note, err = s.svc.GetNote(ctx, int64(req.GetInt("id", 0)))
	default:
		return mcp.NewToolResultError("id or external_id is required"), nil
	}
	if err != nil {
		return s.toolError("read_note", err), nil
	}
	return jsonResult(note)
}

func (s *Server) verifyExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	root, err := req.RequireString("root")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rep, err := s.verifier.Verify(ctx, root)
	if err != nil {
		if errors.Is(err, verify.ErrManifestMissing) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return s.toolError("verify_export", err), nil
	}
	return jsonResult(rep)
}

func (s *Server) getNoteContract(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(NoteFormatContract), nil
}

func (s *Server) readNoteFormatResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     NoteFormatContract,
		},
	}, nil
}

// toolError turns a command-layer error into a tool error result.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	s.logger.Warn("mcp tool failed", slog.String("tool", tool), slog.String("error", err.Error()))
	return mcp.NewToolResultError(err.Error())
}

func optionalID(req mcp.CallToolRequest, key string) *int64 {
	id := int64(req.GetInt(key, 0))
	if id <= 0 {
		return nil
	}
	return &id
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcpserver: encode result: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}
