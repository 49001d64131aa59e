// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes tapestry tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/tapestry/internal/apperr"
	"github.com/starford/tapestry/internal/tapestryservice"
)

const manifestSchemaURI = "tapestry://manifest-schema"

// Server wraps the MCP server with tapestry tools.
type Server struct {
	mcp *server.MCPServer
	svc *tapestryservice.Service
	// owner is the owner of tapestries imported through the server.
	owner string
}

// New creates a new MCP server with all tapestry tools registered.
func New(svc *tapestryservice.Service, owner string) *Server {
	s := &Server{svc: svc, owner: owner}

	s.mcp = server.NewMCPServer(
		"Tapestry",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_tapestries",
		mcp.WithDescription("List tapestries, newest first."),
		mcp.WithString("owner", mcp.Description("Optional owner ID filter")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listTapestries)

	s.mcp.AddTool(mcp.NewTool("get_tapestry",
		mcp.WithDescription("Read a tapestry with its items, rels, groups and presentation steps."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Tapestry ID")),
	), s.getTapestry)

	s.mcp.AddTool(mcp.NewTool("get_job",
		mcp.WithDescription("Poll an import or fork job. Status is pending, processing, complete or failed; "+
			"progress goes from 0 to 1. Failed jobs carry an error code."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Job ID")),
	), s.getJob)

	s.mcp.AddTool(mcp.NewTool("migrate_manifest",
		mcp.WithDescription("Upgrade a root.json document of any schema version to the current version. "+
			"Read the format first via the "+manifestSchemaURI+" resource."),
		mcp.WithString("manifest", mcp.Required(), mcp.Description("The root.json document")),
	), s.migrateManifest)

	s.mcp.AddTool(mcp.NewTool("fork_tapestry",
		mcp.WithDescription("Copy a tapestry into a new one. Returns a job to poll with get_job."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Tapestry to fork")),
		mcp.WithString("title", mcp.Description("Title of the fork (defaults to the original title)")),
	), s.forkTapestry)

	s.mcp.AddTool(mcp.NewTool("import_archive",
		mcp.WithDescription("Import a tapestry archive from an http(s) URL or a base64 data URI. "+
			"Returns a job to poll with get_job."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:application/zip;base64,... URI")),
		mcp.WithString("title", mcp.Description("Optional title override")),
	), s.importArchive)

	// Resource: archive format.
	s.mcp.AddResource(
		mcp.NewResource(manifestSchemaURI, "Tapestry Archive Format",
			mcp.WithResourceDescription("Archive layout and current manifest schema."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readManifestSchemaResource,
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

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func errorResult(what string, err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", what))
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) listTapestries(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := req.GetString("owner", "")
	limit := req.GetInt("limit", 50)
	offset := req.GetInt("offset", 0)

	items, total, err := s.svc.ListTapestries(ctx, owner, limit, offset)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"tapestries": items, "total": total}), nil
}

func (s *Server) getTapestry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	g, err := s.svc.GetGraph(ctx, id)
	if err != nil {
		return errorResult(id, err), nil
	}
	return jsonResult(g), nil
}

func (s *Server) getJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := s.svc.GetJob(ctx, id)
	if err != nil {
		return errorResult(id, err), nil
	}
	return jsonResult(job), nil
}

func (s *Server) migrateManifest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("manifest")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Migrate([]byte(raw))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"from":     res.From,
		"upgrades": res.Upgrades,
		"manifest": res.Manifest,
	}), nil
}

func (s *Server) forkTapestry(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	job, err := s.svc.Fork(ctx, id, tapestryservice.ForkParams{Title: req.GetString("title", "")})
	if err != nil {
		return errorResult(id, err), nil
	}
	return jsonResult(job), nil
}

func (s *Server) readManifestSchemaResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      manifestSchemaURI,
			MIMEType: "text/markdown",
			Text:     ArchiveFormatContract,
		},
	}, nil
}
