// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes Raido's record operations as tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/recordservice"
	"github.com/starford/raido/internal/store"
)

// Server wraps the MCP server with Raido tools.
type Server struct {
	mcp *server.MCPServer
	svc *recordservice.Service
}

// New creates a new MCP server with all Raido tools registered.
func New(svc *recordservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Raido",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_records",
		mcp.WithDescription("Search contacts or leads by name, email, or company substring."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type: contact or lead")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchRecords)

	s.mcp.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Read a single contact or lead by ID."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type: contact or lead")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record ID")),
	), s.getRecord)

	s.mcp.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List contacts or leads, optionally filtered by pipeline stage or assignee."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type: contact or lead")),
		mcp.WithString("stage", mcp.Description("Optional pipeline stage filter (new, contacted, qualified, proposal, won, lost)")),
		mcp.WithString("assigned_to", mcp.Description("Optional assignee filter")),
	), s.listRecords)

	s.mcp.AddTool(mcp.NewTool("find_duplicates",
		mcp.WithDescription("Scan a collection for groups of records that collide on email, phone, or name+company."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type: contact or lead")),
	), s.findDuplicates)

	s.mcp.AddTool(mcp.NewTool("merge_records",
		mcp.WithDescription("Merge duplicate records into a surviving primary. The duplicates are deleted; "+
			"their tags, custom fields and notes are folded into the primary."),
		mcp.WithString("type", mcp.Required(), mcp.Description("Entity type: contact or lead")),
		mcp.WithString("primary_id", mcp.Required(), mcp.Description("ID of the surviving record")),
		mcp.WithString("duplicate_ids", mcp.Required(), mcp.Description("Comma-separated IDs of the duplicates to fold in")),
	), s.mergeRecords)

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

// entityType validates the type argument shared by every tool.
func entityType(req mcp.CallToolRequest) (models.EntityType, error) {
	raw, err := req.RequireString("type")
	if err != nil {
		return "", err
	}
	typ := models.EntityType(strings.ToLower(raw))
	if !typ.Valid() {
		return "", fmt.Errorf("unknown entity type %q (want contact or lead)", raw)
	}
	return typ, nil
}

func (s *Server) searchRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := entityType(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.List(ctx, typ, recordservice.ListQuery{
		Filter: store.Filter{Search: query},
		Limit:  recordservice.DefaultLimit,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(res.Items, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := entityType(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.Get(ctx, typ, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	out, _ := json.MarshalIndent(rec, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := entityType(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var q recordservice.ListQuery
	if stage, err := req.RequireString("stage"); err == nil {
		q.Filter.Stage = stage
	}
	if assignee, err := req.RequireString("assigned_to"); err == nil {
		q.Filter.AssignedTo = assignee
	}
	res, err := s.svc.List(ctx, typ, q)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) findDuplicates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := entityType(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	groups, err := s.svc.DuplicateGroups(ctx, typ)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(groups) == 0 {
		return mcp.NewToolResultText("no duplicates found"), nil
	}
	out, _ := json.MarshalIndent(groups, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) mergeRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := entityType(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	primaryID, err := req.RequireString("primary_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawIDs, err := req.RequireString("duplicate_ids")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var dupIDs []string
	for _, id := range strings.Split(rawIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			dupIDs = append(dupIDs, id)
		}
	}
	if len(dupIDs) == 0 {
		return mcp.NewToolResultError("duplicate_ids is empty"), nil
	}
	rec, err := s.svc.Merge(ctx, typ, primaryID, dupIDs, "mcp")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(rec, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
