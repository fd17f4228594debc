// Package mcpadapter exposes the read side of the pipeline as MCP tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const defaultLogLimit = 100

type Server struct {
	documents ports.DocumentReader
	logs      ports.LogReader
	mcp       *server.MCPServer
}

func NewServer(name, version string, documents ports.DocumentReader, logs ports.LogReader) *Server {
	s := &Server{
		documents: documents,
		logs:      logs,
		mcp: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving JSON-RPC over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List processed documents, newest first."),
		mcp.WithString("status", mcp.Description("processing, complete or error"), mcp.Enum("processing", "complete", "error")),
		mcp.WithString("category", mcp.Description("Category such as financial or legal")),
		mcp.WithString("document_type", mcp.Description("Document type such as invoice")),
		mcp.WithString("search", mcp.Description("Substring matched against filename, summary and keywords")),
		mcp.WithNumber("limit", mcp.Description("Page size, 1 to 500")),
		mcp.WithNumber("offset", mcp.Description("Records to skip")),
	), s.listDocuments)

	s.mcp.AddTool(mcp.NewTool("get_document",
		mcp.WithDescription("Fetch the full record of one document, including extracted entities and triggers."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	), s.getDocument)

	s.mcp.AddTool(mcp.NewTool("pipeline_logs",
		mcp.WithDescription("Read the pipeline log, most recent entries last."),
		mcp.WithString("document_id", mcp.Description("Only entries of this document")),
		mcp.WithString("stage", mcp.Description("Stage name such as EXTRACT")),
		mcp.WithString("level", mcp.Description("info, warn, error or success")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of entries")),
	), s.pipelineLogs)

	s.mcp.AddTool(mcp.NewTool("pipeline_stats",
		mcp.WithDescription("Aggregate counts over every document."),
	), s.pipelineStats)
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.documents.List(ctx, domain.DocumentFilter{
		Status:       domain.DocumentStatus(req.GetString("status", "")),
		Category:     req.GetString("category", ""),
		DocumentType: req.GetString("document_type", ""),
		Search:       req.GetString("search", ""),
		Limit:        req.GetInt("limit", domain.DefaultListLimit),
		Offset:       req.GetInt("offset", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(docs)
}

func (s *Server) getDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(doc)
}

func (s *Server) pipelineLogs(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := domain.LogFilter{
		DocumentID: req.GetString("document_id", ""),
		Stage:      req.GetString("stage", ""),
		Limit:      req.GetInt("limit", defaultLogLimit),
	}
	if raw := req.GetString("level", ""); raw != "" {
		level, ok := domain.ParseLogLevel(raw)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("unknown level %q", raw)), nil
		}
		filter.Level = level
	}
	return jsonResult(s.logs.ListLogs(filter))
}

func (s *Server) pipelineStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.documents.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stats)
}

func jsonResult(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
