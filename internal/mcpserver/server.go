// Package mcpserver exposes card retrieval to external agents over MCP (stdio transport).
package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/zhouzirui/cardfinder/backend/internal/model/card"
	"github.com/zhouzirui/cardfinder/backend/internal/service/retrieval"
)

// CatalogURI is the resource holding the card catalog as JSON.
const CatalogURI = "cards://catalog"

// Server wraps the MCP server with the card tools.
type Server struct {
	mcp   *server.MCPServer
	tool  *retrieval.Tool
	cards card.Store
}

// New creates a new MCP server with all card tools registered.
func New(searcher retrieval.Searcher, cards card.Store, version string) *Server {
	s := &Server{tool: retrieval.NewTool(searcher), cards: cards}

	s.mcp = server.NewMCPServer(
		"cardfinder",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool(retrieval.ToolName,
		mcp.WithDescription(retrieval.ToolDescription),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search text describing the cards that are needed")),
		mcp.WithString("target", mcp.Description("Optional target group"), mcp.Enum("kids", "adults")),
	), s.retrieveSimilarDocuments)

	s.mcp.AddTool(mcp.NewTool("list_categories",
		mcp.WithDescription("List card categories with their descriptions and available actions."),
	), s.listCategories)

	s.mcp.AddResource(
		mcp.NewResource(CatalogURI, "Card Catalog",
			mcp.WithResourceDescription("Every card in the catalog with category, action, target and keywords."),
			mcp.WithMIMEType("application/json"),
		),
		s.readCatalogResource,
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

func (s *Server) retrieveSimilarDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args, err := json.Marshal(retrieval.ToolArguments{Query: query, Target: req.GetString("target", "")})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, err := s.tool.InvokableRun(ctx, string(args))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	// 工具以 {"error": ...} 报告参数与检索错误，MCP 客户端需要 isError 标记。
	var toolErr retrieval.ToolError
	if strings.HasPrefix(out, "{") && json.Unmarshal([]byte(out), &toolErr) == nil && toolErr.Error != "" {
		return mcp.NewToolResultError(toolErr.Error), nil
	}
	return mcp.NewToolResultText(out), nil
}

type categorySummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
}

func (s *Server) listCategories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	actions := s.cards.ActionsByCategory()
	categories := s.cards.Categories()

	out := make([]categorySummary, len(categories))
	for i, c := range categories {
		list := actions[c.Name]
		if list == nil {
			list = []string{}
		}
		out[i] = categorySummary{Name: c.Name, Description: c.Description, Actions: list}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("encode categories: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) readCatalogResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(card.Catalog{Categories: s.cards.Categories(), Cards: s.cards.List()}, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      CatalogURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
