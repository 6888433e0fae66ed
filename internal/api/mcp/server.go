// Package mcp exposes document search and grounded chat as MCP tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/markdave123-py/documind/internal/core/rag"
	"github.com/markdave123-py/documind/internal/models"
)

type Documents interface {
	Get(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context) ([]*models.Document, error)
}

type Engine interface {
	Chat(ctx context.Context, req rag.ChatRequest) (*models.Answer, error)
	Search(ctx context.Context, req rag.SearchRequest) (*models.SearchResult, error)
}

type Server struct {
	docs   Documents
	engine Engine
	server *mcp.Server
}

func NewServer(version string, docs Documents, engine Engine) (*Server, error) {
	if docs == nil || engine == nil {
		return nil, fmt.Errorf("mcp server: missing dependency")
	}
	s := &Server{
		docs:   docs,
		engine: engine,
		server: mcp.NewServer(&mcp.Implementation{Name: "documind", Version: version}, nil),
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
