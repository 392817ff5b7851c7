// Package mcpserver exposes the pipeline as Model Context Protocol tools.
package mcpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"ragapi/internal/domain"
	"ragapi/internal/logger"
)

// Version is the MCP server version.
const Version = "0.1.0"

// Server is the MCP front end of the pipeline.
type Server struct {
	pipeline domain.Pipeline
	server   *mcp.Server
}

// New creates an MCP server with the query and ingest tools registered.
func New(pipeline domain.Pipeline) *Server {
	s := &Server{
		pipeline: pipeline,
		server:   mcp.NewServer(&mcp.Implementation{Name: "ragapi", Version: Version}, nil),
	}
	s.registerTools()
	return s
}

// Run serves over stdio until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP serves the streamable HTTP transport on addr.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background()) //nolint:errcheck
	}()
	logger.Info("MCP server listening on %s", addr)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
