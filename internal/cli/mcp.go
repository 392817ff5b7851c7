package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ragapi/internal/logger"
	"ragapi/internal/mcpserver"
)

var mcpPort int

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server",
	Long: `Start a Model Context Protocol server exposing the query, ingest_text
and reset_index tools.

By default the server speaks JSON-RPC over stdio. Use --port to serve the
streamable HTTP transport instead, and --server to forward every tool call
to a running ragapi API.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().IntVarP(&mcpPort, "port", "p", 0, "HTTP port (0 = use stdio)")
	addServerFlag(mcpCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// stdout carries the protocol in stdio mode.
	logger.SetOutput(os.Stderr)

	pipeline, _, closeFn, err := openPipeline(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	server := mcpserver.New(pipeline)
	if mcpPort > 0 {
		addr := fmt.Sprintf(":%d", mcpPort)
		fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on http://localhost%s\n", addr)
		return server.RunHTTP(ctx, addr)
	}
	return server.Run(ctx)
}
