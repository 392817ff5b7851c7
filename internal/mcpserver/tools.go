package mcpserver

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"ragapi/internal/domain"
)

// QueryInput is the input schema for the query tool.
type QueryInput struct {
	Text string `json:"text" jsonschema:"the natural-language question"`
	TopK int    `json:"top_k,omitempty" jsonschema:"number of source passages to retrieve (server default when omitted)"`
}

// QueryOutput is the output schema for the query tool.
type QueryOutput struct {
	Response string       `json:"response"`
	Sources  []SourceNode `json:"sources"`
}

// SourceNode is one retrieved passage.
type SourceNode struct {
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	SourceID string  `json:"source_id,omitempty"`
	Index    int     `json:"index"`
}

// IngestInput is the input schema for the ingest_text tool.
type IngestInput struct {
	Content  string `json:"content" jsonschema:"plain text to index"`
	SourceID string `json:"source_id,omitempty" jsonschema:"stable identifier; derived from the content when omitted"`
	Name     string `json:"name,omitempty" jsonschema:"display name of the document"`
}

// IngestOutput is the output schema for the ingest_text tool.
type IngestOutput struct {
	SourceID     string `json:"source_id"`
	UnitsCreated int    `json:"units_created"`
	UnitsWritten int    `json:"units_written"`
}

// ResetOutput is the output schema for the reset_index tool.
type ResetOutput struct {
	Message string `json:"message"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "query",
		Description: "Answer a question from the indexed documents",
	}, s.handleQuery)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest_text",
		Description: "Index a plain-text document",
	}, s.handleIngest)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "reset_index",
		Description: "Remove every indexed document",
	}, s.handleReset)
}

func (s *Server) handleQuery(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input QueryInput,
) (*mcp.CallToolResult, QueryOutput, error) {
	ans, err := s.pipeline.Query(ctx, domain.Query{Text: input.Text}, input.TopK)
	if err != nil {
		return nil, QueryOutput{}, err
	}
	out := QueryOutput{Response: ans.Response, Sources: make([]SourceNode, len(ans.Matches))}
	for i, m := range ans.Matches {
		out.Sources[i] = SourceNode{Text: m.Text, Score: m.Score, SourceID: m.SourceID, Index: m.Index}
	}
	return nil, out, nil
}

func (s *Server) handleIngest(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestInput,
) (*mcp.CallToolResult, IngestOutput, error) {
	res, err := s.pipeline.Ingest(ctx, domain.Document{
		SourceID: input.SourceID,
		Filename: input.Name,
		Content:  input.Content,
	})
	if err != nil {
		return nil, IngestOutput{}, err
	}
	return nil, IngestOutput{SourceID: res.SourceID, UnitsCreated: res.UnitsCreated, UnitsWritten: res.UnitsWritten}, nil
}

func (s *Server) handleReset(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ResetOutput, error) {
	if err := s.pipeline.Reset(ctx); err != nil {
		return nil, ResetOutput{}, err
	}
	return nil, ResetOutput{Message: "Index cleared"}, nil
}
