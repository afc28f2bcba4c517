package scan

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/adscan/kit"
)

// RegisterMCP registers the adscan tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerScanURLTool(srv)
	s.registerPatternsTool(srv)
	s.registerStatsTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// --- adscan_scan_url ---

type scanURLRequest struct {
	URL string `json:"url"`
}

func (s *Service) registerScanURLTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "adscan_scan_url",
		Description: "Fetch a page and run a one-shot ad detection pass against its static HTML. Returns the detections that passed the confidence threshold.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Page URL to fetch and scan"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*scanURLRequest)
		if rr.URL == "" {
			return nil, errors.New("url is required")
		}
		return s.ScanURL(ctx, rr.URL)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr scanURLRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request: &rr,
			EnrichCtx: func(ctx context.Context) context.Context {
				return kit.WithTransport(ctx, "mcp")
			},
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- adscan_patterns ---

type patternsRequest struct {
	Category string `json:"category,omitempty"`
}

func (s *Service) registerPatternsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "adscan_patterns",
		Description: "Inspect the pattern catalog with per-pattern health statistics (success rate, failure count, last success).",
		InputSchema: inputSchema(map[string]any{
			"category": map[string]any{"type": "string", "description": "Restrict to one category (empty = all)"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*patternsRequest)
		return s.Registry.Entries(rr.Category), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr patternsRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- adscan_stats ---

func (s *Service) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "adscan_stats",
		Description: "Scanner counters: registry health, pipeline runs, classifier cache size, session dedup size, degraded mode.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.stats(), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: struct{}{}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
