package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bakebake-xr/bakebake/internal/pipeline"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Generator      *pipeline.Generator
	RequestTimeout time.Duration
	Version        string
}

// NewMCPServer creates an MCP server exposing concept generation as a tool
// and the cooldown state as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"bakebake",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("bakebake turns a visitor's uncanny experience into yokai concept candidates."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_concepts",
			mcp.WithDescription("Generate yokai concept candidates from a visitor's story, answers and retrieved folklore. Always returns at least one candidate."),
			mcp.WithObject("handle", mcp.Description("Visitor handle: {id, text}"), mcp.Required()),
			mcp.WithObject("answers", mcp.Description("Question key to free-text answer"), mcp.Required()),
			mcp.WithArray("folklore", mcp.Description("Ranked folklore hits: [{id, kaiiName, content}]"), mcp.Required()),
		),
		mcpGenerateConcepts(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"bakebake://status",
			"Generation Status",
			mcp.WithResourceDescription("Cooldown state and configured provider credentials"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpGenerateConcepts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcpError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		preq, err := decodeConceptsRequest(args)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if !deps.Generator.Configured() {
			return mcpError(pipeline.ErrNotConfigured.Error()), nil
		}

		if deps.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, deps.RequestTimeout)
			defer cancel()
		}

		concepts, meta, err := deps.Generator.Generate(ctx, preq)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return mcpError(fmt.Sprintf("generation timed out after %s", deps.RequestTimeout)), nil
			}
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}

		b, err := json.Marshal(struct {
			ConceptsResponse
			CooldownFallback bool  `json:"cooldownFallback"`
			ProcessingTimeMs int64 `json:"processingTimeMs"`
		}{
			ConceptsResponse: ConceptsResponse{Concepts: concepts},
			CooldownFallback: meta.CooldownFallback,
			ProcessingTimeMs: meta.ProcessingTime.Milliseconds(),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal concepts: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(currentStatus(deps.Generator))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
