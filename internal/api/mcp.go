package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/scout/internal/fetch"
	"github.com/kalambet/scout/internal/scout"
	"github.com/kalambet/scout/internal/storage"
)

// MCPRetriever abstracts the retrieval engine for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, topic string, opts scout.Options) (fetch.Result, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Runner    TurnRunner
	Retriever MCPRetriever
	Store     PolicyStore
}

// NewMCPServer creates an MCP server exposing the agent's tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"scout",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("scout — local research agent that routes questions to trusted sources, caches results, and learns source preferences from corrections."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the agent a question; it classifies the intent, retrieves from trusted sources where needed, and answers conversationally."),
			mcp.WithString("text", mcp.Description("The question or instruction"), mcp.Required()),
			mcp.WithString("conversation_id", mcp.Description("Conversation to continue; omitted starts a new one")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("retrieve",
			mcp.WithDescription("Run the raw retrieval engine for a topic and return the best source result as JSON."),
			mcp.WithString("topic", mcp.Description("Topic to look up"), mcp.Required()),
			mcp.WithString("domain", mcp.Description("Optional domain hint (sports, news, finance, weather, bestseller)")),
			mcp.WithBoolean("ignore_cache", mcp.Description("Bypass the cache and fetch fresh")),
		),
		mcpRetrieve(deps),
	)

	s.AddTool(
		mcp.NewTool("list_policies",
			mcp.WithDescription("List the learned and taught retrieval policies as JSON."),
		),
		mcpListPolicies(deps),
	)

	s.AddTool(
		mcp.NewTool("teach_policy",
			mcp.WithDescription("Teach a retrieval policy: bias future lookups matching a pattern toward or away from sources."),
			mcp.WithString("pattern", mcp.Description("Topic substring or domain name the policy applies to"), mcp.Required()),
			mcp.WithString("prefer_source", mcp.Description("Source id to consult first")),
			mcp.WithString("avoid_source", mcp.Description("Source id to never consult")),
			mcp.WithBoolean("require_numeric", mcp.Description("Only accept results containing numbers")),
			mcp.WithBoolean("avoid_cache", mcp.Description("Always fetch fresh for matching topics")),
		),
		mcpTeachPolicy(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		conversationID := req.GetString("conversation_id", "")

		reply, err := deps.Runner.RunTurn(ctx, conversationID, text)
		if err != nil {
			return mcpError(fmt.Sprintf("processing turn: %v", err)), nil
		}

		b, err := json.Marshal(reply)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding reply: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRetrieve(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}

		opts := scout.Options{
			Domain:      req.GetString("domain", ""),
			IgnoreCache: req.GetBool("ignore_cache", false),
		}

		res, err := deps.Retriever.Retrieve(ctx, topic, opts)
		if err != nil {
			if errors.Is(err, scout.ErrNotFound) {
				return mcpText(`{"status":"NOT_FOUND"}`), nil
			}
			return mcpError(fmt.Sprintf("retrieval failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListPolicies(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		policies, err := deps.Store.Policies()
		if err != nil {
			return mcpError(fmt.Sprintf("listing policies: %v", err)), nil
		}
		if len(policies) == 0 {
			return mcpText("[]"), nil
		}

		type entry struct {
			Pattern string              `json:"pattern"`
			Rules   storage.PolicyRules `json:"rules"`
		}
		out := make([]entry, 0, len(policies))
		for _, p := range policies {
			out = append(out, entry{Pattern: p.Pattern, Rules: p.Rules})
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding policies: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTeachPolicy(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		pattern, err := req.RequireString("pattern")
		if err != nil {
			return mcpError("pattern is required"), nil
		}

		rules := storage.PolicyRules{
			RequireNumeric: req.GetBool("require_numeric", false),
			AvoidCache:     req.GetBool("avoid_cache", false),
		}
		if prefer := req.GetString("prefer_source", ""); prefer != "" {
			rules.PreferSource = []string{prefer}
		}
		if avoid := req.GetString("avoid_source", ""); avoid != "" {
			rules.AvoidSource = []string{avoid}
		}

		if err := deps.Store.UpsertPolicy(storage.SearchPolicy{
			Pattern: pattern,
			Rules:   rules,
		}); err != nil {
			return mcpError(fmt.Sprintf("saving policy: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Policy stored for %q", pattern)), nil
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
