package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/obi/internal/profile"
	"github.com/kalambet/obi/internal/retrieval"
	"github.com/kalambet/obi/internal/session"
)

// MCPRetriever abstracts semantic document search for the MCP layer.
type MCPRetriever interface {
	Query(ctx context.Context, text string, topK int) ([]retrieval.Passage, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Registry  *session.Registry
	Profiles  *profile.Source
	Retriever MCPRetriever // optional; if nil, search_documents returns an error
}

// mcpConversations tracks conversation contexts created over MCP, keyed by
// thread id, mirroring the HTTP handler's per-thread tracking.
type mcpConversations struct {
	mu       sync.Mutex
	byThread map[string]*session.Context
}

func (c *mcpConversations) get(profiles *profile.Source, threadID, profileID string) (*session.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if convCtx, ok := c.byThread[threadID]; ok {
		return convCtx, nil
	}
	p := profiles.ByID(profileID)
	if p == nil {
		return nil, fmt.Errorf("unknown profile %q", profileID)
	}
	convCtx := &session.Context{ThreadID: threadID, Profile: p}
	c.byThread[threadID] = convCtx
	return convCtx, nil
}

// NewMCPServer creates an MCP server with the renewal assistant tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"obi",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("obi — license renewal assistant with per-citizen communication style calibration."),
		server.WithRecovery(),
	)

	convs := &mcpConversations{byThread: make(map[string]*session.Context)}

	s.AddTool(
		mcp.NewTool("renewal_chat",
			mcp.WithDescription("Send a message to the license renewal assistant on behalf of a citizen."),
			mcp.WithString("message", mcp.Description("The citizen's message"), mcp.Required()),
			mcp.WithString("profile_id", mcp.Description("Citizen profile id (required for a new thread)")),
			mcp.WithString("thread_id", mcp.Description("Conversation thread id; omit to start a new conversation")),
		),
		mcpRenewalChat(deps, convs),
	)

	s.AddTool(
		mcp.NewTool("set_differentiation_level",
			mcp.WithDescription("Set the service-wide differentiation level (0-100) controlling how strongly documented citizen preferences shape responses."),
			mcp.WithNumber("level", mcp.Description("Differentiation level, 0 to 100"), mcp.Required()),
		),
		mcpSetLevel(deps),
	)

	s.AddTool(
		mcp.NewTool("get_case_file",
			mcp.WithDescription("Return the calibrated communication parameters for a live conversation."),
			mcp.WithString("thread_id", mcp.Description("Conversation thread id"), mcp.Required()),
		),
		mcpGetCaseFile(deps),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search the ingested license renewal document corpus."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchDocuments(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"obi://profiles",
			"Citizen Profiles",
			mcp.WithResourceDescription("Loaded citizen profile summaries as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfiles(deps),
	)

	return s
}

func mcpRenewalChat(deps MCPDeps, convs *mcpConversations) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		threadID := req.GetString("thread_id", "")
		if threadID == "" {
			threadID = uuid.NewString()
		}
		profileID := req.GetString("profile_id", "")

		convCtx, err := convs.get(deps.Profiles, threadID, profileID)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		reply, ok := deps.Registry.GetResponse(ctx, message, convCtx, true)

		b, err := json.Marshal(map[string]any{
			"thread_id": threadID,
			"response":  reply,
			"success":   ok,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetLevel(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		level, err := req.RequireFloat("level")
		if err != nil {
			return mcpError("level is required and must be a number"), nil
		}

		if err := deps.Registry.SetDifferentiationLevel(level); err != nil {
			return mcpError(fmt.Sprintf("some sessions failed to recalibrate: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Differentiation level set to %g", deps.Registry.DifferentiationLevel())), nil
	}
}

func mcpGetCaseFile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threadID, err := req.RequireString("thread_id")
		if err != nil {
			return mcpError("thread_id is required"), nil
		}

		caseFile, ok := deps.Registry.CaseFile(threadID)
		if !ok {
			return mcpError(fmt.Sprintf("no live session for thread %s", threadID)), nil
		}
		return mcpText(caseFile), nil
	}
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Retriever == nil {
			return mcpError("document search not available: no retrieval backend configured"), nil
		}

		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		passages, err := deps.Retriever.Query(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(passages) == 0 {
			return mcpText("[]"), nil
		}

		type passageResult struct {
			ID     string  `json:"id"`
			Source string  `json:"source"`
			Text   string  `json:"text"`
			Score  float32 `json:"score"`
		}
		results := make([]passageResult, len(passages))
		for i, p := range passages {
			results[i] = passageResult{ID: p.ID, Source: p.Source, Text: p.Text, Score: p.Score}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceProfiles(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		all := deps.Profiles.All()

		summaries := make([]profileSummary, len(all))
		for i, p := range all {
			summaries[i] = profileSummary{
				ID:       p.ID,
				FullName: p.Personal.FullName,
				License:  p.License.Current.Type,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profiles: %w", err)
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
