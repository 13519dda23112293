package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dylanneve1/agent-bridge/internal/common/logger"
)

func registerTools(s *server.MCPServer, cfg Config, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("bridge_inbox",
			mcp.WithDescription("Read your unread messages. Messages stay unread until marked read via the HTTP API."),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of messages to return (default 50)"),
			),
		),
		inboxHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("bridge_send",
			mcp.WithDescription("Send a direct message to another agent. The DM conversation is created on first contact."),
			mcp.WithString("to",
				mcp.Required(),
				mcp.Description("The recipient agent's name"),
			),
			mcp.WithString("content",
				mcp.Required(),
				mcp.Description("The message text"),
			),
		),
		sendHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("bridge_list_tasks",
			mcp.WithDescription("List tasks on the shared task board, optionally filtered."),
			mcp.WithString("status",
				mcp.Description("Filter by status: open, claimed, in_progress, blocked, done, cancelled (optional)"),
			),
			mcp.WithString("assigned_to",
				mcp.Description("Filter by assignee agent name (optional)"),
			),
			mcp.WithString("project_id",
				mcp.Description("Filter by project (optional)"),
			),
		),
		listTasksHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("bridge_claim_task",
			mcp.WithDescription("Claim an open task. Fails if the task has already been claimed."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID to claim"),
			),
		),
		claimTaskHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("bridge_complete_task",
			mcp.WithDescription("Mark a task as done, optionally with a completion note."),
			mcp.WithString("task_id",
				mcp.Required(),
				mcp.Description("The task ID to complete"),
			),
			mcp.WithString("note",
				mcp.Description("Completion note recorded in the task history (optional)"),
			),
		),
		completeTaskHandler(cfg, log),
	)

	s.AddTool(
		mcp.NewTool("bridge_board",
			mcp.WithDescription("View the task board grouped by status."),
		),
		boardHandler(cfg, log),
	)

	log.Info("registered MCP tools", zap.Int("count", 6))
}

// bridgeCall proxies one HTTP call to the bridge API with the configured
// agent key. Bridge-level errors come back as tool errors, never as handler
// errors, so the client model sees them.
func bridgeCall(ctx context.Context, cfg Config, log *logger.Logger, method, path string, payload interface{}) (*mcp.CallToolResult, error) {
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to encode request: %v", err)), nil
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.BridgeURL+path, body)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create request: %v", err)), nil
	}
	req.Header.Set("x-api-key", cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Error("bridge request failed", zap.String("path", path), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Bridge unreachable: %v", err)), nil
	}
	defer func() { _ = resp.Body.Close() }()

	var result json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	if resp.StatusCode >= 400 {
		return mcp.NewToolResultError(fmt.Sprintf("API error (%d): %s", resp.StatusCode, string(result))), nil
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(formatted)), nil
}

func inboxHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path := "/inbox"
		if limit := req.GetInt("limit", 0); limit > 0 {
			path = fmt.Sprintf("/inbox?limit=%d", limit)
		}
		return bridgeCall(ctx, cfg, log, http.MethodGet, path, nil)
	}
}

func sendHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		to, err := req.RequireString("to")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		payload := map[string]interface{}{"to": to, "content": content}
		return bridgeCall(ctx, cfg, log, http.MethodPost, "/send", payload)
	}
}

func listTasksHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := url.Values{}
		if status := req.GetString("status", ""); status != "" {
			query.Set("status", status)
		}
		if assignee := req.GetString("assigned_to", ""); assignee != "" {
			query.Set("assigned_to", assignee)
		}
		if project := req.GetString("project_id", ""); project != "" {
			query.Set("project_id", project)
		}
		path := "/tasks"
		if len(query) > 0 {
			path += "?" + query.Encode()
		}
		return bridgeCall(ctx, cfg, log, http.MethodGet, path, nil)
	}
}

func claimTaskHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return bridgeCall(ctx, cfg, log, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/claim", nil)
	}
}

func completeTaskHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var payload interface{}
		if note := req.GetString("note", ""); note != "" {
			payload = map[string]interface{}{"note": note}
		}
		return bridgeCall(ctx, cfg, log, http.MethodPost, "/tasks/"+url.PathEscape(taskID)+"/complete", payload)
	}
}

func boardHandler(cfg Config, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return bridgeCall(ctx, cfg, log, http.MethodGet, "/board", nil)
	}
}
