package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mailpilot/mailpilot/internal/responder"
	"github.com/mailpilot/mailpilot/internal/rules"
	"github.com/mailpilot/mailpilot/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Runner *responder.Runner

	// ServiceMailbox builds the service-credential mailbox for run_now.
	// Optional; if nil, run_now returns an error.
	ServiceMailbox func(ctx context.Context) (responder.Mailbox, error)
}

// NewMCPServer creates an MCP server exposing rule management, the reply
// log, and a manual run trigger as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"mailpilot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mailpilot — rule-driven mailbox auto-responder: manage reply rules, inspect outcomes, trigger runs."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_rules",
			mcp.WithDescription("List all auto-reply rules in stored (evaluation) order."),
		),
		mcpListRules(deps),
	)

	s.AddTool(
		mcp.NewTool("add_rule",
			mcp.WithDescription("Create an auto-reply rule. Conditions are ANDed; the first enabled rule matching an email wins."),
			mcp.WithString("name", mcp.Description("Display name"), mcp.Required()),
			mcp.WithString("conditions", mcp.Description(`JSON array of {field, operator, value}; field one of from/subject/body, operator one of contains/equals/startswith/regex`), mcp.Required()),
			mcp.WithString("reply_instructions", mcp.Description("Free-text instructions for generating the reply"), mcp.Required()),
			mcp.WithBoolean("enabled", mcp.Description("Whether the rule is active (default true)")),
		),
		mcpAddRule(deps),
	)

	s.AddTool(
		mcp.NewTool("set_rule_enabled",
			mcp.WithDescription("Enable or disable a rule by id."),
			mcp.WithString("id", mcp.Description("Rule id"), mcp.Required()),
			mcp.WithBoolean("enabled", mcp.Description("New enabled state"), mcp.Required()),
		),
		mcpSetRuleEnabled(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_rule",
			mcp.WithDescription("Delete a rule by id. Deleting an unknown id is a no-op."),
			mcp.WithString("id", mcp.Description("Rule id"), mcp.Required()),
		),
		mcpDeleteRule(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_logs",
			mcp.WithDescription("Return the most recent reply log entries, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 20)")),
		),
		mcpRecentLogs(deps),
	)

	s.AddTool(
		mcp.NewTool("run_now",
			mcp.WithDescription("Process unread inbox messages against the enabled rules immediately."),
			mcp.WithBoolean("diagnostics", mcp.Description("Include a per-message inspection record")),
		),
		mcpRunNow(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"rules://all",
			"Auto-reply rules",
			mcp.WithResourceDescription("The full rule set as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRules(deps),
	)

	return s
}

func mcpListRules(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rs, err := deps.Store.Rules()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load rules: %v", err)), nil
		}
		b, err := json.Marshal(rs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal rules: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddRule(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		condsJSON, err := req.RequireString("conditions")
		if err != nil {
			return mcpError("conditions is required"), nil
		}
		instructions, err := req.RequireString("reply_instructions")
		if err != nil {
			return mcpError("reply_instructions is required"), nil
		}

		var conds []rules.Condition
		if err := json.Unmarshal([]byte(condsJSON), &conds); err != nil {
			return mcpError(fmt.Sprintf("invalid conditions JSON: %v", err)), nil
		}

		rule := rules.Rule{
			ID:                uuid.New().String(),
			Name:              name,
			Enabled:           req.GetBool("enabled", true),
			Conditions:        conds,
			ReplyInstructions: instructions,
			CreatedAt:         time.Now().UTC(),
		}
		if err := rule.Validate(); err != nil {
			return mcpError(fmt.Sprintf("invalid rule: %v", err)), nil
		}

		rs, err := deps.Store.Rules()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load rules: %v", err)), nil
		}
		rs = append(rs, rule)
		if err := deps.Store.SaveRules(rs); err != nil {
			return mcpError(fmt.Sprintf("failed to save rules: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Created rule %s", rule.ID)), nil
	}
}

func mcpSetRuleEnabled(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		enabled, err := req.RequireBool("enabled")
		if err != nil {
			return mcpError("enabled is required"), nil
		}

		rs, err := deps.Store.Rules()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load rules: %v", err)), nil
		}
		for i := range rs {
			if rs[i].ID == id {
				rs[i].Enabled = enabled
				if err := deps.Store.SaveRules(rs); err != nil {
					return mcpError(fmt.Sprintf("failed to save rules: %v", err)), nil
				}
				return mcpText(fmt.Sprintf("Rule %s enabled=%v", id, enabled)), nil
			}
		}
		return mcpError("rule not found"), nil
	}
}

func mcpDeleteRule(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		rs, err := deps.Store.Rules()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load rules: %v", err)), nil
		}
		kept := rs[:0]
		for _, r := range rs {
			if r.ID != id {
				kept = append(kept, r)
			}
		}
		if err := deps.Store.SaveRules(kept); err != nil {
			return mcpError(fmt.Sprintf("failed to save rules: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted rule %s", id)), nil
	}
}

func mcpRecentLogs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}

		logs, err := deps.Store.Logs()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load logs: %v", err)), nil
		}
		if limit < len(logs) {
			logs = logs[:limit]
		}

		b, err := json.Marshal(logs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal logs: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRunNow(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.ServiceMailbox == nil {
			return mcpError("run_now not available: no service mailbox credential configured"), nil
		}

		mbx, err := deps.ServiceMailbox(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("building mailbox client: %v", err)), nil
		}

		opts := responder.Options{Diagnostics: req.GetBool("diagnostics", false)}
		res, err := deps.Runner.Run(ctx, mbx, opts)
		if err != nil {
			return mcpError(fmt.Sprintf("run failed: %v", err)), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRules(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rs, err := deps.Store.Rules()
		if err != nil {
			return nil, fmt.Errorf("failed to load rules: %w", err)
		}
		b, err := json.Marshal(rs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal rules: %w", err)
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
