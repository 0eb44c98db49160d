// ABOUTME: MCP tools that forward browser tab operations to the extension via the relay.
// ABOUTME: Each tool validates typed input, invokes one or two actions, and renders text.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/tabrelay/internal/action"
	"github.com/2389/tabrelay/internal/browser"
	"github.com/2389/tabrelay/internal/caller"
)

// Invoker sends one action to the extension and returns its result data.
type Invoker interface {
	Invoke(ctx context.Context, action string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error)
}

// PeerError is a failure the extension reported as its result, {"error": "..."}.
type PeerError struct {
	Action  string
	Message string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("%s failed in extension: %s", e.Action, e.Message)
}

// Tools holds the handlers.
type Tools struct {
	invoker Invoker
	logger  *slog.Logger
}

// New creates the tool set.
func New(inv Invoker, logger *slog.Logger) *Tools {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tools{invoker: inv, logger: logger.With("component", "tools")}
}

// NewServer builds an MCP server with every tool registered.
func NewServer(inv Invoker, version string, logger *slog.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "tabrelay", Version: version}, nil)
	New(inv, logger).Register(server)
	return server
}

// Input types.

type GetTabsInput struct{}

type CloseTabsInput struct {
	TabIDs []int `json:"tab_ids" jsonschema:"Chrome tab IDs to close (get them from browser_get_tabs_ext)"`
}

type CreateGroupInput struct {
	Name   string `json:"name" jsonschema:"Name for the tab group"`
	Color  string `json:"color,omitempty" jsonschema:"Color: grey, blue, red, yellow, green, pink, purple, cyan, orange (default blue)"`
	TabIDs []int  `json:"tab_ids" jsonschema:"Chrome tab IDs to group (get them from browser_get_tabs_ext)"`
}

type AddToGroupInput struct {
	GroupID int   `json:"group_id" jsonschema:"ID of an existing tab group"`
	TabIDs  []int `json:"tab_ids" jsonschema:"Chrome tab IDs to add"`
}

type GroupPlan struct {
	TabIDs []int  `json:"tab_ids" jsonschema:"Tabs to put in this group"`
	Color  string `json:"color,omitempty" jsonschema:"Group color"`
}

type PreviewChangesInput struct {
	ToClose []int                `json:"to_close,omitempty" jsonschema:"Tab IDs the cleanup would close"`
	Groups  map[string]GroupPlan `json:"groups,omitempty" jsonschema:"Groups to create, keyed by group name"`
}

type ApplyChangesInput struct{}

type CloseDuplicatesInput struct{}

// Register adds every tool to server.
func (t *Tools) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_get_tabs_ext",
		Description: "Get tabs via the extension, with Chrome tab IDs (required for closing and grouping).",
	}, t.getTabs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_close_tabs_ext",
		Description: "Close tabs by Chrome tab ID. Requires the browser extension to be running.",
	}, t.closeTabs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_create_group",
		Description: "Create a tab group with the specified tabs. Use browser_get_tabs_ext to get Chrome tab IDs first.",
	}, t.createGroup)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_add_to_group",
		Description: "Add tabs to an existing tab group.",
	}, t.addToGroup)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_preview_changes",
		Description: "Stage a cleanup (tabs to close, groups to create) and show it to the user in the extension popup. Nothing changes until browser_apply_changes.",
	}, t.previewChanges)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_apply_changes",
		Description: "Apply the cleanup staged by browser_preview_changes.",
	}, t.applyChanges)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "browser_close_duplicates",
		Description: "Find and close duplicate tabs (same URL) and empty new-tab pages. Keeps one tab per URL.",
	}, t.closeDuplicates)
}

func (t *Tools) getTabs(ctx context.Context, _ *mcp.CallToolRequest, _ GetTabsInput) (*mcp.CallToolResult, any, error) {
	data, err := t.invoke(ctx, action.GetTabs, struct{}{})
	if err != nil {
		return t.errorResult(action.GetTabs, err), nil, nil
	}
	return textResult(indent(data)), nil, nil
}

func (t *Tools) closeTabs(ctx context.Context, _ *mcp.CallToolRequest, in CloseTabsInput) (*mcp.CallToolResult, any, error) {
	if len(in.TabIDs) == 0 {
		return errorText("Error: no tab IDs provided"), nil, nil
	}
	data, err := t.invoke(ctx, action.CloseTabs, map[string]any{"tabIds": in.TabIDs})
	if err != nil {
		return t.errorResult(action.CloseTabs, err), nil, nil
	}

	var res struct {
		Closed int `json:"closed"`
	}
	if json.Unmarshal(data, &res) != nil {
		return textResult(indent(data)), nil, nil
	}
	return textResult(fmt.Sprintf("Closed %d tabs", res.Closed)), nil, nil
}

func (t *Tools) createGroup(ctx context.Context, _ *mcp.CallToolRequest, in CreateGroupInput) (*mcp.CallToolResult, any, error) {
	color := in.Color
	if color == "" {
		color = "blue"
	}
	payload := map[string]any{"name": in.Name, "color": color, "tabIds": in.TabIDs}
	if _, err := t.invoke(ctx, action.CreateGroup, payload); err != nil {
		return t.errorResult(action.CreateGroup, err), nil, nil
	}
	return textResult(fmt.Sprintf("Created group '%s' with %d tabs", in.Name, len(in.TabIDs))), nil, nil
}

func (t *Tools) addToGroup(ctx context.Context, _ *mcp.CallToolRequest, in AddToGroupInput) (*mcp.CallToolResult, any, error) {
	payload := map[string]any{"groupId": in.GroupID, "tabIds": in.TabIDs}
	if _, err := t.invoke(ctx, action.AddToGroup, payload); err != nil {
		return t.errorResult(action.AddToGroup, err), nil, nil
	}
	return textResult(fmt.Sprintf("Added %d tabs to group %d", len(in.TabIDs), in.GroupID)), nil, nil
}

func (t *Tools) previewChanges(ctx context.Context, _ *mcp.CallToolRequest, in PreviewChangesInput) (*mcp.CallToolResult, any, error) {
	changes := browser.Changes{ToClose: in.ToClose}
	if len(in.Groups) > 0 {
		changes.Groups = make(map[string]browser.GroupChange, len(in.Groups))
		for name, g := range in.Groups {
			changes.Groups[name] = browser.GroupChange{TabIDs: g.TabIDs, Color: g.Color}
		}
	}
	if _, err := t.invoke(ctx, action.PreviewChanges, changes); err != nil {
		return t.errorResult(action.PreviewChanges, err), nil, nil
	}
	return textResult(fmt.Sprintf(
		"Preview opened in the browser: %d tabs to close, %d groups to create. Ask the user to review it, then call browser_apply_changes.",
		len(in.ToClose), len(in.Groups))), nil, nil
}

func (t *Tools) applyChanges(ctx context.Context, _ *mcp.CallToolRequest, _ ApplyChangesInput) (*mcp.CallToolResult, any, error) {
	data, err := t.invoke(ctx, action.ApplyChanges, struct{}{})
	if err != nil {
		return t.errorResult(action.ApplyChanges, err), nil, nil
	}

	var res struct {
		Closed        int `json:"closed"`
		GroupsCreated int `json:"groupsCreated"`
	}
	if json.Unmarshal(data, &res) != nil {
		return textResult(indent(data)), nil, nil
	}
	return textResult(fmt.Sprintf("Applied changes: closed %d tabs, created %d groups", res.Closed, res.GroupsCreated)), nil, nil
}

func (t *Tools) closeDuplicates(ctx context.Context, _ *mcp.CallToolRequest, _ CloseDuplicatesInput) (*mcp.CallToolResult, any, error) {
	data, err := t.invoke(ctx, action.GetTabs, struct{}{})
	if err != nil {
		return t.errorResult(action.GetTabs, err), nil, nil
	}

	var tabs []browser.Tab
	if err := json.Unmarshal(data, &tabs); err != nil {
		return errorText(fmt.Sprintf("Error: unexpected tab list from extension: %v", err)), nil, nil
	}

	ids := browser.Duplicates(tabs)
	if len(ids) == 0 {
		return textResult("No duplicate tabs found"), nil, nil
	}

	if _, err := t.invoke(ctx, action.CloseTabs, map[string]any{"tabIds": ids}); err != nil {
		return t.errorResult(action.CloseTabs, err), nil, nil
	}
	return textResult(fmt.Sprintf("Closed %d duplicate tabs", len(ids))), nil, nil
}

func (t *Tools) invoke(ctx context.Context, name string, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", name, err)
	}
	data, err := t.invoker.Invoke(ctx, name, raw, 0)
	if err != nil {
		return nil, err
	}
	if msg, ok := peerError(data); ok {
		return nil, &PeerError{Action: name, Message: msg}
	}
	return data, nil
}

// peerError recognizes the extension's failure shape: an object whose "error"
// member is a string.
func peerError(data json.RawMessage) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", false
	}
	raw, ok := obj["error"]
	if !ok {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", false
	}
	return msg, true
}

// errorResult turns an invoke failure into a tool error the model can act on.
func (t *Tools) errorResult(name string, err error) *mcp.CallToolResult {
	t.logger.Warn("tool call failed", "action", name, "error", err)

	var peer *PeerError
	var invalid *action.ValidationError
	switch {
	case errors.As(err, &peer):
		return errorText("Error: " + peer.Message)
	case errors.Is(err, caller.ErrTimeout):
		return errorText("Error: timeout waiting for extension. Is the extension running?")
	case errors.Is(err, caller.ErrBusy):
		return errorText("Error: another command is still waiting for the extension. Is the extension running?")
	case errors.As(err, &invalid):
		return errorText("Error: " + invalid.Error())
	default:
		return errorText("Error: " + err.Error())
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorText(text string) *mcp.CallToolResult {
	res := textResult(text)
	res.IsError = true
	return res
}

func indent(data json.RawMessage) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(data)
	}
	return string(out)
}
