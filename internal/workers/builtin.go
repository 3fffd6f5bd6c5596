// ABOUTME: Built-in tool support for tools that execute in-process.
// ABOUTME: Allows gateway-embedded tools to coexist with worker-backed ones.

package workers

import (
	"context"
	"encoding/json"

	"github.com/2389/sigil-gateway/internal/auth"
)

// ToolHandler is a function that executes a built-in tool.
// It receives the calling identity's ID and the tool input as JSON.
// Returns the result as JSON or an error.
type ToolHandler func(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error)

// BuiltinTool represents a tool that executes in the gateway process.
type BuiltinTool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Required    []auth.Permission
	Handler     ToolHandler
}

// BuiltinPack is a collection of built-in tools with a pack ID.
type BuiltinPack struct {
	ID    string
	Tools []*BuiltinTool
}
