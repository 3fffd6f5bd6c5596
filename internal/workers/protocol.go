// ABOUTME: Wire types for the JSON-RPC 2.0 protocol spoken with worker subprocesses.
// ABOUTME: Covers the initialize handshake, capability listings, and call shapes.

package workers

import "encoding/json"

// ProtocolVersion is the protocol revision sent during the initialize
// handshake. Workers that negotiate a different revision are still accepted;
// the field is informational.
const ProtocolVersion = "2024-11-05"

// rpcRequest is an outbound JSON-RPC 2.0 request or notification.
// Notifications carry no ID.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcFrame is any inbound line from a worker: a response to one of our
// requests, or a notification/request initiated by the worker.
type rpcFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError is the error member of a JSON-RPC response.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ToolDef describes a callable tool as advertised by a worker.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ResourceDef describes a readable resource as advertised by a worker.
type ResourceDef struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PromptDef describes a prompt template as advertised by a worker.
// Arguments is the worker's argument descriptor list, passed through opaquely.
type PromptDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
}

// initializeParams is the client half of the initialize handshake.
type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      peerInfo       `json:"clientInfo"`
}

// InitializeResult is the worker's half of the initialize handshake.
type InitializeResult struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ServerInfo      peerInfo        `json:"serverInfo"`
}

// peerInfo identifies one side of the handshake.
type peerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type listToolsResult struct {
	Tools []ToolDef `json:"tools"`
}

type listResourcesResult struct {
	Resources []ResourceDef `json:"resources"`
}

type listPromptsResult struct {
	Prompts []PromptDef `json:"prompts"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type getPromptParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// toolResult is the result shape of a tool invocation. Builtin handlers are
// normalized into this shape so callers see one format regardless of where
// the tool ran.
type toolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// contentBlock is a single piece of tool output.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
