// ABOUTME: HTTP JSON-RPC dispatcher gating every capability operation on the caller's identity.
// ABOUTME: Filters listings per-identity and resolves calls from the same filtered view.

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/2389/sigil-gateway/internal/auth"
	"github.com/2389/sigil-gateway/internal/workers"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// Standard JSON-RPC error codes for transport-level failures.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInternalError  = -32603
)

// JSONRPCRequest represents an inbound request envelope.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CallToolParams are the params for call_tool.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ReadResourceParams are the params for read_resource.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// GetPromptParams are the params for get_prompt.
type GetPromptParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Registry is the capability view the dispatcher consumes. Lookups include
// offline markers so "unknown" and "offline" stay distinguishable; listings
// return only live capabilities.
type Registry interface {
	ListTools() []*workers.ToolRegistration
	ListResources(ctx context.Context) []*workers.ResourceRegistration
	ListPrompts(ctx context.Context) []*workers.PromptRegistration
	LookupTool(name string) (*workers.ToolRegistration, bool)
	LookupResource(uri string) (*workers.ResourceRegistration, bool)
	MatchResourceScheme(uri string) (*workers.ResourceRegistration, bool)
	LookupPrompt(name string) (*workers.PromptRegistration, bool)
	WorkerOnline(workerID string) bool
}

// Router executes capability calls once the dispatcher has authorized them.
type Router interface {
	CallTool(ctx context.Context, callerID, name string, args json.RawMessage) (json.RawMessage, error)
	ReadResource(ctx context.Context, callerID, uri string) (json.RawMessage, error)
	GetPrompt(ctx context.Context, callerID, name string, args json.RawMessage) (json.RawMessage, error)
}

// Config holds configuration for the dispatcher.
type Config struct {
	Registry Registry
	Router   Router
	Logger   *slog.Logger
}

// Server dispatches authorized capability operations.
type Server struct {
	registry Registry
	router   Router
	logger   *slog.Logger
}

// NewServer creates a dispatcher with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("router is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		registry: cfg.Registry,
		router:   cfg.Router,
		logger:   logger.With("component", "rpc"),
	}, nil
}

// RegisterRoutes registers the RPC endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/rpc", s.handleRPC)
}

// handleRPC decodes the envelope, resolves the caller's identity once, and
// routes to the method handler with the identity passed explicitly.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.writeError(w, http.StatusOK, nil, JSONRPCParseError, "failed to read request body")
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.writeError(w, http.StatusOK, nil, JSONRPCInvalidRequest, "request body too large")
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusOK, nil, JSONRPCParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		s.writeError(w, http.StatusOK, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version")
		return
	}

	// Identity is resolved exactly once per request and handed down as a
	// parameter from here on. It lives only as long as this call.
	identity := auth.FromContext(r.Context())

	s.logger.Debug("rpc request", "rpc_method", req.Method, "authenticated", identity != nil)

	switch req.Method {
	case "list_tools":
		s.handleListTools(w, req, identity)
	case "call_tool":
		s.handleCallTool(w, r, req, identity)
	case "list_resources":
		s.handleListResources(w, r, req, identity)
	case "read_resource":
		s.handleReadResource(w, r, req, identity)
	case "list_prompts":
		s.handleListPrompts(w, r, req, identity)
	case "get_prompt":
		s.handleGetPrompt(w, r, req, identity)
	default:
		s.writeError(w, http.StatusOK, req.ID, JSONRPCMethodNotFound, "method not found")
	}
}

// handleListTools returns the tools the identity is allowed to call.
func (s *Server) handleListTools(w http.ResponseWriter, req JSONRPCRequest, identity *auth.Identity) {
	if err := authorizeListing(identity); err != nil {
		s.writeCapabilityError(w, req.ID, err)
		return
	}

	regs := s.registry.ListTools()
	tools := make([]workers.ToolDef, 0, len(regs))
	for _, reg := range regs {
		if !visibleTo(identity, reg.Required) {
			continue
		}
		tools = append(tools, workers.ToolDef{
			Name:        reg.Name,
			Description: reg.Description,
			InputSchema: reg.InputSchema,
		})
	}

	s.logger.Debug("list_tools", "count", len(tools), "identity", identity.ID)
	s.writeResult(w, req.ID, map[string]any{"tools": tools})
}

// handleListResources returns the resources the identity is allowed to read.
func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, identity *auth.Identity) {
	if err := authorizeListing(identity); err != nil {
		s.writeCapabilityError(w, req.ID, err)
		return
	}

	regs := s.registry.ListResources(r.Context())
	resources := make([]workers.ResourceDef, 0, len(regs))
	for _, reg := range regs {
		if !visibleTo(identity, reg.Required) {
			continue
		}
		resources = append(resources, workers.ResourceDef{
			URI:         reg.URI,
			Name:        reg.Name,
			Description: reg.Description,
			MimeType:    reg.MimeType,
		})
	}

	s.logger.Debug("list_resources", "count", len(resources), "identity", identity.ID)
	s.writeResult(w, req.ID, map[string]any{"resources": resources})
}

// handleListPrompts returns the prompts the identity is allowed to get.
func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, identity *auth.Identity) {
	if err := authorizeListing(identity); err != nil {
		s.writeCapabilityError(w, req.ID, err)
		return
	}

	regs := s.registry.ListPrompts(r.Context())
	prompts := make([]workers.PromptDef, 0, len(regs))
	for _, reg := range regs {
		if !visibleTo(identity, reg.Required) {
			continue
		}
		prompts = append(prompts, workers.PromptDef{
			Name:        reg.Name,
			Description: reg.Description,
			Arguments:   reg.Arguments,
		})
	}

	s.logger.Debug("list_prompts", "count", len(prompts), "identity", identity.ID)
	s.writeResult(w, req.ID, map[string]any{"prompts": prompts})
}

// handleCallTool authorizes and forwards a tool call. Arguments pass through
// untouched; validating them is the tool's job.
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, identity *auth.Identity) {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(w, http.StatusOK, req.ID, JSONRPCInvalidRequest, "invalid params")
			return
		}
	}
	if params.Name == "" {
		s.writeError(w, http.StatusOK, req.ID, JSONRPCInvalidRequest, "tool name is required")
		return
	}

	reg, err := s.authorizeTool(identity, params.Name)
	if err != nil {
		s.writeCapabilityError(w, req.ID, err)
		return
	}

	s.logger.Info("call_tool",
		"tool", params.Name,
		"owner", reg.OwnerID,
		"identity", identity.ID,
		"role", identity.Role,
	)

	raw, err := s.router.CallTool(r.Context(), identity.ID, params.Name, params.Arguments)
	if err != nil {
		s.logger.Warn("call_tool failed", "tool", params.Name, "error", err)
		s.writeCapabilityError(w, req.ID, err)
		return
	}
	s.writeRawResult(w, req.ID, raw)
}

// handleReadResource authorizes and forwards a resource read.
func (s *Server) handleReadResource(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, identity *auth.Identity) {
	var params ReadResourceParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(w, http.StatusOK, req.ID, JSONRPCInvalidRequest, "invalid params")
			return
		}
	}
	if params.URI == "" {
		s.writeError(w, http.StatusOK, req.ID, JSONRPCInvalidRequest, "resource uri is required")
		return
	}

	reg, err := s.authorizeResource(identity, params.URI)
	if err != nil {
		s.writeCapabilityError(w, req.ID, err)
		return
	}

	s.logger.Info("read_resource",
		"uri", params.URI,
		"owner", reg.OwnerID,
		"identity", identity.ID,
		"role", identity.Role,
	)

	raw, err := s.router.ReadResource(r.Context(), identity.ID, params.URI)
	if err != nil {
		s.logger.Warn("read_resource failed", "uri", params.URI, "error", err)
		s.writeCapabilityError(w, req.ID, err)
		return
	}
	s.writeRawResult(w, req.ID, raw)
}

// handleGetPrompt authorizes and forwards a prompt get.
func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, identity *auth.Identity) {
	var params GetPromptParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(w, http.StatusOK, req.ID, JSONRPCInvalidRequest, "invalid params")
			return
		}
	}
	if params.Name == "" {
		s.writeError(w, http.StatusOK, req.ID, JSONRPCInvalidRequest, "prompt name is required")
		return
	}

	reg, err := s.authorizePrompt(identity, params.Name)
	if err != nil {
		s.writeCapabilityError(w, req.ID, err)
		return
	}

	s.logger.Info("get_prompt",
		"prompt", params.Name,
		"owner", reg.OwnerID,
		"identity", identity.ID,
		"role", identity.Role,
	)

	raw, err := s.router.GetPrompt(r.Context(), identity.ID, params.Name, params.Arguments)
	if err != nil {
		s.logger.Warn("get_prompt failed", "prompt", params.Name, "error", err)
		s.writeCapabilityError(w, req.ID, err)
		return
	}
	s.writeRawResult(w, req.ID, raw)
}

// authorizeTool runs the call checks in order: identity present, capability
// visible to this identity, worker alive. The identity check runs before any
// registry access. An existing capability the identity cannot use reports as
// unknown, so probing calls cannot map the registry.
func (s *Server) authorizeTool(identity *auth.Identity, name string) (*workers.ToolRegistration, error) {
	if identity == nil {
		return nil, auth.ErrAuthenticationRequired
	}

	reg, ok := s.registry.LookupTool(name)
	if !ok || !visibleTo(identity, reg.Required) {
		return nil, fmt.Errorf("%w: tool %q", workers.ErrUnknownCapability, name)
	}
	if !reg.Builtin && !s.registry.WorkerOnline(reg.OwnerID) {
		return nil, fmt.Errorf("%w: tool %q", workers.ErrWorkerOffline, name)
	}
	return reg, nil
}

// authorizeResource mirrors authorizeTool for resources, with one extra
// path: a URI that was never listed can still resolve through its scheme.
// Denials on that path are explicit permission failures, since the URI
// itself was never advertised and reveals nothing.
func (s *Server) authorizeResource(identity *auth.Identity, uri string) (*workers.ResourceRegistration, error) {
	if identity == nil {
		return nil, auth.ErrAuthenticationRequired
	}

	reg, exact := s.registry.LookupResource(uri)
	if exact {
		if !visibleTo(identity, reg.Required) {
			return nil, fmt.Errorf("%w: resource %q", workers.ErrUnknownCapability, uri)
		}
	} else {
		var ok bool
		reg, ok = s.registry.MatchResourceScheme(uri)
		if !ok {
			return nil, fmt.Errorf("%w: resource %q", workers.ErrUnknownCapability, uri)
		}
		if !visibleTo(identity, reg.Required) {
			return nil, permissionError(identity, auth.RequiredOrDefault(reg.Required))
		}
	}

	if !s.registry.WorkerOnline(reg.OwnerID) {
		return nil, fmt.Errorf("%w: resource %q", workers.ErrWorkerOffline, uri)
	}
	return reg, nil
}

// authorizePrompt mirrors authorizeTool for prompts.
func (s *Server) authorizePrompt(identity *auth.Identity, name string) (*workers.PromptRegistration, error) {
	if identity == nil {
		return nil, auth.ErrAuthenticationRequired
	}

	reg, ok := s.registry.LookupPrompt(name)
	if !ok || !visibleTo(identity, reg.Required) {
		return nil, fmt.Errorf("%w: prompt %q", workers.ErrUnknownCapability, name)
	}
	if !s.registry.WorkerOnline(reg.OwnerID) {
		return nil, fmt.Errorf("%w: prompt %q", workers.ErrWorkerOffline, name)
	}
	return reg, nil
}

// authorizeListing gates the three list methods on the generic list
// permission. A denial is explicit, never an empty list, so callers can tell
// "denied" from "nothing available".
func authorizeListing(identity *auth.Identity) error {
	if identity == nil {
		return auth.ErrAuthenticationRequired
	}
	required := []auth.Permission{auth.PermListCapabilities}
	if !auth.HasAnyPermission(identity, required) {
		return permissionError(identity, required)
	}
	return nil
}

// visibleTo reports whether the identity holds any of the permissions the
// capability requires.
func visibleTo(identity *auth.Identity, required []auth.Permission) bool {
	return auth.HasAnyPermission(identity, auth.RequiredOrDefault(required))
}

// permissionError carries the required set and the caller's role so a denial
// is diagnosable from the message alone.
func permissionError(identity *auth.Identity, required []auth.Permission) error {
	return fmt.Errorf("%w: requires any of %v (role %s)",
		auth.ErrInsufficientPermission, required, identity.Role)
}

// writeCapabilityError converts a taxonomy error into the single-code error
// envelope. Authentication and permission failures additionally surface as
// HTTP 401 and 403; every other failure rides HTTP 200.
func (s *Server) writeCapabilityError(w http.ResponseWriter, id json.RawMessage, err error) {
	status := http.StatusOK
	switch {
	case errors.Is(err, auth.ErrAuthenticationRequired):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrInsufficientPermission):
		status = http.StatusForbidden
	}
	s.writeError(w, status, id, JSONRPCInternalError, err.Error())
}

// writeResult writes a success envelope with the result fields spread beside
// jsonrpc and id.
func (s *Server) writeResult(w http.ResponseWriter, id json.RawMessage, result map[string]any) {
	envelope := make(map[string]any, len(result)+2)
	for k, v := range result {
		envelope[k] = v
	}
	envelope["jsonrpc"] = "2.0"
	if len(id) > 0 {
		envelope["id"] = id
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// writeRawResult spreads a worker's raw result object into the success
// envelope. Non-object results are kept under a "result" member.
func (s *Server) writeRawResult(w http.ResponseWriter, id json.RawMessage, raw json.RawMessage) {
	var fields map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			s.writeResult(w, id, map[string]any{"result": raw})
			return
		}
	}
	s.writeResult(w, id, fields)
}

// writeError writes a failure envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string) {
	envelope := map[string]any{
		"jsonrpc": "2.0",
		"error":   JSONRPCError{Code: code, Message: message},
	}
	if len(id) > 0 {
		envelope["id"] = id
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		s.logger.Warn("failed to encode error response", "error", err)
	}
}
