// ABOUTME: Tests for the JSON-RPC dispatcher covering envelopes and authorization.
// ABOUTME: Validates identity-first ordering, listing filters, and error indistinguishability.

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/2389/sigil-gateway/internal/auth"
	"github.com/2389/sigil-gateway/internal/workers"
)

// fakeRegistry serves a fixed capability set. Listings return only
// capabilities with live owners, lookups include offline markers, and the
// accessed flag records whether the dispatcher touched the registry at all.
type fakeRegistry struct {
	tools     []*workers.ToolRegistration
	resources []*workers.ResourceRegistration
	prompts   []*workers.PromptRegistration
	online    map[string]bool
	accessed  bool
}

func (f *fakeRegistry) ListTools() []*workers.ToolRegistration {
	f.accessed = true
	out := make([]*workers.ToolRegistration, 0, len(f.tools))
	for _, reg := range f.tools {
		if reg.Builtin || f.online[reg.OwnerID] {
			out = append(out, reg)
		}
	}
	return out
}

func (f *fakeRegistry) ListResources(_ context.Context) []*workers.ResourceRegistration {
	f.accessed = true
	out := make([]*workers.ResourceRegistration, 0, len(f.resources))
	for _, reg := range f.resources {
		if f.online[reg.OwnerID] {
			out = append(out, reg)
		}
	}
	return out
}

func (f *fakeRegistry) ListPrompts(_ context.Context) []*workers.PromptRegistration {
	f.accessed = true
	out := make([]*workers.PromptRegistration, 0, len(f.prompts))
	for _, reg := range f.prompts {
		if f.online[reg.OwnerID] {
			out = append(out, reg)
		}
	}
	return out
}

func (f *fakeRegistry) LookupTool(name string) (*workers.ToolRegistration, bool) {
	f.accessed = true
	for _, reg := range f.tools {
		if reg.Name == name {
			return reg, true
		}
	}
	return nil, false
}

func (f *fakeRegistry) LookupResource(uri string) (*workers.ResourceRegistration, bool) {
	f.accessed = true
	for _, reg := range f.resources {
		if reg.URI == uri {
			return reg, true
		}
	}
	return nil, false
}

func (f *fakeRegistry) MatchResourceScheme(uri string) (*workers.ResourceRegistration, bool) {
	f.accessed = true
	scheme, _, ok := strings.Cut(uri, ":")
	if !ok {
		return nil, false
	}
	for _, reg := range f.resources {
		if regScheme, _, _ := strings.Cut(reg.URI, ":"); regScheme == scheme {
			match := *reg
			match.URI = uri
			return &match, true
		}
	}
	return nil, false
}

func (f *fakeRegistry) LookupPrompt(name string) (*workers.PromptRegistration, bool) {
	f.accessed = true
	for _, reg := range f.prompts {
		if reg.Name == name {
			return reg, true
		}
	}
	return nil, false
}

func (f *fakeRegistry) WorkerOnline(workerID string) bool {
	f.accessed = true
	return f.online[workerID]
}

// fakeRouter records the call it received and returns a scripted response.
type fakeRouter struct {
	result json.RawMessage
	err    error

	callerID   string
	calledName string
	calledURI  string
	args       json.RawMessage
}

func (f *fakeRouter) CallTool(_ context.Context, callerID, name string, args json.RawMessage) (json.RawMessage, error) {
	f.callerID = callerID
	f.calledName = name
	f.args = args
	return f.result, f.err
}

func (f *fakeRouter) ReadResource(_ context.Context, callerID, uri string) (json.RawMessage, error) {
	f.callerID = callerID
	f.calledURI = uri
	return f.result, f.err
}

func (f *fakeRouter) GetPrompt(_ context.Context, callerID, name string, args json.RawMessage) (json.RawMessage, error) {
	f.callerID = callerID
	f.calledName = name
	f.args = args
	return f.result, f.err
}

// setupTestRegistry builds the capability set the tests share: two live
// workers (files, mail), one dead worker (ghost) whose registrations remain
// as offline markers, and one builtin pack.
func setupTestRegistry() *fakeRegistry {
	return &fakeRegistry{
		tools: []*workers.ToolRegistration{
			{
				Name:        "files_read",
				RemoteName:  "read",
				Description: "Read a file",
				InputSchema: json.RawMessage(`{"type":"object"}`),
				OwnerID:     "files",
				Required:    []auth.Permission{auth.PermReadData},
			},
			{
				Name:       "files_delete",
				RemoteName: "delete",
				OwnerID:    "files",
				Required:   []auth.Permission{auth.PermDeleteData},
			},
			{
				Name:       "mail_send",
				RemoteName: "send",
				OwnerID:    "mail",
			},
			{
				Name:       "ghost_probe",
				RemoteName: "probe",
				OwnerID:    "ghost",
				Required:   []auth.Permission{auth.PermReadData},
			},
			{
				Name:     "task_add",
				OwnerID:  "builtin:tasks",
				Builtin:  true,
				Required: []auth.Permission{auth.PermCreateData},
			},
		},
		resources: []*workers.ResourceRegistration{
			{
				URI:      "files:///readme",
				Name:     "readme",
				OwnerID:  "files",
				Required: []auth.Permission{auth.PermReadData},
			},
			{
				URI:      "vault://secrets",
				Name:     "secrets",
				OwnerID:  "files",
				Required: []auth.Permission{auth.PermDeleteData},
			},
		},
		prompts: []*workers.PromptRegistration{
			{
				Name:    "mail_draft",
				OwnerID: "mail",
			},
			{
				Name:     "ghost_summon",
				OwnerID:  "ghost",
				Required: []auth.Permission{auth.PermReadData},
			},
		},
		online: map[string]bool{
			"files": true,
			"mail":  true,
		},
	}
}

func setupTestServer(t *testing.T, registry *fakeRegistry, router *fakeRouter) *http.ServeMux {
	t.Helper()
	server, err := NewServer(Config{
		Registry: registry,
		Router:   router,
		Logger:   slog.Default(),
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	return mux
}

// postRPC sends body to /rpc, attaching identity to the request context the
// way the authentication middleware would.
func postRPC(t *testing.T, mux *http.ServeMux, identity *auth.Identity, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var envelope map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return envelope
}

func envelopeError(t *testing.T, envelope map[string]any) (int, string) {
	t.Helper()
	errObj, ok := envelope["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object in envelope, got %v", envelope)
	}
	code, ok := errObj["code"].(float64)
	if !ok {
		t.Fatalf("expected numeric error code, got %v", errObj["code"])
	}
	message, _ := errObj["message"].(string)
	return int(code), message
}

func adminIdentity() *auth.Identity {
	return &auth.Identity{ID: "alice", Role: auth.RoleAdmin}
}

func standardIdentity() *auth.Identity {
	return &auth.Identity{ID: "bob", Role: auth.RoleStandard}
}

func readonlyIdentity() *auth.Identity {
	return &auth.Identity{ID: "carol", Role: auth.RoleReadonly}
}

func TestNewServerValidation(t *testing.T) {
	t.Run("returns error when registry is nil", func(t *testing.T) {
		_, err := NewServer(Config{Router: &fakeRouter{}})
		if err == nil {
			t.Fatal("expected error when registry is nil")
		}
		if err.Error() != "registry is required" {
			t.Errorf("expected 'registry is required', got %q", err.Error())
		}
	})

	t.Run("returns error when router is nil", func(t *testing.T) {
		_, err := NewServer(Config{Registry: setupTestRegistry()})
		if err == nil {
			t.Fatal("expected error when router is nil")
		}
		if err.Error() != "router is required" {
			t.Errorf("expected 'router is required', got %q", err.Error())
		}
	})

	t.Run("succeeds with valid config", func(t *testing.T) {
		_, err := NewServer(Config{Registry: setupTestRegistry(), Router: &fakeRouter{}})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestHandleRPCTransport(t *testing.T) {
	t.Run("rejects non-POST requests", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		req := httptest.NewRequest(http.MethodGet, "/rpc", nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
		}
		if allow := rr.Header().Get("Allow"); allow != "POST" {
			t.Errorf("expected Allow header POST, got %q", allow)
		}
	})

	t.Run("rejects invalid JSON with parse error", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, nil, `{not json`)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		code, _ := envelopeError(t, decodeEnvelope(t, rr))
		if code != JSONRPCParseError {
			t.Errorf("expected code %d, got %d", JSONRPCParseError, code)
		}
	})

	t.Run("rejects wrong jsonrpc version", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, adminIdentity(), `{"jsonrpc":"1.0","id":1,"method":"list_tools"}`)

		code, _ := envelopeError(t, decodeEnvelope(t, rr))
		if code != JSONRPCInvalidRequest {
			t.Errorf("expected code %d, got %d", JSONRPCInvalidRequest, code)
		}
	})

	t.Run("rejects oversized body", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		large := make([]byte, MaxRequestBodySize+100)
		for i := range large {
			large[i] = 'x'
		}
		req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(large))
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)

		code, message := envelopeError(t, decodeEnvelope(t, rr))
		if code != JSONRPCInvalidRequest {
			t.Errorf("expected code %d, got %d", JSONRPCInvalidRequest, code)
		}
		if message != "request body too large" {
			t.Errorf("expected 'request body too large', got %q", message)
		}
	})

	t.Run("returns method not found for unknown methods", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, adminIdentity(), `{"jsonrpc":"2.0","id":1,"method":"destroy_everything"}`)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		code, _ := envelopeError(t, decodeEnvelope(t, rr))
		if code != JSONRPCMethodNotFound {
			t.Errorf("expected code %d, got %d", JSONRPCMethodNotFound, code)
		}
	})

	t.Run("echoes the request id in the envelope", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, adminIdentity(), `{"jsonrpc":"2.0","id":42,"method":"list_tools"}`)

		envelope := decodeEnvelope(t, rr)
		if envelope["jsonrpc"] != "2.0" {
			t.Errorf("expected jsonrpc 2.0, got %v", envelope["jsonrpc"])
		}
		if envelope["id"] != float64(42) {
			t.Errorf("expected id 42, got %v", envelope["id"])
		}
	})
}

func TestAuthenticationRequired(t *testing.T) {
	// Every capability method must refuse an unauthenticated caller before
	// touching the registry.
	methods := []struct {
		name string
		body string
	}{
		{"list_tools", `{"jsonrpc":"2.0","id":1,"method":"list_tools"}`},
		{"call_tool", `{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"files_read"}}`},
		{"list_resources", `{"jsonrpc":"2.0","id":1,"method":"list_resources"}`},
		{"read_resource", `{"jsonrpc":"2.0","id":1,"method":"read_resource","params":{"uri":"files:///readme"}}`},
		{"list_prompts", `{"jsonrpc":"2.0","id":1,"method":"list_prompts"}`},
		{"get_prompt", `{"jsonrpc":"2.0","id":1,"method":"get_prompt","params":{"name":"mail_draft"}}`},
	}

	for _, tc := range methods {
		t.Run(tc.name, func(t *testing.T) {
			registry := setupTestRegistry()
			mux := setupTestServer(t, registry, &fakeRouter{})

			rr := postRPC(t, mux, nil, tc.body)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
			}
			code, message := envelopeError(t, decodeEnvelope(t, rr))
			if code != JSONRPCInternalError {
				t.Errorf("expected code %d, got %d", JSONRPCInternalError, code)
			}
			if !strings.Contains(message, "authentication required") {
				t.Errorf("expected authentication error, got %q", message)
			}
			if registry.accessed {
				t.Error("registry was consulted before the identity check")
			}
		})
	}
}

func TestHandleListTools(t *testing.T) {
	listTools := func(t *testing.T, identity *auth.Identity) (*httptest.ResponseRecorder, map[string]any) {
		t.Helper()
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})
		rr := postRPC(t, mux, identity, `{"jsonrpc":"2.0","id":1,"method":"list_tools"}`)
		return rr, decodeEnvelope(t, rr)
	}

	toolNames := func(t *testing.T, envelope map[string]any) []string {
		t.Helper()
		raw, ok := envelope["tools"].([]any)
		if !ok {
			t.Fatalf("expected tools array in envelope, got %v", envelope)
		}
		names := make([]string, 0, len(raw))
		for _, item := range raw {
			tool := item.(map[string]any)
			names = append(names, tool["name"].(string))
		}
		return names
	}

	t.Run("admin sees every live tool", func(t *testing.T) {
		_, envelope := listTools(t, adminIdentity())

		names := toolNames(t, envelope)
		if len(names) != 4 {
			t.Errorf("expected 4 tools for admin, got %d: %v", len(names), names)
		}
		for _, name := range names {
			if name == "ghost_probe" {
				t.Error("offline worker's tool should not be listed")
			}
		}
	})

	t.Run("readonly sees only tools it could call", func(t *testing.T) {
		_, envelope := listTools(t, readonlyIdentity())

		names := toolNames(t, envelope)
		if len(names) != 1 || names[0] != "files_read" {
			t.Errorf("expected [files_read] for readonly, got %v", names)
		}
	})

	t.Run("standard is filtered by its permission set", func(t *testing.T) {
		_, envelope := listTools(t, standardIdentity())

		names := toolNames(t, envelope)
		if len(names) != 3 {
			t.Errorf("expected 3 tools for standard, got %d: %v", len(names), names)
		}
		for _, name := range names {
			if name == "files_delete" {
				t.Error("standard must not see delete-gated tools")
			}
		}
	})

	t.Run("denies listing without the list permission", func(t *testing.T) {
		identity := &auth.Identity{
			ID:          "dave",
			Role:        auth.RoleStandard,
			Permissions: []auth.Permission{auth.PermCallCapability},
		}
		rr, envelope := listTools(t, identity)

		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status %d, got %d", http.StatusForbidden, rr.Code)
		}
		code, message := envelopeError(t, envelope)
		if code != JSONRPCInternalError {
			t.Errorf("expected code %d, got %d", JSONRPCInternalError, code)
		}
		if !strings.Contains(message, "insufficient permission") {
			t.Errorf("expected permission error, got %q", message)
		}
		if !strings.Contains(message, string(auth.PermListCapabilities)) {
			t.Errorf("expected message to name the required permission, got %q", message)
		}
	})
}

func TestHandleListResources(t *testing.T) {
	t.Run("filters resources by permission", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, readonlyIdentity(), `{"jsonrpc":"2.0","id":1,"method":"list_resources"}`)

		envelope := decodeEnvelope(t, rr)
		raw, ok := envelope["resources"].([]any)
		if !ok {
			t.Fatalf("expected resources array, got %v", envelope)
		}
		if len(raw) != 1 {
			t.Fatalf("expected 1 resource for readonly, got %d", len(raw))
		}
		res := raw[0].(map[string]any)
		if res["uri"] != "files:///readme" {
			t.Errorf("expected files:///readme, got %v", res["uri"])
		}
	})

	t.Run("admin sees permission-gated resources", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, adminIdentity(), `{"jsonrpc":"2.0","id":1,"method":"list_resources"}`)

		envelope := decodeEnvelope(t, rr)
		raw := envelope["resources"].([]any)
		if len(raw) != 2 {
			t.Errorf("expected 2 resources for admin, got %d", len(raw))
		}
	})
}

func TestHandleListPrompts(t *testing.T) {
	t.Run("hides prompts from callers without the default permission", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, readonlyIdentity(), `{"jsonrpc":"2.0","id":1,"method":"list_prompts"}`)

		envelope := decodeEnvelope(t, rr)
		raw, ok := envelope["prompts"].([]any)
		if !ok {
			t.Fatalf("expected prompts array, got %v", envelope)
		}
		if len(raw) != 0 {
			t.Errorf("expected no prompts for readonly, got %d", len(raw))
		}
	})

	t.Run("lists live prompts the caller can get", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, adminIdentity(), `{"jsonrpc":"2.0","id":1,"method":"list_prompts"}`)

		envelope := decodeEnvelope(t, rr)
		raw := envelope["prompts"].([]any)
		if len(raw) != 1 {
			t.Fatalf("expected 1 prompt for admin, got %d", len(raw))
		}
		prompt := raw[0].(map[string]any)
		if prompt["name"] != "mail_draft" {
			t.Errorf("expected mail_draft, got %v", prompt["name"])
		}
	})
}

func TestHandleCallTool(t *testing.T) {
	t.Run("forwards an authorized call to the router", func(t *testing.T) {
		router := &fakeRouter{result: json.RawMessage(`{"content":[{"type":"text","text":"hello"}]}`)}
		mux := setupTestServer(t, setupTestRegistry(), router)

		body := `{"jsonrpc":"2.0","id":7,"method":"call_tool","params":{"name":"files_read","arguments":{"path":"/etc/motd"}}}`
		rr := postRPC(t, mux, adminIdentity(), body)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected application/json, got %q", ct)
		}
		if router.callerID != "alice" {
			t.Errorf("expected caller alice, got %q", router.callerID)
		}
		if router.calledName != "files_read" {
			t.Errorf("expected files_read, got %q", router.calledName)
		}
		var args map[string]string
		if err := json.Unmarshal(router.args, &args); err != nil || args["path"] != "/etc/motd" {
			t.Errorf("arguments not forwarded intact: %s", router.args)
		}

		envelope := decodeEnvelope(t, rr)
		if _, ok := envelope["content"]; !ok {
			t.Error("expected result fields spread at the envelope top level")
		}
		if _, ok := envelope["result"]; ok {
			t.Error("result must not be nested under a result member")
		}
		if envelope["id"] != float64(7) {
			t.Errorf("expected id 7, got %v", envelope["id"])
		}
	})

	t.Run("unknown and unauthorized are indistinguishable", func(t *testing.T) {
		router := &fakeRouter{}
		mux := setupTestServer(t, setupTestRegistry(), router)

		// files_delete exists but readonly lacks delete-data; no_such_tool
		// does not exist at all. The two denials must look the same.
		deniedRR := postRPC(t, mux, readonlyIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"files_delete"}}`)
		missingRR := postRPC(t, mux, readonlyIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"no_such_tool"}}`)

		if deniedRR.Code != missingRR.Code {
			t.Errorf("status differs: %d vs %d", deniedRR.Code, missingRR.Code)
		}
		if deniedRR.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, deniedRR.Code)
		}

		deniedCode, deniedMsg := envelopeError(t, decodeEnvelope(t, deniedRR))
		missingCode, missingMsg := envelopeError(t, decodeEnvelope(t, missingRR))
		if deniedCode != missingCode {
			t.Errorf("error code differs: %d vs %d", deniedCode, missingCode)
		}
		if !strings.HasPrefix(deniedMsg, "unknown capability") {
			t.Errorf("expected unknown capability for unauthorized tool, got %q", deniedMsg)
		}
		if !strings.HasPrefix(missingMsg, "unknown capability") {
			t.Errorf("expected unknown capability for missing tool, got %q", missingMsg)
		}
		if router.calledName != "" {
			t.Errorf("router must not be invoked for denied calls, saw %q", router.calledName)
		}
	})

	t.Run("reports offline for a dead worker's tool", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, adminIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"ghost_probe"}}`)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		_, message := envelopeError(t, decodeEnvelope(t, rr))
		if !strings.Contains(message, "server offline for capability") {
			t.Errorf("expected offline error, got %q", message)
		}
	})

	t.Run("builtin tools skip the liveness check", func(t *testing.T) {
		router := &fakeRouter{result: json.RawMessage(`{"content":[]}`)}
		mux := setupTestServer(t, setupTestRegistry(), router)

		rr := postRPC(t, mux, adminIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"task_add","arguments":{"title":"x"}}}`)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		if router.calledName != "task_add" {
			t.Errorf("expected builtin call to reach the router, saw %q", router.calledName)
		}
	})

	t.Run("router failures ride the envelope on HTTP 200", func(t *testing.T) {
		router := &fakeRouter{err: fmt.Errorf("worker rpc tools/call: disk full (code -32000)")}
		mux := setupTestServer(t, setupTestRegistry(), router)

		rr := postRPC(t, mux, adminIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"files_read"}}`)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		code, message := envelopeError(t, decodeEnvelope(t, rr))
		if code != JSONRPCInternalError {
			t.Errorf("expected code %d, got %d", JSONRPCInternalError, code)
		}
		if !strings.Contains(message, "disk full") {
			t.Errorf("expected the worker error to pass through, got %q", message)
		}
	})

	t.Run("tool-reported errors pass through as results", func(t *testing.T) {
		router := &fakeRouter{result: json.RawMessage(`{"content":[{"type":"text","text":"boom"}],"isError":true}`)}
		mux := setupTestServer(t, setupTestRegistry(), router)

		rr := postRPC(t, mux, adminIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"files_read"}}`)

		envelope := decodeEnvelope(t, rr)
		if _, ok := envelope["error"]; ok {
			t.Error("tool-level failure must not become an envelope error")
		}
		if envelope["isError"] != true {
			t.Errorf("expected isError true in result, got %v", envelope["isError"])
		}
	})

	t.Run("rejects missing tool name", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, adminIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"arguments":{}}}`)

		code, _ := envelopeError(t, decodeEnvelope(t, rr))
		if code != JSONRPCInvalidRequest {
			t.Errorf("expected code %d, got %d", JSONRPCInvalidRequest, code)
		}
	})
}

func TestHandleReadResource(t *testing.T) {
	t.Run("reads a listed resource", func(t *testing.T) {
		router := &fakeRouter{result: json.RawMessage(`{"contents":[{"uri":"files:///readme","text":"hi"}]}`)}
		mux := setupTestServer(t, setupTestRegistry(), router)

		rr := postRPC(t, mux, readonlyIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"read_resource","params":{"uri":"files:///readme"}}`)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		if router.calledURI != "files:///readme" {
			t.Errorf("expected files:///readme, got %q", router.calledURI)
		}
		if router.callerID != "carol" {
			t.Errorf("expected caller carol, got %q", router.callerID)
		}
		envelope := decodeEnvelope(t, rr)
		if _, ok := envelope["contents"]; !ok {
			t.Error("expected contents spread at the envelope top level")
		}
	})

	t.Run("unlisted uri falls back to the scheme owner", func(t *testing.T) {
		router := &fakeRouter{result: json.RawMessage(`{"contents":[]}`)}
		mux := setupTestServer(t, setupTestRegistry(), router)

		rr := postRPC(t, mux, readonlyIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"read_resource","params":{"uri":"files:///var/log/sys.log"}}`)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		if router.calledURI != "files:///var/log/sys.log" {
			t.Errorf("expected the full requested uri, got %q", router.calledURI)
		}
	})

	t.Run("scheme fallback denies with an explicit permission error", func(t *testing.T) {
		router := &fakeRouter{}
		mux := setupTestServer(t, setupTestRegistry(), router)

		// vault://keys was never listed; the scheme owner requires
		// delete-data, which standard lacks. The URI reveals nothing, so the
		// denial can afford to be diagnostic.
		rr := postRPC(t, mux, standardIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"read_resource","params":{"uri":"vault://keys"}}`)

		if rr.Code != http.StatusForbidden {
			t.Errorf("expected status %d, got %d", http.StatusForbidden, rr.Code)
		}
		code, message := envelopeError(t, decodeEnvelope(t, rr))
		if code != JSONRPCInternalError {
			t.Errorf("expected code %d, got %d", JSONRPCInternalError, code)
		}
		if !strings.Contains(message, string(auth.PermDeleteData)) {
			t.Errorf("expected message to name the required permission, got %q", message)
		}
		if !strings.Contains(message, string(auth.RoleStandard)) {
			t.Errorf("expected message to name the caller's role, got %q", message)
		}
		if router.calledURI != "" {
			t.Errorf("router must not be invoked for denied reads, saw %q", router.calledURI)
		}
	})

	t.Run("exact match the caller cannot see reports unknown", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, standardIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"read_resource","params":{"uri":"vault://secrets"}}`)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		_, message := envelopeError(t, decodeEnvelope(t, rr))
		if !strings.HasPrefix(message, "unknown capability") {
			t.Errorf("expected unknown capability for hidden exact match, got %q", message)
		}
	})

	t.Run("unknown scheme reports unknown", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, adminIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"read_resource","params":{"uri":"nope://anywhere"}}`)

		_, message := envelopeError(t, decodeEnvelope(t, rr))
		if !strings.HasPrefix(message, "unknown capability") {
			t.Errorf("expected unknown capability, got %q", message)
		}
	})

	t.Run("rejects missing uri", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, adminIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"read_resource","params":{}}`)

		code, _ := envelopeError(t, decodeEnvelope(t, rr))
		if code != JSONRPCInvalidRequest {
			t.Errorf("expected code %d, got %d", JSONRPCInvalidRequest, code)
		}
	})
}

func TestHandleGetPrompt(t *testing.T) {
	t.Run("forwards an authorized prompt get", func(t *testing.T) {
		router := &fakeRouter{result: json.RawMessage(`{"messages":[{"role":"user","content":{"type":"text","text":"draft"}}]}`)}
		mux := setupTestServer(t, setupTestRegistry(), router)

		rr := postRPC(t, mux, standardIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"get_prompt","params":{"name":"mail_draft","arguments":{"tone":"curt"}}}`)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
		}
		if router.calledName != "mail_draft" {
			t.Errorf("expected mail_draft, got %q", router.calledName)
		}
		envelope := decodeEnvelope(t, rr)
		if _, ok := envelope["messages"]; !ok {
			t.Error("expected messages spread at the envelope top level")
		}
	})

	t.Run("reports offline for a dead worker's prompt", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, adminIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"get_prompt","params":{"name":"ghost_summon"}}`)

		_, message := envelopeError(t, decodeEnvelope(t, rr))
		if !strings.Contains(message, "server offline for capability") {
			t.Errorf("expected offline error, got %q", message)
		}
	})

	t.Run("unknown prompt reports unknown", func(t *testing.T) {
		mux := setupTestServer(t, setupTestRegistry(), &fakeRouter{})

		rr := postRPC(t, mux, adminIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"get_prompt","params":{"name":"no_such_prompt"}}`)

		_, message := envelopeError(t, decodeEnvelope(t, rr))
		if !strings.HasPrefix(message, "unknown capability") {
			t.Errorf("expected unknown capability, got %q", message)
		}
	})
}

func TestWriteRawResult(t *testing.T) {
	t.Run("wraps non-object results under a result member", func(t *testing.T) {
		router := &fakeRouter{result: json.RawMessage(`"plain string"`)}
		mux := setupTestServer(t, setupTestRegistry(), router)

		rr := postRPC(t, mux, adminIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"files_read"}}`)

		envelope := decodeEnvelope(t, rr)
		if envelope["result"] != "plain string" {
			t.Errorf("expected plain string under result, got %v", envelope["result"])
		}
	})

	t.Run("empty result yields a bare envelope", func(t *testing.T) {
		router := &fakeRouter{}
		mux := setupTestServer(t, setupTestRegistry(), router)

		rr := postRPC(t, mux, adminIdentity(),
			`{"jsonrpc":"2.0","id":1,"method":"call_tool","params":{"name":"files_read"}}`)

		envelope := decodeEnvelope(t, rr)
		if envelope["jsonrpc"] != "2.0" {
			t.Errorf("expected jsonrpc member, got %v", envelope)
		}
		if _, ok := envelope["error"]; ok {
			t.Error("empty result must not produce an error envelope")
		}
	})
}
