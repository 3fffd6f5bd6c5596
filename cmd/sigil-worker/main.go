// ABOUTME: Reference capability worker speaking JSON-RPC 2.0 over stdio.
// ABOUTME: Usage: sigil-worker [-name "Demo Worker"]; launched and supervised by sigil-gateway.

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Version is set by goreleaser at build time.
var version = "dev"

// maxFrameSize bounds a single stdin line from the gateway.
const maxFrameSize = 16 * 1024 * 1024

const motdURI = "demo://motd"

// frame is an inbound JSON-RPC request or notification from the gateway.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// response is an outbound JSON-RPC response.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// worker serializes stdout writes; requests are handled concurrently.
type worker struct {
	name   string
	logger *slog.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	wg sync.WaitGroup
}

func main() {
	name := flag.String("name", "Demo Worker", "Worker display name")
	flag.Parse()

	// stdout is the protocol channel; all logging goes to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	w := &worker{
		name:   *name,
		logger: logger,
		enc:    json.NewEncoder(os.Stdout),
	}

	if err := w.run(os.Stdin); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

// run reads newline-delimited frames from stdin until EOF. EOF is the
// gateway's shutdown signal, so it exits cleanly.
func (w *worker) run(stdin *os.File) error {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var f frame
		if err := json.Unmarshal(line, &f); err != nil {
			w.logger.Warn("discarding malformed frame", "error", err)
			continue
		}

		// Notifications carry no ID and get no response.
		if len(f.ID) == 0 {
			w.logger.Debug("notification", "method", f.Method)
			continue
		}

		w.wg.Add(1)
		go func(f frame) {
			defer w.wg.Done()
			w.dispatch(f)
		}(f)
	}

	w.wg.Wait()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	w.logger.Info("stdin closed, exiting")
	return nil
}

func (w *worker) dispatch(f frame) {
	switch f.Method {
	case "initialize":
		w.handleInitialize(f)
	case "tools/list":
		w.handleListTools(f)
	case "tools/call":
		w.handleCallTool(f)
	case "resources/list":
		w.handleListResources(f)
	case "resources/read":
		w.handleReadResource(f)
	case "prompts/list":
		w.handleListPrompts(f)
	case "prompts/get":
		w.handleGetPrompt(f)
	default:
		w.writeError(f.ID, -32601, fmt.Sprintf("method not found: %s", f.Method))
	}
}

func (w *worker) handleInitialize(f frame) {
	w.logger.Info("initialize", "worker", w.name)
	w.writeResult(f.ID, map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    w.name,
			"version": version,
		},
	})
}

func (w *worker) handleListTools(f frame) {
	w.writeResult(f.ID, map[string]any{
		"tools": []map[string]any{
			{
				"name":        "echo",
				"description": "Echo the given text back",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"text": map[string]any{"type": "string", "description": "Text to echo"},
					},
					"required": []string{"text"},
				},
			},
			{
				"name":        "time_now",
				"description": "Current time, RFC3339 by default",
				"inputSchema": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"format": map[string]any{"type": "string", "description": "Go time layout"},
					},
				},
			},
		},
	})
}

func (w *worker) handleCallTool(f frame) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}
	if err := json.Unmarshal(f.Params, &params); err != nil {
		w.writeError(f.ID, -32602, fmt.Sprintf("invalid params: %v", err))
		return
	}

	w.logger.Info("tool call", "tool", params.Name)

	switch params.Name {
	case "echo":
		w.callEcho(f.ID, params.Arguments)
	case "time_now":
		w.callTimeNow(f.ID, params.Arguments)
	default:
		w.writeError(f.ID, -32602, fmt.Sprintf("unknown tool: %s", params.Name))
	}
}

func (w *worker) callEcho(id json.RawMessage, args json.RawMessage) {
	var in struct {
		Text string `json:"text"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			w.writeToolError(id, fmt.Sprintf("decoding arguments: %v", err))
			return
		}
	}
	if in.Text == "" {
		w.writeToolError(id, "text is required")
		return
	}
	w.writeToolText(id, in.Text)
}

func (w *worker) callTimeNow(id json.RawMessage, args json.RawMessage) {
	var in struct {
		Format string `json:"format"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			w.writeToolError(id, fmt.Sprintf("decoding arguments: %v", err))
			return
		}
	}
	layout := in.Format
	if layout == "" {
		layout = time.RFC3339
	}
	w.writeToolText(id, time.Now().Format(layout))
}

func (w *worker) handleListResources(f frame) {
	w.writeResult(f.ID, map[string]any{
		"resources": []map[string]any{
			{
				"uri":         motdURI,
				"name":        "Message of the day",
				"description": "A static greeting from the demo worker",
				"mimeType":    "text/plain",
			},
		},
	})
}

func (w *worker) handleReadResource(f frame) {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(f.Params, &params); err != nil {
		w.writeError(f.ID, -32602, fmt.Sprintf("invalid params: %v", err))
		return
	}

	if params.URI != motdURI {
		w.writeError(f.ID, -32602, fmt.Sprintf("unknown resource: %s", params.URI))
		return
	}

	w.writeResult(f.ID, map[string]any{
		"contents": []map[string]any{
			{
				"uri":      motdURI,
				"mimeType": "text/plain",
				"text":     fmt.Sprintf("Hello from %s (%s)", w.name, version),
			},
		},
	})
}

func (w *worker) handleListPrompts(f frame) {
	w.writeResult(f.ID, map[string]any{
		"prompts": []map[string]any{
			{
				"name":        "summarize",
				"description": "Build a summarization prompt for the given text",
				"arguments": []map[string]any{
					{"name": "text", "description": "Text to summarize", "required": true},
				},
			},
		},
	})
}

func (w *worker) handleGetPrompt(f frame) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}
	if err := json.Unmarshal(f.Params, &params); err != nil {
		w.writeError(f.ID, -32602, fmt.Sprintf("invalid params: %v", err))
		return
	}

	if params.Name != "summarize" {
		w.writeError(f.ID, -32602, fmt.Sprintf("unknown prompt: %s", params.Name))
		return
	}

	var args struct {
		Text string `json:"text"`
	}
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			w.writeError(f.ID, -32602, fmt.Sprintf("decoding arguments: %v", err))
			return
		}
	}

	w.writeResult(f.ID, map[string]any{
		"description": "Summarization prompt",
		"messages": []map[string]any{
			{
				"role": "user",
				"content": map[string]any{
					"type": "text",
					"text": fmt.Sprintf("Summarize the following in three sentences or fewer:\n\n%s", args.Text),
				},
			},
		},
	})
}

// writeToolText writes a successful tool result with one text block.
func (w *worker) writeToolText(id json.RawMessage, text string) {
	w.writeResult(id, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
	})
}

// writeToolError writes a tool-level failure. The call itself succeeded, so
// this is a result with isError set, not a protocol error.
func (w *worker) writeToolError(id json.RawMessage, msg string) {
	w.writeResult(id, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": msg},
		},
		"isError": true,
	})
}

func (w *worker) writeResult(id json.RawMessage, result any) {
	w.write(&response{JSONRPC: "2.0", ID: id, Result: result})
}

func (w *worker) writeError(id json.RawMessage, code int, msg string) {
	w.write(&response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}})
}

func (w *worker) write(resp *response) {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.enc.Encode(resp); err != nil {
		w.logger.Error("writing response", "error", err)
	}
}
