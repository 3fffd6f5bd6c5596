// ABOUTME: Stdio JSON-RPC 2.0 client session with a single worker subprocess.
// ABOUTME: Correlates responses by request ID and fails pending calls on session close.

package workers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// maxFrameSize bounds a single worker stdout line. Large tool results are
// expected; anything past this is a protocol violation.
const maxFrameSize = 16 * 1024 * 1024

// ErrSessionClosed indicates the worker's stdio session is gone, either
// because the process exited or the client was closed.
var ErrSessionClosed = errors.New("worker session closed")

// ErrCallTimeout indicates a worker call did not complete within its deadline.
var ErrCallTimeout = errors.New("worker call timed out")

// Client is one stdio JSON-RPC session. Writes are serialized; a single
// reader goroutine delivers responses to waiting callers by request ID.
type Client struct {
	logger *slog.Logger

	writeMu sync.Mutex
	enc     *json.Encoder
	stdin   io.Closer

	pendingMu sync.Mutex
	pending   map[string]chan *rpcFrame

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient starts a client session over the given pipes. The reader
// goroutine runs until stdout closes, which happens when the worker exits.
func NewClient(stdin io.WriteCloser, stdout io.Reader, logger *slog.Logger) *Client {
	c := &Client{
		logger:  logger,
		enc:     json.NewEncoder(stdin),
		stdin:   stdin,
		pending: make(map[string]chan *rpcFrame),
		done:    make(chan struct{}),
	}
	go c.readLoop(stdout)
	return c
}

// Close shuts the session down and fails every pending call with
// ErrSessionClosed. Closing stdin is the polite exit signal for workers
// that watch for EOF. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.stdin.Close()
		c.failPending()
	})
}

// Call sends a request and waits for the matching response. The response
// result is returned raw; protocol-level errors from the worker come back
// as wrapped errors. The context bounds the wait.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, ErrSessionClosed
	default:
	}

	id := uuid.New().String()
	ch := c.createPending(id)
	defer c.cancelPending(id)

	if err := c.send(&rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}

	c.logger.Debug("worker call sent", "method", method, "request_id", id)

	select {
	case frame := <-ch:
		if frame.Error != nil {
			return nil, fmt.Errorf("worker rpc %s: %s (code %d)", method, frame.Error.Message, frame.Error.Code)
		}
		return frame.Result, nil

	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("worker call timed out", "method", method, "request_id", id)
			return nil, fmt.Errorf("%w: %s", ErrCallTimeout, method)
		}
		return nil, ctx.Err()

	case <-c.done:
		return nil, ErrSessionClosed
	}
}

// Notify sends a notification. No response is expected.
func (c *Client) Notify(method string, params any) error {
	select {
	case <-c.done:
		return ErrSessionClosed
	default:
	}
	return c.send(&rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

// Initialize performs the protocol handshake and the initialized
// notification that completes it.
func (c *Client) Initialize(ctx context.Context, clientName, clientVersion string) (*InitializeResult, error) {
	raw, err := c.Call(ctx, "initialize", initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      peerInfo{Name: clientName, Version: clientVersion},
	})
	if err != nil {
		return nil, err
	}

	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding initialize result: %w", err)
	}

	if err := c.Notify("notifications/initialized", nil); err != nil {
		return nil, fmt.Errorf("sending initialized: %w", err)
	}
	return &result, nil
}

// ListTools asks the worker for its tool definitions.
func (c *Client) ListTools(ctx context.Context) ([]ToolDef, error) {
	raw, err := c.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result listToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding tools/list result: %w", err)
	}
	return result.Tools, nil
}

// ListResources asks the worker for its resource definitions.
func (c *Client) ListResources(ctx context.Context) ([]ResourceDef, error) {
	raw, err := c.Call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}
	var result listResourcesResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding resources/list result: %w", err)
	}
	return result.Resources, nil
}

// ListPrompts asks the worker for its prompt definitions.
func (c *Client) ListPrompts(ctx context.Context) ([]PromptDef, error) {
	raw, err := c.Call(ctx, "prompts/list", nil)
	if err != nil {
		return nil, err
	}
	var result listPromptsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decoding prompts/list result: %w", err)
	}
	return result.Prompts, nil
}

// CallTool invokes a tool by the name the worker advertised. The result is
// returned exactly as the worker produced it, including tool-level failures
// flagged inside the result body.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return c.Call(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
}

// ReadResource reads a resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (json.RawMessage, error) {
	return c.Call(ctx, "resources/read", readResourceParams{URI: uri})
}

// GetPrompt renders a prompt by the name the worker advertised.
func (c *Client) GetPrompt(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	return c.Call(ctx, "prompts/get", getPromptParams{Name: name, Arguments: args})
}

func (c *Client) send(req *rpcRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(req); err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return nil
}

// readLoop consumes newline-delimited frames from the worker's stdout until
// it closes. Notifications from the worker are logged and dropped; the
// gateway does not accept worker-initiated requests.
func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var frame rpcFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			c.logger.Warn("discarding malformed frame from worker", "error", err)
			continue
		}

		if frame.Method != "" {
			c.logger.Debug("ignoring worker-initiated message", "method", frame.Method)
			continue
		}

		c.deliver(&frame)
	}

	if err := scanner.Err(); err != nil {
		c.logger.Debug("worker stdout closed", "error", err)
	}
	c.Close()
}

// deliver hands a response to the caller waiting on its request ID.
func (c *Client) deliver(frame *rpcFrame) {
	id := requestIDKey(frame.ID)

	c.pendingMu.Lock()
	ch, exists := c.pending[id]
	if exists {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if !exists {
		c.logger.Warn("received response for unknown request", "request_id", id)
		return
	}

	select {
	case ch <- frame:
	default:
		c.logger.Warn("failed to deliver response (channel full)", "request_id", id)
	}
}

// createPending registers a response channel for a request ID. Buffer size 1
// so delivery never blocks the read loop.
func (c *Client) createPending(id string) chan *rpcFrame {
	ch := make(chan *rpcFrame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return ch
}

// cancelPending removes a pending request without delivering a result.
func (c *Client) cancelPending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// failPending drops every waiter. Callers blocked in Call observe the done
// channel instead, so clearing the map is enough.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	c.pending = make(map[string]chan *rpcFrame)
	c.pendingMu.Unlock()
}

// requestIDKey normalizes a wire ID to the string key used in the pending
// map. IDs generated by this client are JSON strings; anything else falls
// back to its raw encoding.
func requestIDKey(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
