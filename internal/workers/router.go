// ABOUTME: Routes capability calls to builtin handlers or worker subprocesses.
// ABOUTME: Applies per-worker call deadlines and normalizes builtin results.

package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultCallTimeout bounds a worker call when the worker's configuration
// does not set one.
const DefaultCallTimeout = 30 * time.Second

// ErrUnknownCapability indicates the named capability is not registered.
var ErrUnknownCapability = errors.New("unknown capability")

// ErrWorkerOffline indicates the capability's worker has exited.
var ErrWorkerOffline = errors.New("server offline for capability")

// Router routes tool calls, resource reads, and prompt gets to the builtin
// handler or worker that backs them.
type Router struct {
	registry *Registry
	logger   *slog.Logger
}

// NewRouter creates a router backed by the given registry.
func NewRouter(registry *Registry, logger *slog.Logger) *Router {
	return &Router{registry: registry, logger: logger}
}

// CallTool executes a tool by exposed name. Builtin tools run in-process;
// worker tools are forwarded under the worker's remote name. The forwarded
// call runs on its own deadline, detached from the inbound context, so a
// dropped caller does not cancel work already handed to a worker.
//
// Tool-level failures stay inside the result body; only unknown, offline,
// and transport failures surface as errors.
func (rt *Router) CallTool(ctx context.Context, callerID, name string, args json.RawMessage) (json.RawMessage, error) {
	reg, ok := rt.registry.LookupTool(name)
	if !ok {
		return nil, fmt.Errorf("%w: tool %q", ErrUnknownCapability, name)
	}

	if reg.Builtin {
		rt.logger.Debug("executing builtin tool", "tool", name, "pack_id", reg.OwnerID, "caller_id", callerID)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		out, err := reg.handler(ctx, callerID, args)
		if err != nil {
			return marshalToolResult(toolResult{
				Content: []contentBlock{{Type: "text", Text: err.Error()}},
				IsError: true,
			})
		}
		return marshalToolResult(toolResult{
			Content: []contentBlock{{Type: "text", Text: string(out)}},
		})
	}

	w := rt.registry.Worker(reg.OwnerID)
	if w == nil {
		return nil, fmt.Errorf("%w: tool %q (worker %s)", ErrWorkerOffline, name, reg.OwnerID)
	}

	rt.logger.Info("dispatching tool",
		"worker_id", w.ID,
		"tool", name,
		"remote_name", reg.RemoteName,
		"caller_id", callerID,
	)

	callCtx, cancel := detachedCallContext(w)
	defer cancel()
	return w.Client.CallTool(callCtx, reg.RemoteName, args)
}

// ReadResource reads a resource by URI, falling back to scheme matching when
// the exact URI was never listed. The worker receives the URI as requested.
func (rt *Router) ReadResource(ctx context.Context, callerID, uri string) (json.RawMessage, error) {
	reg, ok := rt.registry.LookupResource(uri)
	if !ok {
		reg, ok = rt.registry.MatchResourceScheme(uri)
	}
	if !ok {
		return nil, fmt.Errorf("%w: resource %q", ErrUnknownCapability, uri)
	}

	w := rt.registry.Worker(reg.OwnerID)
	if w == nil {
		return nil, fmt.Errorf("%w: resource %q (worker %s)", ErrWorkerOffline, uri, reg.OwnerID)
	}

	rt.logger.Info("dispatching resource read", "worker_id", w.ID, "uri", uri, "caller_id", callerID)

	callCtx, cancel := detachedCallContext(w)
	defer cancel()
	return w.Client.ReadResource(callCtx, uri)
}

// GetPrompt renders a prompt by exposed name, forwarding under the worker's
// remote name.
func (rt *Router) GetPrompt(ctx context.Context, callerID, name string, args json.RawMessage) (json.RawMessage, error) {
	reg, ok := rt.registry.LookupPrompt(name)
	if !ok {
		return nil, fmt.Errorf("%w: prompt %q", ErrUnknownCapability, name)
	}

	w := rt.registry.Worker(reg.OwnerID)
	if w == nil {
		return nil, fmt.Errorf("%w: prompt %q (worker %s)", ErrWorkerOffline, name, reg.OwnerID)
	}

	rt.logger.Info("dispatching prompt get",
		"worker_id", w.ID,
		"prompt", name,
		"remote_name", reg.RemoteName,
		"caller_id", callerID,
	)

	callCtx, cancel := detachedCallContext(w)
	defer cancel()
	return w.Client.GetPrompt(callCtx, reg.RemoteName, args)
}

// detachedCallContext builds the deadline context for a forwarded call.
func detachedCallContext(w *Worker) (context.Context, context.CancelFunc) {
	timeout := w.Config.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

func marshalToolResult(result toolResult) (json.RawMessage, error) {
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return out, nil
}
