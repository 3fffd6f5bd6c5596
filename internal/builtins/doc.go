// Package builtins provides the gateway's built-in tool packs.
//
// # Overview
//
// Built-in tools execute inside the gateway process instead of a worker
// subprocess. They register through the same registry as worker capabilities
// and are dispatched through the same router, so callers cannot tell them
// apart from worker-backed tools. Because no worker owns them, they are
// always available and skip the liveness check on calls.
//
// # Tool Packs
//
// Task Pack (builtin:tasks):
//
//   - task_add: Create a task (requires create-data)
//   - task_list: List your tasks, filtered by status or priority (requires read-data)
//   - task_update: Update a task's title, status, priority, notes, or due date (requires update-data)
//   - task_delete: Delete a task (requires delete-data)
//
// Each tool declares exactly the data permission its operation exercises, so
// a readonly caller can list tasks but never create, change, or remove one.
//
// # Registration
//
//	registry.RegisterBuiltinPack(builtins.TaskPack(store))
//
// # Tool Implementation
//
// Each tool is a function with signature:
//
//	func(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error)
//
// Tools receive:
//   - Context for cancellation
//   - Caller identity ID for scoping data
//   - Input JSON from the caller's tool call
//
// # Data Persistence
//
// Task rows are stored through store.Store, scoped by the caller's identity
// ID. Handlers verify ownership before updating or deleting; a task owned by
// someone else reads as missing, the same as a wrong ID. Due dates accept
// RFC3339 timestamps or bare YYYY-MM-DD dates.
package builtins
