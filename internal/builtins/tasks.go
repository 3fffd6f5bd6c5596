// ABOUTME: Task pack provides the builtin task tools: add, list, update, delete.
// ABOUTME: Each tool is gated on the matching data permission; rows are caller-scoped.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/sigil-gateway/internal/auth"
	"github.com/2389/sigil-gateway/internal/store"
	"github.com/2389/sigil-gateway/internal/workers"
)

// TaskPack creates the builtin task pack backed by the given store.
func TaskPack(s store.Store) *workers.BuiltinPack {
	h := &taskHandlers{store: s}
	return &workers.BuiltinPack{
		ID: "builtin:tasks",
		Tools: []*workers.BuiltinTool{
			{
				Name:        "task_add",
				Description: "Create a task",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"title":{"type":"string"},"priority":{"type":"string","enum":["low","medium","high"]},"due_date":{"type":"string","format":"date-time"},"notes":{"type":"string"}},"required":["title"]}`),
				Required:    []auth.Permission{auth.PermCreateData},
				Handler:     h.TaskAdd,
			},
			{
				Name:        "task_list",
				Description: "List your tasks",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"status":{"type":"string","enum":["pending","in_progress","completed"]},"priority":{"type":"string","enum":["low","medium","high"]}}}`),
				Required:    []auth.Permission{auth.PermReadData},
				Handler:     h.TaskList,
			},
			{
				Name:        "task_update",
				Description: "Update a task's status, priority, notes, or due date",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"},"title":{"type":"string"},"status":{"type":"string","enum":["pending","in_progress","completed"]},"priority":{"type":"string","enum":["low","medium","high"]},"notes":{"type":"string"},"due_date":{"type":"string","format":"date-time"}},"required":["id"]}`),
				Required:    []auth.Permission{auth.PermUpdateData},
				Handler:     h.TaskUpdate,
			},
			{
				Name:        "task_delete",
				Description: "Delete a task",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
				Required:    []auth.Permission{auth.PermDeleteData},
				Handler:     h.TaskDelete,
			},
		},
	}
}

type taskHandlers struct {
	store store.Store
}

// parseDueDate accepts RFC3339 timestamps and bare dates.
func parseDueDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due_date: %q", s)
	}
	return t, nil
}

type taskAddInput struct {
	Title    string `json:"title"`
	Priority string `json:"priority"`
	DueDate  string `json:"due_date"`
	Notes    string `json:"notes"`
}

func (h *taskHandlers) TaskAdd(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
	var in taskAddInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if in.Priority != "" && !store.ValidTaskPriority(in.Priority) {
		return nil, fmt.Errorf("invalid priority: %q", in.Priority)
	}

	task := &store.Task{
		Owner:    callerID,
		Title:    in.Title,
		Priority: in.Priority,
		Notes:    in.Notes,
	}
	if in.DueDate != "" {
		t, err := parseDueDate(in.DueDate)
		if err != nil {
			return nil, err
		}
		task.DueDate = &t
	}

	if err := h.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{"id": task.ID, "status": "created"})
}

type taskListInput struct {
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

func (h *taskHandlers) TaskList(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
	var in taskListInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Status != "" && !store.ValidTaskStatus(in.Status) {
		return nil, fmt.Errorf("invalid status: %q", in.Status)
	}
	if in.Priority != "" && !store.ValidTaskPriority(in.Priority) {
		return nil, fmt.Errorf("invalid priority: %q", in.Priority)
	}

	tasks, err := h.store.ListTasks(ctx, callerID, in.Status, in.Priority)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{"tasks": tasks, "count": len(tasks)})
}

type taskUpdateInput struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Notes    string `json:"notes"`
	DueDate  string `json:"due_date"`
}

func (h *taskHandlers) TaskUpdate(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
	var in taskUpdateInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.ID == "" {
		return nil, fmt.Errorf("id is required")
	}

	task, err := h.store.GetTask(ctx, in.ID)
	if err != nil {
		return nil, err
	}

	// Callers can only touch their own tasks. A foreign task reads as
	// missing, identical to a wrong ID.
	if task.Owner != callerID {
		return nil, fmt.Errorf("task not found")
	}

	// Only update fields that were provided
	if in.Title != "" {
		task.Title = in.Title
	}
	if in.Status != "" {
		if !store.ValidTaskStatus(in.Status) {
			return nil, fmt.Errorf("invalid status: %q", in.Status)
		}
		task.Status = in.Status
	}
	if in.Priority != "" {
		if !store.ValidTaskPriority(in.Priority) {
			return nil, fmt.Errorf("invalid priority: %q", in.Priority)
		}
		task.Priority = in.Priority
	}
	if in.Notes != "" {
		task.Notes = in.Notes
	}
	if in.DueDate != "" {
		t, err := parseDueDate(in.DueDate)
		if err != nil {
			return nil, err
		}
		task.DueDate = &t
	}

	if err := h.store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{"id": task.ID, "status": "updated"})
}

type taskDeleteInput struct {
	ID string `json:"id"`
}

func (h *taskHandlers) TaskDelete(ctx context.Context, callerID string, input json.RawMessage) (json.RawMessage, error) {
	var in taskDeleteInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.ID == "" {
		return nil, fmt.Errorf("id is required")
	}

	// Fetch and verify ownership before deleting
	task, err := h.store.GetTask(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if task.Owner != callerID {
		return nil, fmt.Errorf("task not found")
	}

	if err := h.store.DeleteTask(ctx, in.ID); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{"id": in.ID, "status": "deleted"})
}
