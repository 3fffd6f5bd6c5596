// ABOUTME: Thread-safe capability registry mapping tools, resources, and prompts to workers.
// ABOUTME: Tracks worker liveness, applies name prefixes, and lazily rebuilds listing caches.

package workers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2389/sigil-gateway/internal/auth"
	"github.com/2389/sigil-gateway/internal/config"
)

// ErrWorkerAlreadyRegistered indicates a worker with the same ID is already live.
var ErrWorkerAlreadyRegistered = errors.New("worker already registered")

// ToolRegistration is a capability entry for a callable tool.
type ToolRegistration struct {
	Name        string // exposed name, prefixed when the worker configures a prefix
	RemoteName  string // name the owning worker advertised
	Description string
	InputSchema json.RawMessage
	OwnerID     string // worker ID, or the builtin pack ID
	Builtin     bool
	Required    []auth.Permission

	handler ToolHandler // set only for builtin tools
}

// ResourceRegistration is a capability entry for a readable resource.
// Resources are keyed by URI and never prefixed.
type ResourceRegistration struct {
	URI         string
	Name        string
	Description string
	MimeType    string
	OwnerID     string
	Required    []auth.Permission
}

// PromptRegistration is a capability entry for a prompt template.
type PromptRegistration struct {
	Name        string // exposed name, prefixed like tools
	RemoteName  string
	Description string
	Arguments   json.RawMessage
	OwnerID     string
	Required    []auth.Permission
}

// Worker is the record of a live worker subprocess.
type Worker struct {
	ID        string
	Config    config.WorkerConfig
	Client    *Client
	PID       int
	StartedAt time.Time
}

// Registry maintains worker records and the capabilities they back.
//
// Registrations outlive their worker: when a worker exits its record is
// removed but its registrations stay as offline markers, invisible to
// listings, so calls to those names report the worker as offline instead of
// unknown. Refresh discards the markers.
type Registry struct {
	mu        sync.RWMutex
	workers   map[string]*Worker
	tools     map[string]*ToolRegistration     // by exposed name
	resources map[string]*ResourceRegistration // by URI
	prompts   map[string]*PromptRegistration   // by exposed name
	logger    *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		workers:   make(map[string]*Worker),
		tools:     make(map[string]*ToolRegistration),
		resources: make(map[string]*ResourceRegistration),
		prompts:   make(map[string]*PromptRegistration),
		logger:    logger,
	}
}

// AddWorker stores a worker record and registers everything it advertised.
// Name collisions are resolved last-registration-wins; the loser becomes
// unreachable by exact name.
func (r *Registry) AddWorker(w *Worker, tools []ToolDef, resources []ResourceDef, prompts []PromptDef) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.ID]; exists {
		return ErrWorkerAlreadyRegistered
	}
	r.workers[w.ID] = w

	prefix := w.Config.Prefix
	required := w.Config.Permissions

	for _, def := range tools {
		name := exposedName(prefix, def.Name)
		if prev, exists := r.tools[name]; exists {
			r.logger.Debug("tool name collision, last registration wins",
				"name", name, "previous_owner", prev.OwnerID, "new_owner", w.ID)
		}
		r.tools[name] = &ToolRegistration{
			Name:        name,
			RemoteName:  def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
			OwnerID:     w.ID,
			Required:    required,
		}
	}

	for _, def := range resources {
		if prev, exists := r.resources[def.URI]; exists {
			r.logger.Debug("resource URI collision, last registration wins",
				"uri", def.URI, "previous_owner", prev.OwnerID, "new_owner", w.ID)
		}
		r.resources[def.URI] = &ResourceRegistration{
			URI:         def.URI,
			Name:        def.Name,
			Description: def.Description,
			MimeType:    def.MimeType,
			OwnerID:     w.ID,
			Required:    required,
		}
	}

	for _, def := range prompts {
		name := exposedName(prefix, def.Name)
		if prev, exists := r.prompts[name]; exists {
			r.logger.Debug("prompt name collision, last registration wins",
				"name", name, "previous_owner", prev.OwnerID, "new_owner", w.ID)
		}
		r.prompts[name] = &PromptRegistration{
			Name:        name,
			RemoteName:  def.Name,
			Description: def.Description,
			Arguments:   def.Arguments,
			OwnerID:     w.ID,
			Required:    required,
		}
	}

	r.logger.Info("=== WORKER REGISTERED ===",
		"worker_id", w.ID,
		"pid", w.PID,
		"tool_count", len(tools),
		"resource_count", len(resources),
		"prompt_count", len(prompts),
		"total_workers", len(r.workers),
	)

	return nil
}

// RemoveWorker drops a worker record. Its registrations disappear from
// listings at the same instant but stay in the maps as offline markers.
// Safe to call for an unknown ID.
func (r *Registry) RemoveWorker(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[workerID]; !exists {
		return
	}
	delete(r.workers, workerID)

	orphaned := 0
	for _, reg := range r.tools {
		if reg.OwnerID == workerID {
			orphaned++
		}
	}

	r.logger.Info("=== WORKER REMOVED ===",
		"worker_id", workerID,
		"orphaned_tools", orphaned,
		"total_workers", len(r.workers),
	)
}

// Worker returns a live worker record, or nil when the worker is gone.
func (r *Registry) Worker(workerID string) *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workers[workerID]
}

// WorkerOnline reports whether a worker record is still live.
func (r *Registry) WorkerOnline(workerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.workers[workerID]
	return ok
}

// LiveWorkers returns a snapshot of live worker records.
func (r *Registry) LiveWorkers() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WorkerCount returns the number of live workers.
func (r *Registry) WorkerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// RegisterBuiltinPack registers in-process tools. Builtin entries have no
// worker record and are always online.
func (r *Registry) RegisterBuiltinPack(pack *BuiltinPack) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tool := range pack.Tools {
		if prev, exists := r.tools[tool.Name]; exists {
			r.logger.Debug("tool name collision, last registration wins",
				"name", tool.Name, "previous_owner", prev.OwnerID, "new_owner", pack.ID)
		}
		r.tools[tool.Name] = &ToolRegistration{
			Name:        tool.Name,
			RemoteName:  tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
			OwnerID:     pack.ID,
			Builtin:     true,
			Required:    tool.Required,
			handler:     tool.Handler,
		}
	}

	r.logger.Info("=== BUILTIN PACK REGISTERED ===",
		"pack_id", pack.ID,
		"tool_count", len(pack.Tools),
	)
}

// LookupTool finds a tool registration by exposed name. Offline markers are
// included so callers can tell a vanished worker from a name that never
// existed.
func (r *Registry) LookupTool(name string) (*ToolRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.tools[name]
	return reg, ok
}

// LookupPrompt finds a prompt registration by exposed name, offline markers
// included.
func (r *Registry) LookupPrompt(name string) (*PromptRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.prompts[name]
	return reg, ok
}

// LookupResource finds a resource registration by exact URI, offline markers
// included.
func (r *Registry) LookupResource(uri string) (*ResourceRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.resources[uri]
	return reg, ok
}

// MatchResourceScheme locates the worker backing a URI scheme when the exact
// URI is not registered, so resources reachable by construction work without
// a listing. The returned registration carries the requested URI. Live
// owners are preferred over offline markers.
func (r *Registry) MatchResourceScheme(uri string) (*ResourceRegistration, bool) {
	scheme, _, ok := strings.Cut(uri, ":")
	if !ok || scheme == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var match *ResourceRegistration
	for _, reg := range r.resources {
		regScheme, _, ok := strings.Cut(reg.URI, ":")
		if !ok || regScheme != scheme {
			continue
		}
		if match == nil {
			match = reg
			continue
		}
		// Prefer a live owner; among equals keep the lowest URI for
		// deterministic resolution.
		matchLive := r.workers[match.OwnerID] != nil
		regLive := r.workers[reg.OwnerID] != nil
		if (regLive && !matchLive) || (regLive == matchLive && reg.URI < match.URI) {
			match = reg
		}
	}

	if match == nil {
		return nil, false
	}

	resolved := *match
	resolved.URI = uri
	return &resolved, true
}

// ListTools returns the tools visible right now: builtin entries plus those
// backed by a live worker, sorted by name.
func (r *Registry) ListTools() []*ToolRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ToolRegistration, 0, len(r.tools))
	for _, reg := range r.tools {
		if reg.Builtin || r.workers[reg.OwnerID] != nil {
			out = append(out, reg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListResources returns the resources backed by a live worker, sorted by
// URI. An empty cache is rebuilt first by querying every live worker.
func (r *Registry) ListResources(ctx context.Context) []*ResourceRegistration {
	if out := r.liveResources(); len(out) > 0 {
		return out
	}
	r.rebuildResources(ctx)
	return r.liveResources()
}

// ListPrompts returns the prompts backed by a live worker, sorted by name.
// An empty cache is rebuilt first by querying every live worker.
func (r *Registry) ListPrompts(ctx context.Context) []*PromptRegistration {
	if out := r.livePrompts(); len(out) > 0 {
		return out
	}
	r.rebuildPrompts(ctx)
	return r.livePrompts()
}

func (r *Registry) liveResources() []*ResourceRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*ResourceRegistration, 0, len(r.resources))
	for _, reg := range r.resources {
		if r.workers[reg.OwnerID] != nil {
			out = append(out, reg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

func (r *Registry) livePrompts() []*PromptRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*PromptRegistration, 0, len(r.prompts))
	for _, reg := range r.prompts {
		if r.workers[reg.OwnerID] != nil {
			out = append(out, reg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// rebuildResources queries every live worker and swaps in a freshly built
// cache. Workers are queried without holding the lock; the swap is atomic so
// readers never see a half-built cache. Query failures are logged and the
// worker contributes nothing.
func (r *Registry) rebuildResources(ctx context.Context) {
	fresh := make(map[string]*ResourceRegistration)

	for _, w := range r.LiveWorkers() {
		qctx, cancel := context.WithTimeout(ctx, w.Config.CallTimeout)
		defs, err := w.Client.ListResources(qctx)
		cancel()
		if err != nil {
			r.logger.Warn("resource listing failed during rebuild", "worker_id", w.ID, "error", err)
			continue
		}
		for _, def := range defs {
			if prev, exists := fresh[def.URI]; exists {
				r.logger.Debug("resource URI collision, last registration wins",
					"uri", def.URI, "previous_owner", prev.OwnerID, "new_owner", w.ID)
			}
			fresh[def.URI] = &ResourceRegistration{
				URI:         def.URI,
				Name:        def.Name,
				Description: def.Description,
				MimeType:    def.MimeType,
				OwnerID:     w.ID,
				Required:    w.Config.Permissions,
			}
		}
	}

	r.mu.Lock()
	r.resources = fresh
	r.mu.Unlock()

	r.logger.Debug("resource cache rebuilt", "resource_count", len(fresh))
}

// rebuildPrompts queries every live worker and swaps in a freshly built
// cache, applying each worker's prefix as at launch.
func (r *Registry) rebuildPrompts(ctx context.Context) {
	fresh := make(map[string]*PromptRegistration)

	for _, w := range r.LiveWorkers() {
		qctx, cancel := context.WithTimeout(ctx, w.Config.CallTimeout)
		defs, err := w.Client.ListPrompts(qctx)
		cancel()
		if err != nil {
			r.logger.Warn("prompt listing failed during rebuild", "worker_id", w.ID, "error", err)
			continue
		}
		for _, def := range defs {
			name := exposedName(w.Config.Prefix, def.Name)
			if prev, exists := fresh[name]; exists {
				r.logger.Debug("prompt name collision, last registration wins",
					"name", name, "previous_owner", prev.OwnerID, "new_owner", w.ID)
			}
			fresh[name] = &PromptRegistration{
				Name:        name,
				RemoteName:  def.Name,
				Description: def.Description,
				Arguments:   def.Arguments,
				OwnerID:     w.ID,
				Required:    w.Config.Permissions,
			}
		}
	}

	r.mu.Lock()
	r.prompts = fresh
	r.mu.Unlock()

	r.logger.Debug("prompt cache rebuilt", "prompt_count", len(fresh))
}

// Refresh discards offline markers and recomputes the resource and prompt
// caches from the live workers.
func (r *Registry) Refresh(ctx context.Context) {
	r.mu.Lock()
	for name, reg := range r.tools {
		if !reg.Builtin && r.workers[reg.OwnerID] == nil {
			delete(r.tools, name)
		}
	}
	r.mu.Unlock()

	r.rebuildResources(ctx)
	r.rebuildPrompts(ctx)

	r.logger.Info("registry refreshed")
}

// Close clears the registry. Worker processes are the supervisor's to stop;
// this only drops the records and registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	workerCount := len(r.workers)
	toolCount := len(r.tools)

	r.workers = make(map[string]*Worker)
	r.tools = make(map[string]*ToolRegistration)
	r.resources = make(map[string]*ResourceRegistration)
	r.prompts = make(map[string]*PromptRegistration)

	r.logger.Info("registry closed", "workers_cleared", workerCount, "tools_cleared", toolCount)
}

// exposedName applies a worker's configured prefix to a remote name.
func exposedName(prefix, remote string) string {
	if prefix == "" {
		return remote
	}
	return prefix + "_" + remote
}
