// Package gateway orchestrates the sigil-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the sigil-gateway server.
// It owns and manages all major components: the task store, the capability
// registry, the worker supervisor, the RPC dispatcher, and the HTTP server.
//
// # Gateway Struct
//
// The Gateway struct is the main entry point:
//
//	type Gateway struct {
//	    config     *config.Config
//	    store      store.Store
//	    registry   *workers.Registry
//	    router     *workers.Router
//	    supervisor *workers.Supervisor
//	    rpcServer  *rpc.Server
//	    httpServer *http.Server
//	    // ... and more
//	}
//
// # Startup Ordering
//
// New wires components in dependency order:
//
//  1. Store (SQLite, path from config or SIGIL_DB_PATH)
//  2. Registry, with the builtin task pack registered
//  3. Router and Supervisor over the registry
//  4. RPC dispatcher over registry and router
//  5. HTTP mux: /health, /health/ready, /rpc (behind auth middleware)
//
// Workers are launched later by Run (or Start), so a Gateway can be
// constructed and inspected without spawning processes.
//
// # HTTP Endpoints
//
//   - POST /rpc - JSON-RPC capability operations (list/call/read/get)
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (all configured workers online)
//
// # Authentication
//
// When config carries a jwt_secret or static tokens, /rpc is wrapped in
// auth.Middleware with the matching verifier chain (JWT, bcrypt static
// tokens, or both via MultiVerifier). Requests without credentials pass
// through with no identity and are refused by the dispatcher. With no
// credential source configured the middleware is omitted entirely and a
// warning is logged; every request is then anonymous.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Run launches the configured workers, serves HTTP, and blocks until the
// context is canceled or the server fails. Graceful shutdown:
//
//	cancel()
//
// Shutdown stops the HTTP server, kills worker process groups, closes the
// static-token verifier cache, and closes the store.
package gateway
