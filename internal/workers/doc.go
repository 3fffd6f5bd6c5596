// Package workers manages tool worker subprocesses and the capability
// registry built from what they advertise.
//
// # Overview
//
// A worker is a child process that speaks JSON-RPC 2.0 over stdin/stdout.
// At launch the supervisor performs the initialize handshake and asks the
// worker for its tools (required) and its resources and prompts (best
// effort). Everything the worker advertises becomes a capability in the
// registry, tagged with the permissions from the worker's configuration.
//
// # Architecture
//
// The package has four main components:
//
//   - Registry: tracks worker records and capability registrations
//   - Supervisor: launches workers, watches for exits, tears them down
//   - Client: the stdio JSON-RPC session with a single worker
//   - Router: routes capability calls to builtin handlers or workers
//
// # Naming
//
// Tool and prompt names may be namespaced with the worker's configured
// prefix ("files" + "read" -> "files_read") so two workers can ship tools
// with the same remote name. Resources are keyed by URI and never prefixed.
// Name collisions are resolved last-registration-wins.
//
// # Worker Exit
//
// When a worker exits for any reason its record is removed immediately and
// its capabilities drop out of listings. The registrations themselves stay
// behind so a call to one of those names reports the worker as offline
// rather than pretending the name never existed. Refresh discards them.
//
// # Builtin Packs
//
// Builtin packs (see internal/builtins) register in-process tools that are
// routed without a subprocess round trip. They are always online.
//
// # Usage
//
// Create a registry and supervisor, then launch configured workers:
//
//	registry := workers.NewRegistry(logger)
//	supervisor := workers.NewSupervisor(registry, logger)
//	if err := supervisor.LaunchAll(ctx, cfg.Workers); err != nil {
//		supervisor.ShutdownAll()
//		return err
//	}
//
// Route a call:
//
//	router := workers.NewRouter(registry, logger)
//	result, err := router.CallTool(ctx, callerID, "files_read", args)
package workers
