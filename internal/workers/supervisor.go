// ABOUTME: Launches worker subprocesses, registers what they advertise, and reaps exits.
// ABOUTME: Kills whole process groups on teardown so worker children never linger.

package workers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/2389/sigil-gateway/internal/config"
)

// DefaultLaunchTimeout bounds the handshake and discovery phase when the
// worker's configuration does not set one.
const DefaultLaunchTimeout = 30 * time.Second

// termGrace is how long a process group gets between SIGTERM and SIGKILL.
const termGrace = 800 * time.Millisecond

// ErrLaunchFailed indicates a worker could not be started, failed the
// handshake, or refused to list its tools.
var ErrLaunchFailed = errors.New("worker launch failed")

// baseEnvKeys are always inherited from the gateway's own environment.
// Everything else needs an explicit env or env_passthrough entry.
var baseEnvKeys = []string{"PATH", "HOME", "USER", "SHELL", "TERM", "LOGNAME", "TMPDIR"}

// Supervisor owns the lifecycle of worker subprocesses. Successful launches
// are handed to the registry; a watcher goroutine per worker removes the
// record the moment the process exits.
type Supervisor struct {
	registry *Registry
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewSupervisor creates a supervisor that registers workers with the given
// registry.
func NewSupervisor(registry *Registry, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		registry: registry,
		logger:   logger.With("component", "supervisor"),
	}
}

// LaunchAll starts the configured workers one at a time. The first failure
// stops the sequence and is returned; workers launched before it keep
// running, so callers aborting boot should follow up with ShutdownAll.
func (s *Supervisor) LaunchAll(ctx context.Context, cfgs []config.WorkerConfig) error {
	for _, wc := range cfgs {
		if err := s.Launch(ctx, wc); err != nil {
			return fmt.Errorf("launching worker %s: %w", wc.ID, err)
		}
	}
	return nil
}

// Launch starts one worker: spawn the process in its own process group,
// perform the initialize handshake, discover capabilities, and register the
// result. Tool discovery is mandatory; resource and prompt discovery are
// best effort. Any failure tears the process down before returning.
func (s *Supervisor) Launch(ctx context.Context, wc config.WorkerConfig) error {
	logger := s.logger.With("worker_id", wc.ID)

	cmd := exec.Command(wc.Command, wc.Args...)
	cmd.Dir = wc.WorkDir
	cmd.Env = mergedEnv(wc)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %v", ErrLaunchFailed, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrLaunchFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrLaunchFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: starting %s: %v", ErrLaunchFailed, wc.Command, err)
	}
	pid := cmd.Process.Pid
	logger.Info("worker process started", "command", wc.Command, "pid", pid)

	go drainStderr(logger, stderr)

	client := NewClient(stdin, stdout, logger)

	timeout := wc.LaunchTimeout
	if timeout <= 0 {
		timeout = DefaultLaunchTimeout
	}
	launchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	init, err := client.Initialize(launchCtx, "sigil-gateway", "1.0.0")
	if err != nil {
		s.teardown(cmd, client)
		return fmt.Errorf("%w: initialize handshake: %v", ErrLaunchFailed, err)
	}
	logger.Debug("worker initialized",
		"server_name", init.ServerInfo.Name,
		"server_version", init.ServerInfo.Version,
		"protocol_version", init.ProtocolVersion,
	)

	tools, err := client.ListTools(launchCtx)
	if err != nil {
		s.teardown(cmd, client)
		return fmt.Errorf("%w: listing tools: %v", ErrLaunchFailed, err)
	}

	resources, err := client.ListResources(launchCtx)
	if err != nil {
		logger.Warn("resource discovery failed, continuing without", "error", err)
		resources = nil
	}
	prompts, err := client.ListPrompts(launchCtx)
	if err != nil {
		logger.Warn("prompt discovery failed, continuing without", "error", err)
		prompts = nil
	}

	w := &Worker{
		ID:        wc.ID,
		Config:    wc,
		Client:    client,
		PID:       pid,
		StartedAt: time.Now(),
	}
	if err := s.registry.AddWorker(w, tools, resources, prompts); err != nil {
		s.teardown(cmd, client)
		return fmt.Errorf("%w: registering: %v", ErrLaunchFailed, err)
	}

	s.wg.Add(1)
	go s.watch(w, cmd)
	return nil
}

// watch reaps the worker process and removes its record the moment it
// exits, taking its capabilities out of every listing.
func (s *Supervisor) watch(w *Worker, cmd *exec.Cmd) {
	defer s.wg.Done()

	err := cmd.Wait()
	w.Client.Close()
	s.registry.RemoveWorker(w.ID)

	if err != nil {
		s.logger.Warn("worker exited", "worker_id", w.ID, "error", err)
		return
	}
	s.logger.Info("worker exited cleanly", "worker_id", w.ID)
}

// ShutdownAll stops every live worker: close stdin as the polite signal,
// then SIGTERM and SIGKILL the process group. Blocks until all watchers
// have reaped their processes, then clears the registry.
func (s *Supervisor) ShutdownAll() {
	workers := s.registry.LiveWorkers()
	for _, w := range workers {
		s.logger.Info("stopping worker", "worker_id", w.ID, "pid", w.PID)
		w.Client.Close()
		killProcessGroup(s.logger, w.PID)
	}

	s.wg.Wait()
	s.registry.Close()
}

// teardown cleans up a worker that failed mid-launch, before a watcher
// exists to reap it.
func (s *Supervisor) teardown(cmd *exec.Cmd, client *Client) {
	client.Close()
	killProcessGroup(s.logger, cmd.Process.Pid)
	_ = cmd.Wait()
}

// killProcessGroup signals the whole group so children spawned by the worker
// die with it. The negative PID targets the group set at launch.
func killProcessGroup(logger *slog.Logger, pid int) {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return
		}
		logger.Debug("SIGTERM to process group failed", "pid", pid, "error", err)
	}
	time.Sleep(termGrace)
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		logger.Debug("SIGKILL to process group failed", "pid", pid, "error", err)
	}
}

// drainStderr forwards worker stderr lines to the debug log so crashes
// leave a trace without letting workers spam the gateway's output.
func drainStderr(logger *slog.Logger, stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Debug("worker stderr", "line", scanner.Text())
	}
}

// mergedEnv builds a worker's environment: the base keys inherited from the
// gateway, plus configured passthrough keys, plus explicit overrides.
// Overrides win over passthrough, passthrough over base.
func mergedEnv(wc config.WorkerConfig) []string {
	merged := make(map[string]string)

	for _, key := range baseEnvKeys {
		if v := os.Getenv(key); v != "" {
			merged[key] = v
		}
	}
	for _, key := range wc.EnvPassthrough {
		if v := os.Getenv(key); v != "" {
			merged[key] = v
		}
	}
	for key, v := range wc.Env {
		merged[key] = v
	}

	out := make([]string, 0, len(merged))
	for key, v := range merged {
		out = append(out, key+"="+v)
	}
	sort.Strings(out)
	return out
}
