// Package bridgemgr implements the Bridge Manager: the part of the CLI
// process that discovers, spawns, health-checks, and stops bridge
// daemons. It never talks MCP itself — every check it performs is either
// a registry read or a lightweight IPC round trip.
package bridgemgr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/mcpbridge/mcpbridge/clierr"
	"github.com/mcpbridge/mcpbridge/config"
	"github.com/mcpbridge/mcpbridge/ipc"
	"github.com/mcpbridge/mcpbridge/registry"
)

// pingTimeout bounds the liveness probe a healthy-bridge check performs
// before concluding the bridge is unresponsive and should be respawned.
const pingTimeout = 500 * time.Millisecond

// spawnReadinessTimeout bounds how long ensureBridgeHealthy waits for a
// freshly spawned bridge to announce itself in the registry.
const spawnReadinessTimeout = 10 * time.Second

// shutdownAckTimeout/termTimeout are stopBridge's escalation windows.
const (
	shutdownAckTimeout = 2 * time.Second
	termTimeout        = 3 * time.Second
)

// Manager coordinates bridge processes for the session registry at paths.
type Manager struct {
	reg        *registry.Registry
	paths      config.Paths
	bridgedBin string
}

// New constructs a Manager. bridgedBin is the path to (or bare name of,
// resolved via PATH) the bridge daemon binary spawned for a session.
func New(paths config.Paths, bridgedBin string) *Manager {
	return &Manager{
		reg:        registry.New(paths.SessionsFile(), registry.DefaultLockTimeout),
		paths:      paths,
		bridgedBin: bridgedBin,
	}
}

// EnsureBridgeHealthy implements spec's four-step health check: read the
// record, probe a live pid over IPC, fail fast on an expired session, or
// spawn a replacement bridge with the same transport descriptor.
func (m *Manager) EnsureBridgeHealthy(ctx context.Context, name string) (*registry.Session, error) {
	rec, err := m.reg.Get(name)
	if err != nil {
		return nil, fmt.Errorf("bridgemgr: read registry: %w", err)
	}
	if rec == nil {
		return nil, clierr.New(clierr.KindClient, "no session named %q; run connect first", name)
	}

	if rec.PID != 0 && registry.IsAlive(rec.PID) {
		if m.ping(ctx, rec.SocketPath) == nil {
			return rec, nil
		}
	}

	if rec.Status == registry.StatusExpired {
		return nil, clierr.New(clierr.KindSessionExpired, "%s", clierr.SessionExpiredHint)
	}

	return m.spawn(ctx, rec)
}

// SpawnSession starts a brand-new session's bridge: there is no registry
// record yet (the descriptor file is the only thing `connect` has written),
// so this skips straight to spawn rather than going through the
// read-then-decide steps EnsureBridgeHealthy performs for an existing one.
func (m *Manager) SpawnSession(ctx context.Context, name string) (*registry.Session, error) {
	return m.spawn(ctx, &registry.Session{Name: name})
}

func (m *Manager) ping(ctx context.Context, socketPath string) error {
	cctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	client := ipc.New(socketPath, pingTimeout)
	return client.Call(cctx, "ping", nil, nil)
}

// spawn starts a new bridge process for rec's transport descriptor,
// redirecting its output to the session's log file, and polls the
// registry until the new process announces its pid and socket.
func (m *Manager) spawn(ctx context.Context, rec *registry.Session) (*registry.Session, error) {
	logPath := m.paths.LogPath(rec.Name)
	if err := os.MkdirAll(m.paths.LogDir(), 0o700); err != nil {
		return nil, fmt.Errorf("bridgemgr: create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("bridgemgr: open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(m.bridgedBin, "--session", rec.Name, "--home", m.paths.Home)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	// Detach the bridge from the CLI's process group so it survives the
	// short-lived CLI invocation that spawned it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridgemgr: spawn bridge: %w", err)
	}
	// The CLI process never waits on the daemon; release it to init so it
	// does not become a zombie once it exits on its own.
	go cmd.Wait() //nolint:errcheck

	deadline := time.Now().Add(spawnReadinessTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		cur, err := m.reg.Get(rec.Name)
		if err == nil && cur != nil && cur.PID != 0 && cur.PID != rec.PID && cur.SocketPath != "" {
			return cur, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, clierr.New(clierr.KindClient, "bridge for session %q did not become ready within %s; see %s", rec.Name, spawnReadinessTimeout, logPath)
}

// StopBridge sends a graceful shutdown, escalating to SIGTERM then
// SIGKILL if the bridge does not acknowledge in time, and removes the
// socket file on Unix once the process is gone.
func (m *Manager) StopBridge(ctx context.Context, name string) error {
	rec, err := m.reg.Get(name)
	if err != nil {
		return fmt.Errorf("bridgemgr: read registry: %w", err)
	}
	if rec == nil {
		return nil
	}

	if rec.PID != 0 && registry.IsAlive(rec.PID) {
		ackCtx, cancel := context.WithTimeout(ctx, shutdownAckTimeout)
		ackErr := ipc.New(rec.SocketPath, shutdownAckTimeout).Call(ackCtx, "shutdown", nil, nil)
		cancel()

		if ackErr != nil {
			m.signalAndWait(rec.PID, syscall.SIGTERM, termTimeout)
		} else {
			m.waitForExit(rec.PID, shutdownAckTimeout)
		}
		if registry.IsAlive(rec.PID) {
			_ = syscallKill(rec.PID)
		}
	}

	if rec.SocketPath != "" {
		_ = os.Remove(rec.SocketPath)
	}
	return m.reg.Delete(name)
}

func (m *Manager) signalAndWait(pid int, sig syscall.Signal, wait time.Duration) {
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Signal(sig)
	}
	m.waitForExit(pid, wait)
}

func (m *Manager) waitForExit(pid int, wait time.Duration) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !registry.IsAlive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func syscallKill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGKILL)
}

// Consolidate runs the registry's crash/staleness sweep and, when
// cleanExpired is set, removes every expired session's record, socket
// file, and stored secrets.
func (m *Manager) Consolidate(cleanExpired bool, secretsDeleter func(name string) error) (crashed, expired int, err error) {
	changed, err := m.reg.Consolidate()
	if err != nil {
		return 0, 0, err
	}
	for _, s := range changed {
		if s.Status == registry.StatusCrashed {
			crashed++
		}
	}
	if !cleanExpired {
		return crashed, 0, nil
	}

	all, err := m.reg.List()
	if err != nil {
		return crashed, 0, err
	}
	for _, s := range all {
		if s.Status != registry.StatusExpired {
			continue
		}
		if s.SocketPath != "" {
			_ = os.Remove(s.SocketPath)
		}
		if secretsDeleter != nil {
			_ = secretsDeleter(s.Name)
		}
		if err := m.reg.Delete(s.Name); err == nil {
			expired++
		}
	}
	return crashed, expired, nil
}
