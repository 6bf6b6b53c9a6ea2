package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/burncloud/fetchd/internal/aria2"
	"github.com/burncloud/fetchd/internal/netutil"
	"github.com/burncloud/fetchd/internal/platform"
	"github.com/burncloud/fetchd/internal/provision"
)

// Readiness window. Variables so tests can shrink the wait.
var (
	readinessTimeout = 30 * time.Second
	readinessProbe   = 500 * time.Millisecond
)

// executablePath is indirected for tests.
var executablePath = platform.ExecutablePath

// Daemon supervises one aria2 engine instance: it provisions the binary,
// arbitrates the RPC port, spawns the process, waits for RPC readiness
// and runs the health monitor.
//
// Stop is the authoritative teardown path; abandoning a Daemon leaks the
// child to OS cleanup.
type Daemon struct {
	cfg      Config
	proc     *Process
	mon      *monitor
	log      *slog.Logger
	degraded atomic.Bool
}

// Start provisions, spawns and verifies the engine, then begins health
// monitoring. On a port conflict the next bindable port is chosen and
// the client's endpoint is rewritten to match.
func Start(ctx context.Context, cfg Config, client *aria2.Client, log *slog.Logger) (*Daemon, error) {
	if log == nil {
		log = slog.Default()
	}

	binPath := executablePath()
	if !provision.Exists(binPath) {
		log.Info("aria2 binary missing, provisioning", "path", binPath)
		if err := provision.New().Provision(ctx, binPath); err != nil {
			return nil, err
		}
	}

	if err := platform.EnsureDir(cfg.DownloadDir); err != nil {
		return nil, fmt.Errorf("ensure download dir: %w", err)
	}

	port, err := netutil.FindAvailable(cfg.RPCPort)
	if err != nil {
		return nil, err
	}
	if port != cfg.RPCPort {
		log.Info("rpc port occupied, using next available", "requested", cfg.RPCPort, "selected", port)
		cfg.RPCPort = port
		client.SetPort(port)
	}

	d := &Daemon{cfg: cfg, log: log}
	d.proc = NewProcess(binPath, cfg, log)
	if err := d.proc.Start(); err != nil {
		return nil, err
	}

	if err := d.awaitReady(ctx, client); err != nil {
		_ = d.proc.Stop()
		return nil, err
	}

	d.mon = newMonitor(d.proc, client, cfg.HealthCheckInterval, log, func() {
		d.degraded.Store(true)
	})
	go d.mon.run()

	log.Info("engine ready", "port", cfg.RPCPort)
	return d, nil
}

// awaitReady polls the control plane until it answers, the process dies,
// or the readiness window elapses.
func (d *Daemon) awaitReady(ctx context.Context, client *aria2.Client) error {
	deadline := time.Now().Add(readinessTimeout)
	for {
		probeCtx, cancel := context.WithTimeout(ctx, readinessProbe)
		_, err := client.GetGlobalStat(probeCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.proc.IsRunning() {
			return fmt.Errorf("%w: engine exited during startup", ErrProcessManagement)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no RPC answer within %s", ErrDaemonUnavailable, readinessTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readinessProbe):
		}
	}
}

// Stop raises the monitor's shutdown signal, waits for the loop to exit,
// then terminates the engine. The ordering guarantees the monitor never
// restarts concurrently with teardown.
func (d *Daemon) Stop() error {
	if d.mon != nil {
		d.mon.stop()
		d.mon.wait()
	}
	return d.proc.Stop()
}

// IsHealthy reports whether the supervised engine process is running.
func (d *Daemon) IsHealthy() bool { return d.proc.IsRunning() }

// Degraded reports whether the monitor gave up after exhausting the
// restart budget.
func (d *Daemon) Degraded() bool { return d.degraded.Load() }

// Port returns the port the engine was actually started on.
func (d *Daemon) Port() int { return d.cfg.RPCPort }
