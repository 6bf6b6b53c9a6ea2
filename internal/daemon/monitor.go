package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/burncloud/fetchd/internal/aria2"
	"github.com/burncloud/fetchd/internal/metrics"
)

// backoffCap bounds the restart backoff.
const backoffCap = 60 * time.Second

// backoff returns the wait before restart attempt n (1-based):
// min(2^(n-1), 60) seconds.
func backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > 7 {
		// 2^6 s already exceeds the cap.
		return backoffCap
	}
	d := time.Duration(1<<(n-1)) * time.Second
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// engineProcess is the slice of Process the monitor drives.
type engineProcess interface {
	IsRunning() bool
	Start() error
	IncrementRestartCount() int
	ResetRestartCount()
	MaxRestartAttempts() int
}

// livenessProber issues the lightweight RPC used as the health probe.
type livenessProber interface {
	GetGlobalStat(ctx context.Context) (*aria2.GlobalStat, error)
}

// monitor is the background health loop. It detects crashes, restarts
// the engine with exponential backoff, and resets the restart budget on
// sustained health.
type monitor struct {
	proc     engineProcess
	prober   livenessProber
	interval time.Duration
	log      *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	// onExhausted fires once when the restart budget runs out.
	onExhausted func()

	// sleep waits for d or until shutdown; returns false on shutdown.
	// Overridable in tests.
	sleep func(d time.Duration) bool
}

func newMonitor(proc engineProcess, prober livenessProber, interval time.Duration, log *slog.Logger, onExhausted func()) *monitor {
	if log == nil {
		log = slog.Default()
	}
	m := &monitor{
		proc:        proc,
		prober:      prober,
		interval:    interval,
		log:         log,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		onExhausted: onExhausted,
	}
	m.sleep = func(d time.Duration) bool {
		select {
		case <-m.stopCh:
			return false
		case <-time.After(d):
			return true
		}
	}
	return m
}

// run is the monitor loop. It exits on shutdown or when the restart
// budget is exhausted.
func (m *monitor) run() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if !m.proc.IsRunning() {
				if !m.handleCrash() {
					return
				}
				continue
			}
			if _, err := m.prober.GetGlobalStat(context.Background()); err == nil {
				m.proc.ResetRestartCount()
			}
			// A failed probe on a live process is not acted on here; the
			// engine may still be starting up. A real crash is caught on
			// the next tick by IsRunning.
		}
	}
}

// handleCrash runs the restart branch. It returns false when the monitor
// must exit (shutdown or restart budget exhausted).
func (m *monitor) handleCrash() bool {
	n := m.proc.IncrementRestartCount()
	if n > m.proc.MaxRestartAttempts() {
		m.log.Error("engine restart limit exceeded, giving up",
			"attempts", n-1, "err", ErrRestartLimitExceeded)
		if m.onExhausted != nil {
			m.onExhausted()
		}
		return false
	}
	delay := backoff(n)
	m.log.Warn("engine process exited, scheduling restart", "attempt", n, "backoff", delay)
	if !m.sleep(delay) {
		return false
	}
	metrics.EngineRestarts.Inc()
	if err := m.proc.Start(); err != nil {
		// Retried on the next tick, still bounded by the restart cap.
		m.log.Error("engine restart failed", "attempt", n, "err", err)
	}
	return true
}

// stop raises the shutdown signal. Safe to call more than once.
func (m *monitor) stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// wait blocks until the loop has exited.
func (m *monitor) wait() { <-m.doneCh }
