// Package manager implements the download facade over a supervised
// aria2 engine. It owns the task-id to engine-handle binding map and
// derives all task and progress snapshots from live engine state.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/burncloud/fetchd/internal/aria2"
	"github.com/burncloud/fetchd/internal/daemon"
	"github.com/burncloud/fetchd/internal/data"
	"github.com/burncloud/fetchd/internal/downloader"
	"github.com/burncloud/fetchd/internal/metrics"
	"github.com/burncloud/fetchd/internal/netutil"
)

// stoppedScanLimit bounds the dedup and listing scans over finished
// engine tasks.
const stoppedScanLimit = 1000

// binding ties a caller task id to the engine handle it was submitted
// under, plus what is needed to rebuild snapshots.
type binding struct {
	id        data.TaskID
	gid       string
	url       string
	dir       string
	filename  string
	createdAt time.Time
}

// Aria2Manager implements downloader.Manager against an aria2 engine.
// Bindings live in memory only; an engine restart leaves them dangling
// until the affected tasks are re-added.
type Aria2Manager struct {
	cl    *aria2.Client
	dmn   *daemon.Daemon
	fetch *http.Client
	rep   downloader.Reporter
	log   *slog.Logger

	mu    sync.RWMutex
	tasks map[data.TaskID]*binding
	byGID map[string]data.TaskID
}

var _ downloader.Manager = (*Aria2Manager)(nil)
var _ downloader.EventSource = (*Aria2Manager)(nil)

// New starts a supervised engine for the given endpoint and returns a
// manager bound to it. The daemon configuration comes from the
// environment with the endpoint's port as the preferred RPC port; if
// that port is taken the endpoint is rewritten to the arbitrated one.
func New(ctx context.Context, endpoint, secret string, log *slog.Logger) (*Aria2Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	cl, err := aria2.NewClient(endpoint, secret)
	if err != nil {
		return nil, err
	}
	cfg := daemon.ConfigFromEnv()
	cfg.RPCSecret = secret
	if p := cl.BaseURL().Port(); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			cfg.RPCPort = port
		}
	}
	dmn, err := daemon.Start(ctx, cfg, cl, log)
	if err != nil {
		return nil, err
	}
	m := Attach(cl)
	m.dmn = dmn
	m.log = log
	return m, nil
}

// NewWithAutoPort arbitrates a free RPC port starting from the default
// before startup and builds the endpoint accordingly.
func NewWithAutoPort(ctx context.Context, secret string, log *slog.Logger) (*Aria2Manager, error) {
	port, err := netutil.FindAvailable(daemon.DefaultConfig().RPCPort)
	if err != nil {
		return nil, err
	}
	endpoint := (&url.URL{Scheme: "http", Host: fmt.Sprintf("localhost:%d", port), Path: "/jsonrpc"}).String()
	return New(ctx, endpoint, secret, log)
}

// Attach wraps an already-running engine without supervising it.
func Attach(cl *aria2.Client) *Aria2Manager {
	return &Aria2Manager{
		cl:    cl,
		fetch: &http.Client{Timeout: 60 * time.Second},
		log:   slog.Default(),
		tasks: make(map[data.TaskID]*binding),
		byGID: make(map[string]data.TaskID),
	}
}

// SetLogger wires a shared application logger into the manager.
func (m *Aria2Manager) SetLogger(l *slog.Logger) {
	if l != nil {
		m.log = l
	}
}

// SetReporter wires an event reporter; nil disables event relay.
func (m *Aria2Manager) SetReporter(rep downloader.Reporter) { m.rep = rep }

// Client returns the underlying RPC client.
func (m *Aria2Manager) Client() *aria2.Client { return m.cl }

// IsHealthy reports supervised-engine health. Without a supervisor it
// reports whether the engine answers RPC.
func (m *Aria2Manager) IsHealthy(ctx context.Context) bool {
	if m.dmn != nil {
		return m.dmn.IsHealthy()
	}
	_, err := m.cl.GetGlobalStat(ctx)
	return err == nil
}

// Shutdown stops the supervised engine, if this manager owns one.
func (m *Aria2Manager) Shutdown() error {
	if m.dmn == nil {
		return nil
	}
	return m.dmn.Stop()
}

// bind records a fresh task binding.
func (m *Aria2Manager) bind(b *binding) {
	m.mu.Lock()
	m.tasks[b.id] = b
	m.byGID[b.gid] = b.id
	metrics.ActiveTasks.Set(float64(len(m.tasks)))
	m.mu.Unlock()
}

// unbind forgets a task binding. Returns the binding, or nil when the
// id is unknown.
func (m *Aria2Manager) unbind(id data.TaskID) *binding {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.tasks[id]
	if !ok {
		return nil
	}
	delete(m.tasks, id)
	delete(m.byGID, b.gid)
	metrics.ActiveTasks.Set(float64(len(m.tasks)))
	return b
}

// lookup resolves a task id to its binding.
func (m *Aria2Manager) lookup(id data.TaskID) (*binding, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.tasks[id]
	return b, ok
}

// taskForGID resolves an engine handle back to a task id.
func (m *Aria2Manager) taskForGID(gid string) (data.TaskID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byGID[gid]
	return id, ok
}
