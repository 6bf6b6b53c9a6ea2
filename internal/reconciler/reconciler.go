// Package reconciler settles host-side download records against
// asynchronous engine events.
package reconciler

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/burncloud/fetchd/internal/data"
	"github.com/burncloud/fetchd/internal/downloader"
	"github.com/burncloud/fetchd/internal/metrics"
	"github.com/burncloud/fetchd/internal/repo"
)

// Reconciler consumes downloader events and updates repository state.
// It never calls back into the facade; the binding map is not its
// concern.
type Reconciler struct {
	repo   repo.DownloadRepo
	events <-chan downloader.Event
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Reconciler that processes downloader events and mutates
// the repository accordingly.
func New(log *slog.Logger, repo repo.DownloadRepo, events <-chan downloader.Event) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{repo: repo, events: events, log: log, ctx: context.Background()}
}

// Run starts the reconciliation loop.
func (r *Reconciler) Run() {
	r.stop = make(chan struct{})
	r.ctx, r.cancel = context.WithCancel(r.ctx)
	// Tag this run with a stable operation_id for easier correlation.
	opID := uuid.NewString()
	r.log = r.log.With("operation_id", opID)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.stop:
				return
			case e, ok := <-r.events:
				if !ok {
					return
				}
				r.handle(e)
			}
		}
	}()
}

// Stop terminates the reconciliation loop.
func (r *Reconciler) Stop() {
	if r.stop != nil {
		close(r.stop)
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	}
}

func (r *Reconciler) handle(e downloader.Event) {
	metrics.DownloadEvents.WithLabelValues(strings.ToLower(string(e.Type))).Inc()

	var status data.DownloadStatus
	switch e.Type {
	case downloader.EventStart:
		status = data.StatusActive
	case downloader.EventPaused:
		status = data.StatusPaused
	case downloader.EventCancelled:
		status = data.StatusCancelled
	case downloader.EventComplete:
		status = data.StatusComplete
	case downloader.EventFailed:
		status = data.StatusError
	case downloader.EventMeta:
		if e.Name == nil || *e.Name == "" {
			return
		}
		r.updateRecord(e, func(dl *data.Download) error {
			dl.Name = *e.Name
			return nil
		})
		return
	default:
		r.log.Warn("unknown event type", "task_id", e.TaskID, "type", e.Type)
		return
	}

	r.updateRecord(e, func(dl *data.Download) error {
		dl.Status = status
		if e.Type == downloader.EventComplete && e.Name != nil && *e.Name != "" {
			dl.Name = *e.Name
		}
		return nil
	})
}

func (r *Reconciler) updateRecord(e downloader.Event, mutate func(*data.Download) error) {
	dl, err := r.repo.FindByTaskID(r.ctx, e.TaskID)
	if err != nil {
		// Facade-only tasks have no host record; nothing to settle.
		r.log.Debug("no record for event", "task_id", e.TaskID, "type", e.Type)
		return
	}
	if _, err := r.repo.Update(r.ctx, dl.ID, mutate); err != nil {
		r.log.Error("update", "id", dl.ID, "task_id", e.TaskID, "err", err)
		return
	}
	r.log.Info("reconciled event", "id", dl.ID, "task_id", e.TaskID, "type", e.Type)
}
