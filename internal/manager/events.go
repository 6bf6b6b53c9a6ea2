package manager

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/burncloud/fetchd/internal/aria2"
	"github.com/burncloud/fetchd/internal/downloader"
)

// Run subscribes to the engine's notification stream and relays events
// for bound tasks to the reporter. Bindings are never mutated here: only
// an explicit cancel removes one, so bound ids stay resolvable for
// snapshot queries even after the transfer finishes.
func (m *Aria2Manager) Run(ctx context.Context) {
	opID := uuid.NewString()
	lg := m.log.With("operation_id", opID)
	ch, err := m.cl.Notifications(ctx)
	if err != nil {
		lg.Warn("engine notification stream unavailable", "err", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			m.handleNotification(ctx, n, lg)
		}
	}
}

func (m *Aria2Manager) handleNotification(ctx context.Context, n aria2.Notification, lg *slog.Logger) {
	for _, p := range n.Params {
		id, ok := m.taskForGID(p.GID)
		if !ok {
			continue
		}
		var typ downloader.EventType
		switch n.Method {
		case aria2.NotifyComplete:
			typ = downloader.EventComplete
		case aria2.NotifyError:
			typ = downloader.EventFailed
		case aria2.NotifyPause:
			typ = downloader.EventPaused
		case aria2.NotifyStop:
			typ = downloader.EventCancelled
		case aria2.NotifyStart:
			typ = downloader.EventStart
		default:
			continue
		}
		ev := downloader.Event{TaskID: id, GID: p.GID, Type: typ}
		if typ == downloader.EventComplete {
			if name := m.resolveName(ctx, p.GID); name != "" {
				ev.Name = &name
			}
		}
		if m.rep != nil {
			m.rep.Report(ev)
		}
		lg.Debug("engine notification", "method", n.Method, "gid", p.GID, "task_id", id)
	}
}

// resolveName asks the engine for a human-friendly name for gid.
func (m *Aria2Manager) resolveName(ctx context.Context, gid string) string {
	st, err := m.cl.TellStatus(ctx, gid)
	if err == nil {
		if name := deriveName(st); name != "" {
			return name
		}
	}
	// tellStatus omits files for some finished transfers; getFiles is the
	// authoritative list.
	files, err := m.cl.GetFiles(ctx, gid)
	if err != nil || len(files) == 0 || files[0].Path == "" {
		return ""
	}
	base := filepath.Base(files[0].Path)
	if base == "." {
		return ""
	}
	return base
}
