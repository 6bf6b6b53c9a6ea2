package manager

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/burncloud/fetchd/internal/aria2"
	"github.com/burncloud/fetchd/internal/data"
	"github.com/burncloud/fetchd/internal/downloader"
	"github.com/burncloud/fetchd/internal/platform"
)

// AddDownload classifies the URL, deduplicates against tasks the engine
// already tracks, and submits by kind. Torrent and metalink sources are
// fetched over HTTP and handed to the engine as raw payloads.
func (m *Aria2Manager) AddDownload(ctx context.Context, rawURL, targetPath string) (data.TaskID, error) {
	kind, err := data.DetectKind(rawURL)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(targetPath) == "" {
		return "", data.ErrTargetPath
	}

	// Best-effort: a racing submission of the same URL may still slip
	// through; the engine tolerates the duplicate.
	if id, ok := m.findExisting(ctx, rawURL); ok {
		return id, nil
	}

	dir, out := splitTarget(targetPath)
	if err := platform.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("%w: %v", data.ErrTargetPath, err)
	}
	opts := &aria2.Options{Dir: dir, Out: out}

	var gid string
	switch kind {
	case data.KindHTTP, data.KindMagnet:
		gid, err = m.cl.AddURI(ctx, []string{rawURL}, opts)
	case data.KindTorrent:
		var body []byte
		if body, err = m.fetchBody(ctx, rawURL); err == nil {
			gid, err = m.cl.AddTorrent(ctx, body, opts)
		}
	case data.KindMetalink:
		var body []byte
		if body, err = m.fetchBody(ctx, rawURL); err == nil {
			gid, err = m.cl.AddMetalink(ctx, body, opts)
		}
	}
	if err != nil {
		return "", err
	}

	b := &binding{
		id:        data.NewTaskID(),
		gid:       gid,
		url:       rawURL,
		dir:       dir,
		filename:  out,
		createdAt: time.Now(),
	}
	m.bind(b)
	m.log.Info("download added", "task_id", b.id, "gid", gid, "kind", kind)
	if m.rep != nil {
		m.rep.Report(downloader.Event{TaskID: b.id, GID: gid, Type: downloader.EventStart})
		if name := nameFromSource(rawURL); name != "" {
			m.rep.Report(downloader.Event{TaskID: b.id, GID: gid, Type: downloader.EventMeta, Name: &name})
		}
	}
	return b.id, nil
}

// splitTarget derives the engine dir/out options from the requested
// target path. A trailing separator means "directory only".
func splitTarget(targetPath string) (dir, out string) {
	if strings.HasSuffix(targetPath, "/") || strings.HasSuffix(targetPath, string(filepath.Separator)) {
		return filepath.Clean(targetPath), ""
	}
	return filepath.Dir(targetPath), filepath.Base(targetPath)
}

// fetchBody downloads a torrent/metalink descriptor for submission.
func (m *Aria2Manager) fetchBody(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrInvalidSource, err)
	}
	resp, err := m.fetch.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: http %d", rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// findExisting scans the engine's task lists for a bound task already
// downloading rawURL. Scan errors are swallowed; dedup is advisory.
func (m *Aria2Manager) findExisting(ctx context.Context, rawURL string) (data.TaskID, bool) {
	for _, st := range m.collectStatuses(ctx, true) {
		for _, f := range st.Files {
			for _, u := range f.URIs {
				if u.URI != rawURL {
					continue
				}
				if id, ok := m.taskForGID(st.GID); ok {
					return id, true
				}
			}
		}
	}
	return "", false
}

// collectStatuses unions active, waiting and the first thousand stopped
// tasks. With ignoreErrors the partial union is returned even when
// individual listing calls fail.
func (m *Aria2Manager) collectStatuses(ctx context.Context, ignoreErrors bool) []aria2.Status {
	var out []aria2.Status
	if active, err := m.cl.TellActive(ctx); err == nil {
		out = append(out, active...)
	} else if !ignoreErrors {
		return nil
	}
	if waiting, err := m.cl.TellWaiting(ctx, 0, stoppedScanLimit); err == nil {
		out = append(out, waiting...)
	} else if !ignoreErrors {
		return nil
	}
	if stopped, err := m.cl.TellStopped(ctx, 0, stoppedScanLimit); err == nil {
		out = append(out, stopped...)
	} else if !ignoreErrors {
		return nil
	}
	return out
}

// PauseDownload pauses the engine task bound to id.
func (m *Aria2Manager) PauseDownload(ctx context.Context, id data.TaskID) error {
	b, ok := m.lookup(id)
	if !ok {
		return downloader.ErrTaskNotFound
	}
	if err := m.cl.Pause(ctx, b.gid); err != nil {
		return err
	}
	if m.rep != nil {
		m.rep.Report(downloader.Event{TaskID: id, GID: b.gid, Type: downloader.EventPaused})
	}
	return nil
}

// ResumeDownload unpauses the engine task bound to id.
func (m *Aria2Manager) ResumeDownload(ctx context.Context, id data.TaskID) error {
	b, ok := m.lookup(id)
	if !ok {
		return downloader.ErrTaskNotFound
	}
	return m.cl.Unpause(ctx, b.gid)
}

// CancelDownload drops the binding, then removes the engine task. The
// binding is not restored when the removal fails; cancel is a
// best-effort invalidation.
func (m *Aria2Manager) CancelDownload(ctx context.Context, id data.TaskID) error {
	b := m.unbind(id)
	if b == nil {
		return downloader.ErrTaskNotFound
	}
	if err := m.cl.Remove(ctx, b.gid); err != nil {
		return err
	}
	m.log.Info("download cancelled", "task_id", id, "gid", b.gid)
	if m.rep != nil {
		m.rep.Report(downloader.Event{TaskID: id, GID: b.gid, Type: downloader.EventCancelled})
	}
	return nil
}

// GetTask derives a task snapshot from live engine state.
func (m *Aria2Manager) GetTask(ctx context.Context, id data.TaskID) (*data.TaskSnapshot, error) {
	b, ok := m.lookup(id)
	if !ok {
		return nil, downloader.ErrTaskNotFound
	}
	st, err := m.cl.TellStatus(ctx, b.gid)
	if err != nil {
		return nil, err
	}
	return snapshotFrom(b, st), nil
}

// GetProgress derives a progress snapshot from live engine state.
func (m *Aria2Manager) GetProgress(ctx context.Context, id data.TaskID) (*data.ProgressSnapshot, error) {
	b, ok := m.lookup(id)
	if !ok {
		return nil, downloader.ErrTaskNotFound
	}
	st, err := m.cl.TellStatus(ctx, b.gid)
	if err != nil {
		return nil, err
	}
	return progressFrom(st), nil
}

// ListTasks snapshots every bound task the engine still reports. Engine
// tasks with no binding (restored from the engine's own session file,
// or left over from a previous run) are skipped.
func (m *Aria2Manager) ListTasks(ctx context.Context) ([]data.TaskSnapshot, error) {
	active, err := m.cl.TellActive(ctx)
	if err != nil {
		return nil, err
	}
	waiting, err := m.cl.TellWaiting(ctx, 0, stoppedScanLimit)
	if err != nil {
		return nil, err
	}
	stopped, err := m.cl.TellStopped(ctx, 0, stoppedScanLimit)
	if err != nil {
		return nil, err
	}

	var out []data.TaskSnapshot
	for _, group := range [][]aria2.Status{active, waiting, stopped} {
		for i := range group {
			st := &group[i]
			id, ok := m.taskForGID(st.GID)
			if !ok {
				continue
			}
			if b, ok := m.lookup(id); ok {
				out = append(out, *snapshotFrom(b, st))
			}
		}
	}
	return out, nil
}

// ActiveDownloadCount returns the engine's active transfer count.
func (m *Aria2Manager) ActiveDownloadCount(ctx context.Context) (int, error) {
	active, err := m.cl.TellActive(ctx)
	if err != nil {
		return 0, err
	}
	return len(active), nil
}
