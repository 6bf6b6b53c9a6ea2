package manager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/burncloud/fetchd/internal/aria2"
	"github.com/burncloud/fetchd/internal/data"
	"github.com/burncloud/fetchd/internal/downloader"
)

// wireReq mirrors the JSON-RPC request shape for assertions.
type wireReq struct {
	Jsonrpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	ID      string        `json:"id"`
	Params  []interface{} `json:"params"`
}

type wireErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// fakeEngine scripts JSON-RPC responses per method and records calls.
type fakeEngine struct {
	mu       sync.Mutex
	t        *testing.T
	handlers map[string]func(req wireReq) (any, *wireErr)
	calls    []string
}

func newFakeEngine(t *testing.T) *fakeEngine {
	fe := &fakeEngine{t: t, handlers: map[string]func(wireReq) (any, *wireErr){}}
	// Empty listings unless a test overrides them.
	for _, m := range []string{"aria2.tellActive", "aria2.tellWaiting", "aria2.tellStopped"} {
		fe.handlers[m] = func(wireReq) (any, *wireErr) { return []any{}, nil }
	}
	return fe
}

func (f *fakeEngine) on(method string, h func(req wireReq) (any, *wireErr)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeEngine) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) RoundTrip(r *http.Request) (*http.Response, error) {
	b, _ := io.ReadAll(r.Body)
	var req wireReq
	if err := json.Unmarshal(b, &req); err != nil {
		f.t.Fatalf("decode request: %v", err)
	}
	f.mu.Lock()
	f.calls = append(f.calls, req.Method)
	h, ok := f.handlers[req.Method]
	f.mu.Unlock()
	if !ok {
		f.t.Fatalf("unexpected rpc method %s", req.Method)
	}
	result, rpcErr := h(req)
	payload := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		payload["error"] = rpcErr
	} else {
		payload["result"] = result
	}
	rb, _ := json.Marshal(payload)
	return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(rb)), Header: make(http.Header)}, nil
}

func newTestManager(t *testing.T, fe *fakeEngine) *Aria2Manager {
	t.Helper()
	cl, err := aria2.NewClient("http://example.com/jsonrpc", "secret")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	cl.HTTP().Transport = fe
	return Attach(cl)
}

// addHTTPDownload wires a default addUri handler and submits one task.
func addHTTPDownload(t *testing.T, m *Aria2Manager, fe *fakeEngine, url, target, gid string) data.TaskID {
	t.Helper()
	fe.on("aria2.addUri", func(req wireReq) (any, *wireErr) { return gid, nil })
	id, err := m.AddDownload(context.Background(), url, target)
	if err != nil {
		t.Fatalf("AddDownload: %v", err)
	}
	return id
}

func TestAddDownloadHTTP(t *testing.T) {
	fe := newFakeEngine(t)
	target := filepath.Join(t.TempDir(), "out", "a.zip")
	fe.on("aria2.addUri", func(req wireReq) (any, *wireErr) {
		if tok, _ := req.Params[0].(string); tok != "token:secret" {
			t.Fatalf("token = %v", req.Params[0])
		}
		uris, _ := req.Params[1].([]interface{})
		if len(uris) != 1 || uris[0] != "https://example.com/a.zip" {
			t.Fatalf("uris = %v", uris)
		}
		opts, _ := req.Params[2].(map[string]interface{})
		if opts["dir"] != filepath.Dir(target) || opts["out"] != "a.zip" {
			t.Fatalf("opts = %v", opts)
		}
		return "gid-http", nil
	})
	m := newTestManager(t, fe)

	id, err := m.AddDownload(context.Background(), "https://example.com/a.zip", target)
	if err != nil {
		t.Fatalf("AddDownload: %v", err)
	}
	if id == "" {
		t.Fatalf("empty task id")
	}
	if got, ok := m.taskForGID("gid-http"); !ok || got != id {
		t.Fatalf("binding missing: %v %v", got, ok)
	}
}

func TestAddDownloadMagnetUsesAddURI(t *testing.T) {
	fe := newFakeEngine(t)
	m := newTestManager(t, fe)
	addHTTPDownload(t, m, fe, "magnet:?xt=urn:btih:XYZ", filepath.Join(t.TempDir(), "m"), "gid-magnet")
	for _, c := range fe.callList() {
		if c == "aria2.addTorrent" {
			t.Fatalf("magnet went through addTorrent")
		}
	}
}

func TestAddDownloadTorrentFetchesBody(t *testing.T) {
	torrentBody := []byte("d8:announce0:e")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(torrentBody)
	}))
	defer srv.Close()

	fe := newFakeEngine(t)
	fe.on("aria2.addTorrent", func(req wireReq) (any, *wireErr) {
		enc, _ := req.Params[1].(string)
		if enc == "" {
			t.Fatalf("missing torrent payload")
		}
		return "gid-torrent", nil
	})
	m := newTestManager(t, fe)
	m.fetch = srv.Client()

	id, err := m.AddDownload(context.Background(), srv.URL+"/file.torrent", filepath.Join(t.TempDir(), "t"))
	if err != nil {
		t.Fatalf("AddDownload: %v", err)
	}
	if _, ok := m.lookup(id); !ok {
		t.Fatalf("no binding")
	}
}

func TestAddDownloadMetalink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<metalink/>"))
	}))
	defer srv.Close()

	fe := newFakeEngine(t)
	fe.on("aria2.addMetalink", func(req wireReq) (any, *wireErr) {
		return []string{"gid-ml-1", "gid-ml-2"}, nil
	})
	m := newTestManager(t, fe)
	m.fetch = srv.Client()

	id, err := m.AddDownload(context.Background(), srv.URL+"/x.meta4", filepath.Join(t.TempDir(), "x"))
	if err != nil {
		t.Fatalf("AddDownload: %v", err)
	}
	b, ok := m.lookup(id)
	if !ok || b.gid != "gid-ml-1" {
		t.Fatalf("binding = %+v ok=%v", b, ok)
	}
}

func TestAddDownloadUnsupportedType(t *testing.T) {
	m := newTestManager(t, newFakeEngine(t))
	_, err := m.AddDownload(context.Background(), "file:///local", "/d/l")
	if !errors.Is(err, data.ErrUnsupportedType) {
		t.Fatalf("err = %v", err)
	}
}

func TestAddDownloadEmptyTarget(t *testing.T) {
	m := newTestManager(t, newFakeEngine(t))
	_, err := m.AddDownload(context.Background(), "https://x/a.zip", "  ")
	if !errors.Is(err, data.ErrTargetPath) {
		t.Fatalf("err = %v", err)
	}
}

func TestAddDownloadDeduplicates(t *testing.T) {
	const url = "https://example.com/a.zip"
	fe := newFakeEngine(t)
	m := newTestManager(t, fe)
	target := filepath.Join(t.TempDir(), "a.zip")
	first := addHTTPDownload(t, m, fe, url, target, "gid-1")

	// The engine now reports the task with its URI; a repeat submission
	// must return the same task id without another addUri.
	fe.on("aria2.tellActive", func(wireReq) (any, *wireErr) {
		return []map[string]any{{
			"gid":    "gid-1",
			"status": "active",
			"files":  []map[string]any{{"path": target, "uris": []map[string]any{{"uri": url}}}},
		}}, nil
	})
	fe.on("aria2.addUri", func(wireReq) (any, *wireErr) {
		t.Fatalf("duplicate submission reached the engine")
		return nil, nil
	})

	second, err := m.AddDownload(context.Background(), url, target)
	if err != nil {
		t.Fatalf("AddDownload: %v", err)
	}
	if second != first {
		t.Fatalf("dedup returned %s, want %s", second, first)
	}
}

func TestAddDownloadDedupIgnoresUnboundGID(t *testing.T) {
	const url = "https://example.com/a.zip"
	fe := newFakeEngine(t)
	// Engine knows the URL under a gid this facade never bound (e.g.
	// restored from the engine's session file).
	fe.on("aria2.tellActive", func(wireReq) (any, *wireErr) {
		return []map[string]any{{
			"gid":   "foreign-gid",
			"files": []map[string]any{{"uris": []map[string]any{{"uri": url}}}},
		}}, nil
	})
	m := newTestManager(t, fe)
	id := addHTTPDownload(t, m, fe, url, filepath.Join(t.TempDir(), "a.zip"), "gid-new")
	if b, _ := m.lookup(id); b.gid != "gid-new" {
		t.Fatalf("bound gid = %q", b.gid)
	}
}

func TestPauseResume(t *testing.T) {
	fe := newFakeEngine(t)
	m := newTestManager(t, fe)
	id := addHTTPDownload(t, m, fe, "https://x/a", filepath.Join(t.TempDir(), "a"), "gid-1")

	var paused, unpaused bool
	fe.on("aria2.pause", func(req wireReq) (any, *wireErr) {
		if gid, _ := req.Params[1].(string); gid != "gid-1" {
			t.Fatalf("pause gid = %v", req.Params[1])
		}
		paused = true
		return "gid-1", nil
	})
	fe.on("aria2.unpause", func(req wireReq) (any, *wireErr) {
		unpaused = true
		return "gid-1", nil
	})

	if err := m.PauseDownload(context.Background(), id); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := m.ResumeDownload(context.Background(), id); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !paused || !unpaused {
		t.Fatalf("paused=%v unpaused=%v", paused, unpaused)
	}
}

func TestPauseUnknownTask(t *testing.T) {
	m := newTestManager(t, newFakeEngine(t))
	if err := m.PauseDownload(context.Background(), data.NewTaskID()); !errors.Is(err, downloader.ErrTaskNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestCancelRemovesBinding(t *testing.T) {
	fe := newFakeEngine(t)
	m := newTestManager(t, fe)
	id := addHTTPDownload(t, m, fe, "https://x/a", filepath.Join(t.TempDir(), "a"), "gid-1")

	fe.on("aria2.remove", func(req wireReq) (any, *wireErr) { return "gid-1", nil })
	if err := m.CancelDownload(context.Background(), id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, ok := m.lookup(id); ok {
		t.Fatalf("binding survived cancel")
	}
	// A second cancel of the same id reports the task as unknown.
	if err := m.CancelDownload(context.Background(), id); !errors.Is(err, downloader.ErrTaskNotFound) {
		t.Fatalf("second cancel err = %v", err)
	}
}

func TestCancelDropsBindingEvenWhenRemoveFails(t *testing.T) {
	fe := newFakeEngine(t)
	m := newTestManager(t, fe)
	id := addHTTPDownload(t, m, fe, "https://x/a", filepath.Join(t.TempDir(), "a"), "gid-1")

	fe.on("aria2.remove", func(req wireReq) (any, *wireErr) {
		return nil, &wireErr{Code: 1, Message: "GID gid-1 is not found"}
	})
	err := m.CancelDownload(context.Background(), id)
	if err == nil {
		t.Fatalf("expected remove error")
	}
	if _, ok := m.lookup(id); ok {
		t.Fatalf("binding re-inserted after failed remove")
	}
}

func TestGetTaskSnapshot(t *testing.T) {
	fe := newFakeEngine(t)
	m := newTestManager(t, fe)
	target := filepath.Join(t.TempDir(), "a.zip")
	id := addHTTPDownload(t, m, fe, "https://x/a.zip", target, "gid-1")

	fe.on("aria2.tellStatus", func(req wireReq) (any, *wireErr) {
		return map[string]any{"gid": "gid-1", "status": "active"}, nil
	})
	snap, err := m.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if snap.TaskID != id || snap.Status != data.TaskDownloading {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.URL != "https://x/a.zip" || snap.Filename != "a.zip" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.CreatedAt.IsZero() {
		t.Fatalf("createdAt unset")
	}
}

func TestGetTaskSurfacesRPCErrorNotNotFound(t *testing.T) {
	fe := newFakeEngine(t)
	m := newTestManager(t, fe)
	id := addHTTPDownload(t, m, fe, "https://x/a", filepath.Join(t.TempDir(), "a"), "gid-stale")

	// Engine restarted: the handle is gone, but the binding remains. The
	// caller sees the RPC error, never TaskNotFound.
	fe.on("aria2.tellStatus", func(req wireReq) (any, *wireErr) {
		return nil, &wireErr{Code: 1, Message: "GID gid-stale is not found"}
	})
	_, err := m.GetTask(context.Background(), id)
	var rpcErr *aria2.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v", err)
	}
	if errors.Is(err, downloader.ErrTaskNotFound) {
		t.Fatalf("bound id reported as TaskNotFound")
	}
}

func TestGetProgress(t *testing.T) {
	fe := newFakeEngine(t)
	m := newTestManager(t, fe)
	id := addHTTPDownload(t, m, fe, "https://x/a", filepath.Join(t.TempDir(), "a"), "gid-1")

	fe.on("aria2.tellStatus", func(req wireReq) (any, *wireErr) {
		return map[string]any{
			"gid":             "gid-1",
			"status":          "active",
			"totalLength":     "1024",
			"completedLength": "256",
			"downloadSpeed":   "128",
		}, nil
	})
	p, err := m.GetProgress(context.Background(), id)
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if p.DownloadedBytes != 256 || p.TotalBytes != 1024 || p.SpeedBPS != 128 {
		t.Fatalf("progress = %+v", p)
	}
	if p.ETASeconds == nil || *p.ETASeconds != 6 {
		t.Fatalf("eta = %v", p.ETASeconds)
	}
}

func TestListTasksSkipsUnbound(t *testing.T) {
	fe := newFakeEngine(t)
	m := newTestManager(t, fe)
	id := addHTTPDownload(t, m, fe, "https://x/a", filepath.Join(t.TempDir(), "a"), "gid-1")

	fe.on("aria2.tellActive", func(wireReq) (any, *wireErr) {
		return []map[string]any{
			{"gid": "gid-1", "status": "active"},
			{"gid": "foreign", "status": "active"},
		}, nil
	})
	fe.on("aria2.tellStopped", func(wireReq) (any, *wireErr) {
		return []map[string]any{{"gid": "old-foreign", "status": "complete"}}, nil
	})

	tasks, err := m.ListTasks(context.Background())
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].TaskID != id {
		t.Fatalf("tasks = %+v", tasks)
	}
}

func TestListTasksPropagatesEngineError(t *testing.T) {
	fe := newFakeEngine(t)
	fe.on("aria2.tellActive", func(wireReq) (any, *wireErr) {
		return nil, &wireErr{Code: 1, Message: "boom"}
	})
	m := newTestManager(t, fe)
	if _, err := m.ListTasks(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestActiveDownloadCount(t *testing.T) {
	fe := newFakeEngine(t)
	fe.on("aria2.tellActive", func(wireReq) (any, *wireErr) {
		return []map[string]any{{"gid": "a"}, {"gid": "b"}}, nil
	})
	m := newTestManager(t, fe)
	n, err := m.ActiveDownloadCount(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("count = %d err = %v", n, err)
	}
}

func TestAddDownloadEmitsEvents(t *testing.T) {
	fe := newFakeEngine(t)
	m := newTestManager(t, fe)
	events := make(chan downloader.Event, 4)
	m.SetReporter(downloader.NewChanReporter(events))

	addHTTPDownload(t, m, fe, "https://x/files/movie.mkv", filepath.Join(t.TempDir(), "movie.mkv"), "gid-1")
	ev := <-events
	if ev.Type != downloader.EventStart || ev.GID != "gid-1" {
		t.Fatalf("event = %+v", ev)
	}
	meta := <-events
	if meta.Type != downloader.EventMeta || meta.Name == nil || *meta.Name != "movie.mkv" {
		t.Fatalf("meta event = %+v", meta)
	}
}

func TestHandleNotificationRelaysEvents(t *testing.T) {
	fe := newFakeEngine(t)
	m := newTestManager(t, fe)
	id := addHTTPDownload(t, m, fe, "https://x/a", filepath.Join(t.TempDir(), "a"), "g1")
	events := make(chan downloader.Event, 2)
	m.SetReporter(downloader.NewChanReporter(events))
	fe.on("aria2.tellStatus", func(wireReq) (any, *wireErr) {
		return map[string]any{"gid": "g1", "files": []map[string]any{{"path": "/dl/a"}}}, nil
	})

	m.handleNotification(context.Background(), aria2.Notification{
		Method: aria2.NotifyComplete,
		Params: []aria2.NotificationEvent{{GID: "g1"}},
	}, m.log)
	ev := <-events
	if ev.Type != downloader.EventComplete || ev.TaskID != id {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Name == nil || *ev.Name != "a" {
		t.Fatalf("name = %v", ev.Name)
	}
	// Completion must not unbind; snapshots stay resolvable.
	if _, ok := m.lookup(id); !ok {
		t.Fatalf("binding dropped on completion")
	}

	// Unknown gids are ignored.
	m.handleNotification(context.Background(), aria2.Notification{
		Method: aria2.NotifyError,
		Params: []aria2.NotificationEvent{{GID: "unknown"}},
	}, m.log)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestSplitTarget(t *testing.T) {
	dir, out := splitTarget("/dl/a.zip")
	if dir != "/dl" || out != "a.zip" {
		t.Fatalf("got %q %q", dir, out)
	}
	dir, out = splitTarget("/dl/drop/")
	if dir != "/dl/drop" || out != "" {
		t.Fatalf("got %q %q", dir, out)
	}
}

func TestSplitTargetNested(t *testing.T) {
	dir, out := splitTarget(filepath.Join(t.TempDir(), "nested", "file.bin"))
	if out != "file.bin" || dir == "" {
		t.Fatalf("got %q %q", dir, out)
	}
}
