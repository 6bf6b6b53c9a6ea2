package aria2

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResp(t *testing.T, result any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	rb, _ := json.Marshal(rpcResp{Jsonrpc: "2.0", ID: "x", Result: raw})
	return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(rb)), Header: make(http.Header)}
}

func decodeReq(t *testing.T, r *http.Request) rpcReq {
	t.Helper()
	b, _ := io.ReadAll(r.Body)
	var req rpcReq
	if err := json.Unmarshal(b, &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return req
}

func newTestClient(t *testing.T, secret string, rt http.RoundTripper) *Client {
	t.Helper()
	c, err := NewClient("http://example.com/jsonrpc", secret)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	c.HTTP().Transport = rt
	return c
}

func TestNewClientFromEnv(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		secret      string
		timeoutMS   string
		wantURL     string
		wantSecret  string
		wantTimeout time.Duration
	}{
		{
			name:        "defaults",
			wantURL:     "http://localhost:6800/jsonrpc",
			wantSecret:  "burncloud",
			wantTimeout: 30 * time.Second,
		},
		{
			name:        "env values",
			url:         "http://localhost:6801/jsonrpc",
			secret:      "abc123",
			timeoutMS:   "1500",
			wantURL:     "http://localhost:6801/jsonrpc",
			wantSecret:  "abc123",
			wantTimeout: 1500 * time.Millisecond,
		},
		{
			name:        "invalid url fallback",
			url:         "::bad::url",
			wantURL:     "http://localhost:6800/jsonrpc",
			wantSecret:  "burncloud",
			wantTimeout: 30 * time.Second,
		},
		{
			name:        "invalid timeout ignored",
			timeoutMS:   "not-a-number",
			wantURL:     "http://localhost:6800/jsonrpc",
			wantSecret:  "burncloud",
			wantTimeout: 30 * time.Second,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("FETCHD_RPC_URL", tc.url)
			t.Setenv("FETCHD_RPC_SECRET", tc.secret)
			t.Setenv("FETCHD_RPC_TIMEOUT_MS", tc.timeoutMS)

			c, err := NewClientFromEnv()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := c.BaseURL().String(); got != tc.wantURL {
				t.Fatalf("url: got %q want %q", got, tc.wantURL)
			}
			if c.Secret() != tc.wantSecret {
				t.Fatalf("secret: got %q want %q", c.Secret(), tc.wantSecret)
			}
			if c.HTTP().Timeout != tc.wantTimeout {
				t.Fatalf("timeout: got %v want %v", c.HTTP().Timeout, tc.wantTimeout)
			}
		})
	}
}

func TestSetPort(t *testing.T) {
	c := newTestClient(t, "", nil)
	c.SetPort(6801)
	if got := c.BaseURL().String(); got != "http://example.com:6801/jsonrpc" {
		t.Fatalf("url = %q", got)
	}
}

func TestAddURI(t *testing.T) {
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		req := decodeReq(t, r)
		if req.Jsonrpc != "2.0" {
			t.Fatalf("jsonrpc = %q", req.Jsonrpc)
		}
		if req.ID == "" {
			t.Fatalf("request id empty")
		}
		if req.Method != "aria2.addUri" {
			t.Fatalf("method = %s", req.Method)
		}
		if len(req.Params) != 3 {
			t.Fatalf("params len = %d", len(req.Params))
		}
		if tok, _ := req.Params[0].(string); tok != "token:secret" {
			t.Fatalf("token param = %v", req.Params[0])
		}
		if _, ok := req.Params[1].([]interface{}); !ok {
			t.Fatalf("expected uris slice, got %#v", req.Params[1])
		}
		opts, ok := req.Params[2].(map[string]interface{})
		if !ok || opts["dir"] != "/tmp" || opts["out"] != "a.bin" {
			t.Fatalf("opts = %#v", req.Params[2])
		}
		return jsonResp(t, "gid123"), nil
	})
	c := newTestClient(t, "secret", rt)
	gid, err := c.AddURI(context.Background(), []string{"http://x/a.bin"}, &Options{Dir: "/tmp", Out: "a.bin"})
	if err != nil {
		t.Fatalf("AddURI: %v", err)
	}
	if gid != "gid123" {
		t.Fatalf("gid = %s", gid)
	}
}

func TestAddURIWithoutSecretOmitsToken(t *testing.T) {
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		req := decodeReq(t, r)
		if len(req.Params) != 1 {
			t.Fatalf("params len = %d", len(req.Params))
		}
		if _, ok := req.Params[0].([]interface{}); !ok {
			t.Fatalf("first param should be uris, got %#v", req.Params[0])
		}
		return jsonResp(t, "g"), nil
	})
	c := newTestClient(t, "", rt)
	if _, err := c.AddURI(context.Background(), []string{"http://x"}, nil); err != nil {
		t.Fatalf("AddURI: %v", err)
	}
}

func TestAddTorrentEncodesBase64(t *testing.T) {
	payload := []byte{0x64, 0x38, 0x3a, 0x00, 0xff}
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		req := decodeReq(t, r)
		if req.Method != "aria2.addTorrent" {
			t.Fatalf("method = %s", req.Method)
		}
		enc, _ := req.Params[1].(string)
		if enc != base64.StdEncoding.EncodeToString(payload) {
			t.Fatalf("torrent param = %q", enc)
		}
		return jsonResp(t, "tg1"), nil
	})
	c := newTestClient(t, "secret", rt)
	gid, err := c.AddTorrent(context.Background(), payload, nil)
	if err != nil {
		t.Fatalf("AddTorrent: %v", err)
	}
	if gid != "tg1" {
		t.Fatalf("gid = %s", gid)
	}
}

func TestAddMetalinkReturnsFirstGID(t *testing.T) {
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		req := decodeReq(t, r)
		if req.Method != "aria2.addMetalink" {
			t.Fatalf("method = %s", req.Method)
		}
		return jsonResp(t, []string{"m1", "m2"}), nil
	})
	c := newTestClient(t, "secret", rt)
	gid, err := c.AddMetalink(context.Background(), []byte("<metalink/>"), nil)
	if err != nil {
		t.Fatalf("AddMetalink: %v", err)
	}
	if gid != "m1" {
		t.Fatalf("gid = %s", gid)
	}
}

func TestControlMethods(t *testing.T) {
	methods := []struct {
		name      string
		rpcMethod string
		call      func(context.Context, *Client) error
	}{
		{"Pause", "aria2.pause", func(ctx context.Context, c *Client) error { return c.Pause(ctx, "g1") }},
		{"Unpause", "aria2.unpause", func(ctx context.Context, c *Client) error { return c.Unpause(ctx, "g1") }},
		{"Remove", "aria2.remove", func(ctx context.Context, c *Client) error { return c.Remove(ctx, "g1") }},
	}
	for _, m := range methods {
		t.Run(m.name, func(t *testing.T) {
			rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
				req := decodeReq(t, r)
				if req.Method != m.rpcMethod {
					t.Fatalf("method = %s", req.Method)
				}
				if gid, _ := req.Params[1].(string); gid != "g1" {
					t.Fatalf("gid param = %v", req.Params[1])
				}
				return jsonResp(t, "ok"), nil
			})
			c := newTestClient(t, "secret", rt)
			if err := m.call(context.Background(), c); err != nil {
				t.Fatalf("%s: %v", m.name, err)
			}
		})
	}
}

func TestTellStatus(t *testing.T) {
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		req := decodeReq(t, r)
		if req.Method != "aria2.tellStatus" {
			t.Fatalf("method = %s", req.Method)
		}
		return jsonResp(t, map[string]any{
			"gid":             "g1",
			"status":          "active",
			"totalLength":     "1024",
			"completedLength": "512",
			"downloadSpeed":   "100",
			"files": []map[string]any{
				{"path": "/dl/a.bin", "uris": []map[string]any{{"uri": "http://x/a.bin", "status": "used"}}},
			},
		}), nil
	})
	c := newTestClient(t, "secret", rt)
	st, err := c.TellStatus(context.Background(), "g1")
	if err != nil {
		t.Fatalf("TellStatus: %v", err)
	}
	if st.GID != "g1" || st.Status != "active" || st.TotalLength != "1024" {
		t.Fatalf("status = %+v", st)
	}
	if len(st.Files) != 1 || st.Files[0].URIs[0].URI != "http://x/a.bin" {
		t.Fatalf("files = %+v", st.Files)
	}
}

func TestTellWaitingSendsWindow(t *testing.T) {
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		req := decodeReq(t, r)
		if req.Method != "aria2.tellWaiting" {
			t.Fatalf("method = %s", req.Method)
		}
		if off, _ := req.Params[1].(float64); off != 0 {
			t.Fatalf("offset = %v", req.Params[1])
		}
		if num, _ := req.Params[2].(float64); num != 1000 {
			t.Fatalf("num = %v", req.Params[2])
		}
		return jsonResp(t, []map[string]any{{"gid": "w1", "status": "waiting"}}), nil
	})
	c := newTestClient(t, "secret", rt)
	out, err := c.TellWaiting(context.Background(), 0, 1000)
	if err != nil {
		t.Fatalf("TellWaiting: %v", err)
	}
	if len(out) != 1 || out[0].GID != "w1" {
		t.Fatalf("out = %+v", out)
	}
}

func TestGetGlobalStat(t *testing.T) {
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		req := decodeReq(t, r)
		if req.Method != "aria2.getGlobalStat" {
			t.Fatalf("method = %s", req.Method)
		}
		return jsonResp(t, map[string]string{
			"downloadSpeed": "2048",
			"uploadSpeed":   "0",
			"numActive":     "2",
			"numWaiting":    "1",
			"numStopped":    "5",
		}), nil
	})
	c := newTestClient(t, "secret", rt)
	gs, err := c.GetGlobalStat(context.Background())
	if err != nil {
		t.Fatalf("GetGlobalStat: %v", err)
	}
	if gs.NumActive != "2" || gs.NumWaiting != "1" || gs.DownloadSpeed != "2048" {
		t.Fatalf("stat = %+v", gs)
	}
}

func TestRPCErrorSurfaced(t *testing.T) {
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		rb, _ := json.Marshal(rpcResp{Jsonrpc: "2.0", ID: "x", Error: &RPCError{Code: 1, Message: "GID not found"}})
		return &http.Response{StatusCode: 200, Body: io.NopCloser(bytes.NewReader(rb)), Header: make(http.Header)}, nil
	})
	c := newTestClient(t, "secret", rt)
	_, err := c.TellStatus(context.Background(), "gone")
	if err == nil {
		t.Fatalf("expected error")
	}
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %T %v", err, err)
	}
	if rpcErr.Code != 1 || rpcErr.Message != "GID not found" {
		t.Fatalf("rpc err = %+v", rpcErr)
	}
}

func TestHTTPErrorSurfaced(t *testing.T) {
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: 502, Body: io.NopCloser(bytes.NewReader([]byte("bad gateway"))), Header: make(http.Header)}, nil
	})
	c := newTestClient(t, "", rt)
	_, err := c.GetGlobalStat(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
}
