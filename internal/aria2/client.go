// Package aria2 implements a JSON-RPC 2.0 client for the aria2 control
// plane, plus the websocket notification stream.
package aria2

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/burncloud/fetchd/internal/metrics"
)

// Defaults shared with the daemon configuration. The secret is knowingly
// insecure; production deployments must override it.
const (
	DefaultRPCURL = "http://localhost:6800/jsonrpc"
	DefaultSecret = "burncloud"
)

// Client is a thin aria2 JSON-RPC client. Calls carry a fresh UUID request
// id and, when a secret is configured, the "token:<secret>" parameter aria2
// expects first.
type Client struct {
	baseURL *url.URL
	secret  string
	http    *http.Client
}

// NewClient builds a client for the given endpoint URL. secret may be
// empty for an unauthenticated engine.
func NewClient(rawURL, secret string) (*Client, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse rpc url: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		http:    &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// NewClientFromEnv builds a client from FETCHD_RPC_URL, FETCHD_RPC_SECRET
// and FETCHD_RPC_TIMEOUT_MS, falling back to the package defaults.
func NewClientFromEnv() (*Client, error) {
	rawURL := os.Getenv("FETCHD_RPC_URL")
	if rawURL == "" {
		rawURL = DefaultRPCURL
	}
	secret := os.Getenv("FETCHD_RPC_SECRET")
	if secret == "" {
		secret = DefaultSecret
	}
	c, err := NewClient(rawURL, secret)
	if err != nil {
		c, err = NewClient(DefaultRPCURL, secret)
		if err != nil {
			return nil, err
		}
	}
	if v := os.Getenv("FETCHD_RPC_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.http.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	return c, nil
}

// BaseURL returns the current RPC endpoint.
func (c *Client) BaseURL() *url.URL { return c.baseURL }

// Secret returns the configured RPC secret.
func (c *Client) Secret() string { return c.secret }

// HTTP exposes the underlying transport, mainly for tests.
func (c *Client) HTTP() *http.Client { return c.http }

// SetPort rewrites the endpoint URL to target port. Used when port
// arbitration picked a different port than the endpoint named.
func (c *Client) SetPort(port int) {
	u := *c.baseURL
	u.Host = fmt.Sprintf("%s:%d", u.Hostname(), port)
	c.baseURL = &u
}

// --- JSON-RPC wire types ---

type rpcReq struct {
	Jsonrpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	ID      string        `json:"id"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcResp struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the engine.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("aria2 rpc error %d: %s", e.Code, e.Message)
}

// tokenParam returns the authentication prefix parameter, if any.
func (c *Client) tokenParam() []interface{} {
	if c.secret != "" {
		return []interface{}{"token:" + c.secret}
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	timer := prometheus.NewTimer(metrics.RPCLatency.WithLabelValues(method))
	defer timer.ObserveDuration()

	body, err := json.Marshal(rpcReq{Jsonrpc: "2.0", Method: method, ID: uuid.NewString(), Params: params})
	if err != nil {
		return nil, fmt.Errorf("aria2 rpc encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RPCErrors.WithLabelValues(method).Inc()
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RPCErrors.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("aria2 http %d: %s", resp.StatusCode, string(b))
	}

	var rr rpcResp
	if err := json.Unmarshal(b, &rr); err != nil {
		metrics.RPCErrors.WithLabelValues(method).Inc()
		return nil, fmt.Errorf("aria2 rpc decode: %w (%s)", err, string(b))
	}
	if rr.Error != nil {
		metrics.RPCErrors.WithLabelValues(method).Inc()
		return nil, rr.Error
	}
	return rr.Result, nil
}

// --- Submission methods ---

// AddURI submits one or more URIs for download and returns the engine GID.
func (c *Client) AddURI(ctx context.Context, uris []string, opts *Options) (string, error) {
	params := append(c.tokenParam(), uris)
	if opts != nil {
		params = append(params, opts.toMap())
	}
	res, err := c.call(ctx, "aria2.addUri", params)
	if err != nil {
		return "", err
	}
	var gid string
	if err := json.Unmarshal(res, &gid); err != nil {
		return "", fmt.Errorf("parse addUri result: %w", err)
	}
	return gid, nil
}

// AddTorrent submits raw .torrent bytes (base64-encoded on the wire) and
// returns the engine GID.
func (c *Client) AddTorrent(ctx context.Context, torrent []byte, opts *Options) (string, error) {
	params := append(c.tokenParam(), base64.StdEncoding.EncodeToString(torrent), []string{})
	if opts != nil {
		params = append(params, opts.toMap())
	}
	res, err := c.call(ctx, "aria2.addTorrent", params)
	if err != nil {
		return "", err
	}
	var gid string
	if err := json.Unmarshal(res, &gid); err != nil {
		return "", fmt.Errorf("parse addTorrent result: %w", err)
	}
	return gid, nil
}

// AddMetalink submits raw .metalink bytes and returns the first assigned
// GID. aria2 answers with one GID per metalink file entry.
func (c *Client) AddMetalink(ctx context.Context, metalink []byte, opts *Options) (string, error) {
	params := append(c.tokenParam(), base64.StdEncoding.EncodeToString(metalink))
	if opts != nil {
		params = append(params, opts.toMap())
	}
	res, err := c.call(ctx, "aria2.addMetalink", params)
	if err != nil {
		return "", err
	}
	var gids []string
	if err := json.Unmarshal(res, &gids); err != nil {
		return "", fmt.Errorf("parse addMetalink result: %w", err)
	}
	if len(gids) == 0 {
		return "", fmt.Errorf("addMetalink returned no gids")
	}
	return gids[0], nil
}

// --- Control methods ---

// Pause pauses the download identified by gid.
func (c *Client) Pause(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.pause", append(c.tokenParam(), gid))
	return err
}

// Unpause resumes the download identified by gid.
func (c *Client) Unpause(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.unpause", append(c.tokenParam(), gid))
	return err
}

// Remove removes the download identified by gid from the engine.
func (c *Client) Remove(ctx context.Context, gid string) error {
	_, err := c.call(ctx, "aria2.remove", append(c.tokenParam(), gid))
	return err
}

// --- Query methods ---

// TellStatus returns the full engine status for gid.
func (c *Client) TellStatus(ctx context.Context, gid string) (*Status, error) {
	res, err := c.call(ctx, "aria2.tellStatus", append(c.tokenParam(), gid))
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(res, &st); err != nil {
		return nil, fmt.Errorf("parse tellStatus: %w", err)
	}
	return &st, nil
}

// TellActive lists currently transferring downloads.
func (c *Client) TellActive(ctx context.Context) ([]Status, error) {
	res, err := c.call(ctx, "aria2.tellActive", c.tokenParam())
	if err != nil {
		return nil, err
	}
	var out []Status
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("parse tellActive: %w", err)
	}
	return out, nil
}

// TellWaiting lists queued downloads in [offset, offset+num).
func (c *Client) TellWaiting(ctx context.Context, offset, num int) ([]Status, error) {
	return c.tellRange(ctx, "aria2.tellWaiting", offset, num)
}

// TellStopped lists completed/failed/removed downloads in [offset, offset+num).
func (c *Client) TellStopped(ctx context.Context, offset, num int) ([]Status, error) {
	return c.tellRange(ctx, "aria2.tellStopped", offset, num)
}

func (c *Client) tellRange(ctx context.Context, method string, offset, num int) ([]Status, error) {
	res, err := c.call(ctx, method, append(c.tokenParam(), offset, num))
	if err != nil {
		return nil, err
	}
	var out []Status
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", method, err)
	}
	return out, nil
}

// GetGlobalStat returns engine-wide transfer statistics. It doubles as the
// liveness probe used by the daemon.
func (c *Client) GetGlobalStat(ctx context.Context) (*GlobalStat, error) {
	res, err := c.call(ctx, "aria2.getGlobalStat", c.tokenParam())
	if err != nil {
		return nil, err
	}
	var gs GlobalStat
	if err := json.Unmarshal(res, &gs); err != nil {
		return nil, fmt.Errorf("parse getGlobalStat: %w", err)
	}
	return &gs, nil
}

// GetVersion returns the engine version string.
func (c *Client) GetVersion(ctx context.Context) (string, error) {
	res, err := c.call(ctx, "aria2.getVersion", c.tokenParam())
	if err != nil {
		return "", err
	}
	var v struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(res, &v); err != nil {
		return "", fmt.Errorf("parse getVersion: %w", err)
	}
	return v.Version, nil
}

// GetFiles returns the file list for gid.
func (c *Client) GetFiles(ctx context.Context, gid string) ([]File, error) {
	res, err := c.call(ctx, "aria2.getFiles", append(c.tokenParam(), gid))
	if err != nil {
		return nil, err
	}
	var files []File
	if err := json.Unmarshal(res, &files); err != nil {
		return nil, fmt.Errorf("parse getFiles: %w", err)
	}
	return files, nil
}
