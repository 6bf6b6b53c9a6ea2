// Package provision ensures the aria2 binary exists on disk, downloading
// and extracting it when absent.
package provision

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"

	"github.com/burncloud/fetchd/internal/platform"
)

var (
	// ErrBinaryDownloadFailed indicates both the primary and mirror
	// sources failed.
	ErrBinaryDownloadFailed = errors.New("binary download failed")
	// ErrBinaryExtractionFailed indicates the archive did not contain the
	// expected executable.
	ErrBinaryExtractionFailed = errors.New("binary extraction failed")
)

// Release archive sources, tried in order.
const (
	DefaultPrimaryURL = "https://github.com/aria2/aria2/releases/download/release-1.37.0/aria2-1.37.0-win-64bit-build1.zip"
	DefaultMirrorURL  = "https://mirrors.burncloud.io/aria2/aria2-1.37.0.zip"
)

// Provisioner downloads and installs the aria2 executable.
type Provisioner struct {
	PrimaryURL string
	MirrorURL  string
	HTTP       *http.Client
}

// New returns a Provisioner using the default sources and a transfer
// timeout suitable for a ~2 MB archive on slow links.
func New() *Provisioner {
	return &Provisioner{
		PrimaryURL: DefaultPrimaryURL,
		MirrorURL:  DefaultMirrorURL,
		HTTP:       &http.Client{Timeout: 120 * time.Second},
	}
}

// Exists reports whether a regular file is present at path.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Provision fetches the release archive and installs the executable at
// dest. The install directory is protected by a file lock so concurrent
// processes do not race on extraction.
func (p *Provisioner) Provision(ctx context.Context, dest string) error {
	dir := filepath.Dir(dest)
	if err := platform.EnsureDir(dir); err != nil {
		return fmt.Errorf("ensure install dir: %w", err)
	}

	lock := flock.New(filepath.Join(dir, ".provision.lock"))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquire provision lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	// Another process may have finished while we waited on the lock.
	if Exists(dest) {
		return nil
	}

	body, err := p.fetchArchive(ctx)
	if err != nil {
		return err
	}
	if err := extractExecutable(body, platform.ExecutableName(), dest); err != nil {
		return err
	}
	return platform.MarkExecutable(dest)
}

// fetchArchive downloads the release zip, failing over to the mirror.
func (p *Provisioner) fetchArchive(ctx context.Context) ([]byte, error) {
	body, primaryErr := p.get(ctx, p.PrimaryURL)
	if primaryErr == nil {
		return body, nil
	}
	body, mirrorErr := p.get(ctx, p.MirrorURL)
	if mirrorErr == nil {
		return body, nil
	}
	return nil, fmt.Errorf("%w: primary: %v; mirror: %v", ErrBinaryDownloadFailed, primaryErr, mirrorErr)
}

func (p *Provisioner) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// extractExecutable locates the archive entry whose basename matches name
// and copies its bytes to dest.
func extractExecutable(archive []byte, name, dest string) error {
	if !filetype.IsType(archive, matchers.TypeZip) {
		return fmt.Errorf("%w: response is not a zip archive", ErrBinaryExtractionFailed)
	}
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBinaryExtractionFailed, err)
	}
	for _, f := range zr.File {
		if path.Base(f.Name) != name || f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("%w: open %s: %v", ErrBinaryExtractionFailed, f.Name, err)
		}
		defer func() { _ = rc.Close() }()

		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("write %s: %w", dest, err)
		}
		if _, err := io.Copy(out, rc); err != nil {
			_ = out.Close()
			return fmt.Errorf("write %s: %w", dest, err)
		}
		return out.Close()
	}
	return fmt.Errorf("%w: %s not found in archive", ErrBinaryExtractionFailed, name)
}
