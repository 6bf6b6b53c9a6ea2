// Package repo stores host-side download records.
package repo

import (
	"context"

	"github.com/burncloud/fetchd/internal/data"
)

// DownloadRepo combines read and write access to download records.
type DownloadRepo interface {
	DownloadReader
	DownloadWriter
}

type DownloadReader interface {
	List(ctx context.Context) (data.Downloads, error)
	Get(ctx context.Context, id string) (*data.Download, error)
	// FindByTaskID resolves the record bound to a facade task id.
	FindByTaskID(ctx context.Context, taskID data.TaskID) (*data.Download, error)
}

type DownloadWriter interface {
	// Add inserts a record. Records are deduplicated by the
	// (source, targetPath) fingerprint; adding an existing pair returns
	// the stored record unchanged.
	Add(ctx context.Context, download *data.Download) (*data.Download, error)
	// Update applies mutate to the record under the repo's lock.
	Update(ctx context.Context, id string, mutate func(*data.Download) error) (*data.Download, error)
	SetStatus(ctx context.Context, id string, status data.DownloadStatus) error
	Delete(ctx context.Context, id string) error
}
