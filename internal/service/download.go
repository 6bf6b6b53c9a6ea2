// Package service coordinates host-side download records with the
// download facade.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/burncloud/fetchd/internal/data"
	"github.com/burncloud/fetchd/internal/downloader"
	"github.com/burncloud/fetchd/internal/repo"
)

// Download is the application service behind the REST surface.
type Download interface {
	List(ctx context.Context) (data.Downloads, error)
	Get(ctx context.Context, id string) (*data.Download, error)
	Add(ctx context.Context, d *data.Download) (*data.Download, error)
	UpdateDesiredStatus(ctx context.Context, id string, status data.DownloadStatus) (*data.Download, error)
	Progress(ctx context.Context, id string) (*data.ProgressSnapshot, error)
	Task(ctx context.Context, id string) (*data.TaskSnapshot, error)
}

// AllowedStatuses are the desired-status transitions callers may
// request.
var AllowedStatuses = map[data.DownloadStatus]bool{
	data.StatusActive:    true,
	data.StatusPaused:    true,
	data.StatusCancelled: true,
}

type download struct {
	repo repo.DownloadRepo
	dlr  downloader.Manager
}

// NewDownload builds the download service over a record repo and the
// facade.
func NewDownload(repo repo.DownloadRepo, dlr downloader.Manager) Download {
	return &download{
		repo: repo,
		dlr:  dlr,
	}
}

func (ds *download) List(ctx context.Context) (data.Downloads, error) {
	return ds.repo.List(ctx)
}

func (ds *download) Get(ctx context.Context, id string) (*data.Download, error) {
	return ds.repo.Get(ctx, id)
}

// Add validates and stores the record, then submits it to the engine.
// Repeat submissions of the same (source, targetPath) pair return the
// existing record.
func (ds *download) Add(ctx context.Context, d *data.Download) (*data.Download, error) {
	if strings.TrimSpace(d.Source) == "" {
		return nil, data.ErrInvalidSource
	}
	if strings.TrimSpace(d.TargetPath) == "" {
		return nil, data.ErrTargetPath
	}
	if _, err := data.DetectKind(d.Source); err != nil {
		return nil, err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.Status = data.StatusQueued
	d.DesiredStatus = data.StatusActive

	saved, err := ds.repo.Add(ctx, d)
	if err != nil {
		return nil, err
	}
	if saved.TaskID != "" {
		// Fingerprint dedup returned an already-submitted record.
		return saved, nil
	}

	taskID, err := ds.dlr.AddDownload(ctx, saved.Source, saved.TargetPath)
	if err != nil {
		_ = ds.repo.SetStatus(ctx, saved.ID, data.StatusError)
		return nil, err
	}
	return ds.repo.Update(ctx, saved.ID, func(dl *data.Download) error {
		dl.TaskID = taskID
		dl.Status = data.StatusActive
		return nil
	})
}

// UpdateDesiredStatus drives the engine toward the requested state and
// settles the record on success.
func (ds *download) UpdateDesiredStatus(ctx context.Context, id string, status data.DownloadStatus) (*data.Download, error) {
	if !AllowedStatuses[status] {
		return nil, data.ErrBadStatus
	}
	d, err := ds.repo.Update(ctx, id, func(dl *data.Download) error {
		dl.DesiredStatus = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	if d.TaskID == "" {
		return nil, downloader.ErrTaskNotFound
	}

	var derr error
	switch status {
	case data.StatusActive:
		derr = ds.dlr.ResumeDownload(ctx, d.TaskID)
	case data.StatusPaused:
		derr = ds.dlr.PauseDownload(ctx, d.TaskID)
	case data.StatusCancelled:
		derr = ds.dlr.CancelDownload(ctx, d.TaskID)
	}
	if derr != nil {
		_ = ds.repo.SetStatus(ctx, id, data.StatusError)
		return nil, derr
	}

	if err := ds.repo.SetStatus(ctx, id, status); err != nil {
		return nil, err
	}
	d.Status = status
	return d, nil
}

// Progress derives a live progress snapshot for the record.
func (ds *download) Progress(ctx context.Context, id string) (*data.ProgressSnapshot, error) {
	d, err := ds.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.TaskID == "" {
		return nil, downloader.ErrTaskNotFound
	}
	return ds.dlr.GetProgress(ctx, d.TaskID)
}

// Task derives a live task snapshot for the record.
func (ds *download) Task(ctx context.Context, id string) (*data.TaskSnapshot, error) {
	d, err := ds.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.TaskID == "" {
		return nil, downloader.ErrTaskNotFound
	}
	return ds.dlr.GetTask(ctx, d.TaskID)
}
