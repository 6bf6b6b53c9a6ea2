// Package downloader defines the download-management abstraction the
// facade implements, plus the event types internal consumers use.
package downloader

import (
	"context"
	"errors"

	"github.com/burncloud/fetchd/internal/data"
)

// ErrTaskNotFound is returned when a task id is not bound to any engine
// handle.
var ErrTaskNotFound = errors.New("task not found")

// Manager is the caller-facing download management surface. All
// snapshots are derived from live engine state on each call; there is no
// push channel to callers.
type Manager interface {
	// AddDownload submits url for download into targetPath and returns
	// the caller-visible task id. Repeat submissions of an already
	// tracked URL return the existing id.
	AddDownload(ctx context.Context, url, targetPath string) (data.TaskID, error)
	// PauseDownload pauses the task.
	PauseDownload(ctx context.Context, id data.TaskID) error
	// ResumeDownload resumes a paused task.
	ResumeDownload(ctx context.Context, id data.TaskID) error
	// CancelDownload removes the task from the engine and forgets the
	// binding. Best-effort: the binding is dropped even if the engine
	// call fails.
	CancelDownload(ctx context.Context, id data.TaskID) error
	// GetTask derives a task snapshot from live engine state.
	GetTask(ctx context.Context, id data.TaskID) (*data.TaskSnapshot, error)
	// GetProgress derives a progress snapshot from live engine state.
	GetProgress(ctx context.Context, id data.TaskID) (*data.ProgressSnapshot, error)
	// ListTasks snapshots every bound task the engine still reports.
	ListTasks(ctx context.Context) ([]data.TaskSnapshot, error)
	// ActiveDownloadCount returns the engine's active transfer count.
	ActiveDownloadCount(ctx context.Context) (int, error)
}

// EventSource is implemented by managers that relay asynchronous engine
// notifications. Reconciler wiring launches Run(ctx) when available.
type EventSource interface {
	Run(ctx context.Context)
}
