package v1

import "errors"

var (
	ErrDownloadCtx       = errors.New("download missing in context")
	ErrDesiredStatus     = errors.New("desired status missing in context")
	ErrDesiredStatusJSON = errors.New("desired status is required")
	ErrTargetPath        = errors.New("targetPath is required")
	ErrSource            = errors.New("source is required")
	ErrContentType       = errors.New("Content-Type must be application/json")
	ErrReadOnlyName      = errors.New("name is read-only")
	ErrReadOnlyTaskID    = errors.New("taskId is read-only")
)
