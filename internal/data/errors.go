package data

import "errors"

var (
	// ErrNotFound is returned when a download record or task id is
	// unknown.
	ErrNotFound = errors.New("download not found")
	// ErrBadStatus is returned for a desired-status value outside the
	// allowed transitions.
	ErrBadStatus = errors.New("invalid status")
	// ErrInvalidSource is returned for an empty or malformed source URL.
	ErrInvalidSource = errors.New("invalid source")
	// ErrTargetPath is returned for an empty or unusable target path.
	ErrTargetPath = errors.New("invalid target path")
	// ErrUnsupportedType is returned when no download kind matches the
	// source URL.
	ErrUnsupportedType = errors.New("unsupported download type")
	// ErrConflict is returned when a record update would give it the same
	// (source, targetPath) fingerprint as another stored record.
	ErrConflict = errors.New("download conflict")
)
