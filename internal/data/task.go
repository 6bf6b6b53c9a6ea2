package data

import (
	"time"

	"github.com/google/uuid"
)

// TaskID identifies a download to callers. Minted by the facade at
// submission time; the facade keeps it in memory only, while host
// download records store it alongside the record.
type TaskID string

// NewTaskID mints a fresh task identifier.
func NewTaskID() TaskID { return TaskID(uuid.NewString()) }

// TaskStatus is the normalized download state derived from the engine.
type TaskStatus string

const (
	TaskWaiting     TaskStatus = "Waiting"
	TaskDownloading TaskStatus = "Downloading"
	TaskPaused      TaskStatus = "Paused"
	TaskCompleted   TaskStatus = "Completed"
	TaskFailed      TaskStatus = "Failed"
)

// TaskSnapshot is a point-in-time view of a facade task, derived from
// live engine state rather than stored.
type TaskSnapshot struct {
	TaskID        TaskID     `json:"taskId"`
	URL           string     `json:"url"`
	Dir           string     `json:"dir"`
	Filename      string     `json:"filename,omitempty"`
	Status        TaskStatus `json:"status"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// ProgressSnapshot is a point-in-time transfer measurement. TotalBytes
// is zero while the engine has not yet learned the size (common early in
// torrent and metalink transfers); ETASeconds is set only when both the
// remainder and the speed are positive.
type ProgressSnapshot struct {
	DownloadedBytes uint64  `json:"downloadedBytes"`
	TotalBytes      uint64  `json:"totalBytes"`
	SpeedBPS        uint64  `json:"speedBps"`
	ETASeconds      *uint64 `json:"etaSeconds,omitempty"`
}
