package manager

import (
	"strconv"

	"github.com/burncloud/fetchd/internal/aria2"
	"github.com/burncloud/fetchd/internal/data"
)

// mapEngineStatus normalizes an engine status string into the facade's
// task status, with a failure reason for terminal error states.
func mapEngineStatus(st *aria2.Status) (data.TaskStatus, string) {
	switch st.Status {
	case "active":
		return data.TaskDownloading, ""
	case "waiting":
		return data.TaskWaiting, ""
	case "paused":
		return data.TaskPaused, ""
	case "complete":
		return data.TaskCompleted, ""
	case "error":
		switch {
		case st.ErrorMessage != "":
			return data.TaskFailed, st.ErrorMessage
		case st.ErrorCode != "":
			return data.TaskFailed, "Error code: " + st.ErrorCode
		default:
			return data.TaskFailed, "unknown"
		}
	case "removed":
		return data.TaskFailed, "Download cancelled"
	default:
		return data.TaskFailed, "Unknown status: " + st.Status
	}
}

// parseBytes parses one of aria2's decimal-string counters. Malformed or
// empty values read as zero.
func parseBytes(s string) uint64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// progressFrom derives a progress snapshot from an engine status. The
// ETA is defined only when the speed is positive and bytes remain.
func progressFrom(st *aria2.Status) *data.ProgressSnapshot {
	p := &data.ProgressSnapshot{
		DownloadedBytes: parseBytes(st.CompletedLength),
		TotalBytes:      parseBytes(st.TotalLength),
		SpeedBPS:        parseBytes(st.DownloadSpeed),
	}
	if p.SpeedBPS > 0 && p.TotalBytes > p.DownloadedBytes {
		eta := (p.TotalBytes - p.DownloadedBytes) / p.SpeedBPS
		p.ETASeconds = &eta
	}
	return p
}

// snapshotFrom combines a binding with a live engine status.
func snapshotFrom(b *binding, st *aria2.Status) *data.TaskSnapshot {
	status, reason := mapEngineStatus(st)
	return &data.TaskSnapshot{
		TaskID:        b.id,
		URL:           b.url,
		Dir:           b.dir,
		Filename:      b.filename,
		Status:        status,
		FailureReason: reason,
		CreatedAt:     b.createdAt,
	}
}
