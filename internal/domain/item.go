package domain

// MaxBatchSize is the hard cap on images in a single batch. Submissions
// beyond the remaining capacity are truncated, never queued for later.
const MaxBatchSize = 200

// Status tracks an image through the batch lifecycle. The detecting and
// removing names are kept for wire compatibility with the original service:
// detecting means the external cleanup call is in flight, removing means the
// compositing step is running.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDetecting Status = "detecting"
	StatusRemoving  Status = "removing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDetecting, StatusRemoving, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}
