package domain

import "time"

// RunStats summarizes one completed batch run for accounting.
type RunStats struct {
	JobID           string
	ImagesProcessed int64
	PixelsProcessed int64
	OutputBytes     int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
