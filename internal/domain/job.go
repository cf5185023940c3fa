package domain

import "time"

// ItemRecord is the persisted projection of one image inside a batch job.
// JSON field names follow the original task model; storage keys ride in the
// legacy path fields.
type ItemRecord struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	OriginalPath string     `json:"original_path,omitempty"`
	OutputPath   string     `json:"processed_path,omitempty"`
	OutputName   string     `json:"output_name,omitempty"`
	Status       Status     `json:"status"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ProcessingMS int64      `json:"processing_time_ms,omitempty"`
}

// JobRecord is one uploaded batch and its processing state.
type JobRecord struct {
	ID              string
	Status          Status
	Options         ProcessingOptions
	Items           []ItemRecord
	TotalImages     int
	CompletedImages int
	FailedImages    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// Progress is the percentage of items settled (completed or failed).
func (j JobRecord) Progress() float64 {
	if j.TotalImages == 0 {
		return 0
	}
	return float64(j.CompletedImages+j.FailedImages) / float64(j.TotalImages) * 100
}

// DownloadReady reports whether the archive endpoint can serve this job.
func (j JobRecord) DownloadReady() bool {
	return j.Status == StatusCompleted && j.CompletedImages > 0
}

// Item returns the record for the given item id.
func (j JobRecord) Item(itemID string) (ItemRecord, bool) {
	for _, item := range j.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return ItemRecord{}, false
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	JobID       string `json:"job_id"`
	TotalImages int    `json:"total_images"`
	Message     string `json:"message"`
}

// JobStatusResponse is returned by GET /status/{job_id}.
type JobStatusResponse struct {
	JobID           string       `json:"job_id"`
	Status          Status       `json:"status"`
	Progress        float64      `json:"progress"`
	TotalImages     int          `json:"total_images"`
	CompletedImages int          `json:"completed_images"`
	FailedImages    int          `json:"failed_images"`
	Tasks           []ItemRecord `json:"tasks"`
	DownloadReady   bool         `json:"download_ready"`
}

// StatusResponse builds the public status projection for a job.
func (j JobRecord) StatusResponse() JobStatusResponse {
	tasks := make([]ItemRecord, len(j.Items))
	copy(tasks, j.Items)
	return JobStatusResponse{
		JobID:           j.ID,
		Status:          j.Status,
		Progress:        j.Progress(),
		TotalImages:     j.TotalImages,
		CompletedImages: j.CompletedImages,
		FailedImages:    j.FailedImages,
		Tasks:           tasks,
		DownloadReady:   j.DownloadReady(),
	}
}
