package domain

import (
	"testing"
	"time"
)

func TestJobRecordProgress(t *testing.T) {
	empty := JobRecord{}
	if got := empty.Progress(); got != 0 {
		t.Fatalf("expected 0 progress for empty job, got %v", got)
	}

	job := JobRecord{TotalImages: 8, CompletedImages: 3, FailedImages: 1}
	if got := job.Progress(); got != 50 {
		t.Fatalf("expected 50 progress, got %v", got)
	}

	job.CompletedImages = 7
	if got := job.Progress(); got != 100 {
		t.Fatalf("expected 100 progress, got %v", got)
	}
}

func TestJobRecordDownloadReady(t *testing.T) {
	job := JobRecord{Status: StatusCompleted, TotalImages: 2, CompletedImages: 2}
	if !job.DownloadReady() {
		t.Fatal("expected completed job with outputs to be download ready")
	}

	allFailed := JobRecord{Status: StatusCompleted, TotalImages: 2, FailedImages: 2}
	if allFailed.DownloadReady() {
		t.Fatal("expected job with no completed items to not be download ready")
	}

	running := JobRecord{Status: StatusRemoving, TotalImages: 2, CompletedImages: 1}
	if running.DownloadReady() {
		t.Fatal("expected non-terminal job to not be download ready")
	}
}

func TestJobRecordStatusResponse(t *testing.T) {
	now := time.Now().UTC()
	job := JobRecord{
		ID:     "job-1",
		Status: StatusCompleted,
		Items: []ItemRecord{
			{ID: "item-1", Filename: "a.png", Status: StatusCompleted, CreatedAt: now},
			{ID: "item-2", Filename: "b.png", Status: StatusFailed, Error: "decode failed", CreatedAt: now},
		},
		TotalImages:     2,
		CompletedImages: 1,
		FailedImages:    1,
	}

	resp := job.StatusResponse()
	if resp.JobID != "job-1" {
		t.Fatalf("expected job-1, got %s", resp.JobID)
	}
	if resp.Progress != 100 {
		t.Fatalf("expected 100 progress, got %v", resp.Progress)
	}
	if len(resp.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(resp.Tasks))
	}
	if !resp.DownloadReady {
		t.Fatal("expected download_ready for completed job with one output")
	}

	resp.Tasks[0].Filename = "mutated.png"
	if job.Items[0].Filename != "a.png" {
		t.Fatal("expected status response to copy items, not alias them")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusDetecting, StatusRemoving} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
	for _, s := range []Status{StatusCompleted, StatusFailed} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	if Status("archived").Valid() {
		t.Fatal("expected unknown status to be invalid")
	}
}
