package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryHandle(t *testing.T) {
	ctx := context.Background()
	h := NewMemory([]byte("pixels"))

	if h.Size() != 6 {
		t.Fatalf("expected size 6, got %d", h.Size())
	}

	data, err := h.Bytes(ctx)
	if err != nil {
		t.Fatalf("read handle: %v", err)
	}
	if string(data) != "pixels" {
		t.Fatalf("expected pixels, got %s", data)
	}

	if err := h.Release(ctx); err != nil {
		t.Fatalf("release handle: %v", err)
	}
	if _, err := h.Bytes(ctx); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased after release, got %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("expected second release to be a no-op, got %v", err)
	}
	if h.Size() != 6 {
		t.Fatalf("expected size to survive release, got %d", h.Size())
	}
}

func TestFileHandle(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "input.png")
	if err := os.WriteFile(path, []byte("on disk"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	h, err := NewFile(path)
	if err != nil {
		t.Fatalf("new file handle: %v", err)
	}
	if h.Size() != 7 {
		t.Fatalf("expected size 7, got %d", h.Size())
	}

	data, err := h.Bytes(ctx)
	if err != nil {
		t.Fatalf("read handle: %v", err)
	}
	if string(data) != "on disk" {
		t.Fatalf("expected on disk, got %s", data)
	}

	if err := h.Release(ctx); err != nil {
		t.Fatalf("release handle: %v", err)
	}
	if _, err := h.Bytes(ctx); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased after release, got %v", err)
	}

	// Releasing a file handle never deletes the caller's file.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected source file to survive release: %v", err)
	}
}

func TestTempFileHandleDeletesOnRelease(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "spooled.png")
	if err := os.WriteFile(path, []byte("spooled"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	h, err := NewTempFile(path)
	if err != nil {
		t.Fatalf("new temp file handle: %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("release handle: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected spooled file to be deleted, stat err: %v", err)
	}
	if err := h.Release(ctx); err != nil {
		t.Fatalf("expected second release to be a no-op, got %v", err)
	}
}

func TestNewFileRejectsMissingAndDirectory(t *testing.T) {
	if _, err := NewFile(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := NewFile(t.TempDir()); err == nil {
		t.Fatal("expected error for directory path")
	}
}

type fakeObjectStore struct {
	objects map[string][]byte
	reads   int
	failGet bool
}

func (s *fakeObjectStore) ReadObject(_ context.Context, key string) ([]byte, error) {
	s.reads++
	if s.failGet {
		return nil, fmt.Errorf("read object %s: connection refused", key)
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("read object %s: not found", key)
	}
	return data, nil
}

func TestObjectHandle(t *testing.T) {
	ctx := context.Background()
	store := &fakeObjectStore{objects: map[string][]byte{
		"jobs/job-1/original/item-1_photo.png": []byte("stored"),
	}}

	h := NewObject(store, "jobs/job-1/original/item-1_photo.png", 6)
	data, err := h.Bytes(ctx)
	if err != nil {
		t.Fatalf("read handle: %v", err)
	}
	if string(data) != "stored" {
		t.Fatalf("expected stored, got %s", data)
	}

	if err := h.Release(ctx); err != nil {
		t.Fatalf("release handle: %v", err)
	}

	// The object itself belongs to the job, not the handle.
	if _, ok := store.objects["jobs/job-1/original/item-1_photo.png"]; !ok {
		t.Fatal("expected object to survive handle release")
	}

	if _, err := h.Bytes(ctx); !errors.Is(err, ErrReleased) {
		t.Fatalf("expected ErrReleased after release, got %v", err)
	}
	if store.reads != 1 {
		t.Fatalf("expected no reads after release, got %d", store.reads)
	}

	if err := h.Release(ctx); err != nil {
		t.Fatalf("expected second release to be a no-op, got %v", err)
	}
}

func TestObjectHandlePropagatesReadErrors(t *testing.T) {
	store := &fakeObjectStore{failGet: true}
	h := NewObject(store, "jobs/job-1/original/item-1_photo.png", 6)
	if _, err := h.Bytes(context.Background()); err == nil {
		t.Fatal("expected read error to propagate")
	}
}

func TestHandleHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := NewMemory([]byte("pixels"))
	if _, err := h.Bytes(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
