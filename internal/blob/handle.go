// Package blob abstracts where image bytes live. Batch items hold handles
// rather than raw buffers so the same pipeline runs over in-memory uploads,
// files on disk, and objects in the blob store.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

var ErrReleased = errors.New("blob handle released")

// Handle is an owned reference to image bytes. The owner that stops
// referencing a handle must release it; Release is idempotent and a released
// handle refuses further reads.
type Handle interface {
	Bytes(ctx context.Context) ([]byte, error)
	Size() int64
	Release(ctx context.Context) error
}

// ObjectStore is the slice of the storage client object handles need.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

type memoryHandle struct {
	mu   sync.Mutex
	data []byte
	size int64
}

// NewMemory wraps bytes already in memory. Release drops the reference so
// large buffers become collectable as soon as the batch lets go of them.
func NewMemory(data []byte) Handle {
	return &memoryHandle{data: data, size: int64(len(data))}
}

func (h *memoryHandle) Bytes(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.data == nil {
		return nil, ErrReleased
	}
	return h.data, nil
}

func (h *memoryHandle) Size() int64 {
	return h.size
}

func (h *memoryHandle) Release(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = nil
	return nil
}

type fileHandle struct {
	path   string
	size   int64
	remove bool

	mu       sync.Mutex
	released bool
}

// NewFile wraps a file the caller owns. The path is read lazily on each
// Bytes call and never deleted; Release only invalidates the handle.
func NewFile(path string) (Handle, error) {
	return newFileHandle(path, false)
}

// NewTempFile wraps a file spooled by this process, typically an upload
// written under a job directory. Release deletes it.
func NewTempFile(path string) (Handle, error) {
	return newFileHandle(path, true)
}

func newFileHandle(path string, remove bool) (Handle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, not an image file", path)
	}
	return &fileHandle{path: path, size: info.Size(), remove: remove}, nil
}

func (h *fileHandle) Bytes(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return nil, ErrReleased
	}

	data, err := os.ReadFile(h.path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", h.path, err)
	}
	return data, nil
}

func (h *fileHandle) Size() int64 {
	return h.size
}

func (h *fileHandle) Release(context.Context) error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.mu.Unlock()

	if !h.remove {
		return nil
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", h.path, err)
	}
	return nil
}

type objectHandle struct {
	store ObjectStore
	key   string
	size  int64

	mu       sync.Mutex
	released bool
}

// NewObject wraps an object already written to the blob store. The job that
// wrote the object keeps ownership of it; Release only invalidates the
// handle, and the object itself is reclaimed when the job is deleted.
func NewObject(store ObjectStore, objectKey string, size int64) Handle {
	return &objectHandle{store: store, key: objectKey, size: size}
}

func (h *objectHandle) Bytes(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return nil, ErrReleased
	}

	return h.store.ReadObject(ctx, h.key)
}

func (h *objectHandle) Size() int64 {
	return h.size
}

func (h *objectHandle) Release(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released = true
	return nil
}
