package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/cleanframe/internal/blob"
	"github.com/dunamismax/cleanframe/internal/domain"
	"github.com/dunamismax/cleanframe/internal/id"
)

// Entry is one image offered to Add: a filename and the handle carrying its
// bytes. The store takes ownership of the handle whether or not the entry is
// accepted.
type Entry struct {
	Filename string
	Original blob.Handle
}

// Item is one queued image and its working state. The store owns all three
// handles; callers read through them but never release them.
type Item struct {
	ID           string
	Filename     string
	Status       domain.Status
	Error        string
	Original     blob.Handle
	Preview      blob.Handle
	Processed    blob.Handle
	CreatedAt    time.Time
	CompletedAt  *time.Time
	ProcessingMS int64
}

// Source returns the handle the pipeline should read for this item: the
// cleaned preview when one exists, the original otherwise.
func (it Item) Source() blob.Handle {
	if it.Preview != nil {
		return it.Preview
	}
	return it.Original
}

// BatchStore is the ordered working set of a batch, capped at
// domain.MaxBatchSize items. All methods are safe for concurrent use;
// handle releases happen outside the lock because object-backed handles
// do network I/O.
type BatchStore struct {
	mu       sync.Mutex
	items    []*Item
	index    map[string]*Item
	selected string
}

func NewBatchStore() *BatchStore {
	return &BatchStore{index: make(map[string]*Item)}
}

// Add appends entries in order until the batch is full and returns the ids
// of the accepted items. Entries past capacity are dropped and their handles
// released. The first item ever added becomes the selection.
func (s *BatchStore) Add(ctx context.Context, entries []Entry) []string {
	s.mu.Lock()
	room := domain.MaxBatchSize - len(s.items)
	if room < 0 {
		room = 0
	}
	accepted := entries
	var rejected []Entry
	if len(entries) > room {
		accepted = entries[:room]
		rejected = entries[room:]
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(accepted))
	for _, e := range accepted {
		item := &Item{
			ID:        id.New(),
			Filename:  e.Filename,
			Status:    domain.StatusPending,
			Original:  e.Original,
			CreatedAt: now,
		}
		s.items = append(s.items, item)
		s.index[item.ID] = item
		ids = append(ids, item.ID)
	}
	if s.selected == "" && len(s.items) > 0 {
		s.selected = s.items[0].ID
	}
	s.mu.Unlock()

	for _, e := range rejected {
		releaseHandle(ctx, e.Original)
	}
	return ids
}

// Remove drops an item and releases everything it holds. When the removed
// item was selected, selection falls back to the first remaining item.
func (s *BatchStore) Remove(ctx context.Context, itemID string) error {
	s.mu.Lock()
	item, ok := s.index[itemID]
	if !ok {
		s.mu.Unlock()
		return ErrItemNotFound
	}
	delete(s.index, itemID)
	for i := range s.items {
		if s.items[i].ID == itemID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	if s.selected == itemID {
		s.selected = ""
		if len(s.items) > 0 {
			s.selected = s.items[0].ID
		}
	}
	handles := itemHandles(item)
	s.mu.Unlock()

	releaseHandles(ctx, handles)
	return nil
}

// UpdatePreview swaps in a new preview handle, releasing the previous one.
// The store takes ownership of h even when the item no longer exists.
func (s *BatchStore) UpdatePreview(ctx context.Context, itemID string, h blob.Handle) error {
	return s.swapHandle(ctx, itemID, h, func(item *Item, nh blob.Handle) blob.Handle {
		old := item.Preview
		item.Preview = nh
		return old
	})
}

// SetProcessed swaps in the finished composite, releasing the previous one.
// Ownership rules match UpdatePreview.
func (s *BatchStore) SetProcessed(ctx context.Context, itemID string, h blob.Handle) error {
	return s.swapHandle(ctx, itemID, h, func(item *Item, nh blob.Handle) blob.Handle {
		old := item.Processed
		item.Processed = nh
		return old
	})
}

func (s *BatchStore) swapHandle(ctx context.Context, itemID string, h blob.Handle, swap func(*Item, blob.Handle) blob.Handle) error {
	s.mu.Lock()
	item, ok := s.index[itemID]
	if !ok {
		s.mu.Unlock()
		releaseHandle(ctx, h)
		return ErrItemNotFound
	}
	old := swap(item, h)
	s.mu.Unlock()

	releaseHandle(ctx, old)
	return nil
}

func (s *BatchStore) SetStatus(itemID string, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.index[itemID]
	if !ok {
		return ErrItemNotFound
	}
	item.Status = status
	item.Error = ""
	return nil
}

// Fail marks an item failed with the cause's message.
func (s *BatchStore) Fail(itemID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.index[itemID]
	if !ok {
		return ErrItemNotFound
	}
	now := time.Now().UTC()
	item.Status = domain.StatusFailed
	item.CompletedAt = &now
	item.Error = "unknown error"
	if cause != nil {
		item.Error = cause.Error()
	}
	return nil
}

// Complete marks an item done and records how long processing took.
func (s *BatchStore) Complete(itemID string, elapsed time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.index[itemID]
	if !ok {
		return ErrItemNotFound
	}
	now := time.Now().UTC()
	item.Status = domain.StatusCompleted
	item.CompletedAt = &now
	item.Error = ""
	item.ProcessingMS = elapsed.Milliseconds()
	return nil
}

func (s *BatchStore) Select(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[itemID]; !ok {
		return ErrItemNotFound
	}
	s.selected = itemID
	return nil
}

func (s *BatchStore) Selected() (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected == "" {
		return Item{}, false
	}
	item, ok := s.index[s.selected]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Items returns a snapshot of the queue in insertion order.
func (s *BatchStore) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Item, len(s.items))
	for i, item := range s.items {
		out[i] = *item
	}
	return out
}

func (s *BatchStore) Item(itemID string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.index[itemID]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

func (s *BatchStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Clear releases every handle in the queue and resets the selection.
func (s *BatchStore) Clear(ctx context.Context) {
	s.mu.Lock()
	var handles []blob.Handle
	for _, item := range s.items {
		handles = append(handles, itemHandles(item)...)
	}
	s.items = nil
	s.index = make(map[string]*Item)
	s.selected = ""
	s.mu.Unlock()

	releaseHandles(ctx, handles)
}

func itemHandles(item *Item) []blob.Handle {
	var handles []blob.Handle
	for _, h := range []blob.Handle{item.Original, item.Preview, item.Processed} {
		if h != nil {
			handles = append(handles, h)
		}
	}
	return handles
}

func releaseHandle(ctx context.Context, h blob.Handle) {
	if h != nil {
		_ = h.Release(ctx)
	}
}

func releaseHandles(ctx context.Context, handles []blob.Handle) {
	for _, h := range handles {
		releaseHandle(ctx, h)
	}
}
