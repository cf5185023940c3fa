package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/dunamismax/cleanframe/internal/archive"
	"github.com/dunamismax/cleanframe/internal/blob"
	"github.com/dunamismax/cleanframe/internal/cleanup"
	"github.com/dunamismax/cleanframe/internal/compose"
	"github.com/dunamismax/cleanframe/internal/domain"
	"github.com/dunamismax/cleanframe/internal/store"
)

type fakeCleaner struct {
	mu      sync.Mutex
	calls   int
	err     error
	failFor map[string]error
	replace []byte
}

func (c *fakeCleaner) Clean(_ context.Context, filename string, data []byte, _ domain.CleanupOptions) ([]byte, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	if err, ok := c.failFor[filename]; ok {
		return nil, err
	}
	if c.replace != nil {
		return c.replace, nil
	}
	return append([]byte("cleaned:"), data...), nil
}

func (c *fakeCleaner) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type failingSink struct{}

func (failingSink) Add(string, []byte) error { return errors.New("disk full") }

type statusRecorder struct {
	mu       sync.Mutex
	statuses map[string][]domain.Status
}

func (r *statusRecorder) ItemChanged(_ context.Context, item store.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = make(map[string][]domain.Status)
	}
	r.statuses[item.ID] = append(r.statuses[item.ID], item.Status)
}

func newTestRunner(t *testing.T, cleaner Cleaner) *Runner {
	t.Helper()

	compositor, err := compose.New()
	if err != nil {
		t.Fatalf("new compositor: %v", err)
	}
	return &Runner{
		Compositor: compositor,
		Cleaner:    cleaner,
		Logger:     log.New(io.Discard, "", 0),
	}
}

func seedBatch(t *testing.T, contents [][]byte) (*store.BatchStore, []string) {
	t.Helper()

	s := store.NewBatchStore()
	entries := make([]store.Entry, len(contents))
	for i, data := range contents {
		entries[i] = store.Entry{
			Filename: fmt.Sprintf("img-%03d.png", i),
			Original: blob.NewMemory(data),
		}
	}
	ids := s.Add(context.Background(), entries)
	if len(ids) != len(contents) {
		t.Fatalf("expected %d items added, got %d", len(contents), len(ids))
	}
	return s, ids
}

func exportSettings() domain.BatchSettings {
	return domain.BatchSettings{
		FitMode: domain.FitContainBlack,
		Preset:  domain.PresetYTThumbnail,
	}
}

func archiveNames(t *testing.T, data []byte) []string {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestExportAllIsolatesItemFailures(t *testing.T) {
	contents := [][]byte{
		buildTestPNG(t, 64, 64),
		buildTestPNG(t, 120, 40),
		[]byte("not an image at all"),
		buildTestPNG(t, 40, 120),
		buildTestPNG(t, 64, 64),
	}
	batch, ids := seedBatch(t, contents)

	var progress []int
	runner := newTestRunner(t, &fakeCleaner{})
	runner.Progress = func(done, total int) {
		if total != 5 {
			t.Errorf("expected total 5, got %d", total)
		}
		progress = append(progress, done)
	}

	var buf bytes.Buffer
	builder := archive.NewBuilder(&buf)
	summary, err := runner.ExportAll(context.Background(), batch, exportSettings(), domain.CleanupOptions{}, builder)
	if err != nil {
		t.Fatalf("export run: %v", err)
	}
	if err := builder.Close(); err != nil {
		t.Fatalf("close archive: %v", err)
	}

	if summary.Total != 5 || summary.Completed != 4 || summary.Failed != 1 {
		t.Fatalf("expected 5/4/1 summary, got %d/%d/%d", summary.Total, summary.Completed, summary.Failed)
	}
	if builder.Len() != 4 {
		t.Fatalf("expected 4 archive entries, got %d", builder.Len())
	}

	names := archiveNames(t, buf.Bytes())
	want := []string{"img-000-thumbnail.jpg", "img-001-thumbnail.jpg", "img-003-thumbnail.jpg", "img-004-thumbnail.jpg"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), names)
	}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("expected entry %d to be %s, got %s", i, name, names[i])
		}
	}

	for i, itemID := range ids {
		item, ok := batch.Item(itemID)
		if !ok {
			t.Fatalf("item %d missing", i)
		}
		if i == 2 {
			if item.Status != domain.StatusFailed {
				t.Fatalf("expected item 2 failed, got %s", item.Status)
			}
			if item.Error == "" {
				t.Fatal("expected failure message on item 2")
			}
			if item.Processed != nil {
				t.Fatal("expected no output handle on failed item")
			}
			continue
		}
		if item.Status != domain.StatusCompleted {
			t.Fatalf("expected item %d completed, got %s", i, item.Status)
		}
		if item.Processed == nil {
			t.Fatalf("expected output handle on item %d", i)
		}
	}

	if len(progress) == 0 || progress[len(progress)-1] != 5 {
		t.Fatalf("expected progress to finish at 5, got %v", progress)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Fatalf("expected monotonic progress, got %v", progress)
		}
	}

	if summary.OutputBytes <= 0 {
		t.Fatal("expected output bytes accounting")
	}
	if summary.PixelsProcessed != 4*1280*720 {
		t.Fatalf("expected 4 canvases of pixels, got %d", summary.PixelsProcessed)
	}
}

func TestExportAllCleanupFallbackMatchesDisabledRun(t *testing.T) {
	src := buildTestPNG(t, 80, 60)

	runDisabled := func() []byte {
		batch, _ := seedBatch(t, [][]byte{src})
		runner := newTestRunner(t, &fakeCleaner{})
		var buf bytes.Buffer
		builder := archive.NewBuilder(&buf)
		settings := exportSettings()
		if _, err := runner.ExportAll(context.Background(), batch, settings, domain.CleanupOptions{}, builder); err != nil {
			t.Fatalf("clean-disabled run: %v", err)
		}
		if err := builder.Close(); err != nil {
			t.Fatalf("close archive: %v", err)
		}
		return buf.Bytes()
	}

	runFallback := func() []byte {
		batch, _ := seedBatch(t, [][]byte{src})
		broken := &fakeCleaner{err: fmt.Errorf("%w: status=503 message=down", cleanup.ErrService)}
		runner := newTestRunner(t, broken)
		var buf bytes.Buffer
		builder := archive.NewBuilder(&buf)
		settings := exportSettings()
		settings.CleanBeforeExport = true
		summary, err := runner.ExportAll(context.Background(), batch, settings, domain.CleanupOptions{}, builder)
		if err != nil {
			t.Fatalf("fallback run: %v", err)
		}
		if err := builder.Close(); err != nil {
			t.Fatalf("close archive: %v", err)
		}
		if summary.Completed != 1 || summary.Failed != 0 {
			t.Fatalf("expected fallback to complete the item, got %d/%d", summary.Completed, summary.Failed)
		}
		if broken.callCount() != 1 {
			t.Fatalf("expected one cleanup attempt, got %d", broken.callCount())
		}
		return buf.Bytes()
	}

	if !bytes.Equal(runDisabled(), runFallback()) {
		t.Fatal("expected cleanup fallback to produce the same archive as a clean-disabled run")
	}
}

func TestExportAllUsesCleanedBytes(t *testing.T) {
	src := buildTestPNG(t, 80, 60)
	replacement := buildSolidPNG(t, 80, 60, color.NRGBA{R: 250, G: 10, B: 10, A: 255})

	runWith := func(cleaner Cleaner, clean bool) []byte {
		batch, _ := seedBatch(t, [][]byte{src})
		runner := newTestRunner(t, cleaner)
		var buf bytes.Buffer
		builder := archive.NewBuilder(&buf)
		settings := exportSettings()
		settings.CleanBeforeExport = clean
		if _, err := runner.ExportAll(context.Background(), batch, settings, domain.CleanupOptions{}, builder); err != nil {
			t.Fatalf("export run: %v", err)
		}
		if err := builder.Close(); err != nil {
			t.Fatalf("close archive: %v", err)
		}
		return buf.Bytes()
	}

	cleaned := runWith(&fakeCleaner{replace: replacement}, true)
	plain := runWith(&fakeCleaner{}, false)
	if bytes.Equal(cleaned, plain) {
		t.Fatal("expected cleaned bytes to change the composite")
	}
}

func TestExportAllSinkErrorAbortsRun(t *testing.T) {
	batch, ids := seedBatch(t, [][]byte{
		buildTestPNG(t, 64, 64),
		buildTestPNG(t, 64, 64),
	})
	runner := newTestRunner(t, &fakeCleaner{})

	_, err := runner.ExportAll(context.Background(), batch, exportSettings(), domain.CleanupOptions{}, failingSink{})
	if err == nil {
		t.Fatal("expected sink error to abort the run")
	}

	second, _ := batch.Item(ids[1])
	if second.Status != domain.StatusPending {
		t.Fatalf("expected second item untouched after abort, got %s", second.Status)
	}
}

func TestExportAllHonorsCancelledContext(t *testing.T) {
	batch, _ := seedBatch(t, [][]byte{buildTestPNG(t, 64, 64)})
	runner := newTestRunner(t, &fakeCleaner{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.ExportAll(ctx, batch, exportSettings(), domain.CleanupOptions{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCleanAllReplacesPreviews(t *testing.T) {
	contents := [][]byte{
		buildTestPNG(t, 32, 32),
		buildTestPNG(t, 48, 48),
		buildTestPNG(t, 64, 64),
	}
	batch, ids := seedBatch(t, contents)
	runner := newTestRunner(t, &fakeCleaner{})

	summary, err := runner.CleanAll(context.Background(), batch, domain.CleanupOptions{})
	if err != nil {
		t.Fatalf("clean run: %v", err)
	}
	if summary.Completed != 3 || summary.Failed != 0 {
		t.Fatalf("expected 3/0, got %d/%d", summary.Completed, summary.Failed)
	}

	for i, itemID := range ids {
		item, ok := batch.Item(itemID)
		if !ok {
			t.Fatalf("item %d missing", i)
		}
		if item.Status != domain.StatusCompleted {
			t.Fatalf("expected item %d completed, got %s", i, item.Status)
		}
		if item.Preview == nil {
			t.Fatalf("expected preview on item %d", i)
		}
		data, err := item.Source().Bytes(context.Background())
		if err != nil {
			t.Fatalf("read preview %d: %v", i, err)
		}
		want := append([]byte("cleaned:"), contents[i]...)
		if !bytes.Equal(data, want) {
			t.Fatalf("expected cleaned bytes for item %d", i)
		}
	}
}

func TestCleanAllNotConfiguredAbortsRun(t *testing.T) {
	batch, ids := seedBatch(t, [][]byte{
		buildTestPNG(t, 32, 32),
		buildTestPNG(t, 32, 32),
	})
	runner := newTestRunner(t, &fakeCleaner{err: cleanup.ErrNotConfigured})

	summary, err := runner.CleanAll(context.Background(), batch, domain.CleanupOptions{})
	if !errors.Is(err, cleanup.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if summary.Completed != 0 || summary.Failed != 0 {
		t.Fatalf("expected nothing settled, got %d/%d", summary.Completed, summary.Failed)
	}

	for i, itemID := range ids {
		item, _ := batch.Item(itemID)
		if item.Status == domain.StatusFailed {
			t.Fatalf("expected item %d not failed on configuration abort", i)
		}
	}
}

func TestCleanAllServiceErrorFailsItemAndContinues(t *testing.T) {
	batch, ids := seedBatch(t, [][]byte{
		buildTestPNG(t, 32, 32),
		buildTestPNG(t, 32, 32),
		buildTestPNG(t, 32, 32),
	})
	cleaner := &fakeCleaner{failFor: map[string]error{
		"img-001.png": fmt.Errorf("%w: status=500 message=inference crashed", cleanup.ErrService),
	}}
	runner := newTestRunner(t, cleaner)

	summary, err := runner.CleanAll(context.Background(), batch, domain.CleanupOptions{})
	if err != nil {
		t.Fatalf("clean run: %v", err)
	}
	if summary.Completed != 2 || summary.Failed != 1 {
		t.Fatalf("expected 2/1, got %d/%d", summary.Completed, summary.Failed)
	}

	failed, _ := batch.Item(ids[1])
	if failed.Status != domain.StatusFailed {
		t.Fatalf("expected middle item failed, got %s", failed.Status)
	}
	if failed.Preview != nil {
		t.Fatal("expected no preview on failed item")
	}
}

func TestRunnerReportsStatusTransitions(t *testing.T) {
	batch, ids := seedBatch(t, [][]byte{buildTestPNG(t, 64, 64)})

	recorder := &statusRecorder{}
	cleaner := &fakeCleaner{replace: buildTestPNG(t, 64, 64)}
	runner := newTestRunner(t, cleaner)
	runner.Status = recorder

	settings := exportSettings()
	settings.CleanBeforeExport = true
	if _, err := runner.ExportAll(context.Background(), batch, settings, domain.CleanupOptions{}, nil); err != nil {
		t.Fatalf("export run: %v", err)
	}

	seen := recorder.statuses[ids[0]]
	want := []domain.Status{domain.StatusDetecting, domain.StatusRemoving, domain.StatusCompleted}
	if len(seen) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), seen)
	}
	for i, status := range want {
		if seen[i] != status {
			t.Fatalf("expected transition %d to be %s, got %s", i, status, seen[i])
		}
	}
}

func buildTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func buildSolidPNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode solid png: %v", err)
	}
	return buf.Bytes()
}
