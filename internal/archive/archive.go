// Package archive assembles the batch's output zip. Unlike per-item
// processing failures, archive failures kill the whole run: a partial zip is
// worse than no zip.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

var ErrArchive = errors.New("archive write failed")

// Builder writes entries into a zip stream, renaming collisions the way a
// desktop file manager does: "name (2).jpg", "name (3).jpg".
type Builder struct {
	zw    *zip.Writer
	names map[string]struct{}
	count int
}

func NewBuilder(w io.Writer) *Builder {
	return &Builder{
		zw:    zip.NewWriter(w),
		names: make(map[string]struct{}),
	}
}

func (b *Builder) Add(name string, data []byte) error {
	entry := b.dedupe(name)
	f, err := b.zw.Create(entry)
	if err != nil {
		return fmt.Errorf("%w: create entry %s: %v", ErrArchive, entry, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: write entry %s: %v", ErrArchive, entry, err)
	}
	b.count++
	return nil
}

// Len is the number of entries written so far.
func (b *Builder) Len() int {
	return b.count
}

func (b *Builder) Close() error {
	if err := b.zw.Close(); err != nil {
		return fmt.Errorf("%w: finalize: %v", ErrArchive, err)
	}
	return nil
}

func (b *Builder) dedupe(name string) string {
	if strings.TrimSpace(name) == "" {
		name = "image"
	}
	if _, taken := b.names[name]; !taken {
		b.names[name] = struct{}{}
		return name
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, taken := b.names[candidate]; !taken {
			b.names[candidate] = struct{}{}
			return candidate
		}
	}
}

// DownloadName is the filename clients see on the archive download.
func DownloadName(now time.Time) string {
	return fmt.Sprintf("cleaned_images_%s.zip", now.Format("20060102_150405"))
}
