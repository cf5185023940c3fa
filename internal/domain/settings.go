package domain

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

type FitMode string

const (
	// FitContainBlur letterboxes the image over a blurred, darkened copy of
	// itself instead of dead black bars.
	FitContainBlur FitMode = "contain_blur"
	// FitContainBlack letterboxes the image over a solid black canvas.
	FitContainBlack FitMode = "contain_black"
	// FitCover scales the image to fill the canvas, cropping the overhang.
	FitCover FitMode = "cover"
)

func (m FitMode) Valid() bool {
	switch m {
	case FitContainBlur, FitContainBlack, FitCover:
		return true
	default:
		return false
	}
}

// Preset names a fixed output resolution and the filename suffix that
// identifies it in exported archives.
type Preset struct {
	Name   string
	Width  int
	Height int
	Suffix string
}

const (
	PresetUltra8K     = "ultra_8k"
	PresetYTThumbnail = "yt_thumbnail"
)

var presets = map[string]Preset{
	PresetUltra8K:     {Name: PresetUltra8K, Width: 7680, Height: 4320, Suffix: "-8k"},
	PresetYTThumbnail: {Name: PresetYTThumbnail, Width: 1280, Height: 720, Suffix: "-thumbnail"},
}

func PresetByName(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BatchSettings selects how every item in a run is composited. The
// orchestrator snapshots the settings at the start of a run so mid-run
// changes cannot produce mixed output within a single batch.
type BatchSettings struct {
	FitMode           FitMode
	Preset            string
	Enhance           bool
	CleanBeforeExport bool
}

func DefaultSettings() BatchSettings {
	return BatchSettings{
		FitMode: FitContainBlur,
		Preset:  PresetUltra8K,
	}
}

func (s BatchSettings) Validate() error {
	if !s.FitMode.Valid() {
		return fmt.Errorf("unsupported fit_mode: %s", s.FitMode)
	}
	if _, ok := PresetByName(s.Preset); !ok {
		return fmt.Errorf("unknown output_preset: %s", s.Preset)
	}
	return nil
}

// PresetDims resolves the configured preset to pixel dimensions.
func (s BatchSettings) PresetDims() (Preset, error) {
	p, ok := PresetByName(s.Preset)
	if !ok {
		return Preset{}, fmt.Errorf("unknown output_preset: %s", s.Preset)
	}
	return p, nil
}

// EnhanceSuffix marks enhanced exports in their filenames.
const EnhanceSuffix = "-natgeo"

// OutputFileName derives the deterministic archive entry name for an export:
// the original stem, then the enhancement marker when enabled, then the
// preset suffix, always as a .jpg.
func OutputFileName(filename string, preset Preset, enhance bool) string {
	base := filepath.Base(strings.TrimSpace(filename))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "image"
	}
	if enhance {
		stem += EnhanceSuffix
	}
	return stem + preset.Suffix + ".jpg"
}

// CleanedFileName names cleanup-only outputs the way the original service
// did, so legacy clients keep finding the files they expect.
func CleanedFileName(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "" || base == "." {
		base = "image"
	}
	return "cleaned_" + base
}
