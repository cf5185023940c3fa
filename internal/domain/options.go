package domain

import (
	"fmt"
	"strings"
)

const (
	InpaintLama  = "lama"
	InpaintTelea = "telea"
	InpaintNS    = "ns"
)

// Region is a watermark region in normalized image coordinates (0-1).
type Region struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text,omitempty"`
	Type       string  `json:"type,omitempty"`
}

func (r Region) validate(i int) error {
	for _, c := range []struct {
		name  string
		value float64
	}{
		{"x", r.X},
		{"y", r.Y},
		{"width", r.Width},
		{"height", r.Height},
		{"confidence", r.Confidence},
	} {
		if c.value < 0 || c.value > 1 {
			return fmt.Errorf("manual_regions[%d].%s must be within [0, 1]", i, c.name)
		}
	}
	return nil
}

// TransformOptions extends the legacy processing request with the compositing
// step. When absent the run is cleanup-only, matching the original service.
type TransformOptions struct {
	FitMode      string `json:"fit_mode"`
	OutputPreset string `json:"output_preset"`
	Enhance      bool   `json:"enhance"`
}

// ProcessingOptions is the body of POST /process/{job_id}. Field names and
// defaults mirror the original API so existing clients keep working.
type ProcessingOptions struct {
	AutoDetect          bool              `json:"auto_detect"`
	DetectionConfidence float64           `json:"detection_confidence"`
	OCREnabled          bool              `json:"ocr_enabled"`
	LogoDetection       bool              `json:"logo_detection"`
	InpaintingMethod    string            `json:"inpainting_method"`
	PreserveQuality     bool              `json:"preserve_quality"`
	ManualRegions       []Region          `json:"manual_regions"`
	Transform           *TransformOptions `json:"transform,omitempty"`
}

func DefaultProcessingOptions() ProcessingOptions {
	return ProcessingOptions{
		AutoDetect:          true,
		DetectionConfidence: 0.7,
		OCREnabled:          true,
		LogoDetection:       true,
		InpaintingMethod:    InpaintLama,
		PreserveQuality:     true,
	}
}

func (o ProcessingOptions) Validate() error {
	if o.DetectionConfidence < 0.5 || o.DetectionConfidence > 0.95 {
		return fmt.Errorf("detection_confidence must be within [0.5, 0.95], got %v", o.DetectionConfidence)
	}
	switch strings.ToLower(strings.TrimSpace(o.InpaintingMethod)) {
	case InpaintLama, InpaintTelea, InpaintNS:
	default:
		return fmt.Errorf("unsupported inpainting_method: %s", o.InpaintingMethod)
	}
	for i, region := range o.ManualRegions {
		if err := region.validate(i); err != nil {
			return err
		}
	}
	if o.Transform != nil {
		if _, err := o.Settings(); err != nil {
			return err
		}
	}
	return nil
}

// Settings maps the optional transform block onto batch settings. Cleanup is
// always requested for service runs; the adapter degrades gracefully when the
// cleanup capability is not configured.
func (o ProcessingOptions) Settings() (BatchSettings, error) {
	s := DefaultSettings()
	s.CleanBeforeExport = true
	if o.Transform == nil {
		return s, nil
	}
	if mode := FitMode(strings.ToLower(strings.TrimSpace(o.Transform.FitMode))); mode != "" {
		s.FitMode = mode
	}
	if preset := strings.ToLower(strings.TrimSpace(o.Transform.OutputPreset)); preset != "" {
		s.Preset = preset
	}
	s.Enhance = o.Transform.Enhance
	if err := s.Validate(); err != nil {
		return BatchSettings{}, err
	}
	return s, nil
}

// CleanupOptions is the slice of a processing request that travels to the
// external cleanup service with each image.
type CleanupOptions struct {
	Method     string
	Confidence float64
	OCR        bool
	Logos      bool
	AutoDetect bool
	Regions    []Region
}

func (o ProcessingOptions) Cleanup() CleanupOptions {
	return CleanupOptions{
		Method:     strings.ToLower(strings.TrimSpace(o.InpaintingMethod)),
		Confidence: o.DetectionConfidence,
		OCR:        o.OCREnabled,
		Logos:      o.LogoDetection,
		AutoDetect: o.AutoDetect,
		Regions:    o.ManualRegions,
	}
}
