package domain

import "testing"

func TestProcessingOptionsValidate(t *testing.T) {
	if err := DefaultProcessingOptions().Validate(); err != nil {
		t.Fatalf("expected default options to validate, got error: %v", err)
	}

	lowConfidence := DefaultProcessingOptions()
	lowConfidence.DetectionConfidence = 0.4
	if err := lowConfidence.Validate(); err == nil {
		t.Fatal("expected validation error for confidence below 0.5")
	}

	highConfidence := DefaultProcessingOptions()
	highConfidence.DetectionConfidence = 0.96
	if err := highConfidence.Validate(); err == nil {
		t.Fatal("expected validation error for confidence above 0.95")
	}

	badMethod := DefaultProcessingOptions()
	badMethod.InpaintingMethod = "patchmatch"
	if err := badMethod.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported inpainting method")
	}

	badRegion := DefaultProcessingOptions()
	badRegion.ManualRegions = []Region{{X: 0.2, Y: 0.2, Width: 1.5, Height: 0.1, Confidence: 1}}
	if err := badRegion.Validate(); err == nil {
		t.Fatal("expected validation error for region width outside [0, 1]")
	}

	badTransform := DefaultProcessingOptions()
	badTransform.Transform = &TransformOptions{FitMode: "stretch"}
	if err := badTransform.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported transform fit mode")
	}
}

func TestProcessingOptionsSettings(t *testing.T) {
	opts := DefaultProcessingOptions()
	s, err := opts.Settings()
	if err != nil {
		t.Fatalf("expected settings from default options, got error: %v", err)
	}
	if s.FitMode != FitContainBlur || s.Preset != PresetUltra8K {
		t.Fatalf("expected default fit mode and preset, got %s/%s", s.FitMode, s.Preset)
	}
	if !s.CleanBeforeExport {
		t.Fatal("expected service runs to request cleanup")
	}

	opts.Transform = &TransformOptions{
		FitMode:      "cover",
		OutputPreset: PresetYTThumbnail,
		Enhance:      true,
	}
	s, err = opts.Settings()
	if err != nil {
		t.Fatalf("expected settings from transform block, got error: %v", err)
	}
	if s.FitMode != FitCover {
		t.Fatalf("expected cover fit mode, got %s", s.FitMode)
	}
	if s.Preset != PresetYTThumbnail {
		t.Fatalf("expected yt_thumbnail preset, got %s", s.Preset)
	}
	if !s.Enhance {
		t.Fatal("expected enhance to carry over from transform block")
	}

	partial := DefaultProcessingOptions()
	partial.Transform = &TransformOptions{FitMode: "contain_black"}
	s, err = partial.Settings()
	if err != nil {
		t.Fatalf("expected settings from partial transform block, got error: %v", err)
	}
	if s.FitMode != FitContainBlack {
		t.Fatalf("expected contain_black fit mode, got %s", s.FitMode)
	}
	if s.Preset != PresetUltra8K {
		t.Fatalf("expected unset preset to keep the default, got %s", s.Preset)
	}
}

func TestProcessingOptionsCleanup(t *testing.T) {
	opts := DefaultProcessingOptions()
	opts.InpaintingMethod = "TELEA"
	opts.ManualRegions = []Region{{X: 0.1, Y: 0.1, Width: 0.2, Height: 0.2, Confidence: 0.9}}

	c := opts.Cleanup()
	if c.Method != InpaintTelea {
		t.Fatalf("expected normalized method telea, got %s", c.Method)
	}
	if c.Confidence != 0.7 {
		t.Fatalf("expected default confidence 0.7, got %v", c.Confidence)
	}
	if !c.OCR || !c.Logos || !c.AutoDetect {
		t.Fatal("expected detection toggles to carry over")
	}
	if len(c.Regions) != 1 {
		t.Fatalf("expected 1 region, got %d", len(c.Regions))
	}
}
