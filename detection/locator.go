// Package detection finds candidate face rectangles by running a primary and
// an alternate detector over a schedule of scan configurations.
package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"strconv"
	"strings"
)

// ScanParams is one detector configuration.
type ScanParams struct {
	ScaleFactor  float64
	MinNeighbors int
	MinSize      int
}

func (p ScanParams) String() string {
	return fmt.Sprintf("scale=%.2f neighbors=%d min=%d", p.ScaleFactor, p.MinNeighbors, p.MinSize)
}

// Detector finds face rectangles in a frame. Rectangles are in frame coordinates.
type Detector interface {
	Name() string
	Detect(ctx context.Context, frame image.Image, params ScanParams) ([]image.Rectangle, error)
}

// EnrollmentSchedule is the single configuration used on enrollment photos.
var EnrollmentSchedule = []ScanParams{
	{ScaleFactor: 1.1, MinNeighbors: 4, MinSize: 30},
}

// RecognitionSchedule goes from strictest to most permissive.
var RecognitionSchedule = []ScanParams{
	{ScaleFactor: 1.1, MinNeighbors: 5, MinSize: 60},
	{ScaleFactor: 1.1, MinNeighbors: 4, MinSize: 60},
	{ScaleFactor: 1.1, MinNeighbors: 3, MinSize: 60},
	{ScaleFactor: 1.05, MinNeighbors: 5, MinSize: 60},
	{ScaleFactor: 1.05, MinNeighbors: 4, MinSize: 60},
	{ScaleFactor: 1.05, MinNeighbors: 3, MinSize: 60},
}

// ParseSchedule reads a comma separated list of scale:neighbors:minsize
// entries, e.g. "1.1:5:60,1.05:3:60". Order is preserved.
func ParseSchedule(s string) ([]ScanParams, error) {
	var out []ScanParams
	for i, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("schedule entry %d %q: want scale:neighbors:minsize", i+1, entry)
		}
		scale, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil || scale <= 1 {
			return nil, fmt.Errorf("schedule entry %d %q: scale must be a number above 1", i+1, entry)
		}
		neighbors, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || neighbors < 1 {
			return nil, fmt.Errorf("schedule entry %d %q: neighbors must be a positive integer", i+1, entry)
		}
		minSize, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || minSize < 1 {
			return nil, fmt.Errorf("schedule entry %d %q: min size must be a positive integer", i+1, entry)
		}
		out = append(out, ScanParams{ScaleFactor: scale, MinNeighbors: neighbors, MinSize: minSize})
	}
	if len(out) == 0 {
		return nil, errors.New("schedule has no entries")
	}
	return out, nil
}

// ErrNoDetectors is returned when a Locator has neither detector configured.
var ErrNoDetectors = errors.New("no face detectors configured")

// Locator runs the schedule and returns deduplicated candidates.
type Locator struct {
	Primary   Detector
	Alternate Detector // optional
	Schedule  []ScanParams
	Overlap   OverlapPolicy
}

func NewEnrollmentLocator(primary, alternate Detector, overlap OverlapPolicy) *Locator {
	return &Locator{Primary: primary, Alternate: alternate, Schedule: EnrollmentSchedule, Overlap: overlap}
}

func NewRecognitionLocator(primary, alternate Detector, overlap OverlapPolicy) *Locator {
	return &Locator{Primary: primary, Alternate: alternate, Schedule: RecognitionSchedule, Overlap: overlap}
}

// Locate walks the schedule and stops at the first configuration where either
// detector finds something. Primary candidates come before alternate ones, and
// the first of any duplicate group is kept. An empty result is not an error.
func (l *Locator) Locate(ctx context.Context, frame image.Image) ([]image.Rectangle, error) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, fmt.Errorf("locate: empty frame")
	}
	detectors := make([]Detector, 0, 2)
	for _, d := range []Detector{l.Primary, l.Alternate} {
		if d != nil {
			detectors = append(detectors, d)
		}
	}
	if len(detectors) == 0 {
		return nil, ErrNoDetectors
	}
	overlap := l.Overlap
	if overlap == nil {
		overlap = HalfOfSmaller
	}

	for _, params := range l.Schedule {
		var pooled []image.Rectangle
		for _, d := range detectors {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("locate interrupted: %w", err)
			}
			rects, err := d.Detect(ctx, frame, params)
			if err != nil {
				return nil, fmt.Errorf("detector %s (%s): %w", d.Name(), params, err)
			}
			pooled = append(pooled, rects...)
		}
		candidates := Dedupe(pooled, overlap)
		if len(candidates) == 0 {
			continue
		}
		log.Printf("detection: %d candidate(s) at %s (%d raw, policy %s)", len(candidates), params, len(pooled), overlap.Name())
		return candidates, nil
	}
	return nil, nil
}
