package detection

import (
	"fmt"
	"image"
)

// OverlapPolicy reports whether two candidate rectangles describe the same face.
type OverlapPolicy interface {
	Name() string
	Duplicate(a, b image.Rectangle) bool
}

type halfOfSmaller struct{}

// HalfOfSmaller treats rectangles as duplicates when their intersection
// covers more than half of the smaller rectangle.
var HalfOfSmaller OverlapPolicy = halfOfSmaller{}

func (halfOfSmaller) Name() string { return "half_of_smaller" }

func (halfOfSmaller) Duplicate(a, b image.Rectangle) bool {
	inter := area(a.Intersect(b))
	if inter == 0 {
		return false
	}
	smaller := min(area(a), area(b))
	return 2*inter > smaller
}

type anyOverlap struct{}

// AnyOverlap treats any positive-area intersection as a duplicate.
var AnyOverlap OverlapPolicy = anyOverlap{}

func (anyOverlap) Name() string { return "any" }

func (anyOverlap) Duplicate(a, b image.Rectangle) bool {
	return a.Overlaps(b)
}

// PolicyByName maps a configured policy name to its implementation.
func PolicyByName(name string) (OverlapPolicy, error) {
	switch name {
	case HalfOfSmaller.Name():
		return HalfOfSmaller, nil
	case AnyOverlap.Name():
		return AnyOverlap, nil
	default:
		return nil, fmt.Errorf("unknown overlap policy %q", name)
	}
}

func area(r image.Rectangle) int {
	if r.Empty() {
		return 0
	}
	return r.Dx() * r.Dy()
}

// Dedupe keeps the first rectangle of every group of duplicates, preserving
// input order. A rectangle is dropped when it duplicates any kept rectangle.
func Dedupe(rects []image.Rectangle, policy OverlapPolicy) []image.Rectangle {
	kept := make([]image.Rectangle, 0, len(rects))
	for _, r := range rects {
		if r.Empty() {
			continue
		}
		dup := false
		for _, k := range kept {
			if policy.Duplicate(k, r) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, r)
		}
	}
	return kept
}
