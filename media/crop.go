package media

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Crop returns the part of frame inside rect, clamped to the frame bounds.
// The rectangle is in frame coordinates.
func Crop(frame image.Image, rect image.Rectangle) (image.Image, error) {
	if frame == nil {
		return nil, ErrEmptyImage
	}
	r := rect.Intersect(frame.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("crop %v outside frame %v: %w", rect, frame.Bounds(), ErrEmptyImage)
	}
	return imaging.Crop(frame, r), nil
}
