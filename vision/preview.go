package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	boxColor   = color.RGBA{0, 0, 255, 0}
	boxPrimary = color.RGBA{0, 255, 0, 0}
)

// RenderCandidates draws the candidate rectangles on frame and returns it as
// JPEG. The first candidate, the one enrollment and recognition use, is drawn
// in green and the rest in blue.
func RenderCandidates(frame image.Image, rects []image.Rectangle) ([]byte, error) {
	img, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer img.Close()

	origin := frame.Bounds().Min
	for i, r := range rects {
		r = r.Sub(origin)
		c := boxColor
		if i == 0 {
			c = boxPrimary
		}
		gocv.Rectangle(&img, r, c, 2)
		gocv.PutText(&img, fmt.Sprintf("#%d %dx%d", i+1, r.Dx(), r.Dy()), image.Pt(r.Min.X, max(12, r.Min.Y-5)), gocv.FontHersheySimplex, 0.5, c, 1)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
