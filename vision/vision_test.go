package vision

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camden-git/attendancebackend/detection"
	"github.com/camden-git/attendancebackend/media"
)

// gocvDir returns the gocv module checkout, which ships the stock cascades
// and a sample face photo.
func gocvDir(t *testing.T) string {
	t.Helper()
	modCache := os.Getenv("GOMODCACHE")
	if modCache == "" {
		gopath := os.Getenv("GOPATH")
		if gopath == "" {
			home, err := os.UserHomeDir()
			require.NoError(t, err)
			gopath = filepath.Join(home, "go")
		}
		modCache = filepath.Join(gopath, "pkg", "mod")
	}
	dirs, _ := filepath.Glob(filepath.Join(modCache, "gocv.io", "x", "gocv@*"))
	sort.Strings(dirs)
	for i := len(dirs) - 1; i >= 0; i-- {
		if _, err := os.Stat(filepath.Join(dirs[i], "data", "haarcascade_frontalface_default.xml")); err == nil {
			return dirs[i]
		}
	}
	t.Skip("gocv module sources not found in the module cache")
	return ""
}

// loadFace returns the sample face photo as RGBA at the origin.
func loadFace(t *testing.T, dir string) *image.RGBA {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "images", "face.jpg"))
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

var faceScan = detection.ScanParams{ScaleFactor: 1.1, MinNeighbors: 3, MinSize: 30}

func TestCascadeDetectorFindsFace(t *testing.T) {
	dir := gocvDir(t)
	cascades, err := LoadCascades(
		filepath.Join(dir, "data", "haarcascade_frontalface_default.xml"),
		filepath.Join(dir, "data", "missing_alt.xml"),
	)
	require.NoError(t, err)
	defer cascades.Close()
	primary, alternate := cascades.Detectors()
	assert.Nil(t, alternate)

	face := loadFace(t, dir)
	rects, err := primary.Detect(context.Background(), face, faceScan)
	require.NoError(t, err)
	require.NotEmpty(t, rects)
	for _, r := range rects {
		assert.True(t, r.In(face.Bounds()), "%v outside %v", r, face.Bounds())
	}

	t.Run("frame with offset origin", func(t *testing.T) {
		const dx, dy = 70, 45
		b := face.Bounds()
		canvas := image.NewRGBA(image.Rect(0, 0, b.Dx()+2*dx, b.Dy()+2*dy))
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.RGBA{128, 128, 128, 255}), image.Point{}, draw.Src)
		placed := b.Add(image.Pt(dx, dy))
		draw.Draw(canvas, placed, face, image.Point{}, draw.Src)
		view := canvas.SubImage(placed)

		shifted, err := primary.Detect(context.Background(), view, faceScan)
		require.NoError(t, err)
		require.NotEmpty(t, shifted)
		for _, r := range shifted {
			assert.True(t, r.In(view.Bounds()), "%v outside %v", r, view.Bounds())
		}
		want := rects[0].Add(image.Pt(dx, dy))
		assert.Contains(t, shifted, want)
	})

	t.Run("closed", func(t *testing.T) {
		d, err := NewCascadeDetector("extra", filepath.Join(dir, "data", "haarcascade_frontalface_default.xml"))
		require.NoError(t, err)
		d.Close()
		d.Close()
		_, err = d.Detect(context.Background(), face, faceScan)
		assert.Error(t, err)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := primary.Detect(ctx, face, faceScan)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func noiseImage(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	return img
}

func TestCanonicalize(t *testing.T) {
	p := NewPreprocessor()

	tests := []struct {
		name  string
		patch image.Image
	}{
		{"color landscape", noiseImage(300, 200, 1)},
		{"small portrait", noiseImage(40, 70, 2)},
		{"gray", image.NewGray(image.Rect(10, 10, 90, 90))},
		{"offset bounds", noiseImage(200, 200, 3).SubImage(image.Rect(50, 60, 150, 170))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.Canonicalize(tt.patch)
			require.NoError(t, err)
			assert.Equal(t, image.Rect(0, 0, media.TemplateSize, media.TemplateSize), out.Bounds())
			assert.Len(t, out.Pix, media.TemplateSize*media.TemplateSize)
		})
	}

	t.Run("deterministic", func(t *testing.T) {
		src := noiseImage(160, 120, 7)
		a, err := p.Canonicalize(src)
		require.NoError(t, err)
		b, err := p.Canonicalize(src)
		require.NoError(t, err)
		assert.Equal(t, a.Pix, b.Pix)
	})

	t.Run("equalized to full range", func(t *testing.T) {
		// a low-contrast ramp between 100 and 140
		src := image.NewGray(image.Rect(0, 0, 128, 128))
		for y := 0; y < 128; y++ {
			for x := 0; x < 128; x++ {
				src.Pix[y*src.Stride+x] = uint8(100 + (x*40)/127)
			}
		}
		out, err := p.Canonicalize(src)
		require.NoError(t, err)
		lo, hi := uint8(255), uint8(0)
		for _, v := range out.Pix {
			lo, hi = min(lo, v), max(hi, v)
		}
		assert.Equal(t, uint8(0), lo)
		assert.Equal(t, uint8(255), hi)
	})

	t.Run("flat input stays flat", func(t *testing.T) {
		src := image.NewGray(image.Rect(0, 0, 64, 64))
		for i := range src.Pix {
			src.Pix[i] = 77
		}
		out, err := p.Canonicalize(src)
		require.NoError(t, err)
		for _, v := range out.Pix[1:] {
			assert.Equal(t, out.Pix[0], v)
		}
	})

	t.Run("zero area", func(t *testing.T) {
		_, err := p.Canonicalize(image.NewRGBA(image.Rect(0, 0, 0, 10)))
		assert.ErrorIs(t, err, media.ErrEmptyImage)
		_, err = p.Canonicalize(nil)
		assert.ErrorIs(t, err, media.ErrEmptyImage)
	})
}

func TestNewCascadeDetectorMissingFile(t *testing.T) {
	_, err := NewCascadeDetector("primary", filepath.Join(t.TempDir(), "missing.xml"))
	assert.Error(t, err)

	_, err = LoadCascades(filepath.Join(t.TempDir(), "missing.xml"), "")
	assert.Error(t, err)
}

func TestRenderCandidates(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 120, 80))
	for y := 0; y < 80; y++ {
		for x := 0; x < 120; x++ {
			frame.Set(x, y, color.RGBA{200, 200, 200, 255})
		}
	}

	out, err := RenderCandidates(frame, []image.Rectangle{image.Rect(10, 10, 50, 50), image.Rect(60, 20, 100, 60)})
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, frame.Bounds().Size(), img.Bounds().Size())

	// The first box edge is green.
	r, g, b, _ := img.At(10, 30).RGBA()
	assert.Greater(t, g, r)
	assert.Greater(t, g, b)
}
