// Package lbph wraps the OpenCV Local Binary Patterns Histograms face
// recognizer for canonical grayscale templates.
//
// A Model is trained once and never updated. Prediction returns the label of
// the nearest training histogram together with its chi-square distance.
package lbph

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"
)

// Params holds the LBPH tuning.
type Params struct {
	Radius    int
	Neighbors int
	GridX     int
	GridY     int
}

// DefaultParams is the tuning used for attendance templates.
var DefaultParams = Params{Radius: 1, Neighbors: 4, GridX: 4, GridY: 4}

var (
	ErrNoSamples     = errors.New("lbph: no training samples")
	ErrImageTooSmall = errors.New("lbph: image too small for radius and grid")
	ErrEmptyModel    = errors.New("lbph: model has no samples")
	ErrModelClosed   = errors.New("lbph: model is closed")
)

func (p Params) validate() error {
	if p.Radius < 1 || p.Neighbors < 1 || p.Neighbors > 16 || p.GridX < 1 || p.GridY < 1 {
		return fmt.Errorf("lbph: invalid params %+v", p)
	}
	return nil
}

// fits reports whether an image of size w x h leaves at least one LBP code
// per grid cell.
func (p Params) fits(w, h int) bool {
	return w-2*p.Radius >= p.GridX && h-2*p.Radius >= p.GridY
}

// Sample is one labelled training image.
type Sample struct {
	Label uint
	Image *image.Gray
}

// Prediction is the nearest training sample for a query.
type Prediction struct {
	Label    uint
	Distance float64
}

// Model is a trained recognizer. Predict may be called concurrently; Close
// waits for running predictions before releasing the recognizer.
type Model struct {
	params Params
	labels []uint

	mu         sync.RWMutex
	recognizer *contrib.LBPHFaceRecognizer // nil once closed
}

// Train builds a recognizer from samples. Samples with the same label are
// kept separately.
func Train(ctx context.Context, samples []Sample, params Params) (*Model, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	mats := make([]gocv.Mat, 0, len(samples))
	defer func() {
		for _, m := range mats {
			m.Close()
		}
	}()
	labels := make([]int, 0, len(samples))
	kept := make([]uint, 0, len(samples))
	for i, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("lbph: training interrupted at sample %d: %w", i, err)
		}
		if s.Label > math.MaxInt32 {
			return nil, fmt.Errorf("lbph: sample %d label %d out of range", i, s.Label)
		}
		mat, err := grayToMat(s.Image, params)
		if err != nil {
			return nil, fmt.Errorf("lbph: sample %d (label %d): %w", i, s.Label, err)
		}
		mats = append(mats, mat)
		labels = append(labels, int(s.Label))
		kept = append(kept, s.Label)
	}

	recognizer := contrib.NewLBPHFaceRecognizer()
	recognizer.SetRadius(params.Radius)
	recognizer.SetNeighbors(params.Neighbors)
	recognizer.SetGridX(params.GridX)
	recognizer.SetGridY(params.GridY)
	recognizer.Train(mats, labels)

	if err := ctx.Err(); err != nil {
		recognizer.Close()
		return nil, fmt.Errorf("lbph: training interrupted: %w", err)
	}
	return &Model{params: params, labels: kept, recognizer: recognizer}, nil
}

// Len returns the number of training samples.
func (m *Model) Len() int {
	if m == nil {
		return 0
	}
	return len(m.labels)
}

// Labels returns the distinct labels in training order.
func (m *Model) Labels() []uint {
	seen := make(map[uint]struct{}, len(m.labels))
	out := make([]uint, 0, len(m.labels))
	for _, l := range m.labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	return out
}

// Params returns the tuning the model was trained with.
func (m *Model) Params() Params { return m.params }

// Predict returns the label of the closest training histogram.
func (m *Model) Predict(img *image.Gray) (Prediction, error) {
	if m == nil || len(m.labels) == 0 {
		return Prediction{}, ErrEmptyModel
	}
	mat, err := grayToMat(img, m.params)
	if err != nil {
		return Prediction{}, err
	}
	defer mat.Close()

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.recognizer == nil {
		return Prediction{}, ErrModelClosed
	}
	resp := m.recognizer.PredictExtendedResponse(mat)
	if resp.Label < 0 {
		return Prediction{}, fmt.Errorf("lbph: no label predicted (distance %.4f)", resp.Confidence)
	}
	return Prediction{Label: uint(resp.Label), Distance: float64(resp.Confidence)}, nil
}

// Close releases the recognizer once no prediction holds it. It is safe to
// call more than once.
func (m *Model) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recognizer != nil {
		m.recognizer.Close()
		m.recognizer = nil
	}
}

// grayToMat copies img into a single-channel 8-bit Mat.
func grayToMat(img *image.Gray, params Params) (gocv.Mat, error) {
	if img == nil {
		return gocv.Mat{}, ErrImageTooSmall
	}
	b := img.Bounds()
	if !params.fits(b.Dx(), b.Dy()) {
		return gocv.Mat{}, fmt.Errorf("%w: %dx%d", ErrImageTooSmall, b.Dx(), b.Dy())
	}
	pix := make([]byte, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		off := img.PixOffset(b.Min.X, y)
		pix = append(pix, img.Pix[off:off+b.Dx()]...)
	}
	return gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC1, pix)
}
