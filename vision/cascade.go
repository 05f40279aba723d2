// Package vision adapts OpenCV Haar cascades and drawing routines to the
// detection and debug tooling.
package vision

import (
	"context"
	"fmt"
	"image"
	"log"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/camden-git/attendancebackend/detection"
)

// CascadeDetector runs one Haar cascade. The underlying classifier is not
// safe for concurrent use, so calls are serialized.
type CascadeDetector struct {
	name       string
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	closed     bool
}

var _ detection.Detector = (*CascadeDetector)(nil)

// NewCascadeDetector loads the cascade XML at path.
func NewCascadeDetector(name, path string) (*CascadeDetector, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cascade %s: %w", name, err)
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		classifier.Close()
		return nil, fmt.Errorf("failed to load %s cascade from %s", name, path)
	}
	log.Printf("vision: loaded %s cascade from %s", name, path)
	return &CascadeDetector{name: name, classifier: classifier}, nil
}

func (d *CascadeDetector) Name() string { return d.name }

// Detect converts the frame to grayscale and runs a multi-scale scan.
func (d *CascadeDetector) Detect(ctx context.Context, frame image.Image, params detection.ScanParams) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageToMatRGB(frame)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("cascade %s is closed", d.name)
	}
	minSize := image.Pt(params.MinSize, params.MinSize)
	rects := d.classifier.DetectMultiScaleWithParams(gray, params.ScaleFactor, params.MinNeighbors, 0, minSize, image.Pt(0, 0))

	// Mat coordinates start at zero; shift back for frames with a non-zero origin.
	origin := frame.Bounds().Min
	if origin != (image.Point{}) {
		for i := range rects {
			rects[i] = rects[i].Add(origin)
		}
	}
	return rects, nil
}

// Close releases the classifier. Further Detect calls fail.
func (d *CascadeDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.classifier.Close()
}

// Cascades holds the primary and the optional alternate detector.
type Cascades struct {
	Primary   *CascadeDetector
	Alternate *CascadeDetector
}

// LoadCascades loads the primary cascade, which must exist, and the alternate
// one if its path is set. A missing alternate is logged and skipped.
func LoadCascades(primaryPath, alternatePath string) (*Cascades, error) {
	primary, err := NewCascadeDetector("primary", primaryPath)
	if err != nil {
		return nil, err
	}
	c := &Cascades{Primary: primary}
	if alternatePath == "" {
		return c, nil
	}
	alternate, err := NewCascadeDetector("alternate", alternatePath)
	if err != nil {
		log.Printf("vision: Warning - alternate cascade unavailable, using primary only: %v", err)
		return c, nil
	}
	c.Alternate = alternate
	return c, nil
}

// Detectors returns the loaded detectors as interfaces, with a nil alternate
// when none was loaded.
func (c *Cascades) Detectors() (primary, alternate detection.Detector) {
	primary = c.Primary
	if c.Alternate != nil {
		alternate = c.Alternate
	}
	return primary, alternate
}

func (c *Cascades) Close() {
	c.Primary.Close()
	if c.Alternate != nil {
		c.Alternate.Close()
	}
}
