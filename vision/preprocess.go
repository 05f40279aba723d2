package vision

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/camden-git/attendancebackend/media"
)

// Preprocessor turns face patches into canonical templates: grayscale,
// Size x Size, a 3x3 Gaussian blur, then histogram equalization.
type Preprocessor struct {
	Size int
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{Size: media.TemplateSize}
}

// Canonicalize runs the pipeline on patch. The result is deterministic for a
// given input.
func (p *Preprocessor) Canonicalize(patch image.Image) (*image.Gray, error) {
	if patch == nil || patch.Bounds().Empty() {
		return nil, media.ErrEmptyImage
	}

	src, err := gocv.ImageToMatRGB(patch)
	if err != nil {
		return nil, fmt.Errorf("convert patch: %w", err)
	}
	defer src.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Pt(p.Size, p.Size), 0, 0, gocv.InterpolationLinear)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(resized, &blurred, image.Pt(3, 3), 0, 0, gocv.BorderDefault)

	equalized := gocv.NewMat()
	defer equalized.Close()
	gocv.EqualizeHist(blurred, &equalized)

	return matToGray(equalized, p.Size)
}

// matToGray copies a continuous single-channel Mat into an image.Gray.
func matToGray(mat gocv.Mat, size int) (*image.Gray, error) {
	if mat.Rows() != size || mat.Cols() != size || mat.Type() != gocv.MatTypeCV8UC1 {
		return nil, fmt.Errorf("canonicalize produced %dx%d type %v, want %dx%d 8-bit gray", mat.Cols(), mat.Rows(), mat.Type(), size, size)
	}
	pix := mat.ToBytes()
	if len(pix) != size*size {
		return nil, errors.New("canonicalize produced a non-continuous matrix")
	}
	out := image.NewGray(image.Rect(0, 0, size, size))
	copy(out.Pix, pix)
	return out, nil
}
