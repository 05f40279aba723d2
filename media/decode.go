package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// JPEGDataURLPrefix is the only data URL header accepted for recognition frames.
const JPEGDataURLPrefix = "data:image/jpeg;base64,"

// DecodeImage decodes any registered raster format and applies the EXIF
// orientation when one is present.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrUnsupportedImage)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	if format == "jpeg" || format == "tiff" {
		img = applyOrientation(img, readOrientation(data))
	}
	return img, nil
}

// DecodeDataURL decodes a "data:image/jpeg;base64," URL into a JPEG frame.
func DecodeDataURL(dataURL string) (image.Image, error) {
	if !strings.HasPrefix(dataURL, JPEGDataURLPrefix) {
		return nil, fmt.Errorf("missing %q prefix: %w", JPEGDataURLPrefix, ErrInvalidDataURL)
	}
	payload := strings.TrimSpace(dataURL[len(JPEGDataURLPrefix):])
	if payload == "" {
		return nil, fmt.Errorf("empty payload: %w", ErrInvalidDataURL)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("bad base64: %v: %w", err, ErrInvalidDataURL)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrUnsupportedImage)
	}
	if img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}
	return img, nil
}

// EncodeDataURL is the inverse of DecodeDataURL.
func EncodeDataURL(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return JPEGDataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// readOrientation returns the EXIF orientation tag, or 1 when absent.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil {
		log.Printf("media: Warning - unreadable EXIF orientation: %v", err)
		return 1
	}
	return v
}

func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
