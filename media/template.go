package media

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
)

// EncodeTemplate serializes a canonical template as a grayscale PNG.
func EncodeTemplate(tpl *image.Gray) ([]byte, error) {
	if err := checkTemplate(tpl); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, tpl); err != nil {
		return nil, fmt.Errorf("failed to encode template: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeTemplate parses a stored template and verifies it is canonical.
func DecodeTemplate(data []byte) (*image.Gray, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty template: %w", ErrInvalidTemplate)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode template: %v: %w", err, ErrInvalidTemplate)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("template color model %T is not 8-bit grayscale: %w", img, ErrInvalidTemplate)
	}
	if err := checkTemplate(gray); err != nil {
		return nil, err
	}
	return gray, nil
}

func checkTemplate(tpl *image.Gray) error {
	if tpl == nil {
		return fmt.Errorf("nil template: %w", ErrInvalidTemplate)
	}
	b := tpl.Bounds()
	if b.Dx() != TemplateSize || b.Dy() != TemplateSize {
		return fmt.Errorf("template is %dx%d, want %dx%d: %w", b.Dx(), b.Dy(), TemplateSize, TemplateSize, ErrInvalidTemplate)
	}
	return nil
}
