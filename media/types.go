// media/types.go
package media

import "errors"

type AssetType string

const (
	AssetTypeSnapshot AssetType = "snapshot"
	AssetTypeUnknown  AssetType = "unknown"
)

// TemplateSize is the edge length of a canonical face template.
const TemplateSize = 128

var (
	// ErrEmptyImage is returned for missing or zero-area images and patches.
	ErrEmptyImage = errors.New("image is empty")
	// ErrUnsupportedImage is returned when bytes cannot be decoded as a raster image.
	ErrUnsupportedImage = errors.New("unsupported or corrupt image data")
	// ErrInvalidDataURL is returned for malformed base64 data URLs.
	ErrInvalidDataURL = errors.New("invalid image data url")
	// ErrInvalidTemplate is returned when a stored template is not canonical.
	ErrInvalidTemplate = errors.New("invalid face template")
)
