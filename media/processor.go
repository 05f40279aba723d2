package media

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const (
	SnapshotMaxSize       = 256
	SnapshotJpegQuality   = 90
	SnapshotFileExtension = ".jpg"
)

// Processor archives enrollment face crops through a Store.
type Processor struct {
	store Store
}

func NewProcessor(store Store) *Processor {
	return &Processor{store: store}
}

// SaveSnapshot stores a JPEG copy of the face crop, downscaled so its longest
// side is at most SnapshotMaxSize. Returns the relative path.
func (p *Processor) SaveSnapshot(face image.Image) (string, error) {
	b := face.Bounds()
	if b.Empty() {
		return "", ErrEmptyImage
	}

	img := face
	if b.Dx() > SnapshotMaxSize || b.Dy() > SnapshotMaxSize {
		img = imaging.Fit(face, SnapshotMaxSize, SnapshotMaxSize, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(SnapshotJpegQuality)); err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	filename := uuid.NewString() + SnapshotFileExtension
	relPath, err := p.store.Save(AssetTypeSnapshot, filename, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}
	return relPath, nil
}

// DeleteSnapshot removes a previously archived crop.
func (p *Processor) DeleteSnapshot(relPath string) error {
	return p.store.Delete(relPath)
}

// OpenSnapshot opens an archived crop for reading. The caller closes it.
func (p *Processor) OpenSnapshot(relPath string) (io.ReadCloser, os.FileInfo, error) {
	return p.store.Get(relPath)
}
