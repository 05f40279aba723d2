package handlers

import (
	"context"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/camden-git/attendancebackend/detection"
	"github.com/camden-git/attendancebackend/media"
)

// RenderFunc draws candidate rectangles on a frame and encodes it as JPEG.
type RenderFunc func(frame image.Image, rects []image.Rectangle) ([]byte, error)

// DebugHandler previews what the locator finds in an uploaded image.
type DebugHandler struct {
	Locator *detection.Locator
	Render  RenderFunc
	Timeout time.Duration
}

// Locate reads a raw image body and responds with the image annotated with
// every candidate face.
func (dh *DebugHandler) Locate(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPhotoBytes))
	if err != nil {
		http.Error(w, "Failed to read image body", http.StatusBadRequest)
		return
	}
	frame, err := media.DecodeImage(data)
	if err != nil {
		http.Error(w, "Unsupported or corrupt image", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if dh.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, dh.Timeout)
		defer cancel()
	}
	rects, err := dh.Locator.Locate(ctx, frame)
	if err != nil {
		log.Printf("Error locating faces for preview: %v", err)
		http.Error(w, "Face detection failed", http.StatusInternalServerError)
		return
	}

	buf, err := dh.Render(frame, rects)
	if err != nil {
		log.Printf("Error rendering preview: %v", err)
		http.Error(w, "Failed to encode image", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(buf)))
	w.Header().Set("X-Face-Candidates", fmt.Sprintf("%d", len(rects)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if _, err := w.Write(buf); err != nil {
		log.Printf("Error writing preview response: %v", err)
	}
}
