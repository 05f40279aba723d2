package services

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/camden-git/attendancebackend/detection"
)

// Canonicalizer turns a face patch into a canonical grayscale template.
type Canonicalizer interface {
	Canonicalize(patch image.Image) (*image.Gray, error)
}

// locate runs the locator under the detection timeout and maps failures.
func locate(ctx context.Context, loc *detection.Locator, frame image.Image, timeout time.Duration) ([]image.Rectangle, error) {
	if loc == nil {
		return nil, newError(KindInternal, nil, "face locator is not configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	rects, err := loc.Locate(ctx, frame)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, newError(KindInternal, err, "face detection timed out after %s", timeout)
		}
		return nil, newError(KindInternal, err, "face detection failed")
	}
	return rects, nil
}

// outcomeOf labels a finished operation for metrics.
func outcomeOf(err error, success string) string {
	if err == nil {
		return success
	}
	return KindOf(err).String()
}
