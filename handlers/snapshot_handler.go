package handlers

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/camden-git/attendancebackend/media"
)

// snapshotCacheDuration applies to archived crops, which never change.
const snapshotCacheDuration = 24 * time.Hour

// Snapshot serves the archived enrollment crop of an identity.
func (h *IdentityHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if h.Snapshots == nil {
		http.NotFound(w, r)
		return
	}
	id, ok := idParam(r, "identity_id")
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_input", "Invalid identity id")
		return
	}
	report, err := h.Attendance.IdentityStats(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	if report.Identity.SnapshotPath == nil {
		http.NotFound(w, r)
		return
	}

	serveSnapshot(w, r, h.Snapshots, *report.Identity.SnapshotPath)
}

func serveSnapshot(w http.ResponseWriter, r *http.Request, snapshots *media.Processor, relPath string) {
	file, info, err := snapshots.OpenSnapshot(relPath)
	if err != nil {
		log.Printf("Error opening snapshot %s: %v", relPath, err)
		http.NotFound(w, r)
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(snapshotCacheDuration.Seconds())))
	w.Header().Set("Expires", time.Now().Add(snapshotCacheDuration).Format(http.TimeFormat))

	if rs, ok := file.(io.ReadSeeker); ok {
		http.ServeContent(w, r, info.Name(), info.ModTime(), rs)
		return
	}
	if _, err := io.Copy(w, file); err != nil {
		log.Printf("Error writing snapshot %s: %v", relPath, err)
	}
}
