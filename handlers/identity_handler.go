package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/camden-git/attendancebackend/media"
	"github.com/camden-git/attendancebackend/services"
)

// maxPhotoBytes bounds an uploaded enrollment photo.
const maxPhotoBytes = 10 << 20

type IdentityHandler struct {
	Enrollment *services.EnrollmentService
	Attendance *services.AttendanceService
	Snapshots  *media.Processor // optional
}

// Enroll handles a multipart form with photo, external_id, name and an
// optional contact.
func (h *IdentityHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoBytes+1<<20)
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteAPIError(w, http.StatusRequestEntityTooLarge, "photo_too_large", "Photo exceeds the upload limit")
			return
		}
		WriteAPIError(w, http.StatusBadRequest, "invalid_input", "Expected a multipart form: "+err.Error())
		return
	}

	file, _, err := r.FormFile("photo")
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_input", "Missing 'photo' file")
		return
	}
	defer file.Close()
	photo, err := io.ReadAll(file)
	if err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_input", "Failed to read photo")
		return
	}

	req := services.EnrollRequest{
		ExternalID: r.FormValue("external_id"),
		Name:       r.FormValue("name"),
		Photo:      photo,
	}
	if contact := strings.TrimSpace(r.FormValue("contact")); contact != "" {
		req.Contact = &contact
	}

	identity, err := h.Enrollment.Enroll(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"message":  "Identity " + identity.Name + " enrolled",
		"identity": identity,
	})
}

func (h *IdentityHandler) List(w http.ResponseWriter, r *http.Request) {
	identities, err := h.Attendance.ListIdentities(r.Context())
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, identities)
}

// Get returns the identity with its attendance statistics.
func (h *IdentityHandler) Get(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, report)
}

func (h *IdentityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "identity_id")
	if !ok {
		WriteAPIError(w, http.StatusBadRequest, "invalid_input", "Invalid identity id")
		return
	}
	deleted, err := h.Attendance.DeleteIdentity(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "Identity " + deleted.Name + " deleted",
		"identity": deleted,
	})
}
