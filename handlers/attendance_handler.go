package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/camden-git/attendancebackend/models"
	"github.com/camden-git/attendancebackend/services"
)

// RecordedByHeader names the device or operator submitting a frame.
const RecordedByHeader = "X-Recorded-By"

const maxRecognizeBody = 15 << 20

type AttendanceHandler struct {
	Recognition *services.RecognitionService
	Attendance  *services.AttendanceService
}

type recognizeRequest struct {
	ImageData string `json:"image_data"`
}

type recognizeResponse struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message"`
	State        services.State   `json:"state"`
	Identity     *models.Identity `json:"identity,omitempty"`
	Similarity   float64          `json:"similarity,omitempty"`
	ModelVersion uint64           `json:"model_version,omitempty"`
	Status       string           `json:"status,omitempty"`
	MarkedAt     string           `json:"marked_at,omitempty"`
}

func newRecognizeResponse(res *services.RecognitionResult) recognizeResponse {
	resp := recognizeResponse{
		Success:      res.State == services.StateMarked,
		Message:      res.Message,
		State:        res.State,
		Identity:     res.Identity,
		Similarity:   res.Similarity,
		ModelVersion: res.ModelVersion,
	}
	if res.Event != nil {
		resp.Status = res.Event.Status
		resp.MarkedAt = res.Event.Date + " " + res.Event.Time
	}
	return resp
}

// Recognize marks attendance for the face in a base64 JPEG data URL.
func (h *AttendanceHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req recognizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecognizeBody)).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_input", "Invalid request body: "+err.Error())
		return
	}

	res, err := h.Recognition.Recognize(r.Context(), services.RecognizeRequest{
		ImageData:  req.ImageData,
		RecordedBy: strings.TrimSpace(r.Header.Get(RecordedByHeader)),
	})
	if err != nil {
		writeServiceError(w, r, err, newRecognizeResponse(res))
		return
	}
	writeJSON(w, http.StatusOK, newRecognizeResponse(res))
}

func (h *AttendanceHandler) Today(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, "")
}

func (h *AttendanceHandler) ByDate(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, chi.URLParam(r, "date"))
}

func (h *AttendanceHandler) report(w http.ResponseWriter, r *http.Request, date string) {
	report, err := h.Attendance.DailyReport(r.Context(), date)
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// resetRequest also accepts the older "student" type and "student_name" field.
type resetRequest struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	StudentName string `json:"student_name"`
	ExternalID  string `json:"external_id"`
}

// Reset clears today's marks, either all of them or one identity's.
func (h *AttendanceHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if !requireJSON(w, r) {
		return
	}
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_input", "Invalid request body: "+err.Error())
		return
	}

	var (
		res *services.ResetResult
		err error
	)
	switch req.Type {
	case "all":
		res, err = h.Attendance.ResetAll(r.Context())
	case "identity", "student":
		name := req.Name
		if strings.TrimSpace(name) == "" {
			name = req.StudentName
		}
		if strings.TrimSpace(req.ExternalID) != "" {
			res, err = h.Attendance.ResetByExternalID(r.Context(), req.ExternalID)
		} else {
			res, err = h.Attendance.ResetByName(r.Context(), name)
		}
	default:
		WriteAPIError(w, http.StatusBadRequest, "invalid_input", "Reset type must be 'all' or 'identity'")
		return
	}
	if err != nil {
		writeServiceError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": res.Message,
		"reset":   res,
	})
}
