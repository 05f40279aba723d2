package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/camden-git/attendancebackend/services"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Success   bool             `json:"success"`
	Message   string           `json:"message"`
	Code      string           `json:"code"`
	Retryable bool             `json:"retryable"`
	Errors    []APIErrorDetail `json:"errors"`
	Result    interface{}      `json:"result,omitempty"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	writeAPIError(w, httpStatus, code, detail, false, nil)
}

func writeAPIError(w http.ResponseWriter, httpStatus int, code, detail string, retryable bool, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Message:   detail,
		Code:      code,
		Retryable: retryable,
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
		Result: result,
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// StatusForKind maps a service error kind onto an HTTP status.
func StatusForKind(kind services.Kind) int {
	switch kind {
	case services.KindInput:
		return http.StatusBadRequest
	case services.KindNoFaceDetected, services.KindLowConfidence:
		return http.StatusUnprocessableEntity
	case services.KindDuplicateIdentity, services.KindAlreadyMarkedToday, services.KindAmbiguousName:
		return http.StatusConflict
	case services.KindIdentityUnknown:
		return http.StatusNotFound
	case services.KindClassifierNotReady, services.KindStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err as an API error. Internal details are logged,
// not returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, result interface{}) {
	kind := services.KindOf(err)
	status := StatusForKind(kind)

	detail := "internal server error"
	var se *services.Error
	if errors.As(err, &se) && se.Message != "" {
		detail = se.Message
	}
	if status >= http.StatusInternalServerError {
		log.Printf("Error handling %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeAPIError(w, status, kind.String(), detail, kind.Transient(), result)
}
