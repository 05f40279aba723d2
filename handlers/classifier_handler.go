package handlers

import (
	"net/http"

	"github.com/camden-git/attendancebackend/services"
)

type ClassifierHandler struct {
	Classifier *services.ClassifierService
}

func (h *ClassifierHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Classifier.Status())
}

// Retrain rebuilds the classifier synchronously.
func (h *ClassifierHandler) Retrain(w http.ResponseWriter, r *http.Request) {
	if _, err := h.Classifier.Retrain(r.Context()); err != nil {
		writeServiceError(w, r, err, h.Classifier.Status())
		return
	}
	writeJSON(w, http.StatusOK, h.Classifier.Status())
}
