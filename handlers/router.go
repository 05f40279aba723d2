package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/camden-git/attendancebackend/realtime"
)

// RouterConfig carries everything the HTTP surface serves.
type RouterConfig struct {
	Identities     *IdentityHandler
	Attendance     *AttendanceHandler
	Classifier     *ClassifierHandler
	Debug          *DebugHandler // optional
	Hub            *realtime.Hub // optional
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
}

func NewRouter(rc RouterConfig) http.Handler {
	r := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   rc.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", RecordedByHeader},
		ExposedHeaders:   []string{"X-Face-Candidates"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	// The websocket feed is long-lived, so only the API gets a deadline.
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Route("/identities", func(r chi.Router) {
			r.Post("/", rc.Identities.Enroll)
			r.Get("/", rc.Identities.List)
			r.Route("/{identity_id}", func(r chi.Router) {
				r.Get("/", rc.Identities.Get)
				r.Delete("/", rc.Identities.Delete)
				r.Get("/snapshot", rc.Identities.Snapshot)
			})
		})

		r.Route("/attendance", func(r chi.Router) {
			r.Post("/recognize", rc.Attendance.Recognize)
			r.Post("/reset", rc.Attendance.Reset)
			r.Get("/today", rc.Attendance.Today)
			r.Get("/{date}", rc.Attendance.ByDate)
		})

		r.Route("/classifier", func(r chi.Router) {
			r.Get("/", rc.Classifier.Status)
			r.Post("/retrain", rc.Classifier.Retrain)
		})
	})

	if rc.Debug != nil {
		r.Route("/debug", func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/locate", rc.Debug.Locate)
		})
	}
	if rc.Hub != nil {
		r.Get("/ws", rc.Hub.ServeWS)
	}
	if rc.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rc.Gatherer, promhttp.HandlerOpts{}))
	}

	return r
}
