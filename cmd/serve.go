package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/camden-git/attendancebackend/handlers"
	"github.com/camden-git/attendancebackend/vision"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the attendance HTTP API with the websocket event feed and
Prometheus metrics. The classifier is trained from the stored gallery at
startup.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("port", "", "Port to listen on (overrides PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{detectors: true, metrics: true, hub: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go a.hub.Run(ctx)

	if _, err := a.classifier.Retrain(ctx); err != nil {
		log.Printf("Warning: initial classifier training failed, will retry on first recognition: %v", err)
	}

	port := mustGetString(cmd, "port")
	if port == "" {
		port = a.cfg.Port
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Identities: &handlers.IdentityHandler{Enrollment: a.enrollment, Attendance: a.attendance, Snapshots: a.snapshots},
		Attendance: &handlers.AttendanceHandler{Recognition: a.recognition, Attendance: a.attendance},
		Classifier: &handlers.ClassifierHandler{Classifier: a.classifier},
		Debug: &handlers.DebugHandler{
			Locator: a.recognizeLocator,
			Render:  vision.RenderCandidates,
			Timeout: a.cfg.DetectionTimeout,
		},
		Hub:            a.hub,
		Gatherer:       a.registry,
		AllowedOrigins: a.cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s (database %s, threshold %.2f)", port, a.cfg.DatabaseDriver, a.cfg.SimilarityThreshold)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Println("Server stopped")
	return nil
}
