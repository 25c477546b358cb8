// v2
// internal/http/router.go
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/ogdevsanskar/ecoversa/internal/core"
	"github.com/ogdevsanskar/ecoversa/internal/leaderboard"
	"github.com/ogdevsanskar/ecoversa/internal/metrics"
	"github.com/ogdevsanskar/ecoversa/internal/metricstore"
	"github.com/ogdevsanskar/ecoversa/internal/model"
)

// Service is the subset of core.Processor exposed over HTTP.
type Service interface {
	OnReading(ctx context.Context, r model.SensorReading) (core.Outcome, error)
	OnAction(ctx context.Context, a model.UserAction) error
	OnScheduledDaily(ctx context.Context, day time.Time) (model.DailyReport, error)
	GetUserStats(ctx context.Context, userID string) (model.UserStats, error)
	SetBaseline(ctx context.Context, b model.UserBaseline) error
	AcknowledgeAnomaly(ctx context.Context, id string) (model.Anomaly, error)
	ActiveAnomalies(ctx context.Context) ([]model.Anomaly, error)
	OnPrediction(ctx context.Context, b model.PredictionBatch) (core.PredictionOutcome, error)
	Suggestions(ctx context.Context, limit int) ([]model.Suggestion, error)
	LiveTotals() metricstore.Snapshot
	Report(ctx context.Context, date string) (model.DailyReport, error)
	Leaderboard(ctx context.Context, date string) (leaderboard.Snapshot, error)
}

var _ Service = (*core.Processor)(nil)

// NewRouter wires every route of the API and wraps it with CORS, panic
// recovery, access logging and request metrics.
func NewRouter(logger *slog.Logger, health *HealthState, svc Service, m *metrics.Metrics) http.Handler {
	api := &api{svc: svc, log: logger, now: time.Now}

	r := mux.NewRouter()
	r.Use(WithLogging(logger, m))

	r.Handle("/health", healthLiveHandler()).Methods(http.MethodGet)
	r.Handle("/health/live", healthLiveHandler()).Methods(http.MethodGet)
	r.Handle("/health/ready", healthReadyHandler(health)).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/readings", api.postReading).Methods(http.MethodPost)
	r.HandleFunc("/actions", api.postAction).Methods(http.MethodPost)
	r.HandleFunc("/live-metrics", api.getLiveMetrics).Methods(http.MethodGet)
	r.HandleFunc("/users/{userId}/stats", api.getUserStats).Methods(http.MethodGet)
	r.HandleFunc("/users/{userId}/baseline", api.putBaseline).Methods(http.MethodPut)
	r.HandleFunc("/leaderboard", api.getLeaderboard).Methods(http.MethodGet)
	r.HandleFunc("/reports/{date}", api.getReport).Methods(http.MethodGet)
	r.HandleFunc("/reports/{date}", api.postReport).Methods(http.MethodPost)
	r.HandleFunc("/anomalies", api.getAnomalies).Methods(http.MethodGet)
	r.HandleFunc("/anomalies/{id}/ack", api.ackAnomaly).Methods(http.MethodPost)
	r.HandleFunc("/predictions", api.postPrediction).Methods(http.MethodPost)
	r.HandleFunc("/suggestions", api.getSuggestions).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		if _, err := w.Write([]byte("not found")); err != nil {
			logger.Error("write_response_failed", slog.Any("err", err))
		}
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{log: logger}))
	return recovery(cors(r))
}

func healthLiveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

func healthReadyHandler(health *HealthState) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !health.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if failures := health.Check(ctx); len(failures) > 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "NOT_READY", "failures": failures})
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}
