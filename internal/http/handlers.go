// v0
// internal/http/handlers.go
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/ogdevsanskar/ecoversa/internal/core"
	"github.com/ogdevsanskar/ecoversa/internal/ingest"
	"github.com/ogdevsanskar/ecoversa/internal/model"
	"github.com/ogdevsanskar/ecoversa/internal/storage"
)

const maxBodyBytes = 1 << 20

type api struct {
	svc Service
	log *slog.Logger
	now func() time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

type readingResponse struct {
	Reading       model.SensorReading `json:"reading"`
	MetricUpdated bool                `json:"metric_updated"`
	CampusTotal   float64             `json:"campus_total"`
	Anomaly       *model.Anomaly      `json:"anomaly,omitempty"`
	Awards        []model.Achievement `json:"awards"`
}

type leaderboardEntry struct {
	Rank             int     `json:"rank"`
	UserID           string  `json:"userId"`
	TotalCarbonSaved float64 `json:"total_carbon_saved"`
	TotalActions     int     `json:"total_actions"`
	TotalTokens      int     `json:"total_tokens"`
	Score            float64 `json:"score"`
}

type leaderboardResponse struct {
	Date        string             `json:"date"`
	GeneratedAt string             `json:"generatedAt"`
	Entries     []leaderboardEntry `json:"entries"`
}

type predictionResponse struct {
	Success      bool   `json:"success"`
	PredictionID string `json:"prediction_id"`
	Duplicate    bool   `json:"duplicate"`
	Anomalies    int    `json:"anomalies"`
	Suggestions  int    `json:"suggestions"`
}

const maxSuggestions = 100

func (a *api) postReading(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	reading, err := ingest.DecodeReading(body, ingest.Hint{}, a.now())
	if err != nil {
		a.fail(w, err)
		return
	}
	out, err := a.svc.OnReading(r.Context(), reading)
	if err != nil {
		a.fail(w, err)
		return
	}
	awards := out.Awards
	if awards == nil {
		awards = []model.Achievement{}
	}
	writeJSON(w, http.StatusAccepted, readingResponse{
		Reading:       out.Reading,
		MetricUpdated: out.MetricUpdated,
		CampusTotal:   out.CampusTotal,
		Anomaly:       out.Anomaly,
		Awards:        awards,
	})
}

func (a *api) postAction(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	action, err := ingest.DecodeAction(body, ingest.Hint{}, a.now())
	if err != nil {
		a.fail(w, err)
		return
	}
	if err := a.svc.OnAction(r.Context(), action); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, action)
}

func (a *api) getLiveMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.LiveTotals())
}

func (a *api) getUserStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.svc.GetUserStats(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) putBaseline(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	var b model.UserBaseline
	if err := json.Unmarshal(body, &b); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid baseline payload"})
		return
	}
	b.UserID = mux.Vars(r)["userId"]
	if err := a.svc.SetBaseline(r.Context(), b); err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *api) getLeaderboard(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date != "" {
		if _, err := time.Parse(model.DateLayout, date); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "date must be YYYY-MM-DD"})
			return
		}
	}
	snap, err := a.svc.Leaderboard(r.Context(), date)
	if err != nil {
		a.fail(w, err)
		return
	}
	entries := make([]leaderboardEntry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		entries = append(entries, leaderboardEntry{
			Rank:             e.Rank,
			UserID:           e.UserID,
			TotalCarbonSaved: e.TotalCarbonSaved,
			TotalActions:     e.TotalActions,
			TotalTokens:      e.TotalTokens,
			Score:            e.Score,
		})
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{
		Date:        snap.Date,
		GeneratedAt: snap.GeneratedAt.UTC().Format(time.RFC3339),
		Entries:     entries,
	})
}

func (a *api) getReport(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	rep, err := a.svc.Report(r.Context(), model.DayKey(date))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// postReport regenerates the report of a day on demand.
func (a *api) postReport(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	rep, err := a.svc.OnScheduledDaily(r.Context(), date)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

func (a *api) getAnomalies(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.ActiveAnomalies(r.Context())
	if err != nil {
		a.fail(w, err)
		return
	}
	if list == nil {
		list = []model.Anomaly{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) ackAnomaly(w http.ResponseWriter, r *http.Request) {
	an, err := a.svc.AcknowledgeAnomaly(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, an)
}

func (a *api) postPrediction(w http.ResponseWriter, r *http.Request) {
	body, ok := a.readBody(w, r)
	if !ok {
		return
	}
	batch, err := ingest.DecodePrediction(body, ingest.Hint{}, a.now())
	if err != nil {
		a.fail(w, err)
		return
	}
	out, err := a.svc.OnPrediction(r.Context(), batch)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, predictionResponse{
		Success:      true,
		PredictionID: out.BatchID,
		Duplicate:    out.Duplicate,
		Anomalies:    out.Anomalies,
		Suggestions:  out.Suggestions,
	})
}

func (a *api) getSuggestions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxSuggestions {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 100"})
			return
		}
		limit = n
	}
	list, err := a.svc.Suggestions(r.Context(), limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	if list == nil {
		list = []model.Suggestion{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return nil, false
	}
	return body, true
}

// fail maps the error taxonomy onto status codes: invalid input is 400,
// unknown records 404 and everything else is treated as transient.
func (a *api) fail(w http.ResponseWriter, err error) {
	status := http.StatusServiceUnavailable
	switch {
	case ingest.Permanent(err), errors.Is(err, core.ErrInvalidUser):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled):
		status = http.StatusRequestTimeout
	default:
		a.log.Error("request_failed", slog.Any("err", err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func pathDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	date, err := time.Parse(model.DateLayout, mux.Vars(r)["date"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "date must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return date, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
