package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/models"
	"github.com/agrisense/telemetry/internal/pipeline"
	"github.com/agrisense/telemetry/internal/predict"
	"github.com/agrisense/telemetry/internal/store"
)

// APIHandler serves the dashboard's REST surface over the document
// store and the active pipeline session.
type APIHandler struct {
	store     store.Store
	manager   *pipeline.Manager
	predictor predict.Predictor
	logger    zerolog.Logger
}

func NewAPIHandler(st store.Store, manager *pipeline.Manager, predictor predict.Predictor, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		store:     st,
		manager:   manager,
		predictor: predictor,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Register wires every endpoint onto mux.
func (api *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/current", api.HandleCurrent)
	mux.HandleFunc("/api/history", api.HandleHistory)
	mux.HandleFunc("/api/daily", api.HandleDaily)
	mux.HandleFunc("/api/cycle", api.HandleCycle)
	mux.HandleFunc("/api/prediction", api.HandlePrediction)
	mux.HandleFunc("/api/prediction/retry", api.HandlePredictionRetry)
	mux.HandleFunc("/api/fertilizer", api.HandleFertilizer)
	mux.HandleFunc("/api/history/clear", api.HandleClearHistory)
	mux.HandleFunc("/api/cycle/new", api.HandleNewCycle)
	mux.HandleFunc("/health", api.HandleHealth)
}

// session resolves the active pipeline session, writing the error
// response itself when there is none.
func (api *APIHandler) session(w http.ResponseWriter) *pipeline.Session {
	s := api.manager.Active()
	if s == nil {
		http.Error(w, "No active session", http.StatusServiceUnavailable)
	}
	return s
}

// HandleCurrent returns the live sensor document as last published.
func (api *APIHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	var doc json.RawMessage
	found, err := api.store.Read(r.Context(), store.SensorDataPath, &doc)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to read live sensor document")
		http.Error(w, "Failed to read sensor data", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "No sensor data available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(doc)
}

// HandleHistory returns one day's hourly entries, newest first.
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	s := api.session(w)
	if s == nil {
		return
	}

	dateKey := r.URL.Query().Get("date")
	if dateKey == "" {
		dateKey = models.DateKey(time.Now())
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	docs, err := api.store.RangeQuery(r.Context(), store.HourlyLog(s.UID), dateKey+"_00", dateKey+"_23")
	if err != nil {
		api.logger.Error().Err(err).Str("date", dateKey).Msg("Failed to query hourly log")
		http.Error(w, "Failed to read history", http.StatusInternalServerError)
		return
	}

	keys := make([]string, 0, len(docs))
	for k := range docs {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	if len(keys) > limit {
		keys = keys[:limit]
	}

	entries := make([]models.HourlyEntry, 0, len(keys))
	for _, k := range keys {
		var entry models.HourlyEntry
		if err := json.Unmarshal(docs[k], &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// HandleDaily returns the stored daily summaries, newest first.
func (api *APIHandler) HandleDaily(w http.ResponseWriter, r *http.Request) {
	s := api.session(w)
	if s == nil {
		return
	}

	docs, err := api.store.RangeQuery(r.Context(), store.DailyLog(s.UID), "", "99999999")
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to query daily summaries")
		http.Error(w, "Failed to read daily summaries", http.StatusInternalServerError)
		return
	}

	keys := make([]string, 0, len(docs))
	for k := range docs {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	summaries := make([]models.DailySummary, 0, len(keys))
	for _, k := range keys {
		var summary models.DailySummary
		if err := json.Unmarshal(docs[k], &summary); err != nil {
			continue
		}
		summaries = append(summaries, summary)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// CycleStatus is the dashboard's view of the rotating day buckets.
type CycleStatus struct {
	CurrentDay   int                 `json:"currentDay"`
	Days         []models.DayBucket  `json:"days"`
	FinalAverage *models.CycleResult `json:"finalAverage,omitempty"`
	Complete     *models.CycleMarker `json:"cycleComplete,omitempty"`
}

// HandleCycle returns the current cycle's state.
func (api *APIHandler) HandleCycle(w http.ResponseWriter, r *http.Request) {
	s := api.session(w)
	if s == nil {
		return
	}
	ctx := r.Context()

	status := CycleStatus{CurrentDay: 1, Days: make([]models.DayBucket, pipeline.CycleDays)}
	if found, err := api.store.Read(ctx, store.CurrentDay(s.UID), &status.CurrentDay); err != nil || !found {
		status.CurrentDay = 1
	}
	for day := 1; day <= pipeline.CycleDays; day++ {
		var bucket models.DayBucket
		if _, err := api.store.Read(ctx, store.DayBucket(s.UID, day), &bucket); err == nil {
			status.Days[day-1] = bucket
		}
	}
	var result models.CycleResult
	if found, _ := api.store.Read(ctx, store.FinalAverage(s.UID), &result); found {
		status.FinalAverage = &result
	}
	var marker models.CycleMarker
	if found, _ := api.store.Read(ctx, store.CycleComplete(s.UID), &marker); found {
		status.Complete = &marker
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// HandlePrediction returns the latest crop prediction, filtered through
// the history-clear lock: a prediction older than the lock stamp reads
// as absent.
func (api *APIHandler) HandlePrediction(w http.ResponseWriter, r *http.Request) {
	s := api.session(w)
	if s == nil {
		return
	}

	var rec models.PredictionRecord
	found, err := api.store.Read(r.Context(), store.CropPrediction(s.UID), &rec)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to read prediction")
		http.Error(w, "Failed to read prediction", http.StatusInternalServerError)
		return
	}

	var visible *models.PredictionRecord
	if found {
		visible = s.Lock().VisiblePrediction(&rec)
	}
	if visible == nil {
		http.Error(w, "No prediction available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(visible)
}

// HandlePredictionRetry re-runs the crop prediction from the last
// completed cycle. The recovery path after a failed prediction or a
// history clear; the fresh record also releases the lock.
func (api *APIHandler) HandlePredictionRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := api.session(w)
	if s == nil {
		return
	}

	if err := s.RetryPrediction(r.Context()); err != nil {
		if errors.Is(err, pipeline.ErrNoCycle) {
			http.Error(w, "No completed cycle to predict from", http.StatusNotFound)
			return
		}
		api.logger.Error().Err(err).Msg("Prediction retry failed")
		http.Error(w, "Prediction retry failed", http.StatusBadGateway)
		return
	}

	var rec models.PredictionRecord
	if _, err := api.store.Read(r.Context(), store.CropPrediction(s.UID), &rec); err != nil {
		api.logger.Error().Err(err).Msg("Failed to read prediction after retry")
		http.Error(w, "Failed to read prediction", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}

// HandleFertilizer serves the fertilizer recommendation. GET returns
// the stored result; POST computes one from the cycle's stored seed,
// optionally overriding the soil type, and persists it.
func (api *APIHandler) HandleFertilizer(w http.ResponseWriter, r *http.Request) {
	s := api.session(w)
	if s == nil {
		return
	}
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		var result models.FertilizerResult
		found, err := api.store.Read(ctx, store.FertilizerResult(s.UID), &result)
		if err != nil {
			api.logger.Error().Err(err).Msg("Failed to read fertilizer result")
			http.Error(w, "Failed to read fertilizer result", http.StatusInternalServerError)
			return
		}
		if !found {
			http.Error(w, "No fertilizer recommendation available", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)

	case http.MethodPost:
		var seed models.FertilizerSeed
		found, err := api.store.Read(ctx, store.FertilizerPrediction(s.UID), &seed)
		if err != nil {
			api.logger.Error().Err(err).Msg("Failed to read fertilizer seed")
			http.Error(w, "Failed to read fertilizer seed", http.StatusInternalServerError)
			return
		}
		if !found {
			http.Error(w, "No crop prediction to seed a fertilizer recommendation", http.StatusNotFound)
			return
		}

		var req struct {
			SoilType string `json:"soilType"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		soilType := seed.SoilType
		if req.SoilType != "" {
			soilType = req.SoilType
		}

		fertilizer, err := api.predictor.PredictFertilizer(ctx, seed.Averages, soilType, seed.Crop)
		if err != nil {
			api.logger.Error().Err(err).Msg("Fertilizer prediction failed")
			http.Error(w, "Fertilizer prediction failed", http.StatusBadGateway)
			return
		}

		result := models.FertilizerResult{
			Ts:         time.Now().UnixMilli(),
			Crop:       seed.Crop,
			SoilType:   soilType,
			Fertilizer: fertilizer,
			Averages:   seed.Averages,
		}
		if err := api.store.Write(ctx, store.FertilizerResult(s.UID), result); err != nil {
			api.logger.Error().Err(err).Msg("Failed to persist fertilizer result")
			http.Error(w, "Failed to persist fertilizer result", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleClearHistory wipes the active user's history and arms the
// prediction lock.
func (api *APIHandler) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := api.session(w)
	if s == nil {
		return
	}

	if err := s.ClearHistory(r.Context()); err != nil {
		api.logger.Error().Err(err).Msg("History clear failed")
		http.Error(w, "Failed to clear history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"cleared": true, "lockTs": s.Lock().LockTs()})
}

// HandleNewCycle resets the rotating day buckets for a fresh cycle.
func (api *APIHandler) HandleNewCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s := api.session(w)
	if s == nil {
		return
	}

	if err := s.StartNewCycle(r.Context()); err != nil {
		api.logger.Error().Err(err).Msg("Cycle reset failed")
		http.Error(w, "Failed to start new cycle", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"started": true})
}

// HandleHealth reports liveness.
func (api *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}
