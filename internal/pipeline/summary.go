package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/models"
	"github.com/agrisense/telemetry/internal/store"
)

const (
	// DefaultSummaryInterval is how often the daily rollup runs.
	DefaultSummaryInterval = 5 * time.Minute

	// DayCompleteHours is the hourCount threshold that marks a
	// calendar day's summary complete. hourCount carries the day's
	// entry count, one expected per hour.
	DayCompleteHours = 24
)

// Summarizer periodically rolls the current calendar day's hourly log
// into a single daily summary document. Runs are idempotent; each pass
// overwrites the day's summary with fresh aggregates.
type Summarizer struct {
	store    store.Store
	logger   zerolog.Logger
	uid      string
	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	summarizing bool

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSummarizer(st store.Store, uid string, interval time.Duration, logger zerolog.Logger) *Summarizer {
	if interval <= 0 {
		interval = DefaultSummaryInterval
	}
	return &Summarizer{
		store:    st,
		logger:   logger.With().Str("component", "summary").Str("uid", uid).Logger(),
		uid:      uid,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background loop. The first pass runs immediately.
func (s *Summarizer) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info().Dur("interval", s.interval).Msg("Daily summarizer started")
}

// Stop shuts the loop down and waits for any in-flight pass.
func (s *Summarizer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.logger.Info().Msg("Daily summarizer stopped")
}

func (s *Summarizer) run() {
	defer s.wg.Done()

	if err := s.RunNow(); err != nil {
		s.logger.Error().Err(err).Msg("Initial summary pass failed")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.RunNow(); err != nil {
				s.logger.Error().Err(err).Msg("Summary pass failed")
			}
		case <-s.stopChan:
			return
		}
	}
}

// RunNow performs one summary pass for the current calendar day.
// Overlapping passes collapse into one.
func (s *Summarizer) RunNow() error {
	s.mu.Lock()
	if s.summarizing {
		s.mu.Unlock()
		return nil
	}
	s.summarizing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.summarizing = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.SummarizeDay(ctx, s.now())
}

// SummarizeDay rolls one calendar day's hourly entries into its daily
// summary. Days with no entries produce no summary.
func (s *Summarizer) SummarizeDay(ctx context.Context, day time.Time) error {
	dayKey := models.DateKey(day)

	docs, err := s.store.RangeQuery(ctx, store.HourlyLog(s.uid), dayKey+"_00", dayKey+"_23")
	if err != nil {
		return fmt.Errorf("failed to query hourly log for %s: %w", dayKey, err)
	}
	if len(docs) == 0 {
		return nil
	}

	readings := make([]models.Reading, 0, len(docs))
	for key, raw := range docs {
		var entry models.HourlyEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			s.logger.Warn().Str("entry_id", key).Msg("Skipping undecodable hourly entry")
			continue
		}
		readings = append(readings, entry.Reading())
	}
	if len(readings) == 0 {
		return nil
	}

	avg := models.AverageOf(day, readings)

	// hourCount is the entry count, not distinct hours: a day is
	// considered complete once it has accumulated 24 entries.
	summary := models.DailySummary{
		ID:                 dayKey,
		Date:               models.DateStr(day),
		DayNumber:          day.Day(),
		TotalReadings:      len(readings),
		HourCount:          len(readings),
		IsComplete:         len(readings) >= DayCompleteHours,
		AvgTemperature:     avg.Temperature,
		AvgSoilTemperature: avg.SoilTemperature,
		AvgHumidity:        avg.Humidity,
		AvgMoisture:        avg.Moisture,
		AvgNitrogen:        avg.Nitrogen,
		AvgPhosphorus:      avg.Phosphorus,
		AvgPotassium:       avg.Potassium,
		AvgPh:              avg.PH,
	}

	if err := s.store.Write(ctx, store.DailySummary(s.uid, dayKey), summary); err != nil {
		return fmt.Errorf("failed to write daily summary for %s: %w", dayKey, err)
	}

	s.logger.Debug().
		Str("date", summary.Date).
		Int("readings", summary.TotalReadings).
		Int("hours", summary.HourCount).
		Msg("Daily summary written")
	return nil
}
