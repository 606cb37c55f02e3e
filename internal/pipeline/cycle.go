package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/models"
	"github.com/agrisense/telemetry/internal/predict"
	"github.com/agrisense/telemetry/internal/store"
)

const (
	// DefaultRainfall stands in for the rainfall feature; no deployed
	// sensor measures it.
	DefaultRainfall = 494

	// DefaultSoilType seeds the fertilizer model until the operator
	// sets one.
	DefaultSoilType = "Black"
)

// Locked reports whether predictions are currently suppressed.
type Locked func() bool

// CycleRoller finishes a 3-day cycle: it averages the three day
// buckets, persists the rollup, and triggers the crop prediction
// exactly once per cycle. A prediction failure never blocks the cycle
// from closing.
type CycleRoller struct {
	store     store.Store
	predictor predict.Predictor
	logger    zerolog.Logger
	uid       string
	locked    Locked
	now       func() time.Time

	// OnPrediction, when set, observes each stored prediction.
	OnPrediction func(rec models.PredictionRecord)
}

func NewCycleRoller(st store.Store, p predict.Predictor, uid string, locked Locked, logger zerolog.Logger) *CycleRoller {
	return &CycleRoller{
		store:     st,
		predictor: p,
		logger:    logger.With().Str("component", "cycle").Str("uid", uid).Logger(),
		uid:       uid,
		locked:    locked,
		now:       time.Now,
	}
}

// Complete rolls the three day buckets into the cycle's final average
// and fires the crop prediction. Buckets with no average contribute
// zeros, so a partially damaged cycle still closes.
func (c *CycleRoller) Complete(ctx context.Context) error {
	now := c.now()

	var sum [models.MetricCount]float64
	for day := 1; day <= CycleDays; day++ {
		var bucket models.DayBucket
		found, err := c.store.Read(ctx, store.DayBucket(c.uid, day), &bucket)
		if err != nil {
			return fmt.Errorf("failed to load day %d bucket: %w", day, err)
		}
		if !found || bucket.Average == nil {
			c.logger.Warn().Int("day", day).Msg("Day bucket missing an average, treating as zero")
			continue
		}
		v := bucket.Average.Vector()
		for i := range sum {
			sum[i] += v[i]
		}
	}
	for i := range sum {
		sum[i] = models.Round1(sum[i] / CycleDays)
	}
	final := models.FromVector(now, sum)

	result := models.CycleResult{FinalAverage: final, Ts: models.Millis(now)}
	if err := c.store.Write(ctx, store.FinalAverage(c.uid), result); err != nil {
		return fmt.Errorf("failed to write final average: %w", err)
	}
	c.logger.Info().Str("final_average", final.String()).Msg("Cycle rollup persisted")

	if c.locked != nil && c.locked() {
		c.logger.Info().Msg("Predictions locked, skipping crop prediction for this cycle")
	} else if err := c.triggerPrediction(ctx, final); err != nil {
		c.logger.Error().Err(err).Msg("Crop prediction failed, cycle closes without one")
	}

	marker := models.CycleMarker{Ts: models.Millis(now)}
	if err := c.store.Write(ctx, store.CycleComplete(c.uid), marker); err != nil {
		return fmt.Errorf("failed to write cycle marker: %w", err)
	}
	return nil
}

// ErrNoCycle is returned when a prediction retrigger finds no completed
// cycle to predict from.
var ErrNoCycle = errors.New("no completed cycle")

// Retrigger re-runs the prediction from the stored cycle average. This
// is the recovery path after a failed or lock-suppressed prediction;
// the fresh record's newer timestamp also releases the history-clear
// lock. User-initiated, so it bypasses the lock gate and surfaces
// failures to the caller.
func (c *CycleRoller) Retrigger(ctx context.Context) error {
	var result models.CycleResult
	found, err := c.store.Read(ctx, store.FinalAverage(c.uid), &result)
	if err != nil {
		return fmt.Errorf("failed to read final average: %w", err)
	}
	if !found {
		return ErrNoCycle
	}
	return c.triggerPrediction(ctx, result.FinalAverage)
}

// triggerPrediction calls the ML service and stores the result.
func (c *CycleRoller) triggerPrediction(ctx context.Context, final models.Reading) error {
	features := Features(final)

	crop, err := c.predictor.PredictCrop(ctx, features)
	if err != nil {
		return fmt.Errorf("crop prediction failed: %w", err)
	}

	rec := models.PredictionRecord{
		Ts:       models.Millis(c.now()),
		Crop:     crop,
		Averages: features,
	}

	var errs []error
	if err := c.store.Write(ctx, store.CropPrediction(c.uid), rec); err != nil {
		errs = append(errs, err)
	}
	histPath := store.CropPredictions(c.uid) + "/" + uuid.NewString()
	if err := c.store.Write(ctx, histPath, rec); err != nil {
		errs = append(errs, err)
	}
	seed := models.FertilizerSeed{
		Ts:       rec.Ts,
		Crop:     crop,
		SoilType: DefaultSoilType,
		Averages: features,
	}
	if err := c.store.Write(ctx, store.FertilizerPrediction(c.uid), seed); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to persist prediction records: %w", err)
	}

	c.logger.Info().Str("crop", crop).Msg("Crop prediction stored")
	if c.OnPrediction != nil {
		c.OnPrediction(rec)
	}
	return nil
}

// StartNewCycle clears all cycle state and resets the day pointer.
// Hourly and daily logs survive; only the rotating buckets and their
// derived records go.
func (c *CycleRoller) StartNewCycle(ctx context.Context) error {
	paths := []string{
		store.DayResults(c.uid),
		store.FinalAverage(c.uid),
		store.CycleComplete(c.uid),
	}
	for day := 1; day <= CycleDays; day++ {
		paths = append(paths, store.DayBucket(c.uid, day))
	}

	var errs []error
	for _, p := range paths {
		if err := c.store.Delete(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("failed to clear %s: %w", p, err))
		}
	}
	if err := c.store.Write(ctx, store.CurrentDay(c.uid), 1); err != nil {
		errs = append(errs, fmt.Errorf("failed to reset day pointer: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	c.logger.Info().Msg("New cycle started")
	return nil
}

// Features maps a cycle average onto the model's input vector. The
// temperature feature prefers the soil probe when it reported, humidity
// carries the moisture average, and rainfall takes its fixed default.
func Features(avg models.Reading) models.FeatureVector {
	temp := avg.Temperature
	if avg.SoilTemperature != 0 {
		temp = avg.SoilTemperature
	}
	return models.FeatureVector{
		Nitrogen:        avg.Nitrogen,
		Phosphorus:      avg.Phosphorus,
		Potassium:       avg.Potassium,
		Temperature:     temp,
		Humidity:        avg.Moisture,
		Moisture:        avg.Moisture,
		PH:              avg.PH,
		Rainfall:        DefaultRainfall,
		SoilTemperature: avg.SoilTemperature,
	}
}
