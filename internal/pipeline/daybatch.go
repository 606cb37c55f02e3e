package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/models"
	"github.com/agrisense/telemetry/internal/store"
)

const (
	// DayBatchSize readings complete one logical day bucket.
	DayBatchSize = 5

	// CycleDays buckets complete one recommendation cycle.
	CycleDays = 3
)

// CycleReady fires when the third bucket completes.
type CycleReady func(ctx context.Context)

// DayBatcher folds accepted readings into the rotating day buckets.
// Logical days advance by reading count, not by calendar: every
// DayBatchSize readings close a bucket, and after CycleDays buckets the
// cycle rollup runs.
type DayBatcher struct {
	store        store.Store
	logger       zerolog.Logger
	uid          string
	onCycleReady CycleReady
	now          func() time.Time

	mu          sync.Mutex
	lastEntryID string
}

func NewDayBatcher(st store.Store, uid string, onCycleReady CycleReady, logger zerolog.Logger) *DayBatcher {
	return &DayBatcher{
		store:        st,
		logger:       logger.With().Str("component", "daybatch").Str("uid", uid).Logger(),
		uid:          uid,
		onCycleReady: onCycleReady,
		now:          time.Now,
	}
}

// Add folds one accepted reading into the current day bucket. Re-adding
// the entry ID seen last is a no-op, as is any add while the current
// bucket is already frozen.
func (b *DayBatcher) Add(ctx context.Context, entryID string, r models.Reading) error {
	b.mu.Lock()
	if entryID == b.lastEntryID {
		b.mu.Unlock()
		b.logger.Debug().Str("entry_id", entryID).Msg("Skipping already-batched entry")
		return nil
	}
	b.lastEntryID = entryID
	b.mu.Unlock()

	day, err := b.currentDay(ctx)
	if err != nil {
		return err
	}

	var bucket models.DayBucket
	if _, err := b.store.Read(ctx, store.DayBucket(b.uid, day), &bucket); err != nil {
		return fmt.Errorf("failed to load day %d bucket: %w", day, err)
	}
	if bucket.IsComplete {
		// Frozen buckets never reopen. This only happens when a cycle
		// rollup failed to advance the pointer; the reading is dropped
		// rather than corrupting a completed average.
		b.logger.Warn().Int("day", day).Msg("Current bucket is frozen, dropping reading")
		return nil
	}
	if bucket.Readings == nil {
		bucket.Readings = make(map[string]models.Reading)
	}
	if _, exists := bucket.Readings[entryID]; !exists {
		bucket.Readings[entryID] = r
	}
	bucket.Count = len(bucket.Readings)

	if bucket.Count >= DayBatchSize {
		return b.completeBucket(ctx, day, &bucket)
	}

	if err := b.store.Write(ctx, store.DayBucket(b.uid, day), bucket); err != nil {
		return fmt.Errorf("failed to persist day %d bucket: %w", day, err)
	}
	b.logger.Debug().Int("day", day).Int("count", bucket.Count).Msg("Reading batched")
	return nil
}

func (b *DayBatcher) completeBucket(ctx context.Context, day int, bucket *models.DayBucket) error {
	readings := make([]models.Reading, 0, len(bucket.Readings))
	for _, r := range bucket.Readings {
		readings = append(readings, r)
	}
	now := b.now()
	avg := models.AverageOf(now, readings)
	bucket.Average = &avg
	bucket.IsComplete = true
	bucket.CompletedTs = models.Millis(now)

	if err := b.store.Write(ctx, store.DayBucket(b.uid, day), bucket); err != nil {
		return fmt.Errorf("failed to freeze day %d bucket: %w", day, err)
	}

	result := models.DayResult{Day: day, Average: avg, CompletedTs: bucket.CompletedTs}
	if err := b.store.Write(ctx, store.DayResult(b.uid, day), result); err != nil {
		return fmt.Errorf("failed to write day %d result: %w", day, err)
	}

	b.logger.Info().Int("day", day).Str("average", avg.String()).Msg("Day bucket completed")

	if day < CycleDays {
		if err := b.store.Write(ctx, store.CurrentDay(b.uid), day+1); err != nil {
			return fmt.Errorf("failed to advance day pointer: %w", err)
		}
		return nil
	}

	if b.onCycleReady != nil {
		b.onCycleReady(ctx)
	}
	return nil
}

// currentDay loads the day pointer, clamped to [1, CycleDays]. Missing
// or corrupt pointers fall back to day 1.
func (b *DayBatcher) currentDay(ctx context.Context) (int, error) {
	var day int
	found, err := b.store.Read(ctx, store.CurrentDay(b.uid), &day)
	if err != nil {
		return 0, fmt.Errorf("failed to load day pointer: %w", err)
	}
	if !found || day < 1 || day > CycleDays {
		return 1, nil
	}
	return day, nil
}

// Reset clears the duplicate-entry guard.
func (b *DayBatcher) Reset() {
	b.mu.Lock()
	b.lastEntryID = ""
	b.mu.Unlock()
}
