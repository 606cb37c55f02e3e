package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/models"
	"github.com/agrisense/telemetry/internal/store"
)

// LockGuard keeps cleared history cleared. Clearing the logs stamps a
// lock timestamp; any prediction at or before that stamp stays hidden
// and no new prediction fires, so a stale cycle can't repopulate what
// the operator just wiped. The first genuinely newer prediction
// releases the lock on its own.
type LockGuard struct {
	store  store.Store
	logger zerolog.Logger
	uid    string
	now    func() time.Time

	mu     sync.Mutex
	lockTs int64
}

func NewLockGuard(st store.Store, uid string, logger zerolog.Logger) *LockGuard {
	return &LockGuard{
		store:  st,
		logger: logger.With().Str("component", "lock").Str("uid", uid).Logger(),
		uid:    uid,
		now:    time.Now,
	}
}

// Load restores the persisted lock stamp, if any.
func (g *LockGuard) Load(ctx context.Context) error {
	var ts int64
	found, err := g.store.Read(ctx, store.LockTs(g.uid), &ts)
	if err != nil {
		return fmt.Errorf("failed to load lock timestamp: %w", err)
	}
	g.mu.Lock()
	if found {
		g.lockTs = ts
	} else {
		g.lockTs = 0
	}
	g.mu.Unlock()
	return nil
}

// ClearHistory wipes the user's logs and prediction surfaces and arms
// the lock. Each delete is attempted regardless of earlier failures;
// the combined error reports whatever could not be cleared.
func (g *LockGuard) ClearHistory(ctx context.Context) error {
	paths := []string{
		store.HourlyLog(g.uid),
		store.DailyLog(g.uid),
		store.CropPrediction(g.uid),
		store.FertilizerPrediction(g.uid),
		store.FertilizerResult(g.uid),
	}

	var errs []error
	for _, p := range paths {
		if err := g.store.Delete(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("failed to clear %s: %w", p, err))
		}
	}

	ts := models.Millis(g.now())
	if err := g.store.Write(ctx, store.LockTs(g.uid), ts); err != nil {
		errs = append(errs, fmt.Errorf("failed to arm lock: %w", err))
	} else {
		g.mu.Lock()
		g.lockTs = ts
		g.mu.Unlock()
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	g.logger.Info().Int64("lock_ts", ts).Msg("History cleared, prediction lock armed")
	return nil
}

// Locked reports whether the lock is armed.
func (g *LockGuard) Locked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockTs > 0
}

// LockTs returns the current lock stamp, 0 when unarmed.
func (g *LockGuard) LockTs() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockTs
}

// VisiblePrediction filters a stored prediction through the lock:
// predictions at or before the lock stamp read as absent.
func (g *LockGuard) VisiblePrediction(rec *models.PredictionRecord) *models.PredictionRecord {
	if rec == nil {
		return nil
	}
	g.mu.Lock()
	lockTs := g.lockTs
	g.mu.Unlock()
	if lockTs > 0 && rec.Ts <= lockTs {
		return nil
	}
	return rec
}

// Watch releases the lock when a prediction newer than the stamp
// arrives. Returns the subscription's detach function.
func (g *LockGuard) Watch() (store.Unsubscribe, error) {
	return g.store.Subscribe(store.CropPrediction(g.uid), func(path string, raw json.RawMessage) {
		if raw == nil {
			return
		}
		var rec models.PredictionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return
		}

		g.mu.Lock()
		armed := g.lockTs > 0 && rec.Ts > g.lockTs
		g.mu.Unlock()
		if !armed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.store.Delete(ctx, store.LockTs(g.uid)); err != nil {
			g.logger.Error().Err(err).Msg("Failed to release prediction lock")
			return
		}
		g.mu.Lock()
		g.lockTs = 0
		g.mu.Unlock()
		g.logger.Info().Int64("prediction_ts", rec.Ts).Msg("Prediction lock released")
	})
}
