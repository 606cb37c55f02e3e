package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/models"
	"github.com/agrisense/telemetry/internal/source"
	"github.com/agrisense/telemetry/internal/store"
)

// steppingClock advances a fixed step on every call so consecutive
// readings land outside the dedup window with distinct entry IDs.
func steppingClock(step time.Duration) func() time.Time {
	t := time.Date(2025, 9, 30, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func newTestSession(t *testing.T, ms *store.MemoryStore, fp *fakePredictor, uid string, opts Options) *Session {
	t.Helper()

	feed := source.NewFeed(ms, zerolog.Nop())
	s, err := NewSession(context.Background(), ms, feed, fp, uid, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	s.ingestor.now = steppingClock(3 * time.Second)
	t.Cleanup(s.Close)
	return s
}

func publish(t *testing.T, ms *store.MemoryStore, nitrogen float64) {
	t.Helper()
	doc := map[string]any{
		"dht11": map[string]any{"temperature": 25.5, "humidity": 60},
		"soil":  map[string]any{"temperature": 22.0},
		"npk": map[string]any{
			"soilHumidity": 45.0, "nitrate": nitrogen,
			"phosphorus": 40.0, "potassium": 90.0, "ph": 6.5,
		},
	}
	if err := ms.Write(context.Background(), store.SensorDataPath, doc); err != nil {
		t.Fatalf("Failed to publish sensor document: %v", err)
	}
}

func TestSessionEndToEndCycle(t *testing.T) {
	ms := store.NewMemoryStore()
	defer ms.Close()
	fp := &fakePredictor{crop: "rice"}
	ctx := context.Background()

	var accepted []string
	var predictions []models.PredictionRecord
	newTestSession(t, ms, fp, "u1", Options{
		SummaryInterval: time.Hour,
		OnAccepted:      func(entryID string, r models.Reading) { accepted = append(accepted, entryID) },
		OnPrediction:    func(rec models.PredictionRecord) { predictions = append(predictions, rec) },
	})

	// Three full cycles' worth of readings, one cycle's day at a time.
	for _, n := range []float64{10, 20, 30, 40, 50} {
		publish(t, ms, n)
	}

	if len(accepted) != 5 {
		t.Fatalf("Expected 5 accepted readings, got %d", len(accepted))
	}

	var bucket models.DayBucket
	if _, err := ms.Read(ctx, store.DayBucket("u1", 1), &bucket); err != nil {
		t.Fatalf("Read bucket failed: %v", err)
	}
	if !bucket.IsComplete || bucket.Average.Nitrogen != 30.0 {
		t.Fatalf("Expected day 1 frozen with nitrogen 30.0, got %+v", bucket)
	}

	var day int
	if _, err := ms.Read(ctx, store.CurrentDay("u1"), &day); err != nil {
		t.Fatalf("Read pointer failed: %v", err)
	}
	if day != 2 {
		t.Fatalf("Expected pointer at day 2, got %d", day)
	}

	// Finish days 2 and 3; the third completion closes the cycle.
	for day := 2; day <= 3; day++ {
		for _, n := range []float64{10, 20, 30, 40, 50} {
			publish(t, ms, n)
		}
	}

	if fp.cropCalls != 1 {
		t.Fatalf("Expected exactly one prediction per cycle, got %d", fp.cropCalls)
	}
	if len(predictions) != 1 || predictions[0].Crop != "rice" {
		t.Fatalf("Expected one observed prediction, got %v", predictions)
	}

	var result models.CycleResult
	found, err := ms.Read(ctx, store.FinalAverage("u1"), &result)
	if err != nil || !found {
		t.Fatalf("Expected final average, found=%v err=%v", found, err)
	}
	if result.FinalAverage.Nitrogen != 30.0 {
		t.Errorf("Expected final nitrogen 30.0, got %v", result.FinalAverage.Nitrogen)
	}
}

func TestSessionDuplicatePublishIsDropped(t *testing.T) {
	ms := store.NewMemoryStore()
	defer ms.Close()
	fp := &fakePredictor{crop: "rice"}

	var accepted int
	s := newTestSession(t, ms, fp, "u1", Options{
		SummaryInterval: time.Hour,
		OnAccepted:      func(string, models.Reading) { accepted++ },
	})
	// Re-publishes inside the window must dedup, so stop the clock.
	s.ingestor.now = steppingClock(0)

	publish(t, ms, 80)
	publish(t, ms, 80)
	publish(t, ms, 80)

	if accepted != 1 {
		t.Errorf("Expected 1 accepted reading from identical publishes, got %d", accepted)
	}
}

func TestManagerSwitchesUserCleanly(t *testing.T) {
	ms := store.NewMemoryStore()
	defer ms.Close()
	fp := &fakePredictor{crop: "rice"}
	ctx := context.Background()

	feed := source.NewFeed(ms, zerolog.Nop())
	m := NewManager(ms, feed, fp, Options{SummaryInterval: time.Hour}, zerolog.Nop())
	defer m.Close()

	s1, err := m.SetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("SetUser u1 failed: %v", err)
	}
	s1.ingestor.now = steppingClock(0)
	publish(t, ms, 80)

	// Same uid returns the running session.
	again, err := m.SetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("SetUser u1 again failed: %v", err)
	}
	if again != s1 {
		t.Error("Expected same session for same uid")
	}

	s2, err := m.SetUser(ctx, "u2")
	if err != nil {
		t.Fatalf("SetUser u2 failed: %v", err)
	}
	if s2 == s1 {
		t.Fatal("Expected a fresh session for the new uid")
	}
	s2.ingestor.now = steppingClock(0)

	// The old session is detached: an identical publish lands for u2
	// because its guards start clean.
	publish(t, ms, 80)

	docs, err := ms.RangeQuery(ctx, store.HourlyLog("u2"), "", "\xff")
	if err != nil {
		t.Fatalf("RangeQuery failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("Expected 1 entry for u2, got %d", len(docs))
	}

	u1docs, err := ms.RangeQuery(ctx, store.HourlyLog("u1"), "", "\xff")
	if err != nil {
		t.Fatalf("RangeQuery failed: %v", err)
	}
	if len(u1docs) != 1 {
		t.Errorf("Expected u1's log untouched after switch, got %d entries", len(u1docs))
	}
}

func TestSessionClearHistoryBlocksThenReleases(t *testing.T) {
	ms := store.NewMemoryStore()
	defer ms.Close()
	fp := &fakePredictor{crop: "rice"}
	ctx := context.Background()

	s := newTestSession(t, ms, fp, "u1", Options{SummaryInterval: time.Hour})

	// Complete one cycle.
	for day := 1; day <= 3; day++ {
		for _, n := range []float64{10, 20, 30, 40, 50} {
			publish(t, ms, n)
		}
	}
	if fp.cropCalls != 1 {
		t.Fatalf("Expected one prediction, got %d", fp.cropCalls)
	}

	if err := s.ClearHistory(ctx); err != nil {
		t.Fatalf("ClearHistory failed: %v", err)
	}
	if !s.Lock().Locked() {
		t.Fatal("Expected lock armed after ClearHistory")
	}

	// The next cycle closes without predicting.
	if err := s.StartNewCycle(ctx); err != nil {
		t.Fatalf("StartNewCycle failed: %v", err)
	}
	for day := 1; day <= 3; day++ {
		for _, n := range []float64{11, 21, 31, 41, 51} {
			publish(t, ms, n)
		}
	}
	if fp.cropCalls != 1 {
		t.Errorf("Expected prediction suppressed while locked, got %d calls", fp.cropCalls)
	}
}
