package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/models"
	"github.com/agrisense/telemetry/internal/store"
)

func writeHourlyAt(t *testing.T, ms *store.MemoryStore, uid string, at time.Time, nitrogen float64) {
	t.Helper()
	entry := models.NewHourlyEntry(testReading(nitrogen), at)
	if err := ms.Write(context.Background(), store.HourlyEntry(uid, models.EntryID(at)), entry); err != nil {
		t.Fatalf("Failed to write hourly entry: %v", err)
	}
}

func TestSummarizeDay(t *testing.T) {
	ms := store.NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()
	day := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)

	writeHourlyAt(t, ms, "u1", day.Add(8*time.Hour), 10)
	writeHourlyAt(t, ms, "u1", day.Add(8*time.Hour+30*time.Minute), 20)
	writeHourlyAt(t, ms, "u1", day.Add(23*time.Hour+59*time.Minute), 30)
	// Next day's entry must not leak into the summary.
	writeHourlyAt(t, ms, "u1", day.Add(25*time.Hour), 99)

	s := NewSummarizer(ms, "u1", time.Minute, zerolog.Nop())
	if err := s.SummarizeDay(ctx, day); err != nil {
		t.Fatalf("SummarizeDay failed: %v", err)
	}

	var summary models.DailySummary
	found, err := ms.Read(ctx, store.DailySummary("u1", "20250930"), &summary)
	if err != nil || !found {
		t.Fatalf("Expected summary, found=%v err=%v", found, err)
	}
	if summary.TotalReadings != 3 {
		t.Errorf("Expected 3 readings, got %d", summary.TotalReadings)
	}
	if summary.HourCount != 3 {
		t.Errorf("Expected hourCount to carry the entry count 3, got %d", summary.HourCount)
	}
	if summary.IsComplete {
		t.Error("Expected incomplete day with 3 entries")
	}
	if summary.AvgNitrogen != 20.0 {
		t.Errorf("Expected nitrogen average 20.0, got %v", summary.AvgNitrogen)
	}
	if summary.Date != "2025-09-30" || summary.ID != "20250930" {
		t.Errorf("Unexpected identity fields: %+v", summary)
	}
	if summary.DayNumber != 30 {
		t.Errorf("Expected dayNumber 30 (day of month), got %d", summary.DayNumber)
	}
}

func TestSummarizeDayCompletesAtTwentyFourEntries(t *testing.T) {
	ms := store.NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()
	day := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)

	// Entry count drives completeness even when readings cluster in a
	// single hour.
	for i := 0; i < DayCompleteHours; i++ {
		writeHourlyAt(t, ms, "u1", day.Add(9*time.Hour+time.Duration(i)*time.Minute), 10)
	}

	s := NewSummarizer(ms, "u1", time.Minute, zerolog.Nop())
	if err := s.SummarizeDay(ctx, day); err != nil {
		t.Fatalf("SummarizeDay failed: %v", err)
	}

	var summary models.DailySummary
	if _, err := ms.Read(ctx, store.DailySummary("u1", "20250930"), &summary); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if summary.HourCount != 24 || !summary.IsComplete {
		t.Errorf("Expected hourCount=24 isComplete=true, got hourCount=%d isComplete=%v",
			summary.HourCount, summary.IsComplete)
	}
}

func TestSummarizeDayNumberIgnoresCyclePointer(t *testing.T) {
	ms := store.NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()
	day := time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)

	if err := ms.Write(ctx, store.CurrentDay("u1"), 2); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	writeHourlyAt(t, ms, "u1", day.Add(10*time.Hour), 10)

	s := NewSummarizer(ms, "u1", time.Minute, zerolog.Nop())
	if err := s.SummarizeDay(ctx, day); err != nil {
		t.Fatalf("SummarizeDay failed: %v", err)
	}

	var summary models.DailySummary
	if _, err := ms.Read(ctx, store.DailySummary("u1", "20250915"), &summary); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if summary.DayNumber != 15 {
		t.Errorf("Expected calendar day 15, got %d", summary.DayNumber)
	}
}

func TestSummarizeDayIdempotent(t *testing.T) {
	ms := store.NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()
	day := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)

	writeHourlyAt(t, ms, "u1", day.Add(10*time.Hour), 40)

	s := NewSummarizer(ms, "u1", time.Minute, zerolog.Nop())
	if err := s.SummarizeDay(ctx, day); err != nil {
		t.Fatalf("First pass failed: %v", err)
	}

	writeHourlyAt(t, ms, "u1", day.Add(11*time.Hour), 60)
	if err := s.SummarizeDay(ctx, day); err != nil {
		t.Fatalf("Second pass failed: %v", err)
	}

	var summary models.DailySummary
	if _, err := ms.Read(ctx, store.DailySummary("u1", "20250930"), &summary); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if summary.TotalReadings != 2 || summary.AvgNitrogen != 50.0 {
		t.Errorf("Expected refreshed summary with 2 readings avg 50.0, got %+v", summary)
	}
}

func TestSummarizeDayEmptyLogWritesNothing(t *testing.T) {
	ms := store.NewMemoryStore()
	defer ms.Close()
	ctx := context.Background()
	day := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)

	s := NewSummarizer(ms, "u1", time.Minute, zerolog.Nop())
	if err := s.SummarizeDay(ctx, day); err != nil {
		t.Fatalf("SummarizeDay failed: %v", err)
	}

	var summary models.DailySummary
	if found, _ := ms.Read(ctx, store.DailySummary("u1", "20250930"), &summary); found {
		t.Error("Expected no summary for an empty day")
	}
}

func TestSummarizerRunNowUsesCurrentDay(t *testing.T) {
	ms := store.NewMemoryStore()
	defer ms.Close()
	now := time.Date(2025, 9, 30, 14, 0, 0, 0, time.UTC)

	writeHourlyAt(t, ms, "u1", now.Add(-time.Hour), 25)

	s := NewSummarizer(ms, "u1", time.Minute, zerolog.Nop())
	s.now = func() time.Time { return now }

	if err := s.RunNow(); err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}

	var summary models.DailySummary
	found, _ := ms.Read(context.Background(), store.DailySummary("u1", "20250930"), &summary)
	if !found {
		t.Fatal("Expected today's summary after RunNow")
	}
}

func TestSummarizerStartStop(t *testing.T) {
	ms := store.NewMemoryStore()
	defer ms.Close()

	s := NewSummarizer(ms, "u1", time.Hour, zerolog.Nop())
	s.Start()
	s.Stop()
	// Stop is idempotent.
	s.Stop()
}
