package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/models"
	"github.com/agrisense/telemetry/internal/store"
)

// DedupWindow is how long an identical raw signature suppresses
// re-ingestion. Gateways re-publish the live document on reconnect, so
// back-to-back duplicates are expected and must not inflate the log.
const DedupWindow = 2 * time.Second

// Forward receives each accepted reading together with its log entry ID.
type Forward func(entryID string, r models.Reading)

// Ingestor admits readings from the live feed into the hourly log.
// It deduplicates by raw signature within DedupWindow and drops
// arrivals while a previous write is still in flight. One ingestor
// serves one user; callers deliver readings from a single goroutine.
type Ingestor struct {
	store   store.Store
	logger  zerolog.Logger
	uid     string
	forward Forward
	now     func() time.Time

	mu            sync.Mutex
	lastSignature string
	lastWriteMs   int64
	wroteInitial  bool
	writing       bool
}

func NewIngestor(st store.Store, uid string, forward Forward, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		store:   st,
		logger:  logger.With().Str("component", "ingest").Str("uid", uid).Logger(),
		uid:     uid,
		forward: forward,
		now:     time.Now,
	}
}

// Ingest admits or drops one reading. Returns the log entry ID when the
// reading was written, or "" when it was dropped.
func (in *Ingestor) Ingest(ctx context.Context, r models.Reading) string {
	now := in.now()
	sig := r.Signature()
	nowMs := models.Millis(now)

	in.mu.Lock()
	if in.writing {
		in.mu.Unlock()
		in.logger.Debug().Msg("Dropping reading, previous write still in flight")
		return ""
	}
	// The very first reading after startup always lands, even if its
	// signature matches stale state.
	if in.wroteInitial && sig == in.lastSignature && nowMs-in.lastWriteMs < DedupWindow.Milliseconds() {
		in.mu.Unlock()
		in.logger.Debug().Str("signature", sig).Msg("Dropping duplicate reading inside dedup window")
		return ""
	}
	in.writing = true
	in.mu.Unlock()

	entryID := models.EntryID(now)
	entry := models.NewHourlyEntry(r, now)

	err := in.store.Write(ctx, store.HourlyEntry(in.uid, entryID), entry)

	in.mu.Lock()
	in.writing = false
	if err == nil {
		in.lastSignature = sig
		in.lastWriteMs = nowMs
		in.wroteInitial = true
	}
	in.mu.Unlock()

	if err != nil {
		in.logger.Error().Err(err).Str("entry_id", entryID).Msg("Failed to write hourly entry")
		return ""
	}

	in.logger.Debug().Str("entry_id", entryID).Msg("Reading accepted")
	if in.forward != nil {
		in.forward(entryID, r)
	}
	return entryID
}

// Reset clears the dedup guards. Called when the active user changes so
// one user's trailing signature never suppresses another's first write.
func (in *Ingestor) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.lastSignature = ""
	in.lastWriteMs = 0
	in.wroteInitial = false
	in.writing = false
}
