package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/models"
	"github.com/agrisense/telemetry/internal/predict"
	"github.com/agrisense/telemetry/internal/source"
	"github.com/agrisense/telemetry/internal/store"
)

// Options tunes per-session behavior.
type Options struct {
	SummaryInterval time.Duration

	// OnAccepted observes each reading admitted to the hourly log.
	OnAccepted func(entryID string, r models.Reading)

	// OnPrediction observes each stored crop prediction.
	OnPrediction func(rec models.PredictionRecord)
}

// Session is one user's live pipeline: feed subscription, ingestion,
// day batching, cycle rollup, daily summaries, and the prediction lock.
// Exactly one session is active per process.
type Session struct {
	ID  string
	UID string

	ingestor   *Ingestor
	batcher    *DayBatcher
	roller     *CycleRoller
	summarizer *Summarizer
	lock       *LockGuard

	logger    zerolog.Logger
	unsubs    []store.Unsubscribe
	closeOnce sync.Once
}

// NewSession assembles and starts the pipeline for uid. The session
// owns its subscriptions and background loops until Close.
func NewSession(ctx context.Context, st store.Store, feed *source.Feed, p predict.Predictor, uid string, opts Options, logger zerolog.Logger) (*Session, error) {
	s := &Session{
		ID:     uuid.NewString(),
		UID:    uid,
		logger: logger.With().Str("component", "session").Str("uid", uid).Logger(),
	}

	s.lock = NewLockGuard(st, uid, logger)
	if err := s.lock.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load lock state: %w", err)
	}

	s.roller = NewCycleRoller(st, p, uid, s.lock.Locked, logger)
	s.roller.OnPrediction = opts.OnPrediction

	s.batcher = NewDayBatcher(st, uid, func(ctx context.Context) {
		if err := s.roller.Complete(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Cycle completion failed")
		}
	}, logger)

	s.ingestor = NewIngestor(st, uid, func(entryID string, r models.Reading) {
		bctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.batcher.Add(bctx, entryID, r); err != nil {
			s.logger.Error().Err(err).Str("entry_id", entryID).Msg("Day batching failed")
		}
		if opts.OnAccepted != nil {
			opts.OnAccepted(entryID, r)
		}
	}, logger)

	s.summarizer = NewSummarizer(st, uid, opts.SummaryInterval, logger)

	lockUnsub, err := s.lock.Watch()
	if err != nil {
		return nil, fmt.Errorf("failed to watch prediction lock: %w", err)
	}
	s.unsubs = append(s.unsubs, lockUnsub)

	feedUnsub, err := feed.Attach(func(r models.Reading) {
		ictx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.ingestor.Ingest(ictx, r)
	})
	if err != nil {
		for _, u := range s.unsubs {
			u()
		}
		return nil, fmt.Errorf("failed to attach feed: %w", err)
	}
	s.unsubs = append(s.unsubs, feedUnsub)

	s.summarizer.Start()
	s.logger.Info().Str("session_id", s.ID).Msg("Pipeline session started")
	return s, nil
}

// Close detaches the session's subscriptions and stops its loops.
// Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for _, u := range s.unsubs {
			u()
		}
		s.summarizer.Stop()
		s.logger.Info().Str("session_id", s.ID).Msg("Pipeline session closed")
	})
}

// ClearHistory wipes the user's history and arms the prediction lock.
func (s *Session) ClearHistory(ctx context.Context) error {
	return s.lock.ClearHistory(ctx)
}

// StartNewCycle resets the rotating day buckets and cycle records.
func (s *Session) StartNewCycle(ctx context.Context) error {
	s.batcher.Reset()
	return s.roller.StartNewCycle(ctx)
}

// RetryPrediction re-runs the prediction from the last completed
// cycle's average. The fresh record also releases an armed
// history-clear lock.
func (s *Session) RetryPrediction(ctx context.Context) error {
	return s.roller.Retrigger(ctx)
}

// Lock exposes the session's prediction lock.
func (s *Session) Lock() *LockGuard {
	return s.lock
}

// Summarizer exposes the session's daily rollup loop.
func (s *Session) Summarizer() *Summarizer {
	return s.summarizer
}

// Manager owns the single active session and swaps it when the active
// user changes.
type Manager struct {
	store  store.Store
	feed   *source.Feed
	pred   predict.Predictor
	opts   Options
	logger zerolog.Logger

	mu     sync.Mutex
	active *Session
}

func NewManager(st store.Store, feed *source.Feed, p predict.Predictor, opts Options, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  st,
		feed:   feed,
		pred:   p,
		opts:   opts,
		logger: logger,
	}
}

// SetUser closes any running session and starts a fresh one for uid.
// All dedup and batching guards start clean, so one user's state never
// bleeds into another's.
func (m *Manager) SetUser(ctx context.Context, uid string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		if m.active.UID == uid {
			return m.active, nil
		}
		m.active.Close()
		m.active = nil
	}

	s, err := NewSession(ctx, m.store, m.feed, m.pred, uid, m.opts, m.logger)
	if err != nil {
		return nil, err
	}
	m.active = s
	return s, nil
}

// Active returns the running session, nil when none.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Close shuts the active session down.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
}
