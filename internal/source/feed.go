package source

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/agrisense/telemetry/internal/models"
	"github.com/agrisense/telemetry/internal/store"
)

// Handler receives each normalized reading from the live feed.
type Handler func(r models.Reading)

// Feed watches the shared sensorData document and forwards every
// normalized reading to its handler. Raw documents that fail
// normalization are logged and skipped.
type Feed struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewFeed(st store.Store, logger zerolog.Logger) *Feed {
	return &Feed{
		store:  st,
		logger: logger.With().Str("component", "feed").Logger(),
		now:    time.Now,
	}
}

// Attach subscribes the feed to the live sensor document. The returned
// function detaches it.
func (f *Feed) Attach(handler Handler) (store.Unsubscribe, error) {
	return f.store.Subscribe(store.SensorDataPath, func(path string, raw json.RawMessage) {
		if raw == nil {
			return
		}
		r := MapReading(raw, f.now())
		if r == nil {
			f.logger.Warn().Str("path", path).Msg("Dropping unrecognized sensor document")
			return
		}
		handler(*r)
	})
}
