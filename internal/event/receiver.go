package event

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/ingestion"
	"github.com/dennisdiepolder/kpiboard/internal/metrics"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

// Receiver accepts change notifications pushed by an external document store
type Receiver struct {
	processor      ingestion.ChangeProcessor
	logger         zerolog.Logger
	eventsReceived int64
	lastReceived   time.Time
	mu             sync.RWMutex
}

// NewReceiver creates a new change receiver
func NewReceiver(processor ingestion.ChangeProcessor, logger zerolog.Logger) *Receiver {
	return &Receiver{
		processor: processor,
		logger:    logger.With().Str("component", "change-receiver").Logger(),
	}
}

// HandleChange receives one change event and applies it
func (r *Receiver) HandleChange(w http.ResponseWriter, req *http.Request) {
	m := metrics.Get()

	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var ev types.ChangeEvent
	if err := json.NewDecoder(req.Body).Decode(&ev); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode change event")
		m.RecordChangeError()
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	m.RecordChangeReceived()

	if err := r.processor.Process(req.Context(), ev); err != nil {
		m.RecordChangeError()
		if errors.Is(err, ingestion.ErrUnknownKind) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		r.logger.Error().Err(err).Str("kind", string(ev.Kind)).Msg("failed to process change event")
		http.Error(w, "failed to process event", http.StatusInternalServerError)
		return
	}

	m.RecordChangeProcessed()

	count := atomic.AddInt64(&r.eventsReceived, 1)
	r.mu.Lock()
	r.lastReceived = time.Now()
	r.mu.Unlock()

	if count%1000 == 0 {
		r.logger.Info().Int64("total_received", count).Msg("change events received")
	}

	w.WriteHeader(http.StatusAccepted)
}

// GetStats returns receiver statistics
func (r *Receiver) GetStats(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	lastReceived := r.lastReceived
	r.mu.RUnlock()

	stats := map[string]interface{}{
		"events_received": atomic.LoadInt64(&r.eventsReceived),
		"last_received":   lastReceived,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
