// Package requestlog writes sampled request records to the catalog.
// Recording is a side channel: failures are logged, never surfaced.
package requestlog

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CroLens/server/internal/catalog"
)

// Writer samples and persists request logs.
type Writer struct {
	store      catalog.Store
	sampleRate float64
	logger     zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a Writer. sampleRate is clamped to [0,1].
func New(store catalog.Store, sampleRate float64, log zerolog.Logger) *Writer {
	if sampleRate < 0 {
		sampleRate = 0
	}
	if sampleRate > 1 {
		sampleRate = 1
	}
	return &Writer{
		store:      store,
		sampleRate: sampleRate,
		logger:     log,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Record persists one entry if it passes sampling. The write happens on the
// caller's goroutine, bounded by a 2s timeout independent of the request
// context; the caller waits for it to finish.
func (w *Writer) Record(rec catalog.RequestLog) {
	if !w.sample() {
		return
	}
	rec.CreatedAt = time.Now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := w.store.InsertRequestLog(ctx, rec); err != nil {
		w.logger.Warn().Err(err).Str("trace_id", rec.TraceID).Msg("requestlog.insert_failed")
	}
}

func (w *Writer) sample() bool {
	if w.sampleRate >= 1 {
		return true
	}
	if w.sampleRate <= 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rng.Float64() < w.sampleRate
}
