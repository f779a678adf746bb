package event

import (
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
)

// PointWriter is the subset of the Influx non-blocking write API in use.
type PointWriter interface {
	WritePoint(point *write.Point)
	Errors() <-chan error
}

// Writer stores events and tracks the last asynchronous write error for
// /healthz and /readyz.
type Writer struct {
	api     PointWriter
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
	now     func() time.Time

	mu      sync.RWMutex
	lastErr time.Time
}

// NewWriter starts draining the write API error channel.
func NewWriter(w PointWriter, m *metrics.Metrics, log *zap.SugaredLogger) *Writer {
	if m == nil {
		m = metrics.New()
	}
	ww := &Writer{
		api:     w,
		metrics: m,
		log:     logging.OrNop(log),
		now:     time.Now,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				ww.mu.Lock()
				ww.lastErr = ww.now()
				ww.mu.Unlock()
				ww.log.Errorw("influx write error", "error", err)
			}
		}
	}()
	return ww
}

// Write converts evt to a point and queues it.
func (w *Writer) Write(evt CommonEvent) {
	w.api.WritePoint(EventToPoint(evt))
	w.metrics.EventsIngested.WithLabelValues(evt.EventType).Inc()
	w.log.Debugw("event stored", "type", evt.EventType, "field", evt.FieldID, "sensor", evt.SensorID)
}

// LastErrorAge is the time since the last write error.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return w.now().Sub(t)
}
