package event

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Connection is satisfied by mqtt.Client.
type Connection interface {
	IsConnectionOpen() bool
}

// Pinger is satisfied by influxdb2.Client.
type Pinger interface {
	Ping(ctx context.Context) (bool, error)
}

type healthHandler struct {
	mqtt   Connection
	influx Pinger
	writer *Writer
}

func NewHealthHandler(m Connection, i Pinger, w *Writer) http.Handler {
	return &healthHandler{mqtt: m, influx: i, writer: w}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		MQTTConnected   bool    `json:"mqtt_connected"`
		InfluxOK        bool    `json:"influx_ok"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec"`
	}
	st := status{
		MQTTConnected:   h.mqtt != nil && h.mqtt.IsConnectionOpen(),
		InfluxOK:        h.influx != nil,
		LastWriteErrorS: h.writer.LastErrorAge().Seconds(),
	}

	switch {
	case st.MQTTConnected && st.InfluxOK && h.writer.LastErrorAge() > 30*time.Second:
		st.Status = "ok"
	case st.MQTTConnected || st.InfluxOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// readyHandler answers 200 only when MQTT is up, Influx answers a ping and no
// write failed within minError.
type readyHandler struct {
	mqtt     Connection
	influx   Pinger
	writer   *Writer
	minError time.Duration
}

func NewReadyHandler(m Connection, i Pinger, w *Writer, minOkErrorAge time.Duration) http.Handler {
	return &readyHandler{mqtt: m, influx: i, writer: w, minError: minOkErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ready := h.mqtt != nil && h.mqtt.IsConnectionOpen() && h.writer.LastErrorAge() > h.minError
	if ready && h.influx != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		ok, err := h.influx.Ping(ctx)
		cancel()
		ready = ok && err == nil
	} else {
		ready = ready && h.influx != nil
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(struct {
		Ready bool `json:"ready"`
	}{Ready: ready})
}
