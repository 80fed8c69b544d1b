package simulator

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Hashiru97/pivot-mqtt-wordpress-dashboard/internal/model"
)

var allModes = []model.SystemMode{model.ModeIdle, model.ModeIrrigating, model.ModeFault, model.ModeMaintenance}

// Metrics collects the simulator's operational counters. A nil *Metrics is
// valid and records nothing, so tests can wire components without a registry.
type Metrics struct {
	commandsTotal *prometheus.CounterVec
	transitions   prometheus.Counter
	decodeErrors  prometheus.Counter
	overflow      prometheus.Counter
	reconnects    prometheus.Counter
	publishFails  prometheus.Counter
	seq           prometheus.Gauge
	mode          *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		commandsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pivotsim_commands_total",
			Help: "Inbound commands by outcome (accepted, replayed, or the rejection code).",
		}, []string{"outcome"}),
		transitions: f.NewCounter(prometheus.CounterOpts{
			Name: "pivotsim_transitions_total",
			Help: "Committed state transitions.",
		}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "pivotsim_decode_errors_total",
			Help: "Inbound messages dropped for unrecognized topic or malformed payload.",
		}),
		overflow: f.NewCounter(prometheus.CounterOpts{
			Name: "pivotsim_inbound_overflow_total",
			Help: "Inbound messages dropped because the dispatch queue was full.",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "pivotsim_reconnects_total",
			Help: "Successful broker reconnections after transport loss.",
		}),
		publishFails: f.NewCounter(prometheus.CounterOpts{
			Name: "pivotsim_publish_failures_total",
			Help: "Outbound publishes dropped or failed.",
		}),
		seq: f.NewGauge(prometheus.GaugeOpts{
			Name: "pivotsim_sequence_number",
			Help: "Current device state sequence number.",
		}),
		mode: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pivotsim_mode",
			Help: "Current system mode (one-hot).",
		}, []string{"mode"}),
	}
}

func (m *Metrics) CommandAccepted() {
	if m != nil {
		m.commandsTotal.WithLabelValues("accepted").Inc()
	}
}

func (m *Metrics) CommandReplayed() {
	if m != nil {
		m.commandsTotal.WithLabelValues("replayed").Inc()
	}
}

func (m *Metrics) CommandRejected(code string) {
	if m != nil {
		m.commandsTotal.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) DecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) InboundOverflow() {
	if m != nil {
		m.overflow.Inc()
	}
}

func (m *Metrics) Reconnected() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) PublishFailure() {
	if m != nil {
		m.publishFails.Inc()
	}
}

func (m *Metrics) TransitionCommitted(snap model.Snapshot) {
	if m == nil {
		return
	}
	m.transitions.Inc()
	m.seq.Set(float64(snap.Seq))
	for _, mode := range allModes {
		v := 0.0
		if mode == snap.Mode {
			v = 1.0
		}
		m.mode.WithLabelValues(string(mode)).Set(v)
	}
}

type healthHandler struct {
	connected func() bool
	store     *Store
	mirror    *Mirror
}

// NewHealthHandler reports ok when the broker session is up and the influx
// mirror (when enabled) has not erred recently.
func NewHealthHandler(connected func() bool, store *Store, mirror *Mirror) http.Handler {
	return &healthHandler{connected: connected, store: store, mirror: mirror}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status        string           `json:"status"`
		MQTTConnected bool             `json:"mqtt_connected"`
		Mode          model.SystemMode `json:"mode"`
		Seq           uint64           `json:"seq"`
	}
	snap := h.store.Snapshot()
	st := status{
		MQTTConnected: h.connected(),
		Mode:          snap.Mode,
		Seq:           snap.Seq,
	}
	switch {
	case st.MQTTConnected && h.mirror.LastErrorAge() > 30*time.Second:
		st.Status = "ok"
	case st.MQTTConnected:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// ServeObservability exposes /metrics and /healthz on addr. Blocks; run in
// a goroutine.
func ServeObservability(addr string, reg *prometheus.Registry, health http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", health)
	return http.ListenAndServe(addr, mux)
}
