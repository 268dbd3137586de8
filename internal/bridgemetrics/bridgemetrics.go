// Package bridgemetrics registers the bridge's Prometheus metrics: a
// handful of counters/histograms built at startup and registered once
// via prometheus.MustRegister.
package bridgemetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/histogram the bridge exports at
// /metrics.
type Metrics struct {
	PollsTotal          *prometheus.CounterVec
	PollFailuresTotal   *prometheus.CounterVec
	ModemSessionsTotal  *prometheus.CounterVec
	ModemFramesDropped  prometheus.Counter
	WriteLatencySeconds prometheus.Histogram
	ConnectedDevices    prometheus.Gauge
}

// New builds and registers every metric. Calling New twice in the same
// process panics (prometheus.MustRegister) -- this bridge only ever
// calls it once, from cmd/bridge.
func New() *Metrics {
	m := &Metrics{
		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_bridge_polls_total",
			Help: "Total number of device poll ticks, by device id.",
		}, []string{"device"}),
		PollFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_bridge_poll_failures_total",
			Help: "Total number of poll ticks that failed to connect or read, by device id.",
		}, []string{"device"}),
		ModemSessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modbus_bridge_modem_sessions_total",
			Help: "Total number of modem connections accepted, by listen port.",
		}, []string{"port"}),
		ModemFramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "modbus_bridge_modem_frames_dropped_total",
			Help: "Total number of modem frames dropped (unmatched route or unsupported function code).",
		}),
		WriteLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "modbus_bridge_write_latency_seconds",
			Help:    "Latency of admin-initiated tag writes.",
			Buckets: prometheus.DefBuckets,
		}),
		ConnectedDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "modbus_bridge_connected_devices",
			Help: "Number of outbound (tcp/rtu) devices currently connected.",
		}),
	}

	prometheus.MustRegister(
		m.PollsTotal,
		m.PollFailuresTotal,
		m.ModemSessionsTotal,
		m.ModemFramesDropped,
		m.WriteLatencySeconds,
		m.ConnectedDevices,
	)
	return m
}

// ObservePoll implements poller.Recorder.
func (m *Metrics) ObservePoll(deviceID string) {
	m.PollsTotal.WithLabelValues(deviceID).Inc()
}

// ObservePollFailure implements poller.Recorder.
func (m *Metrics) ObservePollFailure(deviceID string) {
	m.PollFailuresTotal.WithLabelValues(deviceID).Inc()
}

// ObserveModemSession implements modem.Recorder.
func (m *Metrics) ObserveModemSession(listenPort int) {
	m.ModemSessionsTotal.WithLabelValues(strconv.Itoa(listenPort)).Inc()
}

// ObserveModemFrameDropped implements modem.Recorder.
func (m *Metrics) ObserveModemFrameDropped() {
	m.ModemFramesDropped.Inc()
}

// ObserveWriteLatency implements adminhttp.Recorder.
func (m *Metrics) ObserveWriteLatency(seconds float64) {
	m.WriteLatencySeconds.Observe(seconds)
}

// IncConnectedDevices implements modbusclient.Recorder.
func (m *Metrics) IncConnectedDevices() {
	m.ConnectedDevices.Inc()
}

// DecConnectedDevices implements modbusclient.Recorder.
func (m *Metrics) DecConnectedDevices() {
	m.ConnectedDevices.Dec()
}
