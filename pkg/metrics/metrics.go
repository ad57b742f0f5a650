package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the daemon's Prometheus collectors. It satisfies the
// audio pipeline's counter interface so the hot path never sees the
// prometheus types directly.
type Metrics struct {
	commandsTotal *prometheus.CounterVec
	guardRejects  prometheus.Counter

	connectionState prometheus.Gauge
	reconnectsTotal prometheus.Counter
	linkErrorsTotal *prometheus.CounterVec

	txActive        prometheus.Gauge
	txSessionsTotal prometheus.Counter

	rxAudioBytesTotal prometheus.Counter
	txAudioBytesTotal prometheus.Counter
	underrunsTotal    prometheus.Counter
	overrunsTotal     prometheus.Counter
	rxQueueDepth      prometheus.Gauge

	powerWatts      prometheus.Gauge
	powerLossTotal  prometheus.Counter
	audioRMSDB      prometheus.Gauge

	mu     sync.Mutex
	lastTX bool
}

// New creates the collector set on the given registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trusdxd_cat_commands_total",
				Help: "CAT commands dispatched, by mnemonic and handling policy",
			},
			[]string{"mnemonic", "policy"},
		),
		guardRejects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trusdxd_cat_guard_rejects_total",
				Help: "Frequency sets rejected by the default-frequency guard",
			},
		),
		connectionState: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trusdxd_connection_state",
				Help: "Connection state (0=disconnected 1=connecting 2=connected 3=reconnecting 4=failed)",
			},
		),
		reconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trusdxd_reconnects_total",
				Help: "Completed reconnections to the radio",
			},
		),
		linkErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trusdxd_link_errors_total",
				Help: "Serial link errors by failing operation",
			},
			[]string{"op"},
		),
		txActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trusdxd_tx_active",
				Help: "Whether the radio is currently keyed (1=transmitting)",
			},
		),
		txSessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trusdxd_tx_sessions_total",
				Help: "Transmit key-up events",
			},
		),
		rxAudioBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trusdxd_rx_audio_bytes_total",
				Help: "Receive audio bytes taken off the serial link",
			},
		),
		txAudioBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trusdxd_tx_audio_bytes_total",
				Help: "Transmit audio bytes sent to the radio",
			},
		),
		underrunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trusdxd_audio_underruns_total",
				Help: "Playback queue underruns",
			},
		),
		overrunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trusdxd_audio_overruns_total",
				Help: "Receive audio chunks dropped on a full playback queue",
			},
		),
		rxQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trusdxd_rx_queue_depth",
				Help: "Receive audio chunks currently queued for playback",
			},
		),
		powerWatts: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trusdxd_power_watts",
				Help: "Last output power reading from the radio",
			},
		),
		powerLossTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "trusdxd_power_loss_signals_total",
				Help: "Times the power monitor flagged the radio dark",
			},
		),
		audioRMSDB: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "trusdxd_audio_rms_db",
				Help: "RMS level of the transmit audio stream in dBFS",
			},
		),
	}
}

// ObserveCommand counts one dispatched CAT command.
func (m *Metrics) ObserveCommand(mnemonic, policy string) {
	m.commandsTotal.WithLabelValues(mnemonic, policy).Inc()
}

// IncGuardReject counts a frequency set stopped by the guard.
func (m *Metrics) IncGuardReject() {
	m.guardRejects.Inc()
}

// connection state values match the supervisor's state order.
var stateValues = map[string]float64{
	"disconnected": 0,
	"connecting":   1,
	"connected":    2,
	"reconnecting": 3,
	"failed":       4,
}

// SetConnectionState records the supervisor state by name.
func (m *Metrics) SetConnectionState(name string) {
	if v, ok := stateValues[name]; ok {
		m.connectionState.Set(v)
	}
}

// IncReconnect counts a completed reconnection.
func (m *Metrics) IncReconnect() {
	m.reconnectsTotal.Inc()
}

// IncLinkError counts a link error by the operation that failed.
func (m *Metrics) IncLinkError(op string) {
	m.linkErrorsTotal.WithLabelValues(op).Inc()
}

// SetTXActive tracks the keyed state and counts key-up edges.
func (m *Metrics) SetTXActive(on bool) {
	m.mu.Lock()
	edge := on && !m.lastTX
	m.lastTX = on
	m.mu.Unlock()

	if on {
		m.txActive.Set(1)
	} else {
		m.txActive.Set(0)
	}
	if edge {
		m.txSessionsTotal.Inc()
	}
}

// AddRXAudioBytes implements the audio pipeline counter interface.
func (m *Metrics) AddRXAudioBytes(n int) {
	m.rxAudioBytesTotal.Add(float64(n))
}

// AddTXAudioBytes implements the audio pipeline counter interface.
func (m *Metrics) AddTXAudioBytes(n int) {
	m.txAudioBytesTotal.Add(float64(n))
}

// IncUnderrun implements the audio pipeline counter interface.
func (m *Metrics) IncUnderrun() {
	m.underrunsTotal.Inc()
}

// IncOverrun implements the audio pipeline counter interface.
func (m *Metrics) IncOverrun() {
	m.overrunsTotal.Inc()
}

// SetRXQueueDepth records the playback queue depth.
func (m *Metrics) SetRXQueueDepth(n int) {
	m.rxQueueDepth.Set(float64(n))
}

// SetPowerWatts records the latest power reading.
func (m *Metrics) SetPowerWatts(watts int) {
	m.powerWatts.Set(float64(watts))
}

// IncPowerLoss counts a power-loss signal.
func (m *Metrics) IncPowerLoss() {
	m.powerLossTotal.Inc()
}

// SetAudioRMSDB records the transmit audio level.
func (m *Metrics) SetAudioRMSDB(db float64) {
	m.audioRMSDB.Set(db)
}
