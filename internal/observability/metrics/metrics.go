package metrics

import "github.com/prometheus/client_golang/prometheus"

// CallMetrics exposes counters/histograms for call orchestration.
type CallMetrics struct {
	activeCalls       prometheus.Gauge
	eslCommands       *prometheus.CounterVec
	originations      *prometheus.CounterVec
	turnDuration      *prometheus.HistogramVec
	droppedTranscript prometheus.Counter
	webhookDeliveries *prometheus.CounterVec
}

func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	m := &CallMetrics{
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ligai",
			Subsystem: "calls",
			Name:      "active",
			Help:      "Call sessions currently registered",
		}),
		eslCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ligai",
			Subsystem: "esl",
			Name:      "commands_total",
			Help:      "Commands sent to the switch control port",
		}, []string{"command", "outcome"}),
		originations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ligai",
			Subsystem: "dialer",
			Name:      "originations_total",
			Help:      "Outbound origination attempts",
		}, []string{"source", "outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ligai",
			Subsystem: "calls",
			Name:      "turn_duration_seconds",
			Help:      "Time from accepted transcript to return to idle",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 21},
		}, []string{"outcome"}),
		droppedTranscript: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ligai",
			Subsystem: "calls",
			Name:      "transcripts_dropped_total",
			Help:      "Final transcripts discarded because the session was busy",
		}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ligai",
			Subsystem: "events",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts",
		}, []string{"event", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.activeCalls, m.eslCommands, m.originations, m.turnDuration, m.droppedTranscript, m.webhookDeliveries)
	return m
}

func (m *CallMetrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.activeCalls.Set(float64(n))
}

func (m *CallMetrics) ObserveESLCommand(command string, ok bool) {
	if m == nil {
		return
	}
	m.eslCommands.WithLabelValues(command, outcome(ok)).Inc()
}

func (m *CallMetrics) ObserveOrigination(source string, ok bool) {
	if m == nil {
		return
	}
	m.originations.WithLabelValues(source, outcome(ok)).Inc()
}

func (m *CallMetrics) ObserveTurn(seconds float64, ok bool) {
	if m == nil {
		return
	}
	m.turnDuration.WithLabelValues(outcome(ok)).Observe(seconds)
}

func (m *CallMetrics) IncDroppedTranscript() {
	if m == nil {
		return
	}
	m.droppedTranscript.Inc()
}

func (m *CallMetrics) ObserveWebhook(event string, ok bool) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(event, outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
