package supervisor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/boinc-supervisor/pkg/shm"
)

const metricsNamespace = "boinc_supervisor"

// Metrics are the Prometheus collectors updated by the loop.
type Metrics struct {
	messages     *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
	ticks        prometheus.Counter
	startupSends *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_total",
			Help:      "Messages drained from the shared region, by channel.",
		}, []string{"channel"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decode_errors_total",
			Help:      "Malformed slots drained from the shared region, by channel and reason.",
		}, []string{"channel", "reason"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "ticks_total",
			Help:      "Polling iterations completed.",
		}),
		startupSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "startup_sends_total",
			Help:      "Startup control messages written, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.messages, m.decodeErrors, m.ticks, m.startupSends)
	}
	return m
}

func (m *Metrics) message(id shm.ChannelID) {
	m.messages.WithLabelValues(id.String()).Inc()
}

func (m *Metrics) decodeError(id shm.ChannelID, err error) {
	m.decodeErrors.WithLabelValues(id.String(), errorReason(err)).Inc()
}

func (m *Metrics) tick() {
	m.ticks.Inc()
}

func (m *Metrics) startup(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.startupSends.WithLabelValues(result).Inc()
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, shm.ErrNotTerminated):
		return "not_terminated"
	case errors.Is(err, shm.ErrInvalidEncoding):
		return "invalid_encoding"
	}
	return "other"
}
