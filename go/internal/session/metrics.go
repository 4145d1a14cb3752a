package session

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mcdev12/impact/go/internal/round"
	"github.com/mcdev12/impact/go/internal/serialframe"
)

// Metrics counts what the runner sees on the wire and in the machine.
type Metrics struct {
	frames     *prometheus.CounterVec
	violations prometheus.Counter
	state      prometheus.Gauge
}

// NewMetrics registers the runner collectors with reg. A nil reg keeps the
// collectors unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "serial_frames_total",
			Help:      "Serial frames by decode result.",
		}, []string{"result"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arena",
			Name:      "state_violations_total",
			Help:      "Inputs ignored because the round state did not accept them.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "arena",
			Name:      "round_state",
			Help:      "Current round state (0 waiting, 1 playing, 2 victory).",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.frames, m.violations, m.state)
	}
	return m
}

func (m *Metrics) recordFrame(err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, serialframe.ErrOutOfRangeField):
		result = "out_of_range"
	case errors.Is(err, serialframe.ErrMalformedFrame):
		result = "malformed"
	default:
		result = "error"
	}
	m.frames.WithLabelValues(result).Inc()
}

func (m *Metrics) recordViolation() {
	m.violations.Inc()
}

func (m *Metrics) recordState(s round.State) {
	m.state.Set(float64(s))
}
