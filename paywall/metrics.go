package paywall

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/andrewreder/x402-paywall/go-api/x402"
)

// Metrics holds the gate's prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	outcomes       *prometheus.CounterVec
	tokensIssued   prometheus.Counter
	verifyDuration *prometheus.HistogramVec
}

// NewMetrics creates the gate collectors and registers them on reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "paywall_outcomes_total",
			Help: "Gate decisions by terminal outcome.",
		}, []string{"outcome"}),
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "paywall_tokens_issued_total",
			Help: "Session tokens issued after an accepted payment.",
		}),
		verifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "paywall_verify_duration_seconds",
			Help:    "Latency of payment verifier calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"result"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.outcomes, m.tokensIssued, m.verifyDuration} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) observeOutcome(out Outcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcomeLabel(out)).Inc()
	if out.Token != nil {
		m.tokensIssued.Inc()
	}
}

func (m *Metrics) observeVerify(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "accepted"
	if err != nil {
		result = "rejected"
		if _, ok := x402.RejectReason(err); !ok {
			result = "unavailable"
		}
	}
	m.verifyDuration.WithLabelValues(result).Observe(d.Seconds())
}

func outcomeLabel(out Outcome) string {
	switch out.Kind {
	case Admitted:
		if out.Via == ViaToken {
			return "admitted_token"
		}
		return "admitted_payment"
	case Challenged:
		return "challenged"
	case Rejected:
		switch {
		case errors.Is(out.Err, ErrRequestCanceled):
			return "canceled"
		case errors.Is(out.Err, x402.ErrVerifierUnavailable):
			return "verifier_unavailable"
		default:
			if _, ok := x402.RejectReason(out.Err); ok {
				return "payment_rejected"
			}
			return "error"
		}
	default:
		return "unknown"
	}
}
