package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Health struct {
	Received        prometheus.Counter
	Dispatched      *prometheus.CounterVec
	AckFailures     prometheus.Counter
	ReceiveFailures prometheus.Counter
	BatchInProgress prometheus.Gauge
}

// NewHealth registers the dispatcher metrics. A nil registerer uses the default registry.
func NewHealth(reg prometheus.Registerer) *Health {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Health{
		Received: factory.NewCounter(prometheus.CounterOpts{
			Name: "devicehub_messages_received_total",
			Help: "Total number of messages received from the event source",
		}),
		Dispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "devicehub_messages_dispatched_total",
			Help: "Total number of messages dispatched, by outcome and event type",
		}, []string{"outcome", "tag"}),
		AckFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "devicehub_ack_failures_total",
			Help: "Total number of failed acknowledgements",
		}),
		ReceiveFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "devicehub_receive_failures_total",
			Help: "Total number of failed receive calls",
		}),
		BatchInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "devicehub_batch_in_progress",
			Help: "Indicates a batch is being dispatched",
		}),
	}
}

func (h *Health) received(n int) {
	if h != nil {
		h.Received.Add(float64(n))
	}
}

func (h *Health) dispatched(result Result) {
	if h != nil {
		h.Dispatched.WithLabelValues(result.Outcome.String(), result.Tag.String()).Inc()
	}
}

func (h *Health) ackFailed() {
	if h != nil {
		h.AckFailures.Inc()
	}
}

func (h *Health) receiveFailed() {
	if h != nil {
		h.ReceiveFailures.Inc()
	}
}

func (h *Health) batch(inProgress bool) {
	if h == nil {
		return
	}
	if inProgress {
		h.BatchInProgress.Set(1)
	} else {
		h.BatchInProgress.Set(0)
	}
}
