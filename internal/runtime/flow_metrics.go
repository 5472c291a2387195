package runtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/policyflow/internal/runtime/metrics"
)

var flowDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// FlowMetrics exports flow outcomes and latency.
type FlowMetrics struct {
	messagesTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	openTxs       *prometheus.GaugeVec
}

// NewFlowMetrics creates and registers the flow collectors.
func NewFlowMetrics(registerer prometheus.Registerer) (*FlowMetrics, error) {
	m := &FlowMetrics{}
	var err error
	if m.messagesTotal, err = metrics.Register(registerer, metrics.NewCounterVec("flow", "messages_total", "Messages that left a flow, by result", []string{"flow", "result"})); err != nil {
		return nil, err
	}
	if m.duration, err = metrics.Register(registerer, metrics.NewHistogramVec("flow", "duration_seconds", "Time from consuming a message to its outcome", flowDurationBuckets, []string{"flow"})); err != nil {
		return nil, err
	}
	if m.openTxs, err = metrics.Register(registerer, metrics.NewGaugeVec("flow", "open_transactions", "Transactions opened by inbound messages and not yet finished", []string{"transport"})); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *FlowMetrics) observe(flow string, result FlowResult, d time.Duration) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(flow, string(result)).Inc()
	m.duration.WithLabelValues(flow).Observe(d.Seconds())
}

func (m *FlowMetrics) transactions(transport string, open int) {
	if m == nil {
		return
	}
	m.openTxs.WithLabelValues(transport).Set(float64(open))
}
