package errorhandler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/policyflow/internal/runtime/metrics"
)

// Metrics counts error handler decisions per flow and error type.
type Metrics struct {
	dispatchedTotal *prometheus.CounterVec
	handledTotal    *prometheus.CounterVec
	propagatedTotal *prometheus.CounterVec
	criticalTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers the error handler collectors.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	labels := []string{"flow", "error_type"}
	m := &Metrics{}
	var err error
	if m.dispatchedTotal, err = metrics.Register(registerer, metrics.NewCounterVec("error_handler", "dispatched_total", "Failures dispatched to the error handler", labels)); err != nil {
		return nil, err
	}
	if m.handledTotal, err = metrics.Register(registerer, metrics.NewCounterVec("error_handler", "handled_total", "Failures recovered by an acceptor", labels)); err != nil {
		return nil, err
	}
	if m.propagatedTotal, err = metrics.Register(registerer, metrics.NewCounterVec("error_handler", "propagated_total", "Failures surfaced to the caller", labels)); err != nil {
		return nil, err
	}
	if m.criticalTotal, err = metrics.Register(registerer, metrics.NewCounterVec("error_handler", "critical_total", "Critical failures that bypassed every acceptor", labels)); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) dispatched(flow, errorType string) {
	if m != nil {
		m.dispatchedTotal.WithLabelValues(flow, errorType).Inc()
	}
}

func (m *Metrics) handled(flow, errorType string) {
	if m != nil {
		m.handledTotal.WithLabelValues(flow, errorType).Inc()
	}
}

func (m *Metrics) propagated(flow, errorType string) {
	if m != nil {
		m.propagatedTotal.WithLabelValues(flow, errorType).Inc()
	}
}

func (m *Metrics) critical(flow, errorType string) {
	if m != nil {
		m.criticalTotal.WithLabelValues(flow, errorType).Inc()
	}
}
