package pool

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/policyflow/internal/runtime/metrics"
)

// Metrics exposes pipeline pool activity to Prometheus.
type Metrics struct {
	submittedTotal *prometheus.CounterVec
	rejectedTotal  *prometheus.CounterVec
	pipelines      *prometheus.GaugeVec
	sticky         *prometheus.GaugeVec
}

// NewMetrics creates and registers the pool collectors. Collectors already
// present in registerer are reused, so every pool can share one registry.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.submittedTotal, err = metrics.Register(registerer, metrics.NewCounterVec("pool", "submitted_total", "Events routed to a pipeline instance", []string{"pool", "pipeline"})); err != nil {
		return nil, err
	}
	if m.rejectedTotal, err = metrics.Register(registerer, metrics.NewCounterVec("pool", "rejected_total", "Events rejected because the pool was disposed", []string{"pool"})); err != nil {
		return nil, err
	}
	if m.pipelines, err = metrics.Register(registerer, metrics.NewGaugeVec("pool", "pipelines", "Live pipeline instances", []string{"pool"})); err != nil {
		return nil, err
	}
	if m.sticky, err = metrics.Register(registerer, metrics.NewGaugeVec("pool", "sticky_transactions", "Transactions currently pinned to a pipeline", []string{"pool"})); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) submitted(pool string, pipeline int) {
	if m == nil {
		return
	}
	m.submittedTotal.WithLabelValues(pool, strconv.Itoa(pipeline)).Inc()
}

func (m *Metrics) rejected(pool string) {
	if m == nil {
		return
	}
	m.rejectedTotal.WithLabelValues(pool).Inc()
}

func (m *Metrics) setPipelines(pool string, n int) {
	if m == nil {
		return
	}
	m.pipelines.WithLabelValues(pool).Set(float64(n))
}

func (m *Metrics) setSticky(pool string, n int) {
	if m == nil {
		return
	}
	m.sticky.WithLabelValues(pool).Set(float64(n))
}
