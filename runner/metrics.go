package runner

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are per-run Prometheus collectors. Each Metrics owns its registry so
// several runs in one process do not collide.
type Metrics struct {
	registry *prometheus.Registry

	RowsSkipped *prometheus.CounterVec
	TasksBuilt  *prometheus.CounterVec
	TasksScored *prometheus.CounterVec
	TypeErrors  *prometheus.CounterVec
	MRR         *prometheus.GaugeVec
	Recall      *prometheus.GaugeVec
}

func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "embedeval",
			Name:      "rows_skipped_total",
			Help:      "Corpus rows skipped because a required variant was missing.",
		}, []string{"type"}),
		TasksBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "embedeval",
			Name:      "tasks_built_total",
			Help:      "Retrieval tasks sampled from the corpus.",
		}, []string{"type"}),
		TasksScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "embedeval",
			Name:      "tasks_scored_total",
			Help:      "Retrieval tasks ranked and scored.",
		}, []string{"type"}),
		TypeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "embedeval",
			Name:      "type_errors_total",
			Help:      "Comparison types whose evaluation failed.",
		}, []string{"type"}),
		MRR: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "embedeval",
			Name:      "mrr",
			Help:      "Mean reciprocal rank per comparison type.",
		}, []string{"type"}),
		Recall: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "embedeval",
			Name:      "recall",
			Help:      "Mean recall@k per comparison type.",
		}, []string{"type", "k"}),
	}
	for _, c := range []prometheus.Collector{m.RowsSkipped, m.TasksBuilt, m.TasksScored, m.TypeErrors, m.MRR, m.Recall} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// Gatherer exposes the registry, e.g. for promhttp.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

// WriteTextfile writes the current values in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) observeResult(res TypeResult) {
	if m == nil {
		return
	}
	m.MRR.WithLabelValues(res.Type).Set(res.MRR)
	for k, v := range res.Recall {
		m.Recall.WithLabelValues(res.Type, strconv.Itoa(k)).Set(v)
	}
}
