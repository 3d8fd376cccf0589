package saga

import "github.com/orchestrix/ctrlplane/telemetry"

func init() {
	telemetry.DeclareMetrics("saga", telemetry.ModuleConfig{
		Metrics: []telemetry.MetricDefinition{
			{
				Name:   "saga.started",
				Type:   "counter",
				Help:   "Sagas started",
				Labels: []string{"saga_id"},
			},
			{
				Name:   "saga.completed",
				Type:   "counter",
				Help:   "Sagas completed",
				Labels: []string{"status"},
			},
			{
				Name:    "saga.duration_ms",
				Type:    "histogram",
				Help:    "Saga execution time in milliseconds",
				Labels:  []string{"status"},
				Unit:    "ms",
				Buckets: []float64{10, 100, 1000, 10000, 60000},
			},
			{
				Name:    "saga.step.duration_ms",
				Type:    "histogram",
				Help:    "Individual step duration in milliseconds",
				Labels:  []string{"step_name", "status"},
				Unit:    "ms",
				Buckets: []float64{1, 10, 100, 1000, 10000},
			},
			{
				Name:   "saga.step.failures",
				Type:   "counter",
				Help:   "Step failures",
				Labels: []string{"step_name"},
			},
			{
				Name:   "saga.compensations",
				Type:   "counter",
				Help:   "Compensation invocations",
				Labels: []string{"step_name", "status"},
			},
		},
	})
}
