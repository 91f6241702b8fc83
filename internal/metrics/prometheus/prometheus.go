package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slok/taskvisor/internal/metrics"
)

const prefix = "taskvisor"

// Recorder is a metrics.Recorder backed by Prometheus.
type Recorder struct {
	taskRuns        *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	moduleAvailable *prometheus.GaugeVec
}

var _ metrics.Recorder = &Recorder{}

// NewRecorder returns a new Prometheus recorder registered on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "task",
			Name:      "runs_total",
			Help:      "The number of finished task runs.",
		}, []string{"task", "outcome"}),

		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prefix,
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "The duration of the task runs.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		}, []string{"task"}),

		moduleAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: prefix,
			Subsystem: "module",
			Name:      "available",
			Help:      "If the module is available on the bus.",
		}, []string{"service"}),
	}

	for _, c := range []prometheus.Collector{r.taskRuns, r.taskDuration, r.moduleAvailable} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Recorder) ObserveTaskRun(task, outcome string, duration time.Duration) {
	r.taskRuns.WithLabelValues(task, outcome).Inc()
	r.taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

func (r *Recorder) SetModuleAvailable(service string, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	r.moduleAvailable.WithLabelValues(service).Set(v)
}
