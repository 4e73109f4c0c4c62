package heightmap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heightmap_stage_duration_seconds",
		Help:    "The time spent in each pipeline stage",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"stage"})
	gapFillCells = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heightmap_gap_fill_cells_total",
		Help: "The total number of missing cells filled, by fill method",
	}, []string{"method"})
	conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heightmap_conversions_total",
		Help: "The total number of conversions, by result",
	}, []string{"result"})
)

func observeStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
