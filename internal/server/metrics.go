package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	infoCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heightmap_info_cache_hits_total",
		Help: "The total number of hits on the raster info cache",
	})
	infoCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heightmap_info_cache_misses_total",
		Help: "The total number of misses on the raster info cache",
	})
	infoCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heightmap_info_cache_evictions_total",
		Help: "The total number of evictions from the raster info cache",
	})
)
