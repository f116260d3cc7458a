package field

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldmesh_fetch_results_total",
		Help: "Fetch completions by collection and settled status.",
	}, []string{"collection", "status"})

	mqttMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldmesh_mqtt_messages_total",
		Help: "Received device status messages by decode result.",
	}, []string{"result"})

	readingUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldmesh_reading_updates_total",
		Help: "Live reading updates applied to the store, by reading kind.",
	}, []string{"kind"})

	renderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fieldmesh_render_duration_seconds",
		Help:    "Field map render latency by output format.",
		Buckets: prometheus.DefBuckets,
	}, []string{"format"})
)
