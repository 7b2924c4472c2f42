package trace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("raytrace.trace")

var (
	// raysTotal counts ray events per rank: started, reversed, received,
	// sent and finished.
	raysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raytrace_rays_total",
		Help: "Ray lifecycle events by rank and event",
	}, []string{"rank", "event"})

	// episodeErrors counts fatal episode errors by operation.
	episodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raytrace_episode_errors_total",
		Help: "Fatal episode errors by rank and operation",
	}, []string{"rank", "op"})

	// episodeDuration tracks Run wall time.
	episodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "raytrace_episode_duration_seconds",
		Help:    "Traversal episode duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~33s
	}, []string{"rank"})
)

const (
	eventStarted  = "started"
	eventReversed = "reversed"
	eventReceived = "received"
	eventSent     = "sent"
	eventFinished = "finished"
)
