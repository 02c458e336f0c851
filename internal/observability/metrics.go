package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the daemon.
type Metrics struct {
	PipelineRuns      *prometheus.CounterVec
	PipelineFailures  *prometheus.CounterVec
	StateTransitions  *prometheus.CounterVec
	StreamEvents      *prometheus.CounterVec
	SpeechChunks      prometheus.Counter
	SpeechQueueDepth  prometheus.Gauge
	DispatchResults   *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	FirstChunkLatency prometheus.Histogram

	stageWindow *pipelineStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		PipelineRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by trigger (voice or text).",
		}, []string{"trigger"}),
		PipelineFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_failures_total",
			Help:      "Pipeline failures by stage.",
		}, []string{"stage"}),
		StateTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Processing state transitions by target state.",
		}, []string{"state"}),
		StreamEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Server stream events by type.",
		}, []string{"type"}),
		SpeechChunks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_chunks_total",
			Help:      "Text chunks handed to the speech player.",
		}),
		SpeechQueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "speech_queue_depth",
			Help:      "Chunks currently buffered for playback.",
		}),
		DispatchResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_results_total",
			Help:      "Device command dispatch attempts by outcome.",
		}, []string{"outcome"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		FirstChunkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_chunk_latency_ms",
			Help:      "Latency from query send to first streamed chunk in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
		stageWindow: newPipelineStageWindow(256),
	}
}

func (m *Metrics) ObserveFirstChunkLatency(d time.Duration) {
	m.FirstChunkLatency.Observe(float64(d.Milliseconds()))
}

// ObserveStage records a pipeline stage duration in the sliding latency window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil || m.stageWindow == nil {
		return
	}
	m.stageWindow.Observe(stage, float64(d.Milliseconds()))
}

// StageSnapshot reports recent pipeline stage latency percentiles.
func (m *Metrics) StageSnapshot() PipelineStageSnapshot {
	if m == nil || m.stageWindow == nil {
		return PipelineStageSnapshot{}
	}
	return m.stageWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
