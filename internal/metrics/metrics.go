package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qencode/internal/logging"
	"qencode/internal/progress"
)

const namespace = "qencode"

// Chunk result labels.
const (
	ResultVerified   = "verified"
	ResultUnverified = "unverified"
	ResultFailed     = "failed"
	ResultCancelled  = "cancelled"
)

// Metrics holds the collectors for one job.
type Metrics struct {
	registry *prometheus.Registry

	chunksPlanned prometheus.Gauge
	chunks        *prometheus.CounterVec
	framesDone    prometheus.Gauge
	framesTotal   prometheus.Gauge
	fps           prometheus.Gauge
	workers       prometheus.Gauge
	chunkSeconds  prometheus.Histogram
	chunkCQ       prometheus.Histogram
	stageSeconds  *prometheus.HistogramVec
}

// New registers a fresh set of collectors, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		chunksPlanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chunks_planned",
			Help:      "Number of chunks in the job plan",
		}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_total",
			Help:      "Chunks finished in this run by result",
		}, []string{"result"}),
		framesDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frames_done",
			Help:      "Frames encoded, including frames resumed from a previous run",
		}),
		framesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames in the source",
		}),
		fps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "encode_fps",
			Help:      "Aggregate encode throughput in frames per second",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Worker slots in use",
		}),
		chunkSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_encode_seconds",
			Help:      "Wall time per chunk encode",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		chunkCQ: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_cq",
			Help:      "CQ level chosen per chunk",
			Buckets:   prometheus.LinearBuckets(0, 5, 14),
		}),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_seconds",
			Help:      "Wall time per pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"stage"}),
	}
	reg.MustRegister(
		m.chunksPlanned, m.chunks, m.framesDone, m.framesTotal, m.fps,
		m.workers, m.chunkSeconds, m.chunkCQ, m.stageSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the job registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetPlan records the chunk count, total frames, and worker slots.
func (m *Metrics) SetPlan(chunks, frames, workers int) {
	m.chunksPlanned.Set(float64(chunks))
	m.framesTotal.Set(float64(frames))
	m.workers.Set(float64(workers))
}

// ObserveAggregate records a progress sample.
func (m *Metrics) ObserveAggregate(agg progress.Aggregate) {
	m.framesDone.Set(float64(agg.Done))
	m.fps.Set(agg.FPS)
}

// ObserveChunk records a finished chunk. cq is ignored when negative.
func (m *Metrics) ObserveChunk(result string, cq int, elapsed time.Duration) {
	m.chunks.WithLabelValues(result).Inc()
	if result != ResultVerified && result != ResultUnverified {
		return
	}
	m.chunkSeconds.Observe(elapsed.Seconds())
	if cq >= 0 {
		m.chunkCQ.Observe(float64(cq))
	}
}

// ObserveStage records a stage duration.
func (m *Metrics) ObserveStage(stage string, elapsed time.Duration) {
	m.stageSeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// Server is a running /metrics endpoint.
type Server struct {
	srv  *http.Server
	addr net.Addr
}

// Addr returns the bound listen address.
func (s *Server) Addr() string { return s.addr.String() }

// Close shuts the endpoint down, waiting briefly for in-flight scrapes.
func (s *Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

// Serve exposes /metrics on addr until the server is closed. The listener is
// bound before Serve returns so address errors surface at job start.
func (m *Metrics) Serve(addr string, logger *slog.Logger) (*Server, error) {
	logger = logging.NewComponentLogger(logger, "metrics")
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.WarnWithContext(logger, "metrics server stopped", "metrics_server",
				logging.Error(err),
				logging.String(logging.FieldImpact, "metrics unavailable for the rest of the job"),
			)
		}
	}()
	logger.Info("serving metrics", logging.String("address", ln.Addr().String()))
	return &Server{srv: srv, addr: ln.Addr()}, nil
}
