package observability

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/convolab/lessonaudio/internal/domain/jobs"
	"github.com/convolab/lessonaudio/internal/platform/envutil"
	"github.com/convolab/lessonaudio/internal/platform/logger"
)

const namespace = "lessonaudio"

// Metrics is the process-wide set of pipeline collectors. A nil *Metrics is
// valid and records nothing, so callers never need to check Enabled().
type Metrics struct {
	reg *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec
	ttsRequests   *prometheus.CounterVec
	ttsTexts      *prometheus.CounterVec
	ttsLatency    *prometheus.HistogramVec
	llmRequests   *prometheus.CounterVec
	llmLatency    *prometheus.HistogramVec
	audioSeconds  *prometheus.HistogramVec
	queueDepth    *prometheus.GaugeVec
	redisUp       prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	d := envutil.Duration("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Init builds the global Metrics when METRICS_ENABLED is set and returns nil otherwise.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	secondsBuckets := []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800}
	return &Metrics{
		reg: reg,
		jobsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_total",
			Help: "Jobs finished by type and outcome.",
		}, []string{"job_type", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help: "Wall time of a job run.", Buckets: secondsBuckets,
		}, []string{"job_type", "status"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
			Help: "Wall time of a pipeline stage.", Buckets: secondsBuckets,
		}, []string{"pipeline", "stage", "status"}),
		ttsRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tts_requests_total",
			Help: "Batched TTS calls by provider and outcome.",
		}, []string{"provider", "status"}),
		ttsTexts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tts_texts_total",
			Help: "Texts sent to TTS by provider.",
		}, []string{"provider"}),
		ttsLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tts_request_duration_seconds",
			Help: "Latency of batched TTS calls.", Buckets: secondsBuckets,
		}, []string{"provider"}),
		llmRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "llm_requests_total",
			Help: "Text generation calls by model and HTTP status.",
		}, []string{"model", "status"}),
		llmLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "llm_request_duration_seconds",
			Help: "Latency of text generation calls.", Buckets: secondsBuckets,
		}, []string{"model"}),
		audioSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "audio_output_seconds",
			Help: "Probed duration of assembled audio.", Buckets: []float64{30, 60, 300, 600, 900, 1200, 1800, 2700, 3600},
		}, []string{"kind"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "job_queue_depth",
			Help: "Job rows by status.",
		}, []string{"status"}),
		redisUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "redis_up",
			Help: "1 when the progress bus answered the last ping.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}

func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	jobType, status = orUnknown(jobType), orUnknown(status)
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
	if dur > 0 {
		m.jobDuration.WithLabelValues(jobType, status).Observe(dur.Seconds())
	}
}

func (m *Metrics) ObserveStage(pipeline, stage, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(orUnknown(pipeline), orUnknown(stage), orUnknown(status)).Observe(dur.Seconds())
}

func (m *Metrics) ObserveTTS(provider string, texts int, err error, dur time.Duration) {
	if m == nil {
		return
	}
	provider = orUnknown(provider)
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ttsRequests.WithLabelValues(provider, status).Inc()
	m.ttsTexts.WithLabelValues(provider).Add(float64(texts))
	if dur > 0 {
		m.ttsLatency.WithLabelValues(provider).Observe(dur.Seconds())
	}
}

func (m *Metrics) ObserveLLMRequest(model, status string, dur time.Duration) {
	if m == nil {
		return
	}
	model = orUnknown(model)
	m.llmRequests.WithLabelValues(model, orUnknown(status)).Inc()
	if dur > 0 {
		m.llmLatency.WithLabelValues(model).Observe(dur.Seconds())
	}
}

func (m *Metrics) ObserveAudio(kind string, seconds float64) {
	if m == nil || seconds <= 0 {
		return
	}
	m.audioSeconds.WithLabelValues(orUnknown(kind)).Observe(seconds)
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient) {
	if m == nil || rdb == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := rdb.Ping(pingCtx).Err()
				cancel()
				if err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Debug("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
			}
		}
	}()
}

func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.collectQueueDepth(ctx, db); err != nil && log != nil {
					log.Warn("metrics: job queue depth query failed", "error", err)
				}
			}
		}
	}()
}

func (m *Metrics) collectQueueDepth(ctx context.Context, db *gorm.DB) error {
	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.WithContext(ctx).
		Model(&jobs.JobRun{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}
	for _, s := range []string{jobs.StatusQueued, jobs.StatusRunning, jobs.StatusSucceeded, jobs.StatusFailed, jobs.StatusCanceled} {
		m.queueDepth.WithLabelValues(s).Set(0)
	}
	for _, row := range rows {
		m.queueDepth.WithLabelValues(orUnknown(row.Status)).Set(float64(row.Count))
	}
	return nil
}
