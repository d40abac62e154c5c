// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	providerCallsTotal         *prometheus.CounterVec
	providerQuotaRemaining     *prometheus.GaugeVec
	crawlSourcesTotal          *prometheus.CounterVec
	crawlArticlesTotal         *prometheus.CounterVec
	crawlDurationSeconds       prometheus.Histogram
	articlesPublishedTotal     *prometheus.CounterVec
	articlesEvictedTotal       prometheus.Counter
	articlesPublishedCurrent   prometheus.Gauge
	schedulerRunning           prometheus.Gauge
	schedulerJobRunsTotal      *prometheus.CounterVec
	pipelineErrorsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		providerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_provider_calls_total",
				Help: "AI provider dispatches, labeled by provider and outcome.",
			},
			[]string{"provider", "outcome"},
		)

		providerQuotaRemaining = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "autopilot_provider_quota_remaining",
				Help: "Remaining provider quota, labeled by provider and window.",
			},
			[]string{"provider", "window"},
		)

		crawlSourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_crawl_sources_total",
				Help: "Crawled sources, labeled by status.",
			},
			[]string{"status"},
		)

		crawlArticlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_crawl_articles_total",
				Help: "Candidate articles, labeled by result (saved, duplicate, failed).",
			},
			[]string{"result"},
		)

		crawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "autopilot_crawl_duration_seconds",
				Help:    "Duration of full crawl runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		articlesPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_articles_published_total",
				Help: "Articles published, labeled by trigger.",
			},
			[]string{"trigger"},
		)

		articlesEvictedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "autopilot_articles_evicted_total",
				Help: "Published articles hard-deleted by eviction.",
			},
		)

		articlesPublishedCurrent = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "autopilot_articles_published_current",
				Help: "Published articles currently stored.",
			},
		)

		schedulerRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "autopilot_scheduler_running",
				Help: "1 while the scheduler is started.",
			},
		)

		schedulerJobRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_scheduler_job_runs_total",
				Help: "Scheduled job runs, labeled by job and status.",
			},
			[]string{"job", "status"},
		)

		pipelineErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_errors_total",
				Help: "Classified pipeline errors, labeled by kind and component.",
			},
			[]string{"kind", "component"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autopilot_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autopilot_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveProviderCall counts one provider dispatch.
func ObserveProviderCall(provider string, success bool) {
	Init()
	outcome := "success"
	if !success {
		outcome = "error"
	}
	providerCallsTotal.WithLabelValues(provider, outcome).Inc()
}

// SetQuotaRemaining publishes the remaining quota of a provider.
func SetQuotaRemaining(provider string, daily, hourly, minute int) {
	Init()
	providerQuotaRemaining.WithLabelValues(provider, "daily").Set(float64(daily))
	providerQuotaRemaining.WithLabelValues(provider, "hourly").Set(float64(hourly))
	providerQuotaRemaining.WithLabelValues(provider, "minute").Set(float64(minute))
}

// ObserveSource counts one source crawl.
func ObserveSource(success bool) {
	Init()
	status := "success"
	if !success {
		status = "failed"
	}
	crawlSourcesTotal.WithLabelValues(status).Inc()
}

// ObserveArticle counts one candidate article by result.
func ObserveArticle(result string) {
	Init()
	crawlArticlesTotal.WithLabelValues(result).Inc()
}

// ObserveCrawlRun records the duration of a crawl run.
func ObserveCrawlRun(duration time.Duration) {
	Init()
	crawlDurationSeconds.Observe(duration.Seconds())
}

// ObservePublished counts published articles.
func ObservePublished(trigger string, n int) {
	Init()
	if n > 0 {
		articlesPublishedTotal.WithLabelValues(trigger).Add(float64(n))
	}
}

// ObserveEvicted counts evicted articles.
func ObserveEvicted(n int) {
	Init()
	if n > 0 {
		articlesEvictedTotal.Add(float64(n))
	}
}

// SetPublishedCurrent records how many published articles are stored.
func SetPublishedCurrent(n int64) {
	Init()
	articlesPublishedCurrent.Set(float64(n))
}

// SetSchedulerRunning flips the scheduler gauge.
func SetSchedulerRunning(running bool) {
	Init()
	if running {
		schedulerRunning.Set(1)
		return
	}
	schedulerRunning.Set(0)
}

// ObserveJob counts one scheduled job run.
func ObserveJob(job string, err error) {
	Init()
	status := "success"
	if err != nil {
		status = "failed"
	}
	schedulerJobRunsTotal.WithLabelValues(job, status).Inc()
}

// ObserveError counts one classified error.
func ObserveError(kind, component string) {
	Init()
	pipelineErrorsTotal.WithLabelValues(kind, component).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
