package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	GenerationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "course_generation_total",
			Help: "Course generation attempts by outcome",
		},
		[]string{"status"},
	)

	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "course_generation_duration_seconds",
			Help:    "End-to-end duration of a course generation run",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		},
	)

	GenerationStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_step_duration_seconds",
			Help:    "Duration of each generation step",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"step"},
	)

	AssessmentSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_submissions_total",
			Help: "Graded quiz and exam submissions",
		},
		[]string{"kind", "passed"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(GenerationTotal)
		prometheus.MustRegister(GenerationDuration)
		prometheus.MustRegister(GenerationStepDuration)
		prometheus.MustRegister(AssessmentSubmissions)
	})
}

func ObserveStep(step string, started time.Time) {
	GenerationStepDuration.WithLabelValues(step).Observe(time.Since(started).Seconds())
}

func ObserveSubmission(kind string, passed bool) {
	AssessmentSubmissions.WithLabelValues(kind, strconv.FormatBool(passed)).Inc()
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
