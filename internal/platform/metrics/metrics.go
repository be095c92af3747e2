// Package metrics exposes Prometheus collectors for HTTP traffic, warehouse
// queries, worklist mutations and login attempts.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restrack_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restrack_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	warehouseQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restrack_warehouse_queries_total",
			Help: "Remote warehouse queries by query and outcome",
		},
		[]string{"query", "outcome"},
	)
	warehouseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "restrack_warehouse_query_duration_seconds",
			Help:    "Remote warehouse query latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)
	worklistMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restrack_worklist_mutations_total",
			Help: "Worklist mutations by operation and outcome",
		},
		[]string{"op", "outcome"},
	)
	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restrack_login_attempts_total",
			Help: "Login attempts by outcome (success, failure, locked)",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequests, httpDuration, warehouseQueries, warehouseDuration, worklistMutations, loginAttempts)
}

// Handler serves the default registry.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// Middleware records request counts and latency keyed by the matched route
// template, so path ids do not explode label cardinality.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method

			httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveWarehouse records one remote query started at start.
func ObserveWarehouse(query string, start time.Time, err error) {
	warehouseQueries.WithLabelValues(query, outcome(err)).Inc()
	warehouseDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
}

// WorklistMutation counts one worklist write operation.
func WorklistMutation(op string, err error) {
	worklistMutations.WithLabelValues(op, outcome(err)).Inc()
}

const (
	LoginSuccess = "success"
	LoginFailure = "failure"
	LoginLocked  = "locked"
)

// LoginAttempt counts one authentication attempt.
func LoginAttempt(result string) {
	loginAttempts.WithLabelValues(result).Inc()
}
