// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts executed buys, partitioned by market type.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmkt_trades_total",
		Help: "Total number of buys executed",
	}, []string{"market_type"})

	// TradeLatency tracks buy pipeline latency in seconds.
	TradeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pmkt_trade_latency_seconds",
		Help:    "Buy execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TradeVolume tracks cumulative cost charged, in smallest currency units.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmkt_trade_volume_units_total",
		Help: "Cumulative buy volume in smallest currency units",
	}, []string{"market_id"})

	// SlippageRejections counts buys rejected by the price ceiling.
	SlippageRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pmkt_slippage_rejections_total",
		Help: "Buys rejected because the post-trade price exceeded the ceiling",
	})

	// ResolutionsTotal counts markets resolved, partitioned by market type.
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmkt_resolutions_total",
		Help: "Total number of markets resolved",
	}, []string{"market_type"})

	// ClaimsTotal counts successful claims.
	ClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pmkt_claims_total",
		Help: "Total number of successful claims",
	})

	// PayoutUnits tracks cumulative payouts, in smallest currency units.
	PayoutUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pmkt_payout_units_total",
		Help: "Cumulative claim payouts in smallest currency units",
	})

	// Compensations counts compensation actions taken after a collaborator
	// failure mid-pipeline, partitioned by the stage that failed.
	Compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmkt_compensations_total",
		Help: "Compensation actions after a mid-pipeline failure",
	}, []string{"stage"})

	// ActiveMarkets tracks the number of tradable markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pmkt_active_markets",
		Help: "Number of currently tradable markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pmkt_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmkt_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pmkt_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for the path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so WebSocket upgrades work
// behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
