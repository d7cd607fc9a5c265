package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "papertrade"

var (
	OrdersProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "orders_processed_total",
		Help:      "Orders accepted and run through matching.",
	})
	OrdersRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "orders_rejected_total",
		Help:      "Orders rejected before matching, by error code name.",
	}, []string{"code"})
	TradesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "trades_total",
		Help:      "Trades executed.",
	})
	MatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "match_duration_seconds",
		Help:      "Time from order acceptance to matching completion.",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
	})
	QueuePopErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "queue_pop_errors_total",
		Help:      "Failed blocking pops on the input queue.",
	})
	RestingOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "resting_orders",
		Help:      "Orders currently resting, per symbol (sampled at snapshot time).",
	}, []string{"symbol"})

	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "REST requests by route and status class.",
	}, []string{"route", "status"})

	WSClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected WebSocket clients per feed.",
	}, []string{"feed"})

	AuditRowsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "rows_written_total",
		Help:      "Trade rows inserted by the audit writer.",
	})
	AuditDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "decode_failures_total",
		Help:      "Audit queue payloads dropped as undecodable.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

// ListenAndServe exposes /metrics on addr. It blocks, so run it in its
// own goroutine.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
