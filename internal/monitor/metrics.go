package monitor

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector holds every prometheus metric the service exports.
type MetricsCollector struct {
	// booking metrics
	orderCreationTotal  *prometheus.CounterVec
	orderCancelTotal    *prometheus.CounterVec
	orderPaymentTotal   *prometheus.CounterVec
	stockAllocationTotal *prometheus.CounterVec
	blindboxDrawTotal   *prometheus.CounterVec

	// payment gateway metrics
	webhookTotal           *prometheus.CounterVec
	webhookDuplicateTotal  *prometheus.CounterVec
	signatureFailureTotal  *prometheus.CounterVec
	gatewayRequestDuration *prometheus.HistogramVec
	refundTotal            *prometheus.CounterVec

	// http metrics
	httpRequestTotal    *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// db metrics
	dbConnectionsActive prometheus.Gauge
	dbConnectionsIdle   prometheus.Gauge

	// runtime metrics
	memoryUsage    prometheus.Gauge
	goroutineCount prometheus.Gauge

	// queue metrics
	queueMessageTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a metrics collector
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{}
	mc.initMetrics()
	return mc
}

func (mc *MetricsCollector) initMetrics() {
	mc.orderCreationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripbook_order_creation_total",
			Help: "Total number of order creation attempts",
		},
		[]string{"kind", "status"},
	)

	mc.orderCancelTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripbook_order_cancel_total",
			Help: "Total number of order cancellations",
		},
		[]string{"reason"},
	)

	mc.orderPaymentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripbook_order_payment_total",
			Help: "Total number of confirmed payments",
		},
		[]string{"method", "status"},
	)

	mc.stockAllocationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripbook_stock_allocation_total",
			Help: "Total number of stock allocation attempts",
		},
		[]string{"status"},
	)

	mc.blindboxDrawTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripbook_blindbox_draw_total",
			Help: "Total number of blind box draws",
		},
		[]string{"box_type", "status"},
	)

	mc.webhookTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripbook_webhook_total",
			Help: "Total number of payment webhook deliveries",
		},
		[]string{"gateway", "outcome"},
	)

	mc.webhookDuplicateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripbook_webhook_duplicate_total",
			Help: "Total number of duplicate webhook deliveries",
		},
		[]string{"gateway"},
	)

	mc.signatureFailureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripbook_webhook_signature_failure_total",
			Help: "Total number of webhook signature verification failures",
		},
		[]string{"gateway"},
	)

	mc.gatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tripbook_gateway_request_duration_seconds",
			Help:    "Duration of outbound payment gateway requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"gateway", "operation"},
	)

	mc.refundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripbook_refund_total",
			Help: "Total number of refund decisions",
		},
		[]string{"gateway", "status"},
	)

	mc.httpRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripbook_http_request_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	mc.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tripbook_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	mc.dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tripbook_db_connections_active",
			Help: "Number of active database connections",
		},
	)

	mc.dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tripbook_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)

	mc.memoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tripbook_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	mc.goroutineCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tripbook_goroutine_count",
			Help: "Number of goroutines",
		},
	)

	mc.queueMessageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripbook_queue_message_total",
			Help: "Total number of queue messages",
		},
		[]string{"topic", "operation", "status"},
	)
}

// RecordOrderCreation records an order creation attempt
func (mc *MetricsCollector) RecordOrderCreation(kind, status string) {
	mc.orderCreationTotal.WithLabelValues(kind, status).Inc()
}

// RecordOrderCancel records an order cancellation
func (mc *MetricsCollector) RecordOrderCancel(reason string) {
	mc.orderCancelTotal.WithLabelValues(reason).Inc()
}

// RecordOrderPayment records a payment confirmation
func (mc *MetricsCollector) RecordOrderPayment(method, status string) {
	mc.orderPaymentTotal.WithLabelValues(method, status).Inc()
}

// RecordStockAllocation records a stock allocation attempt
func (mc *MetricsCollector) RecordStockAllocation(status string) {
	mc.stockAllocationTotal.WithLabelValues(status).Inc()
}

// RecordBlindboxDraw records a blind box draw
func (mc *MetricsCollector) RecordBlindboxDraw(boxType, status string) {
	mc.blindboxDrawTotal.WithLabelValues(boxType, status).Inc()
}

// RecordWebhook records a webhook delivery outcome
func (mc *MetricsCollector) RecordWebhook(gateway, outcome string) {
	mc.webhookTotal.WithLabelValues(gateway, outcome).Inc()
}

// RecordWebhookDuplicate records a duplicate webhook delivery
func (mc *MetricsCollector) RecordWebhookDuplicate(gateway string) {
	mc.webhookDuplicateTotal.WithLabelValues(gateway).Inc()
}

// RecordSignatureFailure records a webhook signature verification failure
func (mc *MetricsCollector) RecordSignatureFailure(gateway string) {
	mc.signatureFailureTotal.WithLabelValues(gateway).Inc()
}

// RecordGatewayDuration records an outbound gateway request duration
func (mc *MetricsCollector) RecordGatewayDuration(gateway, operation string, duration time.Duration) {
	mc.gatewayRequestDuration.WithLabelValues(gateway, operation).Observe(duration.Seconds())
}

// RecordRefund records a refund decision outcome
func (mc *MetricsCollector) RecordRefund(gateway, status string) {
	mc.refundTotal.WithLabelValues(gateway, status).Inc()
}

// RecordHTTPRequest records an HTTP request
func (mc *MetricsCollector) RecordHTTPRequest(method, path, status string) {
	mc.httpRequestTotal.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records an HTTP request duration
func (mc *MetricsCollector) RecordHTTPDuration(method, path string, duration time.Duration) {
	mc.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateDBConnections updates database connection gauges
func (mc *MetricsCollector) UpdateDBConnections(active, idle int) {
	mc.dbConnectionsActive.Set(float64(active))
	mc.dbConnectionsIdle.Set(float64(idle))
}

// RecordQueueMessage records a queue publish or consume
func (mc *MetricsCollector) RecordQueueMessage(topic, operation, status string) {
	mc.queueMessageTotal.WithLabelValues(topic, operation, status).Inc()
}

// UpdateRuntimeMetrics samples memory and goroutine gauges
func (mc *MetricsCollector) UpdateRuntimeMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mc.memoryUsage.Set(float64(m.Alloc))
	mc.goroutineCount.Set(float64(runtime.NumGoroutine()))
}

// StartRuntimeMetricsCollection samples runtime gauges every 30s until the
// context is cancelled.
func (mc *MetricsCollector) StartRuntimeMetricsCollection(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mc.UpdateRuntimeMetrics()
			}
		}
	}()
}

var defaultCollector *MetricsCollector

// GetMetricsCollector returns the process-wide collector, creating it on
// first use. promauto registers on the default registry, so there must be
// exactly one.
func GetMetricsCollector() *MetricsCollector {
	if defaultCollector == nil {
		defaultCollector = NewMetricsCollector()
	}
	return defaultCollector
}
