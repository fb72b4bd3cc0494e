package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: общее кол-во принятых хитов
	EventsTotal *prometheus.CounterVec

	// Latency: сколько заняла доставка (включая fallback-цепочку)
	DeliveryDuration *prometheus.HistogramVec

	// Errors: классификация отказов доставки
	DeliveryErrors *prometheus.CounterVec

	// Saturation: глубина очереди отложенных событий
	QueueDepth prometheus.Gauge

	// Состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Заполненность буфера reliable-доставки (backpressure)
	ReliableBufferFill prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		EventsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pixel_events_total",
			Help: "Total number of tracked events.",
		}, []string{"event", "decision"}),

		DeliveryDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixel_delivery_duration_seconds",
			Help:    "Histogram of delivery latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"strategy", "mode", "status"}),

		DeliveryErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pixel_delivery_errors_total",
			Help: "Total number of delivery errors by type.",
		}, []string{"type"}), // типы: bot_detected, bot_check_failed, transport, misconfigured

		QueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pixel_queue_depth",
			Help: "Current number of pre-consent queued events.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "pixel_circuit_breaker_state",
			Help: "Current state of the delivery circuit breaker (0=closed, 1=open).",
		}, []string{"strategy"}),

		ReliableBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pixel_reliable_buffer_utilization",
			Help: "Current number of events in the reliable delivery buffer.",
		}),
	}
}
