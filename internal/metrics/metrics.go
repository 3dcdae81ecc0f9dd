// Package metrics содержит метрики Prometheus сервиса бронирования.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "evbooking"

var (
	// BookingsCreated: созданные бронирования по способу оплаты.
	BookingsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "bookings_created_total", Help: "Bookings created, by payment method"},
		[]string{"payment_method"},
	)
	// BookingFailures: неудачные отправки черновика по причине.
	BookingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "booking_failures_total", Help: "Booking submissions that did not reach the backend or failed there"},
		[]string{"reason"},
	)
	// CheckoutFailures: неудачные запросы ссылки на оплату.
	CheckoutFailures = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "checkout_failures_total", Help: "Checkout sessions that could not be created"},
	)

	// ReconciliationsActive: идущие попытки сверки.
	ReconciliationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "reconciliations_active", Help: "Payment reconciliation attempts in flight"},
	)
	// ReconciliationOutcomes: итоги сверки по виду и источнику.
	ReconciliationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "reconciliation_outcomes_total", Help: "Terminal reconciliation outcomes"},
		[]string{"kind", "source"},
	)
	// ReconciliationDuration: время от открытия оплаты до итога.
	ReconciliationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciliation_duration_seconds",
			Help:      "Time from checkout start to terminal outcome",
			Buckets:   []float64{1, 3, 6, 15, 30, 60, 120, 300},
		},
	)
	// PollErrors: ошибки опроса статуса бронирования.
	PollErrors = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "poll_errors_total", Help: "Booking status fetches that failed during reconciliation"},
	)

	// HTTPRequestsTotal: обработанные HTTP-запросы.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "route", "status"},
	)
	// HTTPRequestDuration: длительность HTTP-запросов.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)
