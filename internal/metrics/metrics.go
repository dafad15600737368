// Package metrics содержит метрики Prometheus сервиса станции замены.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionTransitions считает переходы статуса сессий замены.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapstation_session_transitions_total",
		Help: "Переходы статуса сессий замены",
	}, []string{"from", "to"})

	// SessionCancellations считает отмены сессий по статусу на момент отмены.
	SessionCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapstation_session_cancellations_total",
		Help: "Отмены сессий по статусу на момент отмены",
	}, []string{"status"})

	// UnwindFailures считает ресурсы, которые не удалось вернуть при отмене или откате.
	UnwindFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapstation_cancel_unwind_failures_total",
		Help: "Ошибки освобождения ресурсов при отмене",
	})

	// BatteryTransitions считает попытки смены статуса батареи с результатом ok, rejected или error.
	BatteryTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swapstation_battery_transitions_total",
		Help: "Попытки смены статуса батареи",
	}, []string{"from", "to", "result"})

	// InvoiceTotal — распределение итоговых сумм выставленных счетов.
	InvoiceTotal = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "swapstation_invoice_total_amount",
		Help:    "Итоговая сумма выставленных счетов",
		Buckets: prometheus.ExponentialBuckets(1000, 2, 12),
	})
)
