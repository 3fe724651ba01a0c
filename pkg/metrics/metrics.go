package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "mill_"

	ResultSuccess = "success"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	settlementTotal *prometheus.CounterVec

	invoiceIssueTotal   *prometheus.CounterVec
	invoiceIssueLatency *prometheus.HistogramVec

	exportTotal *prometheus.CounterVec
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		settlementTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlement_calculations_total",
				Help: "Total settlement calculations by payment mode and result",
			},
			[]string{"mode", "result"},
		)
		invoiceIssueTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoice_issue_total",
				Help: "Total invoice issuance attempts by result",
			},
			[]string{"result"},
		)
		invoiceIssueLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "invoice_issue_latency_seconds",
				Help:    "Invoice issuance latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoice_export_total",
				Help: "Total invoice exports by format and result",
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			settlementTotal,
			invoiceIssueTotal,
			invoiceIssueLatency,
			exportTotal,
		)
	})
}

// IncSettlement counts one settlement calculation.
func IncSettlement(mode, result string) {
	if mode == "" {
		mode = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if settlementTotal != nil {
		settlementTotal.WithLabelValues(mode, result).Inc()
	}
}

// ObserveInvoiceIssue records issuance duration and result.
func ObserveInvoiceIssue(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if invoiceIssueTotal != nil {
		invoiceIssueTotal.WithLabelValues(result).Inc()
	}
	if invoiceIssueLatency != nil {
		invoiceIssueLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncExport counts one invoice export.
func IncExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
}
