// Package metrics exposes Prometheus counters for voucher runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	vouchersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpilot_vouchers_total",
		Help: "Voucher attempts by outcome and failure kind",
	}, []string{"outcome", "kind"}) // outcome=success|failure|skipped

	voucherRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpilot_voucher_retries_total",
		Help: "Vouchers sent through the retry pipeline by retry outcome",
	}, []string{"outcome"})

	voucherStageSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stockpilot_voucher_stage_seconds",
		Help:    "Time spent per voucher phase",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	}, []string{"phase"}) // phase=fill|submit|ledger

	ledgerVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpilot_ledger_verifications_total",
		Help: "Secondary ledger verifications by result",
	}, []string{"result"}) // result=found|missing|error

	authTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpilot_auth_total",
		Help: "Authentication attempts by method and result",
	}, []string{"method", "result"})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpilot_transfers_total",
		Help: "Transfer notes by result",
	}, []string{"result"}) // result=issued|failed|empty

	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stockpilot_runs_active",
		Help: "Batch runs currently executing",
	})

	storeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockpilot_store_errors_total",
		Help: "Idempotency store failures by operation",
	}, []string{"op"}) // op=check|record
)

// RecordVoucher counts one terminal voucher result. kind is empty on success.
func RecordVoucher(success bool, kind string) {
	if success {
		vouchersTotal.WithLabelValues("success", "").Inc()
		return
	}
	vouchersTotal.WithLabelValues("failure", kind).Inc()
}

// RecordSkipped counts a request skipped because it was already processed today.
func RecordSkipped() {
	vouchersTotal.WithLabelValues("skipped", "").Inc()
}

// RecordRetry counts one retried voucher.
func RecordRetry(success bool) {
	if success {
		voucherRetriesTotal.WithLabelValues("success").Inc()
		return
	}
	voucherRetriesTotal.WithLabelValues("failure").Inc()
}

// ObservePhase records how long a voucher phase took.
func ObservePhase(phase string, d time.Duration) {
	voucherStageSeconds.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordLedger counts a ledger verification result.
func RecordLedger(result string) {
	ledgerVerificationsTotal.WithLabelValues(result).Inc()
}

// RecordAuth counts an authentication attempt.
func RecordAuth(method string, ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	authTotal.WithLabelValues(method, result).Inc()
}

// RecordTransfer counts a transfer note result.
func RecordTransfer(result string) {
	transfersTotal.WithLabelValues(result).Inc()
}

// RunStarted and RunFinished track concurrently executing runs.
func RunStarted()  { runsActive.Inc() }
func RunFinished() { runsActive.Dec() }

// RecordStoreError counts a failed idempotency store operation.
func RecordStoreError(op string) {
	storeErrorsTotal.WithLabelValues(op).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
