package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
}

type BusinessMetrics struct {
	EligibilityChecksTotal *prometheus.CounterVec
	LoansIssuedTotal       prometheus.Counter
	CreditScoreComputed    prometheus.Histogram
	IngestedRowsTotal      *prometheus.CounterVec
}

var (
	DB = DBMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credit_engine_db_query_duration_seconds",
				Help:    "Histogram of database query latencies.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_name", "status"},
		),
	}

	Business = BusinessMetrics{
		EligibilityChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_engine_eligibility_checks_total",
				Help: "Total number of eligibility decisions, labelled by outcome.",
			},
			[]string{"outcome"},
		),
		LoansIssuedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "credit_engine_loans_issued_total",
				Help: "Total number of loans successfully issued.",
			},
		),
		CreditScoreComputed: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "credit_engine_credit_score",
				Help:    "Distribution of computed credit scores.",
				Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),
		IngestedRowsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credit_engine_ingested_rows_total",
				Help: "Total number of rows ingested from bulk data files.",
			},
			[]string{"entity", "status"},
		),
	}
)

func RecordDBQuery(queryName, status string, duration time.Duration) {
	DB.QueryDuration.WithLabelValues(queryName, status).Observe(duration.Seconds())
}

func RecordEligibilityCheck(outcome string) {
	Business.EligibilityChecksTotal.WithLabelValues(outcome).Inc()
}

func RecordLoanIssued() {
	Business.LoansIssuedTotal.Inc()
}

func RecordCreditScore(score int) {
	Business.CreditScoreComputed.Observe(float64(score))
}

func RecordIngestedRow(entity, status string) {
	Business.IngestedRowsTotal.WithLabelValues(entity, status).Inc()
}
