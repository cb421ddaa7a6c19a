package obvius

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/odvcencio/obvius/pkg/errors"
)

const (
	outcomeSuccess = "success"
	modeLabelNone  = "none"
	modeLabelOther = "unknown"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "obvius",
		Subsystem: "protocol",
		Name:      "requests_total",
		Help:      "Protocol requests by mode and outcome.",
	}, []string{"mode", "outcome"})
	metricDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "obvius",
		Subsystem: "protocol",
		Name:      "request_duration_seconds",
		Help:      "Time spent handling protocol requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
	metricArchived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obvius",
		Name:      "status_reports_archived_total",
		Help:      "STATUS uploads written to the report archive.",
	})
	metricArchiveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "obvius",
		Name:      "status_report_archive_failures_total",
		Help:      "STATUS uploads that could not be archived.",
	})
)

// outcomeLabel keeps label cardinality bounded: error codes, never reasons.
func outcomeLabel(err error) string {
	if err == nil {
		return outcomeSuccess
	}
	return strings.ToLower(string(errors.GetCode(err)))
}

// modeLabel only passes recognised modes through so arbitrary device input
// never becomes a label value.
func modeLabel(result ModeResult) string {
	if !result.Known() {
		return modeLabelOther
	}
	return string(result.Mode)
}
