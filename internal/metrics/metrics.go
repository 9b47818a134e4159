// Package metrics is the backend-agnostic metrics surface used by the refiner.
//
// Core packages only call the Record* helpers. A backend (Datadog) is installed once by
// the binary with SetBackend; until then every call is a no-op.
package metrics

import (
	"strconv"
	"sync/atomic"
	"time"
)

// Metric names understood by backends.
const (
	StepTotal           = "refiner_step_total"
	StepDurationSeconds = "refiner_step_duration_seconds"
	RowsTotal           = "refiner_rows_total"
	AnomaliesTotal      = "refiner_anomalies_total"
	HTTPRequestsTotal   = "refiner_http_requests_total"
	HTTPErrorsTotal     = "refiner_http_errors_total"
	HTTPDurationSeconds = "refiner_http_request_duration_seconds"
)

// Labels are metric dimensions. Backends turn them into tags.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

type holder struct{ b Backend }

var current atomic.Value

func init() { current.Store(holder{b: nopBackend{}}) }

// SetBackend installs b. A nil b restores the no-op backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	current.Store(holder{b: b})
}

func backend() Backend { return current.Load().(holder).b }

// IncCounter adds delta to a counter on the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample on the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// Flush asks the installed backend to submit buffered data.
func Flush() error { return backend().Flush() }

// RecordStep counts one pipeline stage and its duration. status is "ok" or "error".
func RecordStep(step, status string, d time.Duration) {
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordRows counts rows written to table.
func RecordRows(table string, n int64) {
	if n <= 0 {
		return
	}
	IncCounter(RowsTotal, float64(n), Labels{"table": table})
}

// RecordAnomaly counts one non-fatal finding of kind.
func RecordAnomaly(kind string) {
	IncCounter(AnomaliesTotal, 1, Labels{"kind": kind})
}

// RecordHTTP counts one outbound request. status 0 means the request never got a response.
func RecordHTTP(target string, status int, d time.Duration, err error) {
	s := "none"
	if status > 0 {
		s = strconv.Itoa(status)
	}
	l := Labels{"target": target, "status": s}
	IncCounter(HTTPRequestsTotal, 1, l)
	ObserveHistogram(HTTPDurationSeconds, d.Seconds(), l)
	if err != nil || status >= 400 {
		IncCounter(HTTPErrorsTotal, 1, l)
	}
}
