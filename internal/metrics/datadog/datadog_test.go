package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"refiner/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() datadogV2.MetricPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}
	}
	return f.payloads[len(f.payloads)-1]
}

// idleTicker never fires within a test.
func idleTicker(time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) }

func newTestBackend(t *testing.T, fs *fakeSubmitter) *Backend {
	t.Helper()
	b, err := NewBackend(context.Background(), Options{
		JobName:   "test",
		submitter: fs,
		now:       func() time.Time { return time.Unix(1000, 0) },
		newTicker: idleTicker,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func seriesByName(p datadogV2.MetricPayload) map[string]datadogV2.MetricSeries {
	out := map[string]datadogV2.MetricSeries{}
	for _, s := range p.Series {
		out[s.Metric+"|"+joinTags(s.Tags)] = s
	}
	return out
}

func joinTags(tags []string) string {
	s := ""
	for i, t := range tags {
		if i > 0 {
			s += ","
		}
		s += t
	}
	return s
}

func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{"ENV wins", "prod", "stage", "env:prod"},
		{"DD_ENV fallback", "", "stage", "env:stage"},
		{"whitespace ignored", "  ", "\t", "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q want %q", got, tc.want)
			}
		})
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	t.Setenv("ENV", "ci")
	b, err := NewBackend(context.Background(), Options{
		Tags:      []string{"team:data"},
		submitter: &fakeSubmitter{},
		newTicker: idleTicker,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	defer func() { _ = b.Close() }()

	if want := []string{"env:ci", "job:refiner", "team:data"}; !reflect.DeepEqual(b.baseTags, want) {
		t.Fatalf("baseTags=%v want %v", b.baseTags, want)
	}
	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%s want 60s", b.flushEvery)
	}
}

func TestFlush_SubmitsAndResets(t *testing.T) {
	t.Setenv("ENV", "ci")
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	b.IncCounter(metrics.RowsTotal, 2, metrics.Labels{"table": "linting_errors"})
	b.IncCounter(metrics.RowsTotal, 3, metrics.Labels{"table": "linting_errors"})
	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "persist", "status": "ok"})
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.5, metrics.Labels{"step": "persist", "status": "ok"})
	b.IncCounter("some_other_metric", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submissions=%d want 1", fs.count())
	}
	if len(b.counters) != 0 || len(b.samples) != 0 {
		t.Fatalf("buffers not reset")
	}

	got := seriesByName(fs.last())
	rows, ok := got["refiner.rows.total|env:ci,job:test,table:linting_errors"]
	if !ok {
		t.Fatalf("rows series missing; got %v", keys(got))
	}
	if *rows.Points[0].Value != 5 || *rows.Points[0].Timestamp != 1000 {
		t.Fatalf("rows point=%v@%v", *rows.Points[0].Value, *rows.Points[0].Timestamp)
	}
	if *rows.Type != datadogV2.METRICINTAKETYPE_COUNT {
		t.Fatalf("rows type=%v", *rows.Type)
	}
	for _, name := range []string{
		"refiner.step.total|env:ci,job:test,status:ok,step:persist",
		"refiner.step.duration_seconds.p50|env:ci,job:test,status:ok,step:persist",
		"refiner.step.duration_seconds.samples|env:ci,job:test,status:ok,step:persist",
	} {
		if _, ok := got[name]; !ok {
			t.Fatalf("series %q missing; got %v", name, keys(got))
		}
	}
	if len(got) != 8 {
		t.Fatalf("series=%d want 8 (rows, step, 6 duration gauges)", len(got))
	}
}

func keys(m map[string]datadogV2.MetricSeries) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestFlush_EmptyAndErrors(t *testing.T) {
	fs := &fakeSubmitter{}
	b := newTestBackend(t, fs)

	if err := b.Flush(); err != nil || fs.count() != 0 {
		t.Fatalf("empty flush err=%v submissions=%d", err, fs.count())
	}

	fs.err = errors.New("intake down")
	b.IncCounter(metrics.AnomaliesTotal, 1, metrics.Labels{"kind": "unknown_language"})
	if err := b.Flush(); err == nil {
		t.Fatalf("expected submit error")
	}
	if len(b.counters) != 0 {
		t.Fatalf("buffers must reset even when submission fails")
	}
}

func TestIgnoresInvalidObservations(t *testing.T) {
	b := newTestBackend(t, &fakeSubmitter{})

	b.IncCounter(metrics.RowsTotal, 0, nil)
	b.IncCounter(metrics.RowsTotal, -1, nil)
	b.ObserveHistogram(metrics.HTTPDurationSeconds, -0.1, nil)
	b.ObserveHistogram("unknown", 1, nil)
	if len(b.counters) != 0 || len(b.samples) != 0 {
		t.Fatalf("invalid observations buffered: %v %v", b.counters, b.samples)
	}
}

func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter(metrics.StepTotal, 1, nil)
	deadline := time.Now().Add(time.Second)
	for fs.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected a background flush")
	}

	b.IncCounter(metrics.StepTotal, 1, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if fs.count() < 2 {
		t.Fatalf("Close must flush remaining data; submissions=%d", fs.count())
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	b := newTestBackend(t, &fakeSubmitter{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.IncCounter(metrics.RowsTotal, 1, metrics.Labels{"table": "t"})
				b.ObserveHistogram(metrics.StepDurationSeconds, 0.01, metrics.Labels{"step": "s"})
			}
		}()
	}
	wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if got := b.counters[seriesKey{metric: "refiner.rows.total", tags: "table:t"}]; got != 800 {
		t.Fatalf("counter=%v want 800", got)
	}
}

func TestRenderLabels(t *testing.T) {
	t.Parallel()

	got := renderLabels(metrics.Labels{"status": "", "step": "a,b", "kind": "x"})
	if got != "kind:x,status:unknown,step:a_b" {
		t.Fatalf("got %q", got)
	}
	if renderLabels(nil) != "" {
		t.Fatalf("nil labels must render empty")
	}
}

func TestPercentileNearestRank(t *testing.T) {
	t.Parallel()

	s := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1}, {0.5, 6}, {0.9, 9}, {1, 10},
	}
	for _, tt := range tests {
		if got := percentileNearestRank(s, tt.p); got != tt.want {
			t.Fatalf("p=%v got=%v want=%v", tt.p, got, tt.want)
		}
	}
	if percentileNearestRank(nil, 0.5) != 0 {
		t.Fatalf("empty slice must yield 0")
	}
}

func TestParseTagsCSV(t *testing.T) {
	t.Parallel()

	if got := ParseTagsCSV(" env:prod, ,team:data "); !reflect.DeepEqual(got, []string{"env:prod", "team:data"}) {
		t.Fatalf("got %v", got)
	}
	if ParseTagsCSV("") != nil {
		t.Fatalf("empty input must be nil")
	}
}
