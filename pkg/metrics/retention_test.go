package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRetentionMetricsRecordsRunsAndRows(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewRetentionMetrics(reg)
	metrics.ObserveRun("outbox-retention", 40*time.Millisecond, nil)
	metrics.ObserveRun("outbox-retention", 10*time.Millisecond, errors.New("boom"))
	metrics.AddPurged("outbox-retention", 7)
	metrics.AddPurged("outbox-retention", 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "retention_job_runs_total", map[string]string{"job": "outbox-retention", "outcome": "failure"}); err != nil {
		t.Fatalf("fetch failure: %v", err)
	} else if got != 1 {
		t.Fatalf("expected failure=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "retention_rows_purged_total", map[string]string{"job": "outbox-retention"}); err != nil {
		t.Fatalf("fetch purged: %v", err)
	} else if got != 7 {
		t.Fatalf("expected purged=7, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "retention_job_duration_seconds", map[string]string{"job": "outbox-retention"}); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got < 0.05 {
		t.Fatalf("expected duration sum >= 0.05, got %f", got)
	}
}

func TestNilRetentionMetricsAreNoop(t *testing.T) {
	var metrics *RetentionMetrics
	metrics.ObserveRun("job", time.Second, nil)
	metrics.AddPurged("job", 3)
	NewRetentionMetrics(nil).AddPurged("job", 3)
}
