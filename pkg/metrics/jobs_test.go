package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestJobMetricsRunsAndFindings(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewJobMetrics(reg)

	m.ObserveRun("ledger-audit", 20*time.Millisecond, nil)
	m.ObserveRun("ledger-audit", 10*time.Millisecond, errors.New("boom"))
	m.AddFindings("ledger-audit", "drifted", 3)
	m.AddFindings("ledger-audit", "drifted", 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	ok, err := fetchCounter(mfs, "maintenance_job_runs_total", map[string]string{"job": "ledger-audit", "outcome": "ok"})
	if err != nil || ok != 1 {
		t.Fatalf("expected one ok run, got %v (%v)", ok, err)
	}
	failed, err := fetchCounter(mfs, "maintenance_job_runs_total", map[string]string{"job": "ledger-audit", "outcome": "internal_error"})
	if err != nil || failed != 1 {
		t.Fatalf("expected one failed run, got %v (%v)", failed, err)
	}
	drifted, err := fetchCounter(mfs, "maintenance_job_findings_total", map[string]string{"job": "ledger-audit", "kind": "drifted"})
	if err != nil || drifted != 3 {
		t.Fatalf("expected three findings, got %v (%v)", drifted, err)
	}
}

func TestJobMetricsNilSafe(t *testing.T) {
	var m *JobMetrics
	m.ObserveRun("x", time.Second, nil)
	m.AddFindings("x", "y", 1)
	NewJobMetrics(nil).ObserveRun("x", time.Second, nil)
}
