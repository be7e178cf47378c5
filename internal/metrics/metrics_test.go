package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func Test_Metrics_Recorded(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IngestFinished("completed")
	m.IngestFinished("completed")
	m.IngestFinished("failed")
	m.ObserveStage("embed", 250*time.Millisecond)
	m.SafetyRetry()
	m.SafetyBlocked()
	m.FallbackWiden("child")
	m.RerankFailed()
	m.WorkerStarted()
	m.WorkerStarted()
	m.WorkerDone()
	m.ObserveRetrieve(time.Second)

	mfs := gather(t, reg)

	ingest := mfs["cograg_ingest_documents_total"]
	if ingest == nil {
		t.Fatal("cograg_ingest_documents_total not registered")
	}
	for _, metric := range ingest.GetMetric() {
		outcome := metric.GetLabel()[0].GetValue()
		want := map[string]float64{"completed": 2, "failed": 1}[outcome]
		if got := metric.GetCounter().GetValue(); got != want {
			t.Errorf("ingest{outcome=%q} = %v, want %v", outcome, got, want)
		}
	}

	if got := mfs["cograg_worker_busy"].GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Errorf("worker_busy = %v, want 1", got)
	}
	if got := mfs["cograg_summarizer_safety_retries_total"].GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Errorf("safety_retries = %v, want 1", got)
	}
	if got := mfs["cograg_ingest_stage_duration_seconds"].GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
		t.Errorf("stage sample count = %v, want 1", got)
	}
}

func Test_Metrics_NilIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.IngestFinished("completed")
	m.ObserveStage("parse", time.Millisecond)
	m.SafetyRetry()
	m.SafetyBlocked()
	m.ObserveRetrieve(time.Millisecond)
	m.FallbackWiden("document")
	m.RerankFailed()
	m.WorkerStarted()
	m.WorkerDone()
}
