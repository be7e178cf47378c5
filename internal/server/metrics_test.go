package server

import (
	"net/http"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func findMetric(mfs []*dto.MetricFamily, name, label, value string) *dto.Metric {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m
				}
			}
		}
	}
	return nil
}

func Test_Metrics_EndpointServesRegistry(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)

	w := e.do(t, http.MethodGet, "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "cograg_http_upload_bytes") {
		t.Error("server collectors missing from /metrics output")
	}
}

func Test_Metrics_RetrieveOutcomes(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)

	e.do(t, http.MethodPost, "/api/retrieve", strings.NewReader(`{"query":"q"}`), nil)
	e.do(t, http.MethodPost, "/api/retrieve", strings.NewReader(`{}`), nil)

	mfs, err := e.reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, outcome := range []string{"empty", "bad_request"} {
		m := findMetric(mfs, "cograg_http_retrieve_requests_total", "outcome", outcome)
		if m == nil {
			t.Errorf("outcome %q not recorded", outcome)
			continue
		}
		if got := m.GetCounter().GetValue(); got != 1 {
			t.Errorf("outcome %q = %v, want 1", outcome, got)
		}
	}
}

func Test_Metrics_UploadBytesObserved(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	e.upload(t, "acme", "a.txt", "hello")

	mfs, err := e.reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	m := findMetric(mfs, "cograg_http_upload_bytes", "", "")
	if m == nil {
		t.Fatal("cograg_http_upload_bytes not found")
	}
	if got := m.GetHistogram().GetSampleSum(); got != 5 {
		t.Errorf("sample sum = %v, want 5", got)
	}
}
