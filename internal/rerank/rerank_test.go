package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew_DisabledWithoutEndpoint(t *testing.T) {
	t.Parallel()
	if c := New(Config{}); c != nil {
		t.Fatalf("New(empty) = %v, want nil", c)
	}
}

func TestClient_Rerank(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/rerank" {
			t.Errorf("path = %q, want /v1/rerank", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.TopN != 2 || len(req.Documents) != 3 || req.Query != "q" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"results":[{"index":2,"relevance_score":0.9},{"index":0,"relevance_score":0.4}]}`))
	}))
	t.Cleanup(srv.Close)

	c := New(Config{Endpoint: srv.URL + "/v1/", APIKey: "secret"})
	got, err := c.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 2)
	if err != nil {
		t.Fatalf("Rerank() error: %v", err)
	}
	want := []Result{{Index: 2, Score: 0.9}, {Index: 0, Score: 0.4}}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("result[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestClient_RerankEmpty(t *testing.T) {
	t.Parallel()
	c := New(Config{Endpoint: "http://127.0.0.1:1"})
	got, err := c.Rerank(context.Background(), "q", nil, 5)
	if err != nil || got != nil {
		t.Fatalf("Rerank(nil) = %v, %v; want nil, nil", got, err)
	}
}

func TestClient_RerankErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "model loading", http.StatusServiceUnavailable)
			},
		},
		{
			name: "bad json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
		},
		{
			name: "index out of range",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"results":[{"index":7,"relevance_score":1}]}`))
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			timeout: 50 * time.Millisecond,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			t.Cleanup(srv.Close)

			c := New(Config{Endpoint: srv.URL, Timeout: tc.timeout})
			_, err := c.Rerank(context.Background(), "q", []string{"a", "b"}, 2)
			if !errors.Is(err, ErrRerank) {
				t.Fatalf("error = %v, want ErrRerank", err)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("RERANK_ENDPOINT", "http://rerank:8080")
	t.Setenv("RERANK_MODEL", "")
	t.Setenv("RERANK_TIMEOUT", "3s")

	cfg := ConfigFromEnv()
	if cfg.Endpoint != "http://rerank:8080" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.Model != "bge-reranker-v2-m3" {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v", cfg.Timeout)
	}
}
