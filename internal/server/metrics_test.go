package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue returns the value of the counter name{label=value}, or -1
// when it is not present.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return -1
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	s, _, _ := newTestServer(t)

	// Touch a handler so at least one family is exported.
	do(t, s.Handler(), http.MethodGet, "/api/health", "", nil)

	w := do(t, s.Handler(), http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "lawrag_http_requests_total") {
		t.Error("lawrag_http_requests_total missing from /metrics output")
	}
}

func Test_Metrics_RetrievalCounterByKind(t *testing.T) {
	t.Parallel()
	s, _, reg := newTestServer(t)

	do(t, s.Handler(), http.MethodPost, "/api/retrieve", `{"query":"chapter 5 section 63"}`, nil)
	do(t, s.Handler(), http.MethodPost, "/api/retrieve", `{"query":"chapter 5 section 64"}`, nil)
	do(t, s.Handler(), http.MethodPost, "/api/retrieve", `{"query":"chapter 1 section 1"}`, nil)

	if got := counterValue(t, reg, "lawrag_retrieval_requests_total", "kind", "direct"); got != 1 {
		t.Errorf("direct = %v, want 1", got)
	}
	if got := counterValue(t, reg, "lawrag_retrieval_requests_total", "kind", "section_not_found"); got != 2 {
		t.Errorf("section_not_found = %v, want 2", got)
	}
}

func Test_Metrics_HTTPCounterByHandlerAndCode(t *testing.T) {
	t.Parallel()
	s, _, reg := newTestServer(t)

	do(t, s.Handler(), http.MethodPost, "/api/retrieve", `bad`, nil)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "lawrag_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels[labelHandler] == "retrieve" && labels["code"] == "400" && labels["method"] == "POST" {
				if m.GetCounter().GetValue() != 1 {
					t.Errorf("want 1, got %v", m.GetCounter().GetValue())
				}
				return
			}
		}
	}
	t.Error(`lawrag_http_requests_total{handler="retrieve",code="400"} not found`)
}
