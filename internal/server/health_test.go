package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/54b3r/lawrag/internal/ingestion"
	"github.com/54b3r/lawrag/internal/logging"
	"github.com/54b3r/lawrag/internal/rag"
)

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	// name is returned by Name().
	name string
	// err is returned by Ping(); nil means healthy.
	err error
}

func (f *fakePinger) Name() string                 { return f.name }
func (f *fakePinger) Ping(_ context.Context) error { return f.err }

// newReadyTestServer builds a *Server with the given pingers wired in.
func newReadyTestServer(t *testing.T, pingers ...Pinger) *Server {
	s, _, _ := newTestServer(t)
	s.pingers = pingers
	return s
}

// TestHandleHealth_OK verifies that GET /api/health returns 200 with a JSON
// body containing {"status":"ok"}.
func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	s := newReadyTestServer(t)
	w := httptest.NewRecorder()
	s.handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d, body: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status: expected %q, got %q", "ok", body["status"])
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		pingers    []Pinger
		wantStatus int
		wantReady  bool
	}{
		{"no pingers", nil, http.StatusOK, true},
		{"all healthy", []Pinger{&fakePinger{name: "store"}, &fakePinger{name: "qdrant"}}, http.StatusOK, true},
		{"one failing", []Pinger{&fakePinger{name: "store"}, &fakePinger{name: "qdrant", err: errors.New("connection refused")}}, http.StatusServiceUnavailable, false},
		{"all failing", []Pinger{&fakePinger{name: "store", err: errors.New("x")}, &fakePinger{name: "history", err: errors.New("y")}}, http.StatusServiceUnavailable, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newReadyTestServer(t, tc.pingers...)
			w := httptest.NewRecorder()
			s.handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

			if w.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d, body: %s", tc.wantStatus, w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type: got %q", ct)
			}
			var resp readyResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Ready != tc.wantReady {
				t.Errorf("ready = %v, want %v", resp.Ready, tc.wantReady)
			}
			if len(resp.Checks) != len(tc.pingers) {
				t.Fatalf("expected %d checks, got %d", len(tc.pingers), len(resp.Checks))
			}
			for i, c := range resp.Checks {
				failing := tc.pingers[i].(*fakePinger).err != nil
				if c.OK == failing {
					t.Errorf("check %q: ok=%v", c.Name, c.OK)
				}
				if failing && c.Error == "" {
					t.Errorf("check %q: expected non-empty error", c.Name)
				}
			}
		})
	}
}

func TestStorePinger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	if err := NewStorePinger(nil).Ping(ctx); !errors.Is(err, rag.ErrUnavailable) {
		t.Errorf("nil store: got %v", err)
	}

	store, err := rag.OpenLinearStore(t.TempDir(), logging.Nop())
	if err != nil {
		t.Fatal(err)
	}
	p := NewStorePinger(store)
	if err := p.Ping(ctx); !errors.Is(err, rag.ErrEmptyIndex) {
		t.Errorf("empty store: got %v", err)
	}
	if err := store.Add(ctx, []rag.Document{{ID: "a", Text: "a"}}, [][]float32{{1}}); err != nil {
		t.Fatal(err)
	}
	if err := p.Ping(ctx); err != nil {
		t.Errorf("populated store: %v", err)
	}
}

type fixedState ingestion.State

func (f fixedState) State() ingestion.State { return ingestion.State(f) }

func TestIndexPinger(t *testing.T) {
	t.Parallel()

	if err := NewIndexPinger(fixedState(ingestion.StateIndexing)).Ping(context.Background()); err == nil {
		t.Error("indexing should not be ready")
	}
	if err := NewIndexPinger(fixedState(ingestion.StateReady)).Ping(context.Background()); err != nil {
		t.Errorf("ready: %v", err)
	}
}

func TestFuncPinger(t *testing.T) {
	t.Parallel()

	want := errors.New("down")
	p := NewFuncPinger("history", func(context.Context) error { return want })
	if p.Name() != "history" || !errors.Is(p.Ping(context.Background()), want) {
		t.Error("FuncPinger should delegate")
	}
}
