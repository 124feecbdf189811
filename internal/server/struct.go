package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/lawrag/internal/history"
	"github.com/54b3r/lawrag/internal/rag"
	"github.com/54b3r/lawrag/internal/retrieval"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, a discarding logger is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// HistoryTopN is the default number of ranked history messages.
	HistoryTopN int
	// RecencyWeight is the default ranker blend factor. Nil selects
	// history.DefaultRecencyWeight.
	RecencyWeight *float64
	// ContextBudget is the default character budget for the context block.
	ContextBudget int
	// MetricsRegistry receives the server's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Retriever is the retrieval surface the handlers call.
// *retrieval.Orchestrator satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string) retrieval.Result
	Section(ctx context.Context, chapter, section int, query string) retrieval.Result
	Search(ctx context.Context, query string, k int) retrieval.Result
}

// Deps are the process-wide handles injected into the server.
type Deps struct {
	// Retriever answers /api/retrieve and /api/retrieve/section. Required.
	Retriever Retriever
	// History supplies conversation history for /api/context. Optional;
	// without it /api/context answers 503.
	History history.Provider
	// Embedder scores history messages. Required when History is set.
	Embedder rag.Embedder
}

// Server is the HTTP server that exposes lawrag retrieval.
type Server struct {
	// retriever resolves legal queries.
	retriever Retriever
	// history fetches conversation history; nil disables /api/context.
	history history.Provider
	// embedder is handed to per-request rankers.
	embedder rag.Embedder
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// retrieveRequest is the JSON body for POST /api/retrieve.
type retrieveRequest struct {
	// Query is the user's legal question.
	Query string `json:"query"`
	// TopK overrides the number of search matches.
	TopK int `json:"topK,omitempty"`
}

// sectionRequest is the JSON body for POST /api/retrieve/section.
type sectionRequest struct {
	Chapter int    `json:"chapter"`
	Section int    `json:"section"`
	Query   string `json:"query,omitempty"`
}

// matchJSON is one vector-search hit.
type matchJSON struct {
	ID       string  `json:"id"`
	Chapter  int     `json:"chapter"`
	Section  int     `json:"section"`
	Title    string  `json:"title"`
	Distance float64 `json:"distance"`
}

// sectionJSON is a directly resolved section.
type sectionJSON struct {
	Chapter     int    `json:"chapter"`
	Section     int    `json:"section"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// retrieveResponse is the JSON response for both retrieve endpoints.
type retrieveResponse struct {
	// Kind is one of empty, direct, search, section_not_found.
	Kind retrieval.Kind `json:"kind"`
	// Prompt is the augmented prompt, or the raw query when none was built.
	Prompt string `json:"prompt"`
	// Augmented is true when Prompt differs from the query.
	Augmented bool         `json:"augmented"`
	Matches   []matchJSON  `json:"matches"`
	Section   *sectionJSON `json:"section,omitempty"`
	// Error explains a degraded empty result.
	Error string `json:"error,omitempty"`
}

// contextRequest is the JSON body for POST /api/context.
type contextRequest struct {
	Message       string   `json:"message"`
	SessionID     string   `json:"sessionId"`
	TopN          int      `json:"topN,omitempty"`
	RecencyWeight *float64 `json:"recencyWeight,omitempty"`
	Budget        int      `json:"budget,omitempty"`
}

// contextResponse is the JSON response for POST /api/context.
type contextResponse struct {
	// Prompt is the context-augmented message, or the message unchanged.
	Prompt string `json:"prompt"`
	// Applied is true when history context was added.
	Applied bool `json:"applied"`
	// Messages are the ranked messages included in Prompt.
	Messages []history.Ranked `json:"messages"`
	// ContextChars is the size of the context block in characters.
	ContextChars int `json:"contextChars"`
	// EstimatedTokens is a rough token count of Prompt.
	EstimatedTokens int `json:"estimatedTokens"`
	// Error explains why context was not applied.
	Error string `json:"error,omitempty"`
}
