package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/lawrag/internal/budget"
	"github.com/54b3r/lawrag/internal/history"
	"github.com/54b3r/lawrag/internal/logging"
	"github.com/54b3r/lawrag/internal/prompt"
	"github.com/54b3r/lawrag/internal/rag"
	"github.com/54b3r/lawrag/internal/retrieval"
)

// handleRetrieve handles POST /api/retrieve. An explicit chapter/section
// reference goes to direct lookup; everything else to vector search.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	var res retrieval.Result
	if _, _, ok := retrieval.ParseReference(req.Query); !ok && req.TopK > 0 {
		res = s.retriever.Search(r.Context(), req.Query, req.TopK)
	} else {
		res = s.retriever.Retrieve(r.Context(), req.Query)
	}
	s.writeResult(w, r, res, time.Since(start))
}

// handleSection handles POST /api/retrieve/section.
func (s *Server) handleSection(w http.ResponseWriter, r *http.Request) {
	var req sectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Chapter <= 0 || req.Section <= 0 {
		http.Error(w, "chapter and section must be positive", http.StatusBadRequest)
		return
	}

	start := time.Now()
	res := s.retriever.Section(r.Context(), req.Chapter, req.Section, req.Query)
	s.writeResult(w, r, res, time.Since(start))
}

// writeResult records metrics for res and encodes it. A missing section is
// reported as 404; every other outcome, including degraded ones, as 200.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, res retrieval.Result, elapsed time.Duration) {
	log := logging.FromContext(r.Context())
	s.metrics.retrievalsTotal.WithLabelValues(string(res.Kind)).Inc()
	s.metrics.retrievalDurationSeconds.WithLabelValues(string(res.Kind)).Observe(elapsed.Seconds())

	resp := retrieveResponse{
		Kind:      res.Kind,
		Prompt:    res.PromptOrQuery(),
		Augmented: res.Found(),
		Matches:   make([]matchJSON, 0, len(res.Matches)),
	}
	for _, m := range res.Matches {
		resp.Matches = append(resp.Matches, matchJSON{
			ID:       m.Document.ID,
			Chapter:  m.Document.Metadata.Chapter,
			Section:  m.Document.Metadata.Section,
			Title:    m.Document.Metadata.Title,
			Distance: m.Distance,
		})
	}
	if res.Section != nil {
		resp.Section = &sectionJSON{
			Chapter:     res.Section.Chapter,
			Section:     res.Section.Section,
			Title:       res.Section.Title,
			Description: res.Section.Description,
		}
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
		if !errors.Is(res.Err, rag.ErrEmptyIndex) {
			log.Warn("retrieval degraded", slog.Any("error", res.Err))
		}
	}

	status := http.StatusOK
	if res.Kind == retrieval.KindSectionNotFound {
		status = http.StatusNotFound
	}
	log.Debug("retrieval",
		slog.String("kind", string(res.Kind)),
		slog.Int("matches", len(res.Matches)),
		slog.Duration("duration", elapsed),
	)
	writeJSON(w, r, status, resp)
}

// handleContext handles POST /api/context. The caller's bearer token is
// forwarded to the history service unchanged. History or ranking failures
// degrade to the unmodified message with a 200.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if s.history == nil {
		http.Error(w, "history provider not configured", http.StatusServiceUnavailable)
		return
	}

	var req contextRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}

	topN := req.TopN
	if topN <= 0 {
		topN = s.cfg.HistoryTopN
	}
	weight := history.DefaultRecencyWeight
	if s.cfg.RecencyWeight != nil {
		weight = *s.cfg.RecencyWeight
	}
	if req.RecencyWeight != nil {
		weight = *req.RecencyWeight
	}
	limit := req.Budget
	if limit <= 0 {
		limit = s.cfg.ContextBudget
	}

	ranker, err := history.NewRanker(s.embedder, topN, weight)
	if err != nil {
		http.Error(w, "recencyWeight must be between 0 and 1", http.StatusBadRequest)
		return
	}

	degrade := func(outcome string, cause error) {
		log.Warn("context not applied", slog.String("outcome", outcome), slog.Any("error", cause))
		s.metrics.contextTotal.WithLabelValues(outcome).Inc()
		writeJSON(w, r, http.StatusOK, contextResponse{
			Prompt:          req.Message,
			Messages:        []history.Ranked{},
			EstimatedTokens: budget.Estimate(req.Message),
			Error:           cause.Error(),
		})
	}

	msgs, err := s.history.Messages(r.Context(), req.SessionID, bearerToken(r))
	if err != nil {
		degrade("history_error", err)
		return
	}
	ranked, err := ranker.Rank(r.Context(), req.Message, msgs)
	if err != nil {
		degrade("rank_error", err)
		return
	}

	a := prompt.Build(req.Message, ranked, limit)
	outcome := "identity"
	if a.Applied {
		outcome = "applied"
	}
	s.metrics.contextTotal.WithLabelValues(outcome).Inc()

	included := a.Included
	if included == nil {
		included = []history.Ranked{}
	}
	writeJSON(w, r, http.StatusOK, contextResponse{
		Prompt:          a.Prompt,
		Applied:         a.Applied,
		Messages:        included,
		ContextChars:    a.ContextChars,
		EstimatedTokens: budget.Estimate(a.Prompt),
	})
}

// decodeJSON decodes the request body into dst and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns an empty string if the header is absent or malformed.
func bearerToken(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if hdr == "" {
		return ""
	}
	parts := strings.SplitN(hdr, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
