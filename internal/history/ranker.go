// Package history ranks prior conversation turns by relevance to the
// current query. Relevance blends semantic similarity with a position-based
// recency score; the blend weight is configurable per ranker.
package history

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/54b3r/lawrag/internal/rag"
)

const (
	// DefaultTopN is the number of ranked messages returned by default.
	DefaultTopN = 5
	// DefaultRecencyWeight is the default blend factor for recency.
	DefaultRecencyWeight = 0.3
)

// Role identifies who authored a message.
type Role string

const (
	// RoleUser marks messages typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks generated answers.
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn. Histories are ordered oldest first.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Ranked is a message with its scores. Index is the position of the message
// in the filtered history.
type Ranked struct {
	Message
	Index         int     `json:"index"`
	SemanticScore float64 `json:"semanticScore"`
	RecencyScore  float64 `json:"recencyScore"`
	CombinedScore float64 `json:"combinedScore"`
}

// Ranker selects the most relevant history messages for a query.
// It is safe for concurrent use when its embedder is.
type Ranker struct {
	embedder rag.Embedder
	topN     int
	weight   float64
}

// NewRanker constructs a Ranker. topN <= 0 selects DefaultTopN. weight must
// lie in [0, 1].
func NewRanker(embedder rag.Embedder, topN int, weight float64) (*Ranker, error) {
	if embedder == nil {
		return nil, fmt.Errorf("history: embedder must not be nil")
	}
	if math.IsNaN(weight) || weight < 0 || weight > 1 {
		return nil, fmt.Errorf("history: recency weight %v outside [0,1]: %w", weight, rag.ErrInvalidInput)
	}
	if topN <= 0 {
		topN = DefaultTopN
	}
	return &Ranker{embedder: embedder, topN: topN, weight: weight}, nil
}

// TopN returns the configured result size.
func (r *Ranker) TopN() int { return r.topN }

// RecencyWeight returns the configured blend factor.
func (r *Ranker) RecencyWeight() float64 { return r.weight }

// Rank scores messages against query and returns at most TopN of them,
// highest combined score first; ties keep history order. Messages with
// another role or empty text are ignored. Fewer than two usable messages
// yield an empty result.
func (r *Ranker) Rank(ctx context.Context, query string, messages []Message) ([]Ranked, error) {
	valid := Filter(messages)
	if len(valid) < 2 {
		return []Ranked{}, nil
	}

	qv, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("history: embedding query: %w: %w", rag.ErrEmbedding, err)
	}
	if len(qv) != 1 {
		return nil, fmt.Errorf("history: embedder returned %d vectors for 1 query: %w", len(qv), rag.ErrEmbedding)
	}

	texts := make([]string, len(valid))
	for i, m := range valid {
		texts[i] = m.Text
	}
	mv, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("history: embedding messages: %w: %w", rag.ErrEmbedding, err)
	}
	if len(mv) != len(valid) {
		return nil, fmt.Errorf("history: embedder returned %d vectors for %d messages: %w", len(mv), len(valid), rag.ErrEmbedding)
	}

	last := float64(len(valid) - 1)
	ranked := make([]Ranked, len(valid))
	for i, m := range valid {
		sim := rag.CosineSimilarity(qv[0], mv[i])
		rec := float64(i) / last
		ranked[i] = Ranked{
			Message:       m,
			Index:         i,
			SemanticScore: sim,
			RecencyScore:  rec,
			CombinedScore: (1-r.weight)*sim + r.weight*rec,
		}
	}

	slices.SortStableFunc(ranked, func(a, b Ranked) int {
		return cmp.Compare(b.CombinedScore, a.CombinedScore)
	})
	return ranked[:min(r.topN, len(ranked))], nil
}

// Filter keeps user and assistant messages with non-empty text, in order.
func Filter(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Text == "" {
			continue
		}
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		out = append(out, m)
	}
	return out
}
