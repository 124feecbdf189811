package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrSessionNotFound is returned when the history service has no session
// with the requested id.
var ErrSessionNotFound = errors.New("history: session not found")

// ErrUnavailable is returned when the history service cannot be reached or
// answers with a non-2xx status.
var ErrUnavailable = errors.New("history: service unavailable")

// Provider supplies the conversation history of a session, oldest first.
type Provider interface {
	Messages(ctx context.Context, sessionID, token string) ([]Message, error)
}

// HTTPProvider reads history from the chat backend's conversation API:
// GET {base}/api/conversation returns every session of the authenticated
// user, and the requested session is picked out by id.
type HTTPProvider struct {
	// baseURL is the chat backend root (e.g. "http://localhost:5000").
	baseURL string
	// client is the shared HTTP client.
	client *http.Client
}

// NewHTTPProvider constructs an HTTPProvider. A nil client selects one with
// a 5 s timeout.
func NewHTTPProvider(baseURL string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPProvider{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// sessionPayload is one element of the /api/conversation response.
type sessionPayload struct {
	ID       string           `json:"_id"`
	Messages []messagePayload `json:"messages"`
}

// messagePayload is a stored chat message. Sender is "user" or "bot".
type messagePayload struct {
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Messages fetches the session's messages. The bearer token is forwarded
// unchanged; lawrag does not verify it.
func (p *HTTPProvider) Messages(ctx context.Context, sessionID, token string) ([]Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/conversation", nil)
	if err != nil {
		return nil, fmt.Errorf("history: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history: request failed: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("history: HTTP %d: %w", resp.StatusCode, ErrUnavailable)
	}

	var sessions []sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("history: decode response: %w", err)
	}

	for _, s := range sessions {
		if s.ID != sessionID {
			continue
		}
		out := make([]Message, 0, len(s.Messages))
		for _, m := range s.Messages {
			out = append(out, Message{Role: roleFor(m.Sender), Text: m.Message})
		}
		return out, nil
	}
	return nil, fmt.Errorf("history: %q: %w", sessionID, ErrSessionNotFound)
}

// Ping checks that the history service answers at all. Any HTTP response,
// including 401, counts as reachable.
func (p *HTTPProvider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/conversation", nil)
	if err != nil {
		return fmt.Errorf("history: create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("history: ping: %w: %w", ErrUnavailable, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("history: ping: HTTP %d: %w", resp.StatusCode, ErrUnavailable)
	}
	return nil
}

// roleFor maps a stored sender to a Role. Unknown senders pass through and
// are dropped by Filter.
func roleFor(sender string) Role {
	switch sender {
	case "user":
		return RoleUser
	case "bot", "assistant":
		return RoleAssistant
	default:
		return Role(sender)
	}
}
