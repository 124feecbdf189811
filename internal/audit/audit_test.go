package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/54b3r/lawrag/internal/logging"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("QDRANT_API_KEY", "qd-abc123"); got != "set" {
		t.Errorf("expected 'set', got %q", got)
	}
	if got := SanitiseKey("GOOGLE_API_KEY", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("EMBEDDING_PROVIDER", "gemini"); got != "gemini" {
		t.Errorf("expected 'gemini', got %q", got)
	}
	if got := SanitiseKey("EMBEDDING_PROVIDER", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "" && home != "/" {
		p := filepath.Join(home, ".lawrag", "config.yaml")
		if got := sanitiseConfigPath(p); got != "~/.lawrag/config.yaml" {
			t.Errorf("expected '~/.lawrag/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("EMBEDDING_API_KEY", "super-secret")
	t.Setenv("EMBEDDING_PROVIDER", "openai")

	var buf bytes.Buffer
	LogCommandStart(logging.NewWithWriter(&buf, "info", "json"), "index", "")

	if bytes.Contains(buf.Bytes(), []byte("super-secret")) {
		t.Fatalf("secret value leaked into audit log: %s", buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec["EMBEDDING_API_KEY"] != "set" {
		t.Errorf("EMBEDDING_API_KEY: got %v", rec["EMBEDDING_API_KEY"])
	}
	if rec["EMBEDDING_PROVIDER"] != "openai" {
		t.Errorf("EMBEDDING_PROVIDER: got %v", rec["EMBEDDING_PROVIDER"])
	}
	if rec["command"] != "index" || rec["config_file"] != "none" {
		t.Errorf("unexpected command/config_file: %v / %v", rec["command"], rec["config_file"])
	}
}
