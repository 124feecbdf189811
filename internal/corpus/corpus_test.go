package corpus

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/54b3r/lawrag/internal/logging"
)

const sampleCorpus = `[
  {"chapter": 1, "section": 1, "section_title": "Short title", "section_desc": "This Sanhita may be called the Bharatiya Nyaya Sanhita."},
  {"chapter": 5, "section": 63, "section_title": "Rape", "section_desc": "A man is said to commit rape who..."}
]`

// writeCorpus writes content to a temp corpus file and returns its path.
func writeCorpus(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "bns.json")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return p
}

func Test_Corpus_LoadAndLookup(t *testing.T) {
	t.Parallel()

	c, err := Load(writeCorpus(t, sampleCorpus), logging.Nop())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("want 2 sections, got %d", c.Len())
	}

	s, ok := c.Lookup(5, 63)
	if !ok {
		t.Fatal("expected chapter 5 section 63")
	}
	if s.Title != "Rape" {
		t.Errorf("title: got %q", s.Title)
	}

	if _, ok := c.Lookup(99, 1); ok {
		t.Error("expected no match for chapter 99")
	}
	if _, ok := c.Lookup(1, 63); ok {
		t.Error("chapter and section must both match")
	}
}

func Test_Corpus_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "absent.json"), logging.Nop())
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("want empty corpus, got %d", c.Len())
	}
}

func Test_Corpus_MalformedJSON(t *testing.T) {
	t.Parallel()

	c, err := Load(writeCorpus(t, `{"chapter": 1`), logging.Nop())
	if err == nil {
		t.Fatal("expected parse error")
	}
	if c.Len() != 0 {
		t.Errorf("want empty corpus on error, got %d", c.Len())
	}
}

func Test_Section_Rendering(t *testing.T) {
	t.Parallel()

	s := Section{Chapter: 2, Section: 7, Title: "Definitions", Description: "In this Sanhita..."}
	if got, want := s.ID(), "Chapter-2-Section-7"; got != want {
		t.Errorf("ID: got %q, want %q", got, want)
	}
	if got, want := s.Text(), "Chapter 2, Section 7 - Definitions: In this Sanhita..."; got != want {
		t.Errorf("Text: got %q, want %q", got, want)
	}
}

func Test_Corpus_NilSafe(t *testing.T) {
	t.Parallel()

	var c *Corpus
	if c.Len() != 0 || c.Sections() != nil {
		t.Error("nil corpus should be empty")
	}
	if _, ok := c.Lookup(1, 1); ok {
		t.Error("nil corpus lookup should miss")
	}
}
