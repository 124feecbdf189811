// Package corpus loads the legal section records that lawrag indexes and
// answers direct "chapter N section M" lookups from.
package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// Section is one immutable section record of the legal code.
type Section struct {
	// Chapter is the chapter number.
	Chapter int `json:"chapter"`
	// Section is the section number within the code.
	Section int `json:"section"`
	// Title is the section heading.
	Title string `json:"section_title"`
	// Description is the full section text.
	Description string `json:"section_desc"`
}

// ID returns the stable document key for the section.
func (s Section) ID() string {
	return fmt.Sprintf("Chapter-%d-Section-%d", s.Chapter, s.Section)
}

// Text returns the rendered document text that is embedded and returned in
// prompts.
func (s Section) Text() string {
	return fmt.Sprintf("Chapter %d, Section %d - %s: %s", s.Chapter, s.Section, s.Title, s.Description)
}

// Corpus is the in-memory, read-only list of sections loaded at startup.
// It is safe for concurrent reads.
type Corpus struct {
	// sections preserves file order.
	sections []Section
}

// New builds a Corpus from already-decoded sections.
func New(sections []Section) *Corpus {
	cp := make([]Section, len(sections))
	copy(cp, sections)
	return &Corpus{sections: cp}
}

// Load reads the corpus JSON array at path. A missing file is not an error:
// a warning is logged and an empty corpus returned. Malformed JSON is
// returned as an error.
func Load(path string, log *slog.Logger) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("corpus: file not found, continuing with empty corpus", slog.String("path", path))
			return New(nil), nil
		}
		return New(nil), fmt.Errorf("corpus: read %s: %w", path, err)
	}

	var sections []Section
	if err := json.Unmarshal(data, &sections); err != nil {
		return New(nil), fmt.Errorf("corpus: parse %s: %w", path, err)
	}

	log.Info("corpus: loaded", slog.String("path", path), slog.Int("sections", len(sections)))
	return &Corpus{sections: sections}, nil
}

// Len returns the number of sections.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.sections)
}

// Sections returns the sections in file order. The slice must not be modified.
func (c *Corpus) Sections() []Section {
	if c == nil {
		return nil
	}
	return c.sections
}

// Lookup returns the first section matching chapter and section.
func (c *Corpus) Lookup(chapter, section int) (Section, bool) {
	if c == nil {
		return Section{}, false
	}
	for _, s := range c.sections {
		if s.Chapter == chapter && s.Section == section {
			return s, true
		}
	}
	return Section{}, false
}
