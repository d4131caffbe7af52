// Package frontmatter reads note metadata from the YAML frontmatter of a
// Markdown upload.
package frontmatter

import (
	"bytes"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/skillnotes/internal/models"
)

const delim = "---"

// Meta is the metadata a Markdown note may declare about itself.
// Visibility is never taken from the file.
type Meta struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	College     string `yaml:"college"`
	Stream      string `yaml:"stream"`
	Branch      string `yaml:"branch"`
	Semester    int    `yaml:"semester"`
	Subject     string `yaml:"subject"`
}

// Split separates a leading YAML block from the body. Content without a
// well-formed block is all body.
func Split(data []byte) (Meta, string) {
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return Meta{}, string(data)
	}
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return Meta{}, string(data)
	}
	block := rest[:idx]
	body := strings.TrimLeft(string(rest[idx+1+len(delim):]), "\n\r")

	var m Meta
	if err := yaml.Unmarshal(block, &m); err != nil {
		return Meta{}, string(data)
	}
	return m, body
}

// IsMarkdown reports whether name is a Markdown file.
func IsMarkdown(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".md")
}

// Fill completes the empty fields of f from the frontmatter of a Markdown
// upload. The title falls back to the first H1 heading. Non-Markdown
// uploads are returned unchanged.
func Fill(f models.NoteFields, u models.Upload) models.NoteFields {
	if !IsMarkdown(u.Name) {
		return f
	}
	m, body := Split(u.Data)
	if m.Title == "" {
		m.Title = heading(body)
	}
	fillString(&f.Title, m.Title)
	fillString(&f.Description, m.Description)
	fillString(&f.College, m.College)
	fillString(&f.Stream, m.Stream)
	fillString(&f.Branch, m.Branch)
	fillString(&f.Subject, m.Subject)
	if f.Semester == 0 {
		f.Semester = m.Semester
	}
	return f
}

func fillString(dst *string, v string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = strings.TrimSpace(v)
	}
}

func heading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if t := strings.TrimSpace(line); strings.HasPrefix(t, "# ") {
			return strings.TrimSpace(t[2:])
		}
	}
	return ""
}
