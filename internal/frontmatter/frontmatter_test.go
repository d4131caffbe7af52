package frontmatter

import (
	"testing"

	"github.com/starford/skillnotes/internal/models"
)

func TestSplit(t *testing.T) {
	m, body := Split([]byte("---\ntitle: Graphs\nsemester: 4\nsubject: DSA\n---\n# Heading\nText\n"))
	if m.Title != "Graphs" || m.Semester != 4 || m.Subject != "DSA" {
		t.Errorf("meta = %+v", m)
	}
	if body != "# Heading\nText\n" {
		t.Errorf("body = %q", body)
	}
}

func TestSplitWithoutBlock(t *testing.T) {
	for _, in := range []string{
		"# Just text\n",
		"---\ntitle: unterminated\n",
		"---\n: bad: yaml: {{\n---\nBody\n",
	} {
		m, body := Split([]byte(in))
		if m != (Meta{}) || body != in {
			t.Errorf("Split(%q) = %+v, %q", in, m, body)
		}
	}
}

func TestFillKeepsSuppliedFields(t *testing.T) {
	u := models.Upload{
		Name: "Notes.MD",
		Data: []byte("---\ntitle: From File\ncollege: IIT\nsemester: 3\n---\nbody"),
	}
	got := Fill(models.NoteFields{Title: "Typed", IsPublic: true}, u)
	if got.Title != "Typed" {
		t.Errorf("title overwritten: %q", got.Title)
	}
	if got.College != "IIT" || got.Semester != 3 || !got.IsPublic {
		t.Errorf("fields = %+v", got)
	}
}

func TestFillTitleFromHeading(t *testing.T) {
	u := models.Upload{Name: "a.md", Data: []byte("intro\n# Dynamic Programming\n")}
	if got := Fill(models.NoteFields{}, u); got.Title != "Dynamic Programming" {
		t.Errorf("title = %q", got.Title)
	}
}

func TestFillIgnoresOtherTypes(t *testing.T) {
	u := models.Upload{Name: "a.pdf", Data: []byte("---\ntitle: x\n---\n")}
	if got := Fill(models.NoteFields{}, u); got.Title != "" {
		t.Errorf("pdf metadata read: %+v", got)
	}
}
