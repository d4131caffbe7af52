package mcpserver

import (
	"context"
	"os"
	"strings"
	"testing"
)

func TestDecodeDataURI(t *testing.T) {
	data, ext, err := decodeDataURI("data:application/pdf;base64,JVBERi0xLjQ=")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "%PDF-1.4" || ext != ".pdf" {
		t.Errorf("data = %q ext = %q", data, ext)
	}

	for _, bad := range []string{"data:text/plain,hello", "data:text/plain;base64", "data:;base64,!!!"} {
		if _, _, err := decodeDataURI(bad); err == nil {
			t.Errorf("decodeDataURI(%q) succeeded", bad)
		}
	}
}

func TestLoadSourceNamesDataURI(t *testing.T) {
	_, name, err := loadSource(context.Background(), "data:image/png;base64,iVBORw0KGgo=", "", 1024)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(name, ".png") {
		t.Errorf("name = %q", name)
	}
}

func TestReadLocalTruncatesAtLimit(t *testing.T) {
	p := t.TempDir() + "/big.md"
	if err := os.WriteFile(p, []byte(strings.Repeat("a", 100)), 0o644); err != nil {
		t.Fatal(err)
	}
	data, err := readLocal(p, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 11 {
		t.Errorf("read %d bytes, want 11", len(data))
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"../../etc/passwd": "passwd",
		"my notes (1).pdf": "my_notes__1_.pdf",
		"ok-name_2.md":     "ok-name_2.md",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCheckBlockedHost(t *testing.T) {
	for _, h := range []string{"127.0.0.1", "::1", "169.254.169.254", "metadata.google.internal"} {
		if err := checkBlockedHost(h); err == nil {
			t.Errorf("%s not blocked", h)
		}
	}
	if err := checkBlockedHost("93.184.216.34"); err != nil {
		t.Errorf("public address blocked: %v", err)
	}
}

func TestFilenameFromURL(t *testing.T) {
	if got := filenameFromURL("https://example.com/files/os.pdf?x=1", ".pdf"); got != "os.pdf" {
		t.Errorf("got %q", got)
	}
	if got := filenameFromURL("https://example.com/download", ".zip"); !strings.HasSuffix(got, ".zip") {
		t.Errorf("got %q", got)
	}
}
