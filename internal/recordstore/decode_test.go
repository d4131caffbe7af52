package recordstore

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/starford/skillnotes/internal/apperr"
)

func TestDecode(t *testing.T) {
	n, err := Decode(json.RawMessage(noteJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n.OwnerID != "u1" || n.Subject != "Thermo" {
		t.Errorf("got %+v", n)
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		field string
	}{
		{"missing id", `{"user_id":"u1","title":"t","file_url":"f","created_at":"2026-03-01T10:00:00Z"}`, "id"},
		{"null title", `{"id":"n","user_id":"u1","title":null,"file_url":"f","created_at":"2026-03-01T10:00:00Z"}`, "title"},
		{"empty owner", `{"id":"n","user_id":"","title":"t","file_url":"f","created_at":"2026-03-01T10:00:00Z"}`, "user_id"},
		{"mistyped semester", `{"id":"n","user_id":"u","title":"t","file_url":"f","created_at":"2026-03-01T10:00:00Z","semester":"three"}`, "semester"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(json.RawMessage(tc.raw))
			if !errors.Is(err, apperr.ErrDecode) {
				t.Fatalf("err = %v, want ErrDecode", err)
			}
			var de *apperr.DecodeError
			if !errors.As(err, &de) || de.Field != tc.field {
				t.Errorf("field = %v, want %q", de, tc.field)
			}
		})
	}
}
