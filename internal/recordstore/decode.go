package recordstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
)

// requiredFields are the keys every note payload must carry.
var requiredFields = []string{"id", "user_id", "title", "file_url", "created_at"}

// Decode parses one note payload, failing on missing required fields or
// mistyped values instead of passing zero values downstream.
func Decode(raw json.RawMessage) (models.NoteArtifact, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return models.NoteArtifact{}, &apperr.DecodeError{Reason: err.Error()}
	}
	for _, f := range requiredFields {
		v, ok := keys[f]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return models.NoteArtifact{}, &apperr.DecodeError{Field: f, Reason: "missing"}
		}
	}

	var n models.NoteArtifact
	if err := json.Unmarshal(raw, &n); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if i := strings.LastIndex(field, "."); i >= 0 {
				field = field[i+1:]
			}
			return models.NoteArtifact{}, &apperr.DecodeError{Field: field, Reason: "expected " + typeErr.Type.String()}
		}
		return models.NoteArtifact{}, &apperr.DecodeError{Reason: err.Error()}
	}
	if err := check(n); err != nil {
		return models.NoteArtifact{}, err
	}
	return n, nil
}

// DecodeList parses a JSON array of note payloads.
func DecodeList(raw json.RawMessage) ([]models.NoteArtifact, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &apperr.DecodeError{Reason: err.Error()}
	}
	out := make([]models.NoteArtifact, 0, len(items))
	for _, item := range items {
		n, err := Decode(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// check rejects present but empty required values.
func check(n models.NoteArtifact) error {
	switch {
	case n.ID == "":
		return &apperr.DecodeError{Field: "id", Reason: "empty"}
	case n.OwnerID == "":
		return &apperr.DecodeError{Field: "user_id", Reason: "empty"}
	case n.Title == "":
		return &apperr.DecodeError{Field: "title", Reason: "empty"}
	case n.FileURL == "":
		return &apperr.DecodeError{Field: "file_url", Reason: "empty"}
	case n.CreatedAt.IsZero():
		return &apperr.DecodeError{Field: "created_at", Reason: "zero"}
	}
	return nil
}
