package publish

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/skillnotes/internal/apperr"
	"github.com/starford/skillnotes/internal/models"
)

// DefaultMaxFileSize is 50 MiB.
const DefaultMaxFileSize int64 = 50 << 20

// Accepted upload extensions.
var allowedExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true,
	".png": true, ".jpg": true, ".jpeg": true,
	".zip": true, ".md": true,
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".zip":  "application/zip",
	".md":   "text/markdown; charset=utf-8",
}

// oleMagic starts legacy Office documents.
var oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// ValidateFields checks the publisher supplied metadata.
func ValidateFields(f models.NoteFields) error {
	err := validation.ValidateStruct(&f,
		validation.Field(&f.Title, validation.Required, validation.RuneLength(1, 255)),
		validation.Field(&f.Description, validation.RuneLength(0, 2000)),
		validation.Field(&f.College, validation.Required, validation.RuneLength(1, 255)),
		validation.Field(&f.Stream, validation.Required, validation.RuneLength(1, 255)),
		validation.Field(&f.Branch, validation.Required, validation.RuneLength(1, 255)),
		validation.Field(&f.Semester, validation.Required, validation.Min(1), validation.Max(10)),
		validation.Field(&f.Subject, validation.Required, validation.RuneLength(1, 255)),
	)
	return toValidationError(err)
}

// ValidateUpdate checks the fields set in patch. Unset fields are skipped.
func ValidateUpdate(patch models.NoteUpdate) error {
	if patch.Empty() {
		return apperr.Invalid("", "no fields to update")
	}
	err := validation.ValidateStruct(&patch,
		validation.Field(&patch.Title, validation.NilOrNotEmpty, validation.RuneLength(1, 255)),
		validation.Field(&patch.Description, validation.RuneLength(0, 2000)),
		validation.Field(&patch.College, validation.NilOrNotEmpty, validation.RuneLength(1, 255)),
		validation.Field(&patch.Stream, validation.NilOrNotEmpty, validation.RuneLength(1, 255)),
		validation.Field(&patch.Branch, validation.NilOrNotEmpty, validation.RuneLength(1, 255)),
		validation.Field(&patch.Semester, validation.NilOrNotEmpty, validation.Min(1), validation.Max(10)),
		validation.Field(&patch.Subject, validation.NilOrNotEmpty, validation.RuneLength(1, 255)),
		validation.Field(&patch.FileURL, validation.NilOrNotEmpty, validation.Length(1, 1000), is.URL),
	)
	return toValidationError(err)
}

// ValidateUpload checks name, size and content of u against limit.
func ValidateUpload(u models.Upload, limit int64) error {
	fields := map[string]string{}
	ext := strings.ToLower(path.Ext(u.Name))
	switch {
	case u.Name == "":
		fields["file.name"] = "cannot be blank"
	case !allowedExtensions[ext]:
		fields["file.name"] = fmt.Sprintf("unsupported file type %q", ext)
	}
	switch {
	case u.Size() == 0:
		fields["file.size"] = "file is empty"
	case u.Size() > limit:
		fields["file.size"] = fmt.Sprintf("%d bytes exceeds the %d byte limit", u.Size(), limit)
	}
	if len(fields) == 0 {
		if err := checkContent(u.Data, ext); err != nil {
			fields["file.content"] = err.Error()
		}
	}
	if len(fields) > 0 {
		return &apperr.ValidationError{Fields: fields}
	}
	return nil
}

// ContentType returns the canonical media type of name.
func ContentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// checkContent verifies that data matches the declared extension.
func checkContent(data []byte, ext string) error {
	detected := http.DetectContentType(data)
	mime := strings.Split(detected, ";")[0]
	switch ext {
	case ".pdf":
		if mime != "application/pdf" {
			return fmt.Errorf("content does not match %s (detected: %s)", ext, detected)
		}
	case ".png":
		if mime != "image/png" {
			return fmt.Errorf("content does not match %s (detected: %s)", ext, detected)
		}
	case ".jpg", ".jpeg":
		if mime != "image/jpeg" {
			return fmt.Errorf("content does not match %s (detected: %s)", ext, detected)
		}
	case ".zip", ".docx":
		if mime != "application/zip" {
			return fmt.Errorf("content does not match %s (detected: %s)", ext, detected)
		}
	case ".doc":
		if !bytes.HasPrefix(data, oleMagic) {
			return fmt.Errorf("content does not match %s", ext)
		}
	case ".md":
		if !strings.HasPrefix(mime, "text/") {
			return fmt.Errorf("content does not look like text (detected: %s)", detected)
		}
	}
	return nil
}

func toValidationError(err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return &apperr.ValidationError{Fields: map[string]string{"": err.Error()}}
	}
	fields := make(map[string]string, len(errs))
	for name, fe := range errs {
		fields[name] = fe.Error()
	}
	return &apperr.ValidationError{Fields: fields}
}
