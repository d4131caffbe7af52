// Package models defines the domain types for skillnotes.
package models

import "time"

// CollectionNotes is the record collection holding note artifacts.
const CollectionNotes = "notes"

// NoteFields are the descriptive fields supplied by the publisher.
type NoteFields struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description"`
	College     string `json:"college" yaml:"college"`
	Stream      string `json:"stream" yaml:"stream"`
	Branch      string `json:"branch" yaml:"branch"`
	Semester    int    `json:"semester" yaml:"semester"`
	Subject     string `json:"subject" yaml:"subject"`
	IsPublic    bool   `json:"is_public" yaml:"is_public"`
}

// NoteArtifact is a published note. ID and OwnerID never change once
// assigned; FileURL may be re-signed.
type NoteArtifact struct {
	ID      string `json:"id"`
	OwnerID string `json:"user_id"`
	NoteFields
	FileURL    string    `json:"file_url"`
	StorageKey string    `json:"storage_key,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Upload is a local file handed to the publication pipeline.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the upload length in bytes.
func (u Upload) Size() int64 { return int64(len(u.Data)) }

// NoteUpdate is a partial change to a published note. Nil fields are left
// as they are. FileURL rotates the download reference; the id stays.
type NoteUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	College     *string `json:"college,omitempty"`
	Stream      *string `json:"stream,omitempty"`
	Branch      *string `json:"branch,omitempty"`
	Semester    *int    `json:"semester,omitempty"`
	Subject     *string `json:"subject,omitempty"`
	IsPublic    *bool   `json:"is_public,omitempty"`
	FileURL     *string `json:"file_url,omitempty"`
}

// Empty reports whether u changes nothing.
func (u NoteUpdate) Empty() bool {
	return u == NoteUpdate{}
}

// Apply returns n with the set fields of u.
func (u NoteUpdate) Apply(n NoteArtifact) NoteArtifact {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&n.Title, u.Title)
	set(&n.Description, u.Description)
	set(&n.College, u.College)
	set(&n.Stream, u.Stream)
	set(&n.Branch, u.Branch)
	set(&n.Subject, u.Subject)
	set(&n.FileURL, u.FileURL)
	if u.Semester != nil {
		n.Semester = *u.Semester
	}
	if u.IsPublic != nil {
		n.IsPublic = *u.IsPublic
	}
	return n
}
