package cache

import (
	"fmt"

	"github.com/starford/skillnotes/internal/models"
)

// QueryKey identifies one cached listing by collection, filters and sort.
// Keys are comparable and used directly as map keys.
type QueryKey struct {
	Collection string
	Owner      string
	Subject    string
	PublicOnly bool
	Sort       string
	Limit      int
}

func (k QueryKey) String() string {
	return fmt.Sprintf("%s?owner=%q&subject=%q&public=%t&sort=%s&limit=%d",
		k.Collection, k.Owner, k.Subject, k.PublicOnly, k.Sort, k.Limit)
}

// MyNotes is the key of owner's own listing.
func MyNotes(owner string) QueryKey {
	return QueryKey{Collection: models.CollectionNotes, Owner: owner}
}

// AllNotes is the key of the public listing, optionally filtered by subject.
func AllNotes(subject string) QueryKey {
	return QueryKey{Collection: models.CollectionNotes, Subject: subject, PublicOnly: true}
}

// InCollection matches every key of collection.
func InCollection(collection string) func(QueryKey) bool {
	return func(k QueryKey) bool { return k.Collection == collection }
}

// Touching matches the keys whose listing could include n: its owner's
// listings and any listing not restricted to another owner.
func Touching(n models.NoteArtifact) func(QueryKey) bool {
	return func(k QueryKey) bool {
		if k.Collection != models.CollectionNotes {
			return false
		}
		return k.Owner == "" || k.Owner == n.OwnerID
	}
}
