// Package extractor wraps the external media extraction engine. The
// pipeline only depends on the interface; errors carry human-readable
// text that is forwarded to the user verbatim.
package extractor

import (
	"context"
)

// Entry is one item of a flattened collection listing.
type Entry struct {
	ID    string
	Title string
	URL   string
}

// Info is the metadata-only result of a flat extraction. Entries is
// populated for collections and empty for single items.
type Info struct {
	ID           string
	Title        string
	Artist       string
	ItemCount    int
	ReleaseYear  string
	ThumbnailURL string
	Entries      []Entry
}

// File is one produced local audio file.
type File struct {
	Path   string
	ID     string
	Title  string
	Artist string
	Ext    string
	Size   int64
}

type Extractor interface {
	// Flatten resolves metadata without downloading anything. For a
	// collection URL the listing is flat: entries only, no nesting.
	Flatten(ctx context.Context, url string) (*Info, error)

	// Download produces one local file per item; a collection URL
	// yields many, a single item exactly one.
	Download(ctx context.Context, url string) ([]File, error)
}
