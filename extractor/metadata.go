package extractor

import (
	"strings"
)

// ParseArtistTitle normalizes raw extractor metadata. A missing artist
// is recovered from an "Artist - Title" shaped title; duplicate names
// in a comma-separated artist list are collapsed, keeping first-seen
// order.
func ParseArtistTitle(rawArtist, rawTitle string) (artist, title string) {
	artist = rawArtist
	title = rawTitle

	if artist != "" {
		parts := strings.Split(artist, ", ")
		seen := make(map[string]bool, len(parts))
		var unique []string
		for _, p := range parts {
			if !seen[p] {
				seen[p] = true
				unique = append(unique, p)
			}
		}
		artist = strings.Join(unique, ", ")
	}

	if artist == "" && strings.Contains(title, " - ") {
		parts := strings.SplitN(title, " - ", 2)
		artist = strings.TrimSpace(parts[0])
		title = strings.TrimSpace(parts[1])
	}

	return artist, title
}
