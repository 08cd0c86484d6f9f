// Package track provides the track handle returned by the audio node.
package track

import (
	"fmt"
	"time"
)

// Info holds the metadata the audio node reports for a track.
type Info struct {
	Identifier string // Source-specific identifier
	Title      string // Track title
	Author     string // Uploader or artist
	Length     time.Duration
	URI        string // Source URL
	SourceName string // e.g. "youtube", "soundcloud"
	IsStream   bool
	IsSeekable bool
}

// Track is an opaque playable handle. Encoded is passed back to the node
// verbatim when the track is played.
type Track struct {
	Encoded string
	Info    Info
}

// DisplayName returns the title used in user-facing notices.
func (t Track) DisplayName() string {
	if t.Info.Author == "" {
		return t.Info.Title
	}
	return fmt.Sprintf("%s - %s", t.Info.Author, t.Info.Title)
}

// LoadType describes what a resolution produced.
type LoadType string

const (
	LoadTypeTrack    LoadType = "track"
	LoadTypePlaylist LoadType = "playlist"
	LoadTypeSearch   LoadType = "search"
	LoadTypeEmpty    LoadType = "empty"
	LoadTypeError    LoadType = "error"
)

// LoadResult is the result set of a track lookup.
type LoadResult struct {
	Type         LoadType
	Tracks       []Track
	PlaylistName string // Set for LoadTypePlaylist
	Exception    string // Set for LoadTypeError
}

// IsEmpty reports whether the result carries no playable tracks.
func (r *LoadResult) IsEmpty() bool {
	return r == nil || len(r.Tracks) == 0
}

// Metadata is track information from a metadata provider, used to build a
// search query for the audio node.
type Metadata struct {
	ID       string
	Name     string
	Artists  []string
	Album    string
	Duration time.Duration
	URL      string
}

// SearchQuery returns "artist - title" for the first credited artist.
func (m Metadata) SearchQuery() string {
	if len(m.Artists) == 0 {
		return m.Name
	}
	return fmt.Sprintf("%s - %s", m.Artists[0], m.Name)
}
