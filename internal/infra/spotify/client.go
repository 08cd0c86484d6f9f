// Package spotify provides a client for the Spotify API, used to turn Spotify
// links into search queries for the audio node.
package spotify

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/osa030/tunebox/internal/domain/track"
)

// LinkKind is the kind of resource a Spotify link points to.
type LinkKind string

const (
	LinkTrack    LinkKind = "track"
	LinkPlaylist LinkKind = "playlist"
	LinkAlbum    LinkKind = "album"
)

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
	maxTracks  int
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
	MaxTracks    int // Upper bound on tracks read from one playlist or album
}

// New creates a new Spotify client using the client credentials flow.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}

	market := cfg.Market
	if market == "" {
		market = "US"
	}
	maxTracks := cfg.MaxTracks
	if maxTracks <= 0 {
		maxTracks = 100
	}

	return &Client{
		client:     spotify.New(creds.Client(ctx)),
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
		maxTracks:  maxTracks,
	}, nil
}

// GetTrack retrieves track metadata by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*track.Metadata, error) {
	id := extractID(trackID, LinkTrack)

	var result *spotify.FullTrack
	err := c.retry(func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get track")
	}

	meta := convertTrack(&result.SimpleTrack)
	meta.Album = result.Album.Name
	return &meta, nil
}

// GetPlaylist retrieves the playlist name and up to MaxTracks of its tracks.
func (c *Client) GetPlaylist(ctx context.Context, playlistURL string) (string, []track.Metadata, error) {
	playlistID := extractID(playlistURL, LinkPlaylist)
	if playlistID == "" {
		return "", nil, errors.New("invalid playlist URL")
	}

	var name string
	err := c.retry(func() error {
		p, err := c.client.GetPlaylist(ctx, spotify.ID(playlistID), spotify.Fields("name"))
		if err != nil {
			return err
		}
		name = p.Name
		return nil
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to get playlist")
	}

	var tracks []track.Metadata
	offset := 0
	limit := 100

	for len(tracks) < c.maxTracks {
		var page *spotify.PlaylistItemPage
		err := c.retry(func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(playlistID),
				spotify.Limit(limit),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return "", nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			// Episodes have no Track.Track.
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				meta := convertTrack(&item.Track.Track.SimpleTrack)
				meta.Album = item.Track.Track.Album.Name
				tracks = append(tracks, meta)
			}
		}

		if len(page.Items) < limit {
			break
		}
		offset += limit
	}

	if len(tracks) > c.maxTracks {
		tracks = tracks[:c.maxTracks]
	}
	return name, tracks, nil
}

// GetAlbum retrieves the album name and up to MaxTracks of its tracks.
func (c *Client) GetAlbum(ctx context.Context, albumURL string) (string, []track.Metadata, error) {
	albumID := extractID(albumURL, LinkAlbum)
	if albumID == "" {
		return "", nil, errors.New("invalid album URL")
	}

	var album *spotify.FullAlbum
	err := c.retry(func() error {
		a, err := c.client.GetAlbum(ctx, spotify.ID(albumID), spotify.Market(c.market))
		if err != nil {
			return err
		}
		album = a
		return nil
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "failed to get album")
	}

	tracks := make([]track.Metadata, 0, len(album.Tracks.Tracks))
	for i := range album.Tracks.Tracks {
		if len(tracks) >= c.maxTracks {
			break
		}
		meta := convertTrack(&album.Tracks.Tracks[i])
		meta.Album = album.Name
		tracks = append(tracks, meta)
	}
	return album.Name, tracks, nil
}

// convertTrack converts a Spotify track to domain metadata.
func convertTrack(t *spotify.SimpleTrack) track.Metadata {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	return track.Metadata{
		ID:       string(t.ID),
		Name:     t.Name,
		Artists:  artists,
		Duration: time.Duration(t.Duration) * time.Millisecond,
		URL:      "https://open.spotify.com/track/" + string(t.ID),
	}
}

// retry retries an operation with linear backoff.
func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// ParseLink reports the kind and ID of a Spotify URL or URI.
func ParseLink(input string) (LinkKind, string, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "spotify:") && !strings.Contains(input, "open.spotify.com/") {
		return "", "", false
	}
	for _, kind := range []LinkKind{LinkTrack, LinkPlaylist, LinkAlbum} {
		if !strings.HasPrefix(input, "spotify:"+string(kind)+":") && !strings.Contains(input, "/"+string(kind)+"/") {
			continue
		}
		if id := extractID(input, kind); id != "" {
			return kind, id, true
		}
	}
	return "", "", false
}

// extractID extracts the ID from a Spotify URL or URI of the given kind.
// Anything else is assumed to already be an ID.
func extractID(input string, kind LinkKind) string {
	input = strings.TrimSpace(input)

	// spotify:<kind>:<id>
	uriPrefix := "spotify:" + string(kind) + ":"
	if strings.HasPrefix(input, uriPrefix) {
		return strings.TrimPrefix(input, uriPrefix)
	}

	// https://open.spotify.com/<kind>/<id> or https://open.spotify.com/intl-XX/<kind>/<id>
	segment := "/" + string(kind) + "/"
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, segment) {
		parts := strings.Split(input, segment)
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}

	return input
}
