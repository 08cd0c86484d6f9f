// Package resolve turns user queries into playable tracks.
package resolve

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/osa030/tunebox/internal/app/playback"
	"github.com/osa030/tunebox/internal/domain/track"
	"github.com/osa030/tunebox/internal/infra/spotify"
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("empty query")

// TrackLoader looks up an identifier on the audio node.
type TrackLoader interface {
	LoadTracks(ctx context.Context, identifier string) (*track.LoadResult, error)
}

// Catalog provides track metadata for Spotify links.
type Catalog interface {
	GetTrack(ctx context.Context, trackID string) (*track.Metadata, error)
	GetPlaylist(ctx context.Context, playlistURL string) (string, []track.Metadata, error)
	GetAlbum(ctx context.Context, albumURL string) (string, []track.Metadata, error)
}

// Config represents resolver configuration.
type Config struct {
	SearchPrefix string // e.g. "ytsearch"
	Concurrency  int    // Parallel searches when expanding a collection
}

// Resolver implements playback.Resolver.
type Resolver struct {
	loader  TrackLoader
	catalog Catalog
	cfg     Config
}

var _ playback.Resolver = (*Resolver)(nil)

// New creates a resolver. catalog may be nil, in which case Spotify links are
// passed to the node verbatim.
func New(loader TrackLoader, catalog Catalog, cfg Config) *Resolver {
	if cfg.SearchPrefix == "" {
		cfg.SearchPrefix = "ytsearch"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Resolver{loader: loader, catalog: catalog, cfg: cfg}
}

// Load resolves a query. Plain text is searched, Spotify links are mapped to
// searches, and any other URL is loaded as is.
func (r *Resolver) Load(ctx context.Context, query string) (*track.LoadResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	if r.catalog != nil {
		if kind, id, ok := spotify.ParseLink(query); ok {
			return r.loadSpotify(ctx, kind, id)
		}
	}

	if isURL(query) {
		return r.loader.LoadTracks(ctx, query)
	}
	return r.search(ctx, query)
}

func (r *Resolver) search(ctx context.Context, query string) (*track.LoadResult, error) {
	return r.loader.LoadTracks(ctx, r.cfg.SearchPrefix+":"+query)
}

func (r *Resolver) loadSpotify(ctx context.Context, kind spotify.LinkKind, id string) (*track.LoadResult, error) {
	switch kind {
	case spotify.LinkTrack:
		meta, err := r.catalog.GetTrack(ctx, id)
		if err != nil {
			return nil, errors.Wrap(err, "failed to look up spotify track")
		}
		t, err := r.firstHit(ctx, *meta)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return &track.LoadResult{Type: track.LoadTypeEmpty}, nil
		}
		return &track.LoadResult{Type: track.LoadTypeTrack, Tracks: []track.Track{*t}}, nil

	case spotify.LinkPlaylist, spotify.LinkAlbum:
		var (
			name  string
			items []track.Metadata
			err   error
		)
		if kind == spotify.LinkPlaylist {
			name, items, err = r.catalog.GetPlaylist(ctx, id)
		} else {
			name, items, err = r.catalog.GetAlbum(ctx, id)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to look up spotify %s", kind)
		}
		return r.loadCollection(ctx, name, items)

	default:
		return nil, errors.Newf("unsupported spotify link: %s", kind)
	}
}

// loadCollection searches every item and keeps the hits in the original
// order. Items with no match are skipped.
func (r *Resolver) loadCollection(ctx context.Context, name string, items []track.Metadata) (*track.LoadResult, error) {
	hits := make([]*track.Track, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, meta := range items {
		g.Go(func() error {
			t, err := r.firstHit(gctx, meta)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zlog.Warn().Msgf("resolve: search failed, skipping: query=%s error=%v", meta.SearchQuery(), err)
				return nil
			}
			hits[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Wrap(err, "failed to resolve collection")
	}

	result := &track.LoadResult{Type: track.LoadTypePlaylist, PlaylistName: name}
	for _, t := range hits {
		if t != nil {
			result.Tracks = append(result.Tracks, *t)
		}
	}
	if len(result.Tracks) == 0 {
		result.Type = track.LoadTypeEmpty
	}

	zlog.Debug().Msgf("resolve: collection resolved: name=%s items=%d hits=%d", name, len(items), len(result.Tracks))
	return result, nil
}

// firstHit searches for the metadata and returns the first result, or nil
// when nothing matched.
func (r *Resolver) firstHit(ctx context.Context, meta track.Metadata) (*track.Track, error) {
	res, err := r.search(ctx, meta.SearchQuery())
	if err != nil {
		return nil, err
	}
	if res.IsEmpty() {
		return nil, nil
	}
	t := res.Tracks[0]
	return &t, nil
}

// isURL reports whether the query should be loaded as a link.
func isURL(query string) bool {
	if strings.ContainsAny(query, " \t") {
		return false
	}
	u, err := url.Parse(query)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
