package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/domain/track"
)

// LoadTracks resolves an identifier (a URL or a "<source>search:" query) on
// the node.
func (n *Node) LoadTracks(ctx context.Context, identifier string) (*track.LoadResult, error) {
	scheme := "http"
	if n.cfg.Secure {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/loadtracks?%s", scheme, n.address(),
		url.Values{"identifier": {identifier}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build load request")
	}
	req.Header.Set("Authorization", n.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := n.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load tracks")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("failed to load tracks: status=%d", resp.StatusCode)
	}

	var body loadResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "failed to decode load response")
	}

	result := body.toDomain()
	zlog.Debug().Msgf("lavalink: loaded tracks: identifier=%s type=%s count=%d", identifier, result.Type, len(result.Tracks))
	return result, nil
}
