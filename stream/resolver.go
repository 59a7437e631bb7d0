// Package stream resolves currently-playable audio URLs for tracks,
// caching results for the short window the upstream URLs stay valid.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ATKH/Radio-Beguin-Beta/cache"
	"github.com/ATKH/Radio-Beguin-Beta/soundcloud"
	"github.com/ATKH/Radio-Beguin-Beta/soundcloud/auth"
)

// ErrNoPlayableStream means every resolution tier came up empty. The caller
// decides whether a previously known URL is an acceptable fallback.
var ErrNoPlayableStream = errors.New("no playable stream URL could be resolved")

type Resolution struct {
	URL      string
	Protocol string
	// FromCache steers the proxy's retry logic: a failed fetch of a cached
	// URL warrants invalidation and one fresh resolution.
	FromCache bool
}

type Resolver struct {
	sc     *soundcloud.Client
	tokens *auth.Manager
	urls   *cache.StreamURLCache
	urlTTL time.Duration
}

func NewResolver(sc *soundcloud.Client, tokens *auth.Manager, c *cache.Cache, urlTTL time.Duration) *Resolver {
	return &Resolver{
		sc:     sc,
		tokens: tokens,
		urls:   &c.StreamURLs,
		urlTTL: urlTTL,
	}
}

// Resolve returns a playable URL for the track. The cache is consulted
// first; otherwise resolution is attempted unauthenticated (cheaper, spares
// the rate-limited credential paths), then authenticated with one
// invalidate-and-retry on an auth rejection.
func (r *Resolver) Resolve(
	ctx context.Context,
	logger zerolog.Logger,
	trackID string,
	trackAuthorization string,
) (*Resolution, error) {
	if u, ok := r.urls.Get(trackID); ok {
		return &Resolution{URL: u, Protocol: "", FromCache: true}, nil
	}

	res, err := r.resolveFresh(ctx, logger, trackID, trackAuthorization)
	if nil != err {
		return nil, err
	}

	r.urls.Set(trackID, res.URL, r.urlTTL)

	return res, nil
}

// ResolveFresh bypasses and refreshes the cache.
func (r *Resolver) ResolveFresh(
	ctx context.Context,
	logger zerolog.Logger,
	trackID string,
	trackAuthorization string,
) (*Resolution, error) {
	res, err := r.resolveFresh(ctx, logger, trackID, trackAuthorization)
	if nil != err {
		return nil, err
	}

	r.urls.Set(trackID, res.URL, r.urlTTL)

	return res, nil
}

// Invalidate evicts the track's cached URL, typically after a proxied fetch
// using it failed.
func (r *Resolver) Invalidate(trackID string) {
	r.urls.Delete(trackID)
}

func (r *Resolver) resolveFresh(
	ctx context.Context,
	logger zerolog.Logger,
	trackID string,
	trackAuthorization string,
) (*Resolution, error) {
	streams, err := r.sc.Streams(ctx, logger, trackID, trackAuthorization, "")
	if nil == err {
		if u, protocol := streams.Best(); u != "" {
			return &Resolution{URL: u, Protocol: protocol, FromCache: false}, nil
		}
	} else {
		logger.Debug().Err(err).Str("track_id", trackID).Msg("Unauthenticated stream resolution failed")
	}

	const maxAuthAttempts = 2
	for attempt := range maxAuthAttempts {
		cred, err := r.tokens.AccessToken(ctx, logger)
		if nil != err {
			return nil, fmt.Errorf("acquire access token: %w", err)
		}

		streams, err = r.sc.Streams(ctx, logger, trackID, trackAuthorization, cred.Token)
		if nil != err {
			if errors.Is(err, soundcloud.ErrUnauthorized) && attempt == 0 {
				logger.Warn().Str("track_id", trackID).Msg("Authenticated stream resolution unauthorized, invalidating credential")
				r.tokens.Invalidate()

				continue
			}

			return nil, fmt.Errorf("authenticated stream resolution: %w", err)
		}

		if u, protocol := streams.Best(); u != "" {
			return &Resolution{URL: u, Protocol: protocol, FromCache: false}, nil
		}

		break
	}

	return nil, ErrNoPlayableStream
}
