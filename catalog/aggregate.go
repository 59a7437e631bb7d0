package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/ATKH/Radio-Beguin-Beta/config"
	"github.com/ATKH/Radio-Beguin-Beta/soundcloud"
	"github.com/ATKH/Radio-Beguin-Beta/soundcloud/auth"
)

const (
	// Consecutive auth failures tolerated on one page before the whole
	// aggregation aborts.
	maxPageAuthFailures = 3

	// Transient network failures retried per page fetch.
	maxPageNetworkRetries = 2

	// Tags taken from the freeform tag_list field, on top of the genre.
	maxEpisodeListTags = 3

	defaultArtworkURL = "/default-artwork.jpg"
)

type Aggregator struct {
	sc         *soundcloud.Client
	tokens     *auth.Manager
	overrides  *OverridesStore
	normalizer *Normalizer
	conf       config.Catalog
	limiter    *rate.Limiter
}

func NewAggregator(
	sc *soundcloud.Client,
	tokens *auth.Manager,
	overrides *OverridesStore,
	conf config.Catalog,
) *Aggregator {
	return &Aggregator{
		sc:         sc,
		tokens:     tokens,
		overrides:  overrides,
		normalizer: DefaultNormalizer(),
		conf:       conf,
		limiter:    rate.NewLimiter(rate.Limit(conf.PageRate), 1),
	}
}

// Build produces one complete catalog snapshot. It is all or nothing: any
// pagination failure aborts the whole run so a previously good snapshot is
// never replaced by a partial one.
func (a *Aggregator) Build(ctx context.Context, logger zerolog.Logger) (*Snapshot, error) {
	episodes, err := a.buildEpisodes(ctx, logger)
	if nil != err {
		return nil, fmt.Errorf("build episodes: %w", err)
	}

	a.overrides.Apply(episodes)

	playlists, err := a.buildPlaylists(ctx, logger, episodes)
	if nil != err {
		return nil, fmt.Errorf("build playlists: %w", err)
	}

	return &Snapshot{
		Episodes:    episodes,
		Playlists:   playlists,
		Tags:        tagVocabulary(episodes, playlists),
		LastUpdated: time.Now().UTC(),
	}, nil
}

func (a *Aggregator) buildEpisodes(ctx context.Context, logger zerolog.Logger) ([]Episode, error) {
	rawTracks, err := a.fetchAllTracks(ctx, logger)
	if nil != err {
		return nil, err
	}

	minPubDate := a.conf.MinPubDateTime()
	episodes := make([]Episode, 0, len(rawTracks))
	for i := range rawTracks {
		track := &rawTracks[i]
		if !track.Public() {
			continue
		}

		createdAt := soundcloud.ParseTime(track.CreatedAt)
		if !createdAt.IsZero() && createdAt.Before(minPubDate) {
			continue
		}

		merged := *track
		if track.Media == nil || len(track.Media.Transcodings) == 0 {
			if detail := a.trackDetail(ctx, logger, track.ID); detail != nil {
				merged = track.Merge(detail)
			}
		}

		episode := a.episodeFrom(&merged)
		a.resolveEpisodeAudio(ctx, logger, &merged, &episode)
		episodes = append(episodes, episode)
	}

	return episodes, nil
}

func (a *Aggregator) fetchAllTracks(ctx context.Context, logger zerolog.Logger) ([]soundcloud.Track, error) {
	var tracks []soundcloud.Track

	pageURL := a.sc.FirstTracksPageURL()
	for pageURL != "" {
		var page *soundcloud.TracksPage
		err := a.fetchPage(ctx, logger, func(ctx context.Context, token string) error {
			p, err := a.sc.TracksPage(ctx, logger, pageURL, token)
			if nil != err {
				return err
			}
			page = p

			return nil
		})
		if nil != err {
			return nil, fmt.Errorf("fetch tracks page %q: %w", pageURL, err)
		}

		tracks = append(tracks, page.Collection...)
		pageURL = page.NextHref
	}

	return tracks, nil
}

func (a *Aggregator) fetchAllPlaylists(ctx context.Context, logger zerolog.Logger) ([]soundcloud.Playlist, error) {
	var playlists []soundcloud.Playlist

	pageURL := a.sc.FirstPlaylistsPageURL()
	for pageURL != "" {
		var page *soundcloud.PlaylistsPage
		err := a.fetchPage(ctx, logger, func(ctx context.Context, token string) error {
			p, err := a.sc.PlaylistsPage(ctx, logger, pageURL, token)
			if nil != err {
				return err
			}
			page = p

			return nil
		})
		if nil != err {
			return nil, fmt.Errorf("fetch playlists page %q: %w", pageURL, err)
		}

		playlists = append(playlists, page.Collection...)
		pageURL = page.NextHref
	}

	return playlists, nil
}

// fetchPage runs one authenticated page fetch. An auth rejection invalidates
// the credential and retries with a fresh one up to maxPageAuthFailures
// times; transient network errors get a short exponential backoff.
func (a *Aggregator) fetchPage(
	ctx context.Context,
	logger zerolog.Logger,
	fetch func(ctx context.Context, token string) error,
) error {
	if err := a.limiter.Wait(ctx); nil != err {
		return fmt.Errorf("wait for page rate limiter: %w", err)
	}

	return retry.Do(
		ctx,
		retry.WithMaxRetries(maxPageAuthFailures, retry.NewConstant(100*time.Millisecond)),
		func(ctx context.Context) error {
			cred, err := a.tokens.AccessToken(ctx, logger)
			if nil != err {
				return fmt.Errorf("acquire access token: %w", err)
			}

			err = backoff.Retry(
				func() error {
					if err := fetch(ctx, cred.Token); nil != err {
						if errors.Is(err, soundcloud.ErrUnauthorized) || errors.Is(err, soundcloud.ErrNotFound) {
							return backoff.Permanent(err)
						}

						return err
					}

					return nil
				},
				backoff.WithContext(
					backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxPageNetworkRetries),
					ctx,
				),
			)
			if nil != err {
				if errors.Is(err, soundcloud.ErrUnauthorized) {
					logger.Warn().Msg("Page fetch rejected credentials, invalidating and retrying")
					a.tokens.Invalidate()

					return retry.RetryableError(err)
				}

				return err
			}

			return nil
		},
	)
}

// trackDetail fetches the full track record, retrying once on an auth
// rejection. Failure is non-fatal; the listing record is used as is.
func (a *Aggregator) trackDetail(ctx context.Context, logger zerolog.Logger, id int64) *soundcloud.Track {
	if err := a.limiter.Wait(ctx); nil != err {
		return nil
	}

	token := a.bestEffortToken(ctx, logger)
	for attempt := 0; attempt < 2; attempt++ {
		detail, err := a.sc.TrackDetail(ctx, logger, id, token)
		if nil == err {
			return detail
		}

		if !errors.Is(err, soundcloud.ErrUnauthorized) {
			logger.Warn().Err(err).Int64("track_id", id).Msg("Track detail fetch failed")
			return nil
		}

		logger.Warn().Int64("track_id", id).Msg("Track detail fetch unauthorized, retrying")
	}

	return nil
}

func (a *Aggregator) episodeFrom(track *soundcloud.Track) Episode {
	artwork := track.ArtworkURL
	if artwork == "" && track.User != nil {
		artwork = track.User.AvatarURL
	}

	seen := make(map[string]struct{})
	var tags []string
	pushTag := func(raw string) {
		cleaned := strings.TrimSpace(strings.TrimLeft(raw, "#"))
		if cleaned == "" {
			return
		}
		if _, ok := seen[cleaned]; ok {
			return
		}
		seen[cleaned] = struct{}{}
		tags = append(tags, cleaned)
	}

	pushTag(track.Genre)
	for _, tag := range ParseTagList(track.TagList, maxEpisodeListTags) {
		pushTag(tag)
	}
	if tags == nil {
		tags = []string{}
	}

	return Episode{
		ID:                 strconv.FormatInt(track.ID, 10),
		Title:              track.Title,
		ArtworkURL:         NormalizeArtwork(artwork),
		PubDate:            soundcloud.ParseTime(track.CreatedAt),
		Link:               track.PermalinkURL,
		Description:        track.Description,
		Tags:               tags,
		AudioURL:           "",
		StreamProtocol:     "",
		Sharing:            track.Sharing,
		TrackAuthorization: track.TrackAuthorization,
	}
}

// resolveEpisodeAudio eagerly resolves a playable URL so a fresh snapshot
// starts with playable entries. Failure leaves AudioURL empty for lazy
// resolution later.
func (a *Aggregator) resolveEpisodeAudio(
	ctx context.Context,
	logger zerolog.Logger,
	track *soundcloud.Track,
	episode *Episode,
) {
	token := a.bestEffortToken(ctx, logger)

	if track.Media != nil {
		for _, protocol := range []string{soundcloud.ProtocolProgressive, soundcloud.ProtocolHLS} {
			for _, transcoding := range track.Media.Transcodings {
				if transcoding.Format.Protocol != protocol || transcoding.URL == "" {
					continue
				}

				resolved, err := a.sc.ResolveTranscoding(ctx, logger, transcoding.URL, track.TrackAuthorization, token)
				if nil != err {
					logger.Warn().Err(err).Str("episode_id", episode.ID).Msg("Transcoding resolution failed")
					break
				}

				episode.AudioURL = resolved
				episode.StreamProtocol = protocol

				return
			}
		}
	}

	streams, err := a.sc.Streams(ctx, logger, episode.ID, track.TrackAuthorization, token)
	if nil != err {
		logger.Warn().Err(err).Str("episode_id", episode.ID).Msg("Streams fallback failed")
		return
	}

	if u, protocol := streams.Best(); u != "" {
		episode.AudioURL = u
		episode.StreamProtocol = protocol
	}
}

func (a *Aggregator) bestEffortToken(ctx context.Context, logger zerolog.Logger) string {
	cred, err := a.tokens.AccessToken(ctx, logger)
	if nil != err {
		logger.Warn().Err(err).Msg("No credential available, continuing unauthenticated")
		return ""
	}

	return cred.Token
}

func (a *Aggregator) buildPlaylists(
	ctx context.Context,
	logger zerolog.Logger,
	episodes []Episode,
) ([]Playlist, error) {
	rawPlaylists, err := a.fetchAllPlaylists(ctx, logger)
	if nil != err {
		return nil, err
	}

	episodeByID := make(map[string]*Episode, len(episodes))
	for i := range episodes {
		episodeByID[episodes[i].ID] = &episodes[i]
	}

	playlists := make([]Playlist, 0, len(rawPlaylists))
	for i := range rawPlaylists {
		raw := &rawPlaylists[i]

		artwork := raw.ArtworkURL
		if artwork == "" && len(raw.Tracks) > 0 {
			artwork = raw.Tracks[0].ArtworkURL
		}

		seen := make(map[string]struct{})
		tagsOut := []string{}
		for _, tag := range ParseTagList(raw.TagList, a.conf.MaxListTags) {
			display, ok := a.normalizer.Display(tag)
			if !ok {
				continue
			}
			key := CanonicalKey(display)
			if _, dup := seen[key]; key == "" || dup {
				continue
			}
			seen[key] = struct{}{}
			tagsOut = append(tagsOut, display)
		}

		episodeIDs := make([]string, 0, len(raw.Tracks))
		for _, track := range raw.Tracks {
			if track.ID != 0 {
				episodeIDs = append(episodeIDs, strconv.FormatInt(track.ID, 10))
			}
		}

		var latest *Episode
		for _, id := range episodeIDs {
			ep, ok := episodeByID[id]
			if !ok {
				continue
			}
			if latest == nil || ep.PubDate.After(latest.PubDate) {
				latest = ep
			}
		}
		var latestCopy *Episode
		if latest != nil {
			c := *latest
			latestCopy = &c
		}

		trackCount := raw.TrackCount
		if trackCount == 0 {
			trackCount = len(episodeIDs)
		}

		lastUpdated := soundcloud.ParseTime(raw.LastModified)
		if lastUpdated.IsZero() {
			lastUpdated = soundcloud.ParseTime(raw.CreatedAt)
		}

		playlists = append(playlists, Playlist{
			ID:            strconv.FormatInt(raw.ID, 10),
			Title:         raw.Title,
			ArtworkURL:    NormalizeArtwork(artwork),
			Description:   raw.Description,
			PermalinkURL:  raw.PermalinkURL,
			TrackCount:    trackCount,
			Tags:          tagsOut,
			LastUpdated:   lastUpdated,
			EpisodeIDs:    episodeIDs,
			LatestEpisode: latestCopy,
		})
	}

	return playlists, nil
}

// NormalizeArtwork swaps SoundCloud's thumbnail variant for the high
// resolution one.
func NormalizeArtwork(u string) string {
	if u == "" {
		return defaultArtworkURL
	}

	return strings.Replace(u, "-large", "-t500x500", 1)
}

// tagVocabulary counts every tag across episodes and playlists and orders
// the result by descending frequency, then case-insensitively by name.
func tagVocabulary(episodes []Episode, playlists []Playlist) []string {
	counts := make(map[string]int)
	for _, ep := range episodes {
		for _, tag := range ep.Tags {
			counts[tag]++
		}
	}
	for _, pl := range playlists {
		for _, tag := range pl.Tags {
			counts[tag]++
		}
	}

	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	slices.SortFunc(tags, func(a, b string) int {
		if counts[a] != counts[b] {
			return counts[b] - counts[a]
		}

		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})

	return tags
}
