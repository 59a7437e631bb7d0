package catalog_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ATKH/Radio-Beguin-Beta/catalog"
	"github.com/ATKH/Radio-Beguin-Beta/config"
	"github.com/ATKH/Radio-Beguin-Beta/soundcloud"
	"github.com/ATKH/Radio-Beguin-Beta/soundcloud/auth"
)

func testCatalogConf() config.Catalog {
	return config.Catalog{
		SnapshotFile:  "data/podcasts.json",
		OverridesFile: "",
		MinPubDate:    "",
		FreshFor:      config.Duration{Duration: time.Minute},
		MaxListTags:   3,
		// Keep the page limiter out of the way in tests.
		PageRate: 10_000,
	}
}

func testSoundCloudConf(baseURL string) config.SoundCloud {
	//nolint:exhaustruct
	return config.SoundCloud{
		UserID:     "42",
		APIBaseURL: baseURL,
		TokenURL:   baseURL + "/oauth/token",
		PageLimit:  200,
		Timeouts: config.SoundCloudTimeouts{
			TokenExchange: 5,
			ListPage:      5,
			TrackDetail:   5,
			StreamResolve: 5,
			ProxyFetch:    5,
		},
		ClientID:     "test-client-id",
		ClientSecret: "test-client-secret",
		AccessToken:  "static-test-token",
	}
}

func newAggregator(t *testing.T, conf config.SoundCloud) *catalog.Aggregator {
	t.Helper()

	overrides, err := catalog.NewOverridesStore("", time.Second, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = overrides.Close() })

	tokens := auth.NewManager(conf, nil)
	sc := soundcloud.NewClient(conf)

	return catalog.NewAggregator(sc, tokens, overrides, testCatalogConf())
}

func TestAggregator_Build_EndToEnd(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("GET /users/42/tracks", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"collection": [
				{
					"id": 101,
					"title": "Nuit Sonore #12",
					"created_at": "2024/03/10 20:00:00 +0000",
					"permalink_url": "https://soundcloud.com/beguin/nuit-sonore-12",
					"description": "Late night selections",
					"genre": "Techno",
					"tag_list": "leftfield \"Deep House\" #ambient extra",
					"artwork_url": "https://i1.sndcdn.com/artworks-101-large.jpg",
					"sharing": "public",
					"track_authorization": "auth-101",
					"media": {"transcodings": [
						{"url": %q, "format": {"protocol": "hls", "mime_type": "application/x-mpegURL"}},
						{"url": %q, "format": {"protocol": "progressive", "mime_type": "audio/mpeg"}}
					]}
				},
				{
					"id": 102,
					"title": "Matinale",
					"created_at": "2024/03/12 08:00:00 +0000",
					"permalink_url": "https://soundcloud.com/beguin/matinale",
					"sharing": "public",
					"user": {"avatar_url": "https://i1.sndcdn.com/avatars-102-large.jpg"}
				},
				{
					"id": 103,
					"title": "Backstage",
					"created_at": "2024/03/11 12:00:00 +0000",
					"sharing": "private"
				}
			],
			"next_href": ""
		}`, srv.URL+"/transcodings/101-hls", srv.URL+"/transcodings/101-progressive")
	})
	mux.HandleFunc("GET /users/42/playlists", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"collection": [{
				"id": 9001,
				"title": "Selections",
				"permalink_url": "https://soundcloud.com/beguin/sets/selections",
				"created_at": "2024/01/01 00:00:00 +0000",
				"last_modified": "2024/03/12 09:00:00 +0000",
				"track_count": 2,
				"tag_list": "brésil \"radio beguin\" techno extra-tag",
				"tracks": [
					{"id": 101, "artwork_url": "https://i1.sndcdn.com/artworks-101-large.jpg"},
					{"id": 102}
				]
			}],
			"next_href": ""
		}`)
	})
	mux.HandleFunc("GET /transcodings/101-progressive", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"url": "https://cdn.example.com/101.mp3"}`)
	})
	mux.HandleFunc("GET /tracks/102", func(w http.ResponseWriter, r *http.Request) {
		// The detail record fills in the media block the listing omitted.
		fmt.Fprint(w, `{"id": 102, "genre": "Ambient", "media": {"transcodings": []}}`)
	})
	mux.HandleFunc("GET /i1/tracks/102/streams", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"access": "playable",
			"hls_mp3_128_url": "https://cdn.example.com/102.m3u8"
		}`)
	})

	conf := testSoundCloudConf(srv.URL)
	snap, err := newAggregator(t, conf).Build(t.Context(), zerolog.Nop())
	require.NoError(t, err)

	require.Len(t, snap.Episodes, 2, "private track must be dropped")

	nuit := snap.Episodes[0]
	assert.Equal(t, "101", nuit.ID)
	assert.Equal(t, "https://i1.sndcdn.com/artworks-101-t500x500.jpg", nuit.ArtworkURL)
	assert.Equal(t, []string{"Techno", "leftfield", "Deep House", "ambient"}, nuit.Tags)
	assert.Equal(t, "https://cdn.example.com/101.mp3", nuit.AudioURL, "progressive must win over hls")
	assert.Equal(t, "progressive", nuit.StreamProtocol)
	assert.Equal(t, "auth-101", nuit.TrackAuthorization)

	matinale := snap.Episodes[1]
	assert.Equal(t, "102", matinale.ID)
	assert.Equal(t, "https://i1.sndcdn.com/avatars-102-t500x500.jpg", matinale.ArtworkURL, "avatar is the artwork fallback")
	assert.Equal(t, []string{"Ambient"}, matinale.Tags, "genre comes from the detail record")
	assert.Equal(t, "https://cdn.example.com/102.m3u8", matinale.AudioURL, "streams endpoint is the fallback")
	assert.Equal(t, "hls", matinale.StreamProtocol)

	require.Len(t, snap.Playlists, 1)
	pl := snap.Playlists[0]
	assert.Equal(t, "9001", pl.ID)
	assert.Equal(t, []string{"101", "102"}, pl.EpisodeIDs, "upstream order is preserved")
	assert.Equal(t, 2, pl.TrackCount)
	assert.Equal(t, "https://i1.sndcdn.com/artworks-101-t500x500.jpg", pl.ArtworkURL, "first track artwork is the fallback")
	assert.Equal(t, []string{"Brazil", "Techno"}, pl.Tags, "synonym applied, noise excluded, list capped at three raw tags")
	assert.Equal(t, soundcloud.ParseTime("2024/03/12 09:00:00 +0000"), pl.LastUpdated)
	require.NotNil(t, pl.LatestEpisode)
	assert.Equal(t, "102", pl.LatestEpisode.ID, "newest pub date wins")

	assert.False(t, snap.LastUpdated.IsZero())
}

func TestAggregator_Build_FollowsPagination(t *testing.T) {
	t.Parallel()

	const (
		pageSize    = 200
		totalTracks = 447
	)

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var pageFetches atomic.Int64
	mux.HandleFunc("GET /users/42/tracks", func(w http.ResponseWriter, r *http.Request) {
		pageFetches.Add(1)

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		end := offset + pageSize
		if end > totalTracks {
			end = totalTracks
		}

		fmt.Fprint(w, `{"collection": [`)
		for id := offset; id < end; id++ {
			if id > offset {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"id": %d, "title": "Episode %d", "sharing": "public"}`, id+1, id+1)
		}
		next := ""
		if end < totalTracks {
			next = fmt.Sprintf("%s/users/42/tracks?offset=%d", srv.URL, end)
		}
		fmt.Fprintf(w, `], "next_href": %q}`, next)
	})
	mux.HandleFunc("GET /users/42/playlists", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"collection": [], "next_href": ""}`)
	})
	// No detail or stream data exists for the synthetic tracks. That is
	// non-fatal; episodes just carry no eager audio URL.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	conf := testSoundCloudConf(srv.URL)
	snap, err := newAggregator(t, conf).Build(t.Context(), zerolog.Nop())
	require.NoError(t, err)

	assert.Len(t, snap.Episodes, totalTracks)
	assert.EqualValues(t, 3, pageFetches.Load())
	assert.Empty(t, snap.Episodes[0].AudioURL)
}

func TestAggregator_Build_AbortsAfterRepeatedAuthFailures(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var trackFetches atomic.Int64
	mux.HandleFunc("GET /users/42/tracks", func(w http.ResponseWriter, r *http.Request) {
		trackFetches.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	// Token refreshes keep succeeding; the listing endpoint rejects every
	// credential anyway.
	mux.HandleFunc("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"access_token": "token-%d", "expires_in": 3600}`, trackFetches.Load())
	})

	conf := testSoundCloudConf(srv.URL)
	conf.AccessToken = ""

	_, err := newAggregator(t, conf).Build(t.Context(), zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, soundcloud.ErrUnauthorized)
	assert.EqualValues(t, 4, trackFetches.Load(), "initial attempt plus three fresh-credential retries")
}

func TestAggregator_Build_SkipsTracksBeforeCutoff(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("GET /users/42/tracks", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"collection": [
			{"id": 1, "title": "Ancient", "created_at": "2019/06/01 10:00:00 +0000", "sharing": "public"},
			{"id": 2, "title": "Recent", "created_at": "2024/03/01 10:00:00 +0000", "sharing": "public"}
		], "next_href": ""}`)
	})
	mux.HandleFunc("GET /users/42/playlists", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"collection": [], "next_href": ""}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	conf := testSoundCloudConf(srv.URL)

	overrides, err := catalog.NewOverridesStore("", time.Second, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = overrides.Close() })

	catConf := testCatalogConf()
	catConf.MinPubDate = "2020-01-01T00:00:00Z"

	agg := catalog.NewAggregator(
		soundcloud.NewClient(conf),
		auth.NewManager(conf, nil),
		overrides,
		catConf,
	)

	snap, err := agg.Build(t.Context(), zerolog.Nop())
	require.NoError(t, err)

	require.Len(t, snap.Episodes, 1)
	assert.Equal(t, "Recent", snap.Episodes[0].Title)
}

func TestAggregator_Build_PlaylistLatestEpisodeByPubDate(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("GET /users/42/tracks", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"collection": [
			{"id": 1, "title": "Oldest", "created_at": "2021-01-01T00:00:00Z", "sharing": "public"},
			{"id": 2, "title": "Newest", "created_at": "2023-06-01T00:00:00Z", "sharing": "public"},
			{"id": 3, "title": "Middle", "created_at": "2022-03-01T00:00:00Z", "sharing": "public"}
		], "next_href": ""}`)
	})
	mux.HandleFunc("GET /users/42/playlists", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"collection": [{
			"id": 9001,
			"title": "Archive",
			"tracks": [{"id": 1}, {"id": 2}, {"id": 3}]
		}], "next_href": ""}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	snap, err := newAggregator(t, testSoundCloudConf(srv.URL)).Build(t.Context(), zerolog.Nop())
	require.NoError(t, err)

	require.Len(t, snap.Playlists, 1)
	latest := snap.Playlists[0].LatestEpisode
	require.NotNil(t, latest)
	assert.Equal(t, "Newest", latest.Title)
	assert.Equal(t, time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC), latest.PubDate.UTC())
}

func TestNormalizeArtwork(t *testing.T) {
	t.Parallel()

	assert.Equal(
		t,
		"https://i1.sndcdn.com/artworks-xyz-t500x500.jpg",
		catalog.NormalizeArtwork("https://i1.sndcdn.com/artworks-xyz-large.jpg"),
	)
	assert.Equal(t, "/default-artwork.jpg", catalog.NormalizeArtwork(""))
}
