package soundcloud_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ATKH/Radio-Beguin-Beta/config"
	"github.com/ATKH/Radio-Beguin-Beta/soundcloud"
)

func testConf(baseURL string) config.SoundCloud {
	//nolint:exhaustruct
	return config.SoundCloud{
		UserID:     "42",
		APIBaseURL: baseURL,
		PageLimit:  200,
		Timeouts: config.SoundCloudTimeouts{ //nolint:exhaustruct
			ListPage:      5,
			TrackDetail:   5,
			StreamResolve: 5,
		},
		ClientID: "test-client-id",
	}
}

func TestClient_FirstPageURLs(t *testing.T) {
	t.Parallel()

	c := soundcloud.NewClient(testConf("https://api.example.com"))
	assert.Equal(
		t,
		"https://api.example.com/users/42/tracks?limit=200&linked_partitioning=1",
		c.FirstTracksPageURL(),
	)
	assert.Equal(
		t,
		"https://api.example.com/users/42/playlists?limit=200&linked_partitioning=1",
		c.FirstPlaylistsPageURL(),
	)
}

func TestClient_TracksPage_SendsOAuthHeader(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "OAuth the-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		fmt.Fprint(w, `{"collection": [{"id": 1, "title": "One"}], "next_href": "next-page"}`)
	}))
	t.Cleanup(srv.Close)

	c := soundcloud.NewClient(testConf(srv.URL))
	page, err := c.TracksPage(t.Context(), zerolog.Nop(), srv.URL+"/users/42/tracks", "the-token")
	require.NoError(t, err)
	require.Len(t, page.Collection, 1)
	assert.Equal(t, "One", page.Collection[0].Title)
	assert.Equal(t, "next-page", page.NextHref)
}

func TestClient_ErrorMapping(t *testing.T) {
	t.Parallel()

	for status, want := range map[int]error{
		http.StatusUnauthorized: soundcloud.ErrUnauthorized,
		http.StatusForbidden:    soundcloud.ErrUnauthorized,
		http.StatusNotFound:     soundcloud.ErrNotFound,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		c := soundcloud.NewClient(testConf(srv.URL))
		_, err := c.TrackDetail(t.Context(), zerolog.Nop(), 101, "token")
		assert.ErrorIs(t, err, want, "status %d", status)

		srv.Close()
	}
}

func TestClient_Streams_UnauthenticatedCarriesClientID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "test-client-id", r.URL.Query().Get("client_id"))
		assert.Equal(t, "auth-101", r.URL.Query().Get("track_authorization"))
		fmt.Fprint(w, `{"access": "playable", "http_mp3_128_url": "https://cdn.example.com/a.mp3"}`)
	}))
	t.Cleanup(srv.Close)

	c := soundcloud.NewClient(testConf(srv.URL))
	streams, err := c.Streams(t.Context(), zerolog.Nop(), "101", "auth-101", "")
	require.NoError(t, err)
	assert.True(t, streams.Playable())
	assert.Equal(t, "https://cdn.example.com/a.mp3", streams.URL("http_mp3_128_url"))
}

func TestClient_Streams_AuthenticatedOmitsClientID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "OAuth the-token", r.Header.Get("Authorization"))
		assert.False(t, r.URL.Query().Has("client_id"))
		fmt.Fprint(w, `{"access": "playable"}`)
	}))
	t.Cleanup(srv.Close)

	c := soundcloud.NewClient(testConf(srv.URL))
	_, err := c.Streams(t.Context(), zerolog.Nop(), "101", "", "the-token")
	require.NoError(t, err)
}

func TestClient_ResolveTranscoding(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("GET /transcodings/101", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "auth-101", r.URL.Query().Get("track_authorization"))
		fmt.Fprint(w, `{"url": "https://cdn.example.com/playable.mp3"}`)
	})

	c := soundcloud.NewClient(testConf(srv.URL))
	u, err := c.ResolveTranscoding(t.Context(), zerolog.Nop(), srv.URL+"/transcodings/101", "auth-101", "token")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/playable.mp3", u)
}

func TestClient_ResolveTranscoding_EmptyURLIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	t.Cleanup(srv.Close)

	c := soundcloud.NewClient(testConf(srv.URL))
	_, err := c.ResolveTranscoding(t.Context(), zerolog.Nop(), srv.URL+"/t/1", "", "token")
	assert.Error(t, err)
}
