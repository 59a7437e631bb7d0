// Package soundcloud is a thin client for the SoundCloud public API: paged
// listing endpoints, track details, and stream-URL resolution.
package soundcloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/ATKH/Radio-Beguin-Beta/config"
	"github.com/ATKH/Radio-Beguin-Beta/httputil"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
)

type Client struct {
	conf config.SoundCloud
}

func NewClient(conf config.SoundCloud) *Client {
	return &Client{conf: conf}
}

func (c *Client) FirstTracksPageURL() string {
	return fmt.Sprintf(
		"%s/users/%s/tracks?limit=%d&linked_partitioning=1",
		c.conf.APIBaseURL, c.conf.UserID, c.conf.PageLimit,
	)
}

func (c *Client) FirstPlaylistsPageURL() string {
	return fmt.Sprintf(
		"%s/users/%s/playlists?limit=%d&linked_partitioning=1",
		c.conf.APIBaseURL, c.conf.UserID, c.conf.PageLimit,
	)
}

func (c *Client) TracksPage(
	ctx context.Context,
	logger zerolog.Logger,
	pageURL string,
	token string,
) (page *TracksPage, err error) {
	respBytes, err := c.get(ctx, logger, pageURL, token, c.conf.Timeouts.ListPage)
	if nil != err {
		return nil, fmt.Errorf("fetch tracks page: %w", err)
	}

	var out TracksPage
	if err := json.Unmarshal(respBytes, &out); nil != err {
		logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode tracks page response body")
		return nil, fmt.Errorf("decode tracks page response body: %v", err)
	}

	return &out, nil
}

func (c *Client) PlaylistsPage(
	ctx context.Context,
	logger zerolog.Logger,
	pageURL string,
	token string,
) (page *PlaylistsPage, err error) {
	respBytes, err := c.get(ctx, logger, pageURL, token, c.conf.Timeouts.ListPage)
	if nil != err {
		return nil, fmt.Errorf("fetch playlists page: %w", err)
	}

	var out PlaylistsPage
	if err := json.Unmarshal(respBytes, &out); nil != err {
		logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode playlists page response body")
		return nil, fmt.Errorf("decode playlists page response body: %v", err)
	}

	return &out, nil
}

func (c *Client) TrackDetail(
	ctx context.Context,
	logger zerolog.Logger,
	id int64,
	token string,
) (track *Track, err error) {
	reqURL := fmt.Sprintf("%s/tracks/%d", c.conf.APIBaseURL, id)

	respBytes, err := c.get(ctx, logger, reqURL, token, c.conf.Timeouts.TrackDetail)
	if nil != err {
		return nil, fmt.Errorf("fetch track detail: %w", err)
	}

	var out Track
	if err := json.Unmarshal(respBytes, &out); nil != err {
		logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode track detail response body")
		return nil, fmt.Errorf("decode track detail response body: %v", err)
	}

	return &out, nil
}

// Streams fetches the protocol-keyed stream URL map for a track. With an
// empty token the request goes out unauthenticated, carrying the app client
// id instead.
func (c *Client) Streams(
	ctx context.Context,
	logger zerolog.Logger,
	trackID string,
	trackAuthorization string,
	token string,
) (streams *Streams, err error) {
	reqURL, err := url.Parse(fmt.Sprintf("%s/i1/tracks/%s/streams", c.conf.APIBaseURL, url.PathEscape(trackID)))
	if nil != err {
		return nil, fmt.Errorf("parse streams URL: %v", err)
	}

	reqParams := reqURL.Query()
	if trackAuthorization != "" {
		reqParams.Set("track_authorization", trackAuthorization)
	}
	if token == "" && c.conf.ClientID != "" {
		reqParams.Set("client_id", c.conf.ClientID)
	}
	reqURL.RawQuery = reqParams.Encode()

	respBytes, err := c.get(ctx, logger, reqURL.String(), token, c.conf.Timeouts.StreamResolve)
	if nil != err {
		return nil, fmt.Errorf("fetch streams: %w", err)
	}

	if !gjson.ValidBytes(respBytes) {
		logger.Error().Bytes("response_body", respBytes).Msg("Streams response body is not valid JSON")
		return nil, errors.New("streams response body is not valid JSON")
	}

	out := &Streams{
		Access: gjson.GetBytes(respBytes, "access").String(),
		urls:   make(map[string]string),
	}
	gjson.ParseBytes(respBytes).ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String {
			out.urls[key.String()] = value.String()
		}

		return true
	})

	return out, nil
}

// ResolveTranscoding exchanges a transcoding URL from a track's media
// metadata for a time-limited playable URL.
func (c *Client) ResolveTranscoding(
	ctx context.Context,
	logger zerolog.Logger,
	transcodingURL string,
	trackAuthorization string,
	token string,
) (playableURL string, err error) {
	reqURL, err := url.Parse(transcodingURL)
	if nil != err {
		return "", fmt.Errorf("parse transcoding URL: %v", err)
	}

	reqParams := reqURL.Query()
	if token == "" && c.conf.ClientID != "" && !reqParams.Has("client_id") {
		reqParams.Set("client_id", c.conf.ClientID)
	}
	if trackAuthorization != "" && !reqParams.Has("track_authorization") {
		reqParams.Set("track_authorization", trackAuthorization)
	}
	reqURL.RawQuery = reqParams.Encode()

	respBytes, err := c.get(ctx, logger, reqURL.String(), token, c.conf.Timeouts.StreamResolve)
	if nil != err {
		return "", fmt.Errorf("resolve transcoding: %w", err)
	}

	var respBody struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode transcoding response body")
		return "", fmt.Errorf("decode transcoding response body: %v", err)
	}

	if respBody.URL == "" {
		return "", errors.New("transcoding response carried no URL")
	}

	return respBody.URL, nil
}

func (c *Client) get(
	ctx context.Context,
	logger zerolog.Logger,
	reqURL string,
	token string,
	timeoutSecs int,
) (respBytes []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if nil != err {
		logger.Error().Err(err).Str("url", reqURL).Msg("Failed to create request")
		return nil, fmt.Errorf("create request: %v", err)
	}

	req.Header.Add("Accept", "application/json")
	if token != "" {
		req.Header.Add("Authorization", "OAuth "+token)
	}

	client := http.Client{ //nolint:exhaustruct
		Timeout: time.Duration(timeoutSecs) * time.Second,
	}
	resp, err := client.Do(req)
	if nil != err {
		logger.Error().Err(err).Str("url", reqURL).Msg("Failed to send request")
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close response body")
			err = errors.Join(err, fmt.Errorf("close response body: %v", closeErr))
		}
	}()

	switch code := resp.StatusCode; {
	case code == http.StatusOK:
	case httputil.IsAuthFailure(code):
		return nil, ErrUnauthorized
	case code == http.StatusNotFound:
		return nil, ErrNotFound
	default:
		respBytes, err := httputil.ReadResponseBody(resp)
		if nil != err {
			logger.Error().Err(err).Int("status_code", code).Msg("Failed to read response body")
			return nil, fmt.Errorf("read response body: %w", err)
		}

		logger.Error().Int("status_code", code).Bytes("response_body", respBytes).Msg("Unexpected response status code")

		return nil, fmt.Errorf("unexpected status code %d with body: %s", code, string(respBytes))
	}

	respBytes, err = httputil.ReadResponseBody(resp)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to read 200 response body")
		return nil, fmt.Errorf("read 200 response body: %w", err)
	}

	return respBytes, nil
}
