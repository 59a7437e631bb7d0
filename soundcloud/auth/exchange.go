package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/ATKH/Radio-Beguin-Beta/httputil"
)

const (
	grantRefreshToken      = "refresh_token"
	grantClientCredentials = "client_credentials"
	grantAuthorizationCode = "authorization_code"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.retryAfter)
}

// requestToken performs one exchange against the token endpoint. The grant
// parameter carries the refresh token or authorization code depending on the
// grant type, and is ignored for client credentials.
func (m *Manager) requestToken(
	ctx context.Context,
	logger zerolog.Logger,
	grantType string,
	grant string,
) (tr *tokenResponse, err error) {
	reqParams := make(url.Values, 5)
	reqParams.Add("client_id", m.conf.ClientID)
	reqParams.Add("client_secret", m.conf.ClientSecret)
	reqParams.Add("grant_type", grantType)
	switch grantType {
	case grantRefreshToken:
		reqParams.Add("refresh_token", grant)
	case grantAuthorizationCode:
		reqParams.Add("code", grant)
		reqParams.Add("redirect_uri", m.conf.RedirectURI)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		m.conf.TokenURL,
		bytes.NewBufferString(reqParams.Encode()),
	)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to create token request")
		return nil, fmt.Errorf("create token request: %v", err)
	}

	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Add("Accept", "application/json")

	client := http.Client{ //nolint:exhaustruct
		Timeout: time.Duration(m.conf.Timeouts.TokenExchange) * time.Second,
	}
	resp, err := client.Do(req)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to issue token request")
		return nil, fmt.Errorf("issue token request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close token response body")
			err = errors.Join(err, fmt.Errorf("close token response body: %v", closeErr))
		}
	}()

	switch code := resp.StatusCode; code {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, &rateLimitedError{retryAfter: httputil.RetryAfter(resp, defaultCooldown)}
	default:
		respBytes, err := httputil.ReadResponseBody(resp)
		if nil != err {
			logger.Error().Err(err).Int("status_code", code).Msg("Failed to read token response body")
			return nil, fmt.Errorf("read token response body: %w", err)
		}

		logger.Error().Int("status_code", code).Bytes("response_body", respBytes).Msg("Unexpected token response status code")

		return nil, fmt.Errorf("unexpected status code %d with body: %s", code, string(respBytes))
	}

	respBytes, err := httputil.ReadResponseBody(resp)
	if nil != err {
		logger.Error().Err(err).Msg("Failed to read 200 token response body")
		return nil, fmt.Errorf("read 200 token response body: %w", err)
	}

	var respBody tokenResponse
	if err := json.Unmarshal(respBytes, &respBody); nil != err {
		logger.Error().Err(err).Bytes("response_body", respBytes).Msg("Failed to decode token response body")
		return nil, fmt.Errorf("decode token response body: %v", err)
	}

	if respBody.AccessToken == "" {
		return nil, errors.New("token response carried no access token")
	}

	return &respBody, nil
}
