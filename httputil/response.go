package httputil

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

func ReadResponseBody(resp *http.Response) ([]byte, error) {
	respBody, err := io.ReadAll(resp.Body)
	if nil != err {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("unexpected empty response body")
		}

		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	return respBody, nil
}

// IsAuthFailure reports whether the upstream rejected the request's
// credentials. SoundCloud answers 401 for expired tokens and 403 for tokens
// that lack access to the resource; both invalidate the cached token.
func IsAuthFailure(statusCode int) bool {
	return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
}

// RetryAfter extracts the Retry-After delay of a rate-limit response,
// falling back to fallback when the header is missing or malformed.
func RetryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return fallback
	}

	secs, err := strconv.Atoi(raw)
	if nil != err || secs <= 0 {
		return fallback
	}

	return time.Duration(secs) * time.Second
}
