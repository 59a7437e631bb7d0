package server

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// Headers relayed from the upstream audio response. Everything else is
// dropped, in particular upstream cache directives: the resolved URLs are
// time-limited, so the proxy's output must never be cached.
var relayedHeaders = []string{
	"Content-Length",
	"Content-Range",
	"Content-Type",
	"Content-Encoding",
	"Content-Disposition",
	"Transfer-Encoding",
	"Accept-Ranges",
}

// proxyStream fetches target and relays the response. It reports false
// without having written anything when the fetch fails or the upstream
// answers with an error status, so the caller is free to retry or redirect.
func (s *Server) proxyStream(
	w http.ResponseWriter,
	r *http.Request,
	logger zerolog.Logger,
	target string,
) bool {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if nil != err {
		logger.Warn().Err(err).Msg("Failed to create proxy request")
		return false
	}

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := s.proxyClient().Do(req)
	if nil != err {
		logger.Warn().Err(err).Msg("Proxy fetch failed")
		return false
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close proxy response body")
		}
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		logger.Warn().Int("status_code", resp.StatusCode).Msg("Proxy fetch returned error status")
		return false
	}

	for _, name := range relayedHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	if w.Header().Get("Accept-Ranges") == "" {
		w.Header().Set("Accept-Ranges", "bytes")
	}
	w.Header().Set("Cache-Control", "no-store")

	body := io.Reader(resp.Body)
	if resp.Header.Get("Content-Type") == "" {
		sniffed, rest := sniffContentType(resp.Body)
		w.Header().Set("Content-Type", sniffed)
		body = rest
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, body); nil != err {
		// The response is already underway; a broken pipe here usually just
		// means the listener stopped the player.
		logger.Debug().Err(err).Msg("Proxy copy interrupted")
	}

	return true
}

// sniffContentType detects the media type from the stream's first bytes and
// returns a reader that replays them.
func sniffContentType(body io.Reader) (string, io.Reader) {
	head := make([]byte, 3072)
	n, _ := io.ReadFull(body, head)
	head = head[:n]

	contentType := "audio/mpeg"
	if n > 0 {
		contentType = mimetype.Detect(head).String()
	}

	return contentType, io.MultiReader(bytes.NewReader(head), body)
}

func (s *Server) proxyClient() *http.Client {
	return &http.Client{ //nolint:exhaustruct
		Timeout: s.proxyTimeout,
	}
}
