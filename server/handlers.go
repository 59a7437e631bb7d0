package server

import (
	"io"
	"math/rand/v2"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ATKH/Radio-Beguin-Beta/catalog"
)

const latestEpisodesLimit = 12

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePodcasts(w http.ResponseWriter, r *http.Request) {
	snap := s.catalog.Snapshot(r.URL.Query().Get("force") == "1")

	w.Header().Set("Cache-Control", "s-maxage=900, stale-while-revalidate=300")
	writeJSON(w, http.StatusOK, catalog.Snapshot{
		Episodes:    snap.PublicEpisodes(),
		Playlists:   snap.Playlists,
		Tags:        snap.Tags,
		LastUpdated: snap.LastUpdated,
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	episodes := s.catalog.Snapshot(false).PublicEpisodes()
	if len(episodes) > latestEpisodesLimit {
		episodes = episodes[:latestEpisodesLimit]
	}

	writeJSON(w, http.StatusOK, episodes)
}

func (s *Server) handleRandom(w http.ResponseWriter, r *http.Request) {
	const (
		recentWindow = 200
		sampleSize   = 8
	)

	episodes := s.catalog.Snapshot(false).PublicEpisodes()
	if len(episodes) > recentWindow {
		episodes = episodes[len(episodes)-recentWindow:]
	}

	shuffled := append([]catalog.Episode(nil), episodes...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if len(shuffled) > sampleSize {
		shuffled = shuffled[:sampleSize]
	}

	writeJSON(w, http.StatusOK, map[string][]catalog.Episode{"episodes": shuffled})
}

// handleLiveTrack passes the now-playing widget of the radio's live stream
// provider through, so the browser never talks to it directly.
func (s *Server) handleLiveTrack(w http.ResponseWriter, r *http.Request) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.conf.LiveTrackURL, nil)
	if nil != err {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unavailable"})
		return
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.proxyClient().Do(req)
	if nil != err {
		s.logger.Warn().Err(err).Msg("Live track fetch failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unavailable"})

		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			s.logger.Error().Err(closeErr).Msg("Failed to close live track response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		writeJSON(w, resp.StatusCode, map[string]string{"error": "upstream_error"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); nil != err {
		s.logger.Warn().Err(err).Msg("Failed to relay live track response")
	}
}

func (s *Server) handlePodcastStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	logger := s.logger.With().Str("episode_id", id).Logger()

	episode, ok := s.catalog.Snapshot(false).PublicEpisode(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Episode not found or private"})
		return
	}

	target := episode.AudioURL
	fromCache := false
	if res, err := s.resolver.Resolve(r.Context(), logger, id, episode.TrackAuthorization); nil == err {
		target = res.URL
		fromCache = res.FromCache
	} else {
		logger.Warn().Err(err).Msg("Stream resolution failed, falling back to aggregation-time URL")
	}

	if target == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Episode not found or private"})
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, map[string]string{"url": target})
		return
	}

	if s.proxyStream(w, r, logger, target) {
		return
	}

	// The fetch failed. A cached URL may simply have expired: invalidate it,
	// resolve fresh, and retry once.
	if fromCache {
		s.resolver.Invalidate(id)
		if res, err := s.resolver.ResolveFresh(r.Context(), logger, id, episode.TrackAuthorization); nil == err {
			target = res.URL
			if s.proxyStream(w, r, logger, target) {
				return
			}
		}
	}

	// Prefer a possibly-stale redirect over a hard failure.
	logger.Warn().Str("target", target).Msg("Proxying failed, redirecting caller upstream")
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handlePlaylistStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	logger := s.logger.With().Str("episode_id", id).Logger()

	episode, ok := s.catalog.Snapshot(false).PublicEpisode(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Episode not found or private"})
		return
	}

	target := episode.AudioURL
	if res, err := s.resolver.Resolve(r.Context(), logger, id, episode.TrackAuthorization); nil == err {
		target = res.URL
	}

	if target == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Episode not found or private"})
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
