// Package server exposes the catalog and stream proxy over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ATKH/Radio-Beguin-Beta/catalog"
	"github.com/ATKH/Radio-Beguin-Beta/config"
	"github.com/ATKH/Radio-Beguin-Beta/stream"
)

type Server struct {
	conf     config.Server
	logger   zerolog.Logger
	catalog  *catalog.Cache
	resolver *stream.Resolver

	proxyTimeout time.Duration
}

func New(
	conf config.Server,
	logger zerolog.Logger,
	catalogCache *catalog.Cache,
	resolver *stream.Resolver,
	proxyTimeout time.Duration,
) *Server {
	return &Server{
		conf:         conf,
		logger:       logger,
		catalog:      catalogCache,
		resolver:     resolver,
		proxyTimeout: proxyTimeout,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/podcasts", s.handlePodcasts)
	mux.HandleFunc("GET /api/podcasts/latest", s.handleLatest)
	mux.HandleFunc("GET /api/random", s.handleRandom)
	mux.HandleFunc("GET /api/live-track", s.handleLiveTrack)
	mux.HandleFunc("GET /api/podcast-stream/{id}", s.handlePodcastStream)
	mux.HandleFunc("GET /api/playlist-stream/{id}", s.handlePlaylistStream)

	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{ //nolint:exhaustruct
		Addr:              s.conf.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); nil != err && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info().Str("addr", s.conf.ListenAddr).Msg("HTTP server listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.conf.ShutdownTimeout.Duration)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); nil != err {
		return fmt.Errorf("shutdown: %v", err)
	}

	return nil
}
