// Package auth acquires and caches SoundCloud access tokens. Three
// strategies are tried in priority order: an operator-configured static
// token, a refresh-token exchange, and a client-credentials exchange that
// backs off when the upstream rate-limits the app.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ATKH/Radio-Beguin-Beta/config"
	"github.com/ATKH/Radio-Beguin-Beta/redact"
)

var ErrCredentialUnavailable = errors.New("no credential strategy produced a token")

const (
	// Client-credentials tokens are considered expired this long before the
	// upstream-reported expiry.
	expirySafetyMargin = time.Minute

	// Cooldown applied to a 429 without a usable Retry-After header.
	defaultCooldown = time.Minute

	exchangeKey = "token-exchange"
)

const (
	SourceStatic            = "static"
	SourceRefresh           = "refresh_token"
	SourceClientCredentials = "client_credentials"
	SourceCached            = "cached"
)

type Credential struct {
	Token string
	// Source names the strategy that produced the token.
	Source string
	// ExpiresAt is zero for static and refresh-derived tokens, whose expiry
	// is only discovered reactively.
	ExpiresAt time.Time
}

type Manager struct {
	conf  config.SoundCloud
	store RefreshTokenStore
	now   func() time.Time

	group singleflight.Group

	mu              sync.Mutex
	staticToken     string
	cachedAccess    string
	cachedSource    string
	cachedRefresh   string
	ccExpiresAt     time.Time
	ccCooldownUntil time.Time
}

func NewManager(conf config.SoundCloud, store RefreshTokenStore) *Manager {
	return &Manager{ //nolint:exhaustruct
		conf:        conf,
		store:       store,
		now:         time.Now,
		staticToken: conf.AccessToken,
	}
}

// AccessToken returns a valid credential, deriving one if nothing usable is
// cached. Concurrent callers share a single in-flight exchange.
func (m *Manager) AccessToken(ctx context.Context, logger zerolog.Logger) (Credential, error) {
	m.mu.Lock()
	if m.staticToken != "" {
		defer m.mu.Unlock()
		return Credential{Token: m.staticToken, Source: SourceStatic, ExpiresAt: time.Time{}}, nil
	}

	if m.cachedAccess != "" {
		// Refresh-derived tokens carry no known expiry and are trusted until
		// an API call rejects them. Client-credentials tokens expire on a
		// schedule and are re-derived proactively.
		if m.cachedSource != SourceClientCredentials {
			defer m.mu.Unlock()
			return Credential{Token: m.cachedAccess, Source: m.cachedSource, ExpiresAt: time.Time{}}, nil
		}

		if m.now().Before(m.ccExpiresAt) {
			defer m.mu.Unlock()
			return Credential{Token: m.cachedAccess, Source: SourceClientCredentials, ExpiresAt: m.ccExpiresAt}, nil
		}

		m.cachedAccess = ""
		m.cachedSource = ""
	}
	m.mu.Unlock()

	res, err, _ := m.group.Do(exchangeKey, func() (any, error) {
		cred, err := m.exchange(ctx, logger)
		if nil != err {
			return Credential{}, err //nolint:exhaustruct
		}

		return cred, nil
	})
	if nil != err {
		return Credential{}, err //nolint:exhaustruct
	}

	return res.(Credential), nil
}

// Invalidate clears every cached access token so the next AccessToken call
// re-derives one. The refresh-token source itself is left untouched.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.staticToken = ""
	m.cachedAccess = ""
	m.cachedSource = ""
	m.cachedRefresh = ""
	m.ccExpiresAt = time.Time{}
}

func (m *Manager) exchange(ctx context.Context, logger zerolog.Logger) (Credential, error) {
	for _, candidate := range m.refreshCandidates(logger) {
		resp, err := m.requestToken(ctx, logger, grantRefreshToken, candidate)
		if nil != err {
			logger.Warn().
				Err(err).
				Str("refresh_token", redact.String(candidate)).
				Msg("Refresh token exchange failed, trying next candidate")

			continue
		}

		m.mu.Lock()
		m.cachedAccess = resp.AccessToken
		m.cachedSource = SourceRefresh
		m.cachedRefresh = candidate
		if resp.RefreshToken != "" {
			m.cachedRefresh = resp.RefreshToken
		}
		m.mu.Unlock()

		if resp.RefreshToken != "" && m.store != nil {
			if err := m.store.Write(resp.RefreshToken); nil != err {
				logger.Error().Err(err).Msg("Failed to persist rotated refresh token")
			}
		}

		return Credential{Token: resp.AccessToken, Source: SourceRefresh, ExpiresAt: time.Time{}}, nil
	}

	cred, err := m.clientCredentials(ctx, logger)
	if nil != err {
		logger.Error().Err(err).Msg("All credential strategies exhausted")
		return Credential{}, ErrCredentialUnavailable //nolint:exhaustruct
	}

	return cred, nil
}

// refreshCandidates lists refresh tokens to try, most recently seen first.
func (m *Manager) refreshCandidates(logger zerolog.Logger) []string {
	var candidates []string

	m.mu.Lock()
	if m.cachedRefresh != "" {
		candidates = append(candidates, m.cachedRefresh)
	}
	m.mu.Unlock()

	if m.store != nil {
		stored, err := m.store.Read()
		if nil != err {
			logger.Warn().Err(err).Msg("Failed to read stored refresh token")
		} else if stored != "" {
			candidates = append(candidates, stored)
		}
	}

	if m.conf.RefreshToken != "" {
		candidates = append(candidates, m.conf.RefreshToken)
	}

	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	return out
}

func (m *Manager) clientCredentials(ctx context.Context, logger zerolog.Logger) (Credential, error) {
	m.mu.Lock()
	now := m.now()
	if now.Before(m.ccCooldownUntil) {
		remaining := m.ccCooldownUntil.Sub(now)
		m.mu.Unlock()

		logger.Warn().
			Dur("cooldown_remaining", remaining).
			Time("resume_at", now.Add(remaining)).
			Msg("Client credentials exchange suppressed by rate-limit cooldown")

		return Credential{}, fmt.Errorf("client credentials rate limited for another %s", remaining) //nolint:exhaustruct
	}
	m.mu.Unlock()

	resp, err := m.requestToken(ctx, logger, grantClientCredentials, "")
	if nil != err {
		var rateErr *rateLimitedError
		if errors.As(err, &rateErr) {
			m.mu.Lock()
			m.ccCooldownUntil = m.now().Add(rateErr.retryAfter)
			m.mu.Unlock()

			logger.Warn().
				Dur("retry_after", rateErr.retryAfter).
				Msg("Client credentials exchange rate limited, entering cooldown")
		}

		return Credential{}, fmt.Errorf("client credentials exchange: %w", err) //nolint:exhaustruct
	}

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	expiresAt := m.now().Add(time.Duration(expiresIn)*time.Second - expirySafetyMargin)

	m.mu.Lock()
	m.ccExpiresAt = expiresAt
	m.ccCooldownUntil = time.Time{}
	m.cachedAccess = resp.AccessToken
	m.cachedSource = SourceClientCredentials
	m.mu.Unlock()

	return Credential{Token: resp.AccessToken, Source: SourceClientCredentials, ExpiresAt: expiresAt}, nil
}
