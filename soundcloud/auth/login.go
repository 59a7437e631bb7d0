package auth

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
)

// AuthorizeURL is the operator-facing OAuth consent URL. Visiting it and
// approving the app yields the authorization code Login asks for.
func (m *Manager) AuthorizeURL() string {
	reqParams := make(url.Values, 3)
	reqParams.Add("client_id", m.conf.ClientID)
	reqParams.Add("redirect_uri", m.conf.RedirectURI)
	reqParams.Add("response_type", "code")

	return m.conf.AuthorizeURL + "?" + reqParams.Encode()
}

// Login walks the operator through the authorization-code flow and persists
// the resulting refresh token.
func (m *Manager) Login(ctx context.Context, logger zerolog.Logger) error {
	authorizeURL := m.AuthorizeURL()

	fmt.Fprintln(os.Stdout, "Open the following URL in a browser and approve the application:")
	fmt.Fprintln(os.Stdout, authorizeURL)

	if qr, err := qrcode.New(authorizeURL, qrcode.Medium); nil == err {
		const noInverseColor = false
		fmt.Fprint(os.Stdout, qr.ToSmallString(noInverseColor))
	}

	var code string
	prompt := &survey.Input{ //nolint:exhaustruct
		Message: "Paste the code from the redirect URL:",
	}
	if err := survey.AskOne(prompt, &code, survey.WithValidator(survey.Required)); nil != err {
		return fmt.Errorf("failed to ask for authorization code: %v", err)
	}

	resp, err := m.requestToken(ctx, logger, grantAuthorizationCode, code)
	if nil != err {
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	m.mu.Lock()
	m.cachedAccess = resp.AccessToken
	m.cachedSource = SourceRefresh
	if resp.RefreshToken != "" {
		m.cachedRefresh = resp.RefreshToken
	}
	m.mu.Unlock()

	if resp.RefreshToken != "" && m.store != nil {
		if err := m.store.Write(resp.RefreshToken); nil != err {
			return fmt.Errorf("failed to persist refresh token: %v", err)
		}
	}

	logger.Info().Msg("Authorization succeeded")

	return nil
}
