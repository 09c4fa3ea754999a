package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrInvalidCredentials reports that the token endpoint rejected the login.
var ErrInvalidCredentials = errors.New("invalid credentials")

const maxTokenResponse = 1 << 20

// passwordGrant runs the resource-owner password grant. The audience
// parameter is not supported by oauth2.Config, so the form is built here.
func (m *Manager) passwordGrant(ctx context.Context) (*oauth2.Token, error) {
	clientID, clientSecret := m.decl.ClientID, m.decl.ClientSecret
	if m.creds.ClientID != "" {
		clientID, clientSecret = m.creds.ClientID, m.creds.ClientSecret
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", m.creds.Username)
	form.Set("password", m.creds.Password)
	form.Set("client_id", clientID)
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}
	if m.decl.Scope != "" {
		form.Set("scope", m.decl.Scope)
	}
	if m.decl.Audience != "" {
		form.Set("audience", m.decl.Audience)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.decl.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retrieveErr := &oauth2.RetrieveError{Response: resp, Body: body}
		var payload struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &payload) == nil {
			retrieveErr.ErrorCode = payload.Error
			retrieveErr.ErrorDescription = payload.ErrorDescription
		}
		if rejectsCredentials(resp.StatusCode, retrieveErr.ErrorCode) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, retrieveErr)
		}
		return nil, retrieveErr
	}

	var tok oauth2.Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	if tok.Expiry.IsZero() && tok.ExpiresIn > 0 {
		tok.Expiry = m.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	return &tok, nil
}

func rejectsCredentials(status int, code string) bool {
	switch code {
	case "invalid_grant", "access_denied", "invalid_client", "unauthorized_client":
		return true
	}
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
