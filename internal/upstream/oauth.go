package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTokenLifetime applies when the token endpoint omits expires_in.
const DefaultTokenLifetime = time.Hour

// OAuthClient refreshes access tokens against the platform token endpoint.
type OAuthClient struct {
	tokenURL string
	http     *http.Client
}

func NewOAuthClient(tokenURL string) *OAuthClient {
	return &OAuthClient{
		tokenURL: tokenURL,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	ExpiryDate  int64  `json:"expiry_date"`
}

// Refresh exchanges a refresh token for fresh token material. It never
// mutates any account state; the caller persists the result.
func (c *OAuthClient) Refresh(ctx context.Context, clientID, clientSecret, redirectURI, refreshToken string) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", time.Time{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("token endpoint returned no access_token")
	}

	var expiry time.Time
	switch {
	case token.ExpiryDate > 0:
		expiry = time.UnixMilli(token.ExpiryDate)
	case token.ExpiresIn > 0:
		expiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	default:
		expiry = time.Now().Add(DefaultTokenLifetime)
	}
	return token.AccessToken, expiry, nil
}
