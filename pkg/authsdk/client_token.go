package authsdk

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

const formContentType = "application/x-www-form-urlencoded"

// PasswordGrant exchanges a username and password for tokens.
func (c *SDKClient) PasswordGrant(
	ctx context.Context,
	clientID, username, password string,
	scopes []string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type": {"password"},
		"client_id":  {clientID},
		"username":   {username},
		"password":   {password},
	}
	if len(scopes) > 0 {
		data.Set("scope", strings.Join(scopes, " "))
	}

	return c.requestToken(ctx, data)
}

// RefreshGrant requests new tokens using a refresh token.
func (c *SDKClient) RefreshGrant(
	ctx context.Context,
	clientID, refreshToken string,
) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}

	return c.requestToken(ctx, data)
}

// RevokeToken revokes a refresh token.
func (c *SDKClient) RevokeToken(ctx context.Context, clientID, token string) error {
	data := url.Values{
		"token":     {token},
		"client_id": {clientID},
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/oauth2/revoke",
		strings.NewReader(data.Encode()),
		map[string]string{"Content-Type": formContentType},
	)
	if err != nil {
		return err
	}
	return checkStatus(resp, http.StatusOK)
}

func (c *SDKClient) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/oauth2/token",
		strings.NewReader(data.Encode()),
		map[string]string{"Content-Type": formContentType},
	)
	if err != nil {
		return nil, err
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp, &tokenResp, http.StatusOK); err != nil {
		return nil, err
	}
	if tokenResp.AccessToken == "" {
		return nil, NewOAuth2Error(http.StatusBadGateway, ErrorCodeServerError, "token response without access_token")
	}

	return &tokenResp, nil
}
