/*
Package authsdk is the HTTP client for the BarTab authentication service,
shaped for a client-side session.

SDKClient speaks the service's OAuth2 endpoints: the password and refresh
token grants, revocation, userinfo and the health probes. Authenticator
builds on it to implement session.Authenticator, keeping the refresh token
in a tokenstore.Backend so the access token and the refresh token persist
the same way.

	client := authsdk.NewSDKClient("https://auth.example.com")
	auth := authsdk.NewAuthenticator(client, backend, authsdk.AuthenticatorConfig{
		ClientID: "tab-portal",
		Scopes:   []string{"profile:read"},
	})
	mgr := session.NewManager(store, auth, session.DefaultConfig())

# Errors

Server-side rejections come back as *OAuth2Error, carrying the HTTP status
and the RFC 6749 error code:

	var oerr *authsdk.OAuth2Error
	if errors.As(err, &oerr) && oerr.Code == authsdk.ErrorCodeInvalidGrant {
		// wrong username or password
	}

Login retries transport failures a few times. OAuth2 errors are final and
refreshes are never retried; a failed refresh ends the session.
*/
package authsdk
