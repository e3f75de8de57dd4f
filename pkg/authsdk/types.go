package authsdk

// ErrorResponse is the wire form of an OAuth2 error (RFC 6749). Client code
// sees it as *OAuth2Error.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ValidationErrorResponse is returned by non-OAuth2 endpoints when input
// fails validation.
type ValidationErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// TokenResponse is the OAuth2 token endpoint response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`

	// RefreshToken is omitted for grants that do not issue one. When a
	// refresh returns a new one the old one is no longer valid.
	RefreshToken string `json:"refresh_token,omitempty"`

	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`

	Scope string `json:"scope,omitempty"`
}

// UserInfoResponse is the GET /v1/userinfo response.
type UserInfoResponse struct {
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	PreferredName string `json:"preferred_name"`
	Role          string `json:"role"`
	Status        string `json:"status,omitempty"`
}

// HealthResponse is returned by /livez and /readyz.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports dependency status on /readyz.
type HealthChecks struct {
	Database string `json:"database"`
	Signer   string `json:"signer"`
}
