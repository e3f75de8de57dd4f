package authsdk

import (
	"context"
	"net/http"
)

// GetUserInfo retrieves the profile of the user accessToken belongs to.
// Requires the profile:read scope.
func (c *SDKClient) GetUserInfo(ctx context.Context, accessToken string) (*UserInfoResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/v1/userinfo", nil,
		map[string]string{"Authorization": "Bearer " + accessToken},
	)
	if err != nil {
		return nil, err
	}

	var userInfo UserInfoResponse
	if err := decodeJSON(resp, &userInfo, http.StatusOK); err != nil {
		return nil, err
	}

	return &userInfo, nil
}
