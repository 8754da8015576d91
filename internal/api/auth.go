package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyToken is returned when the refresh endpoint answers without an access token.
var ErrEmptyToken = errors.New("refresh returned empty access token")

// RefreshToken exchanges a refresh credential for a new access/refresh pair.
// The request is sent without the current bearer token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (TokenPair, error) {
	var pair TokenPair
	err := c.send(ctx, call{
		method:    http.MethodPost,
		path:      "/auth/token/refresh",
		body:      refreshRequest{RefreshToken: refreshToken},
		anonymous: true,
	}, &pair)
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh token: %w", err)
	}
	if pair.AccessToken == "" {
		return TokenPair{}, ErrEmptyToken
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}
