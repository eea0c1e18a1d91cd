package trakt

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// StartDeviceAuth begins the device code flow. The user enters UserCode at
// VerificationURL.
func (c *Client) StartDeviceAuth(ctx context.Context) (*DeviceCode, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	var code DeviceCode
	payload := map[string]string{"client_id": c.clientID}
	if _, err := c.do(ctx, http.MethodPost, "/oauth/device/code", nil, payload, "", &code); err != nil {
		return nil, fmt.Errorf("trakt device code: %w", err)
	}
	return &code, nil
}

// PollDeviceToken checks once whether the user has approved deviceCode. On
// success the token is stored and the client becomes authenticated.
func (c *Client) PollDeviceToken(ctx context.Context, deviceCode string) (*oauth2.Token, error) {
	payload := map[string]string{
		"code":          deviceCode,
		"client_id":     c.clientID,
		"client_secret": c.secret,
	}

	var tr tokenResponse
	resp, err := c.do(ctx, http.MethodPost, "/oauth/device/token", nil, payload, "", &tr)
	if err != nil {
		if resp == nil {
			return nil, err
		}
		switch resp.StatusCode {
		case http.StatusBadRequest:
			return nil, ErrDevicePending
		case http.StatusNotFound:
			return nil, ErrDeviceInvalid
		case http.StatusConflict:
			return nil, ErrDeviceUsed
		case http.StatusGone:
			return nil, ErrDeviceExpired
		case http.StatusTeapot:
			return nil, ErrDeviceDenied
		case http.StatusTooManyRequests:
			return nil, ErrDeviceSlowDown
		}
		return nil, err
	}

	tok := tr.oauthToken()
	if err := c.auth.SetToken(ctx, tok); err != nil {
		return nil, fmt.Errorf("failed to save trakt token: %w", err)
	}
	c.logger.Info().Msg("Trakt device authorization complete")
	return tok, nil
}

// WaitForDeviceToken polls until the user approves, the code expires or ctx
// is cancelled.
func (c *Client) WaitForDeviceToken(ctx context.Context, code *DeviceCode) (*oauth2.Token, error) {
	interval := time.Duration(code.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	expiresIn := time.Duration(code.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = 10 * time.Minute
	}
	deadline := time.NewTimer(expiresIn)
	defer deadline.Stop()

	for {
		wait := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return nil, ctx.Err()
		case <-deadline.C:
			wait.Stop()
			return nil, ErrDeviceExpired
		case <-wait.C:
		}

		tok, err := c.PollDeviceToken(ctx, code.DeviceCode)
		switch err {
		case nil:
			return tok, nil
		case ErrDevicePending:
			continue
		case ErrDeviceSlowDown:
			interval += 5 * time.Second
			continue
		default:
			return nil, err
		}
	}
}

func (tr tokenResponse) oauthToken() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}
	if tr.ExpiresIn > 0 {
		issued := time.Now()
		if tr.CreatedAt > 0 {
			issued = time.Unix(tr.CreatedAt, 0)
		}
		tok.Expiry = issued.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok
}
