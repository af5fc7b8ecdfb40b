// Package gateway talks to the remote identity service.
// Every operation checks input presence before any network call and returns either a payload,
// *Error with the service code, *InputError, or an error wrapping apperrors.ErrTransport.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/models"
)

const DefaultTimeout = 10 * time.Second

// Outcome of login: either tokens or a challenge, never both
type LoginResult struct {
	Tokens    *models.TokenPair
	Challenge *models.Challenge
}

// Outcome of email verification. Tokens are nil when the user has to log in afterwards
type Verification struct {
	Tokens *models.TokenPair
}

type Client struct {
	BaseURL string

	client *http.Client
	logger logger.Logger
}

// New creates client. With nil httpClient default one with DefaultTimeout is used
func New(baseURL string, httpClient *http.Client, l logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		logger:  l,
	}
}

func (c *Client) Login(ctx context.Context, email string, password string) (LoginResult, error) {
	req := struct {
		Email    string `json:"email" validate:"required"`
		Password string `json:"password" validate:"required"`
	}{email, password}

	var resp struct {
		models.TokenPair
		Challenge *models.Challenge `json:"challenge"`
	}

	if err := c.post(ctx, "/auth/login", req, &resp); err != nil {
		return LoginResult{}, err
	}

	switch {
	case resp.Complete():
		return LoginResult{Tokens: &resp.TokenPair}, nil
	case resp.Challenge != nil && resp.Challenge.Required():
		return LoginResult{Challenge: resp.Challenge}, nil
	default:
		c.logger.Warn("Unexpected login response", "has_challenge", resp.Challenge != nil)
		return LoginResult{}, fmt.Errorf("%w: login response has neither tokens nor challenge", apperrors.ErrTransport)
	}
}

// Register asks to create the account and send the email code. Replaying it sends the code again
func (c *Client) Register(ctx context.Context, reg models.PendingRegistration) error {
	return c.post(ctx, "/auth/register", reg, nil)
}

func (c *Client) VerifyEmailCode(ctx context.Context, email string, code string) (Verification, error) {
	req := struct {
		Email string `json:"email" validate:"required"`
		Code  string `json:"code" validate:"required,len=6,numeric"`
	}{email, code}

	var resp models.TokenPair
	if err := c.post(ctx, "/auth/verify-email", req, &resp); err != nil {
		return Verification{}, err
	}

	if resp.Complete() {
		return Verification{Tokens: &resp}, nil
	}
	return Verification{}, nil
}

func (c *Client) VerifyLoginEmail(ctx context.Context, userID int64, code string) (models.TokenPair, error) {
	return c.verifyCode(ctx, "/auth/verify-login-email", userID, code)
}

func (c *Client) Verify2FA(ctx context.Context, userID int64, code string) (models.TokenPair, error) {
	return c.verifyCode(ctx, "/auth/verify-2fa", userID, code)
}

func (c *Client) verifyCode(ctx context.Context, path string, userID int64, code string) (models.TokenPair, error) {
	req := struct {
		UserID int64  `json:"userId" validate:"required"`
		Code   string `json:"code" validate:"required,len=6,numeric"`
	}{userID, code}

	var pair models.TokenPair
	if err := c.post(ctx, path, req, &pair); err != nil {
		return pair, err
	}

	if !pair.Complete() {
		return models.TokenPair{}, fmt.Errorf("%w: verification response has no token pair", apperrors.ErrTransport)
	}
	return pair, nil
}

// RefreshToken mints new access token, refresh token stays the same
func (c *Client) RefreshToken(ctx context.Context, refresh string) (string, error) {
	req := struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}{refresh}

	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := c.post(ctx, "/auth/refresh-token", req, &resp); err != nil {
		return "", err
	}

	if resp.AccessToken == "" {
		return "", fmt.Errorf("%w: refresh response has no access token", apperrors.ErrTransport)
	}
	return resp.AccessToken, nil
}

// ForgotPassword always acknowledges, so nobody learns whether the email is registered
// Only missing email is reported
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	req := struct {
		Email string `json:"email" validate:"required"`
	}{email}

	if err := validateInput(req); err != nil {
		return err
	}

	if err := c.post(ctx, "/auth/forgot-password", req, nil); err != nil {
		c.logger.Warn("Forgot password request failed", "error", err)
	}
	return nil
}

func (c *Client) ValidateResetToken(ctx context.Context, token string) error {
	req := struct {
		Token string `json:"token" validate:"required"`
	}{token}

	return c.post(ctx, "/auth/validate-reset-token", req, nil)
}

func (c *Client) ResetPassword(ctx context.Context, token string, newPassword string) error {
	req := struct {
		Token       string `json:"token" validate:"required"`
		NewPassword string `json:"newPassword" validate:"required"`
	}{token, newPassword}

	return c.post(ctx, "/auth/reset-password", req, nil)
}

func (c *Client) Logout(ctx context.Context, refresh string) error {
	req := struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}{refresh}

	return c.post(ctx, "/auth/logout", req, nil)
}

// NewRequest builds request to the identity service. Authorization is attached by the session
func (c *Client) NewRequest(ctx context.Context, method string, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Send performs request as is
func (c *Client) Send(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("Identity service unreachable", "path", req.URL.Path, "error", err)
		return nil, fmt.Errorf("%w: failed to send request: %w", apperrors.ErrTransport, err)
	}
	return resp, nil
}

// Decode reads response body into out on 2xx or returns *Error otherwise. Body is closed
func (c *Client) Decode(resp *http.Response, out any) error {
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.processFailure(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.logger.Warn("Failed to decode response", "path", resp.Request.URL.Path, "error", err)
		return fmt.Errorf("%w: malformed response: %w", apperrors.ErrTransport, err)
	}
	return nil
}

func (c *Client) NewProfileRequest(ctx context.Context) (*http.Request, error) {
	return c.NewRequest(ctx, http.MethodGet, "/users/me", nil)
}

func (c *Client) DecodeProfile(resp *http.Response) (models.UserProfile, error) {
	var p models.UserProfile
	err := c.Decode(resp, &p)
	return p, err
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	if err := validateInput(body); err != nil {
		return err
	}

	req, err := c.NewRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}

	resp, err := c.Send(req)
	if err != nil {
		return err
	}

	return c.Decode(resp, out)
}

func (c *Client) processFailure(resp *http.Response) error {
	var body struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}

	// Body that is not JSON still is a failure of the service, status tells enough
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		body.Message = http.StatusText(resp.StatusCode)
	}

	c.logger.Info("Identity service rejected request",
		"path", resp.Request.URL.Path, "status_code", resp.StatusCode, "code", body.Code)
	return &Error{Status: resp.StatusCode, Message: body.Message, Code: body.Code}
}
