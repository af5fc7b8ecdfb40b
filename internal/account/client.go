// Package account reads account data of the logged in user.
// All calls go through session.Manager.Do, so expired tokens are refreshed transparently.
package account

import (
	"context"
	"net/http"

	"github.com/nkiryanov/authsession/internal/models"
	"github.com/nkiryanov/authsession/internal/session"
)

type Gateway interface {
	NewRequest(ctx context.Context, method string, path string, body any) (*http.Request, error)
	Decode(resp *http.Response, out any) error
	NewProfileRequest(ctx context.Context) (*http.Request, error)
	DecodeProfile(resp *http.Response) (models.UserProfile, error)
}

type Doer interface {
	Do(ctx context.Context, build session.RequestFunc) (*http.Response, error)
}

type Client struct {
	gateway Gateway
	session Doer
}

func New(gw Gateway, sess Doer) *Client {
	return &Client{gateway: gw, session: sess}
}

func (c *Client) Balances(ctx context.Context) ([]models.Balance, error) {
	resp, err := c.session.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return c.gateway.NewRequest(ctx, http.MethodGet, "/accounts/balances", nil)
	})
	if err != nil {
		return nil, err
	}

	var balances []models.Balance
	if err := c.gateway.Decode(resp, &balances); err != nil {
		return nil, err
	}
	return balances, nil
}

func (c *Client) Profile(ctx context.Context) (models.UserProfile, error) {
	resp, err := c.session.Do(ctx, c.gateway.NewProfileRequest)
	if err != nil {
		return models.UserProfile{}, err
	}
	return c.gateway.DecodeProfile(resp)
}
