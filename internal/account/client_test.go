package account

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/gateway"
	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/models"
	"github.com/nkiryanov/authsession/internal/session"
	"github.com/nkiryanov/authsession/internal/storage/memory"
	"github.com/nkiryanov/authsession/internal/testutil"
	"github.com/nkiryanov/authsession/internal/tokenstore"
)

func TestClient(t *testing.T) {
	l := logger.NewNoOpLogger()
	idp := testutil.StartIdentity(t)
	userID := idp.AddUser(testutil.FakeUser{
		Username: "rich",
		Email:    "rich@example.com",
		Password: "password1",
		Verified: true,
		Balances: []models.Balance{
			{Currency: "BTC", Available: decimal.RequireFromString("0.12345678"), Locked: decimal.RequireFromString("0.5")},
			{Currency: "USD", Available: decimal.RequireFromString("100.10"), Locked: decimal.Zero},
		},
	})

	newClient := func(t *testing.T) (*Client, *session.Manager) {
		store := tokenstore.New(memory.New(), memory.New(), nil, l)
		gw := gateway.New(idp.URL, nil, l)
		sess := session.New(store, gw, l)
		return New(gw, sess), sess
	}

	t.Run("balances", func(t *testing.T) {
		c, sess := newClient(t)
		require.NoError(t, sess.Establish(t.Context(), idp.IssuePair(userID), true))

		balances, err := c.Balances(t.Context())

		require.NoError(t, err)
		require.Len(t, balances, 2)
		require.Equal(t, "BTC", balances[0].Currency)
		require.True(t, decimal.RequireFromString("0.62345678").Equal(balances[0].Total()), "amounts must keep precision")
		require.True(t, decimal.RequireFromString("100.1").Equal(balances[1].Available))
	})

	t.Run("expired token is refreshed transparently", func(t *testing.T) {
		c, sess := newClient(t)
		pair := idp.IssuePair(userID)
		pair.Access = idp.IssueAccess(userID, -time.Minute)
		require.NoError(t, sess.Establish(t.Context(), pair, false))
		before := idp.RefreshCalls()

		profile, err := c.Profile(t.Context())

		require.NoError(t, err)
		require.Equal(t, userID, profile.ID)
		require.Equal(t, before+1, idp.RefreshCalls())
	})

	t.Run("anonymous", func(t *testing.T) {
		c, _ := newClient(t)

		_, err := c.Balances(t.Context())

		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})
}
