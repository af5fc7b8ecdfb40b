package gateway

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/models"
	"github.com/nkiryanov/authsession/internal/testutil"
)

func TestClient(t *testing.T) {
	idp := testutil.StartIdentity(t)
	c := New(idp.URL, nil, logger.NewNoOpLogger())

	plainID := idp.AddUser(testutil.FakeUser{Username: "plain", Email: "plain@example.com", Password: "password1", Verified: true})
	appID := idp.AddUser(testutil.FakeUser{Username: "app", Email: "app@example.com", Password: "password1", Verified: true, Challenge: models.ChallengeApp2FA})
	emailID := idp.AddUser(testutil.FakeUser{Username: "mail", Email: "mail@example.com", Password: "password1", Verified: true, Challenge: models.ChallengeEmailCode})
	idp.AddUser(testutil.FakeUser{Username: "locked", Email: "locked@example.com", Password: "password1", Locked: true})

	requireCode := func(t *testing.T, err error, code string) {
		t.Helper()
		var gwErr *Error
		require.True(t, errors.As(err, &gwErr), "expected gateway error, got %v", err)
		require.Equal(t, code, gwErr.Code)
	}

	t.Run("Login", func(t *testing.T) {
		t.Run("no challenge", func(t *testing.T) {
			res, err := c.Login(t.Context(), "plain@example.com", "password1")

			require.NoError(t, err)
			require.Nil(t, res.Challenge)
			require.NotNil(t, res.Tokens)
			require.True(t, res.Tokens.Complete())
		})

		t.Run("app challenge", func(t *testing.T) {
			res, err := c.Login(t.Context(), "app@example.com", "password1")

			require.NoError(t, err)
			require.Nil(t, res.Tokens)
			require.Equal(t, &models.Challenge{Kind: models.ChallengeApp2FA, UserID: appID}, res.Challenge)
		})

		t.Run("email challenge", func(t *testing.T) {
			res, err := c.Login(t.Context(), "mail@example.com", "password1")

			require.NoError(t, err)
			require.Equal(t, &models.Challenge{Kind: models.ChallengeEmailCode, UserID: emailID}, res.Challenge)
		})

		t.Run("bad password", func(t *testing.T) {
			_, err := c.Login(t.Context(), "plain@example.com", "wrong")

			requireCode(t, err, CodeInvalidCredentials)
			require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		})

		t.Run("locked", func(t *testing.T) {
			_, err := c.Login(t.Context(), "locked@example.com", "password1")

			requireCode(t, err, CodeAccountLocked)
		})

		t.Run("missing fields never leave client", func(t *testing.T) {
			_, err := c.Login(t.Context(), "", "")

			var inErr *InputError
			require.ErrorAs(t, err, &inErr)
			require.ErrorIs(t, err, apperrors.ErrInvalidInput)
			require.Equal(t, map[string]string{"email": "This field is required", "password": "This field is required"}, inErr.Fields)
		})
	})

	t.Run("Register", func(t *testing.T) {
		reg := models.PendingRegistration{Username: "newbie", Email: "newbie@example.com", FullName: "New Bie", Password: "password1"}

		err := c.Register(t.Context(), reg)
		require.NoError(t, err)

		err = c.Register(t.Context(), reg)
		require.NoError(t, err, "replay for unverified user should send code again")

		reg.Email = "plain@example.com"
		err = c.Register(t.Context(), reg)
		requireCode(t, err, CodeDuplicatedEmailOrUsername)

		err = c.Register(t.Context(), models.PendingRegistration{Username: "weak", Email: "weak@example.com", FullName: "W", Password: "1"})
		requireCode(t, err, CodeWeakPassword)

		err = c.Register(t.Context(), models.PendingRegistration{Username: "x"})
		require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("VerifyEmailCode", func(t *testing.T) {
		idp.AddUser(testutil.FakeUser{Username: "fresh", Email: "fresh@example.com", Password: "password1"})

		_, err := c.VerifyEmailCode(t.Context(), "fresh@example.com", "000000")
		requireCode(t, err, CodeInvalidCode)

		_, err = c.VerifyEmailCode(t.Context(), "fresh@example.com", "12ab")
		require.ErrorIs(t, err, apperrors.ErrInvalidInput, "code format is checked before sending")

		_, err = c.VerifyEmailCode(t.Context(), "fresh@example.com", "1234567")
		var inErr *InputError
		require.ErrorAs(t, err, &inErr, "codes are exactly six digits")
		require.Contains(t, inErr.Fields, "code")

		v, err := c.VerifyEmailCode(t.Context(), "fresh@example.com", testutil.ValidCode)
		require.NoError(t, err)
		require.Nil(t, v.Tokens, "plain acknowledgement carries no tokens")

		idp.VerifyEmailIssuesTokens.Store(true)
		t.Cleanup(func() { idp.VerifyEmailIssuesTokens.Store(false) })

		v, err = c.VerifyEmailCode(t.Context(), "fresh@example.com", testutil.ValidCode)
		require.NoError(t, err)
		require.NotNil(t, v.Tokens)
		require.True(t, v.Tokens.Complete())
	})

	t.Run("Verify codes", func(t *testing.T) {
		pair, err := c.Verify2FA(t.Context(), appID, testutil.ValidCode)
		require.NoError(t, err)
		require.True(t, pair.Complete())

		_, err = c.Verify2FA(t.Context(), appID, "654321")
		requireCode(t, err, CodeInvalidCode)

		pair, err = c.VerifyLoginEmail(t.Context(), emailID, testutil.ValidCode)
		require.NoError(t, err)
		require.True(t, pair.Complete())

		_, err = c.VerifyLoginEmail(t.Context(), 0, testutil.ValidCode)
		require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("RefreshToken", func(t *testing.T) {
		pair := idp.IssuePair(plainID)

		access, err := c.RefreshToken(t.Context(), pair.Refresh)
		require.NoError(t, err)
		require.NotEmpty(t, access)

		_, err = c.RefreshToken(t.Context(), "bad-token")
		requireCode(t, err, CodeInvalidRefreshToken)
		require.ErrorIs(t, err, apperrors.ErrSessionExpired)

		_, err = c.RefreshToken(t.Context(), "")
		require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("ForgotPassword always acknowledges", func(t *testing.T) {
		require.NoError(t, c.ForgotPassword(t.Context(), "nobody@example.com"))

		down := New("http://127.0.0.1:1", nil, logger.NewNoOpLogger())
		require.NoError(t, down.ForgotPassword(t.Context(), "nobody@example.com"), "failures are logged only")

		require.ErrorIs(t, c.ForgotPassword(t.Context(), ""), apperrors.ErrInvalidInput)
	})

	t.Run("Reset password", func(t *testing.T) {
		token := idp.AddResetToken(plainID)

		require.NoError(t, c.ValidateResetToken(t.Context(), token))
		requireCode(t, c.ValidateResetToken(t.Context(), "nope"), CodeInvalidResetToken)

		requireCode(t, c.ResetPassword(t.Context(), token, "1"), CodeWeakPassword)
		require.NoError(t, c.ResetPassword(t.Context(), token, "password2"))
		require.True(t, idp.CheckPassword(plainID, "password2"))

		requireCode(t, c.ResetPassword(t.Context(), token, "password3"), CodeInvalidResetToken)
	})

	t.Run("Logout", func(t *testing.T) {
		pair := idp.IssuePair(plainID)

		require.NoError(t, c.Logout(t.Context(), pair.Refresh))
		require.False(t, idp.RefreshValid(pair.Refresh), "refresh token should be revoked")
	})

	t.Run("Profile", func(t *testing.T) {
		pair := idp.IssuePair(plainID)
		req, err := c.NewProfileRequest(t.Context())
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+pair.Access)

		resp, err := c.Send(req)
		require.NoError(t, err)
		profile, err := c.DecodeProfile(resp)

		require.NoError(t, err)
		require.Equal(t, plainID, profile.ID)
		require.Equal(t, "plain", profile.Username)
	})
}

func TestClient_Transport(t *testing.T) {
	t.Run("unreachable service", func(t *testing.T) {
		c := New("http://127.0.0.1:1", nil, logger.NewNoOpLogger())

		_, err := c.Login(t.Context(), "a@example.com", "p")

		require.ErrorIs(t, err, apperrors.ErrTransport)
		require.Equal(t, GenericMessage, UserMessage(err))
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}))
		t.Cleanup(srv.Close)
		c := New(srv.URL, nil, logger.NewNoOpLogger())

		_, err := c.RefreshToken(t.Context(), "r")

		require.ErrorIs(t, err, apperrors.ErrTransport)
	})

	t.Run("login without tokens and challenge", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"challenge":{"kind":"NONE","userId":1}}`))
		}))
		t.Cleanup(srv.Close)
		c := New(srv.URL, nil, logger.NewNoOpLogger())

		_, err := c.Login(t.Context(), "a@example.com", "p")

		require.ErrorIs(t, err, apperrors.ErrTransport)
	})

	t.Run("failure without JSON body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(srv.Close)
		c := New(srv.URL, nil, logger.NewNoOpLogger())

		err := c.Logout(t.Context(), "r")

		var gwErr *Error
		require.ErrorAs(t, err, &gwErr)
		require.Equal(t, http.StatusBadGateway, gwErr.Status)
		require.Equal(t, "Bad Gateway", gwErr.UserMessage())
	})
}

func TestError_UserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"known code", &Error{Code: CodeInvalidCode, Message: "bad"}, "The verification code is incorrect"},
		{"unknown code falls to message", &Error{Code: "SOMETHING_NEW", Message: "Server says no"}, "Server says no"},
		{"nothing", &Error{Status: 500}, GenericMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.err.UserMessage())
		})
	}
}
