// Package flow sequences login, registration and password reset up to an established session.
package flow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/gateway"
	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/models"
)

// Minimum interval between two registration code sends
const ResendCooldown = 120 * time.Second

type Gateway interface {
	Login(ctx context.Context, email string, password string) (gateway.LoginResult, error)
	Register(ctx context.Context, reg models.PendingRegistration) error
	VerifyEmailCode(ctx context.Context, email string, code string) (gateway.Verification, error)
	VerifyLoginEmail(ctx context.Context, userID int64, code string) (models.TokenPair, error)
	Verify2FA(ctx context.Context, userID int64, code string) (models.TokenPair, error)
	ValidateResetToken(ctx context.Context, token string) error
	ResetPassword(ctx context.Context, token string, newPassword string) error
}

type Session interface {
	BeginVerification()
	CancelVerification()
	Establish(ctx context.Context, pair models.TokenPair, persistent bool) error
}

// Controller holds one multi-step flow. Challenge, pending registration and reset token live here only
type Controller struct {
	gateway Gateway
	session Session
	logger  logger.Logger
	now     func() time.Time

	mu         sync.Mutex
	state      State
	path       path
	remember   bool
	challenge  *models.Challenge
	pending    *models.PendingRegistration
	lastSent   time.Time
	resetToken string
	lastErr    error
}

func New(gw Gateway, sess Session, l logger.Logger) *Controller {
	return &Controller{
		gateway: gw,
		session: sess,
		logger:  l,
		now:     time.Now,
		state:   StateCredentialsEntry,
	}
}

// WithNow replaces clock used for resend cool-down
func (c *Controller) WithNow(now func() time.Time) *Controller {
	c.now = now
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Actions available in current state. Empty only when flow is done
func (c *Controller) Actions() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()

	actions := slices.Clone(stateActions[c.state])
	if c.state == StateAwaitEmailCode && c.pending != nil {
		actions = append(actions, ActionResend)
	}
	return actions
}

// LastError of the latest step, nil when it succeeded
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Challenge pending resolution, nil outside of code entry
func (c *Controller) Challenge() *models.Challenge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.challenge
}

// CooldownRemaining till resend is allowed again
func (c *Controller) CooldownRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cooldownRemaining()
}

func (c *Controller) cooldownRemaining() time.Duration {
	if c.lastSent.IsZero() {
		return 0
	}
	return max(c.lastSent.Add(ResendCooldown).Sub(c.now()), 0)
}

func (c *Controller) transition(to State) {
	if c.state != to {
		c.logger.Debug("Flow state changed", "from", c.state, "to", to)
	}
	c.state = to
}

// Records failure keeping the flow where it is, so the step may be retried
func (c *Controller) fail(err error) error {
	c.lastErr = err
	c.logger.Info("Flow step failed", "state", c.state, "error", err)
	return err
}

func (c *Controller) require(states ...State) error {
	if !slices.Contains(states, c.state) {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidState, c.state)
	}
	return nil
}

// discard drops everything the flow holds between steps
func (c *Controller) discard() {
	c.challenge = nil
	c.pending = nil
	c.resetToken = ""
	c.lastSent = time.Time{}
	c.lastErr = nil
	c.remember = false
}

// Login submits credentials. Remember selects persistent token area
func (c *Controller) Login(ctx context.Context, email string, password string, remember bool) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(StateCredentialsEntry); err != nil {
		return c.state, err
	}
	c.path = pathLogin
	c.lastErr = nil

	res, err := c.gateway.Login(ctx, email, password)
	if err != nil {
		return c.state, c.fail(err)
	}

	if res.Tokens != nil {
		if err := c.session.Establish(ctx, *res.Tokens, remember); err != nil {
			return c.state, c.fail(err)
		}
		c.transition(StateDone)
		return c.state, nil
	}

	c.challenge = res.Challenge
	c.remember = remember
	c.session.BeginVerification()

	switch res.Challenge.Kind {
	case models.ChallengeApp2FA:
		c.transition(StateAwaitAppCode)
	default:
		c.transition(StateAwaitEmailCode)
	}
	return c.state, nil
}

// Register creates account and waits for the emailed code
func (c *Controller) Register(ctx context.Context, reg models.PendingRegistration) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(StateCredentialsEntry, StateRegistrationEntry); err != nil {
		return c.state, err
	}
	c.path = pathRegistration
	c.lastErr = nil
	c.transition(StateRegistrationEntry)

	if err := c.gateway.Register(ctx, reg); err != nil {
		return c.state, c.fail(err)
	}

	c.pending = &reg
	c.lastSent = c.now()
	c.transition(StateAwaitEmailCode)
	return c.state, nil
}

// ResendCode replays registration with retained fields, at most once per cool-down window
func (c *Controller) ResendCode(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(StateAwaitEmailCode); err != nil {
		return err
	}
	if c.pending == nil {
		return fmt.Errorf("%w: code resend is available for registration only", apperrors.ErrInvalidState)
	}

	if remaining := c.cooldownRemaining(); remaining > 0 {
		return &CooldownError{Remaining: remaining}
	}

	if err := c.gateway.Register(ctx, *c.pending); err != nil {
		return c.fail(err)
	}

	c.lastSent = c.now()
	c.lastErr = nil
	return nil
}

// SubmitCode resolves pending challenge or verifies registration email
func (c *Controller) SubmitCode(ctx context.Context, code string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(StateAwaitEmailCode, StateAwaitAppCode); err != nil {
		return c.state, err
	}
	c.lastErr = nil

	if c.pending != nil {
		return c.verifyRegistration(ctx, code)
	}

	var pair models.TokenPair
	var err error
	switch c.state {
	case StateAwaitAppCode:
		pair, err = c.gateway.Verify2FA(ctx, c.challenge.UserID, code)
	default:
		pair, err = c.gateway.VerifyLoginEmail(ctx, c.challenge.UserID, code)
	}
	if err != nil {
		return c.state, c.fail(err)
	}

	if err := c.session.Establish(ctx, pair, c.remember); err != nil {
		return c.state, c.fail(err)
	}

	c.discard()
	c.transition(StateDone)
	return c.state, nil
}

// Verified registration logs in only when the service hands out tokens right away
func (c *Controller) verifyRegistration(ctx context.Context, code string) (State, error) {
	return c.verifyEmail(ctx, c.pending.Email, code)
}

// VerifyEmail confirms address with code received earlier, when the registration itself is not held here
func (c *Controller) VerifyEmail(ctx context.Context, email string, code string, remember bool) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(StateCredentialsEntry, StateRegistrationEntry); err != nil {
		return c.state, err
	}
	c.lastErr = nil
	c.path = pathRegistration
	c.remember = remember

	return c.verifyEmail(ctx, email, code)
}

func (c *Controller) verifyEmail(ctx context.Context, email string, code string) (State, error) {
	v, err := c.gateway.VerifyEmailCode(ctx, email, code)
	if err != nil {
		return c.state, c.fail(err)
	}

	if v.Tokens == nil {
		c.discard()
		c.path = pathLogin
		c.transition(StateCredentialsEntry)
		return c.state, nil
	}

	if err := c.session.Establish(ctx, *v.Tokens, c.remember); err != nil {
		return c.state, c.fail(err)
	}
	c.discard()
	c.transition(StateDone)
	return c.state, nil
}

// OpenResetLink starts password reset from emailed token, whatever the session state is
func (c *Controller) OpenResetLink(ctx context.Context, token string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.discard()
	c.session.CancelVerification()
	c.path = pathReset
	c.resetToken = token
	c.transition(StateTokenFromLink)

	c.transition(StateValidate)
	err := c.gateway.ValidateResetToken(ctx, token)
	switch {
	case err == nil:
		c.transition(StateResetForm)
		return c.state, nil
	case errors.Is(err, apperrors.ErrTransport):
		// Validity is unknown, link may be opened again
		return c.state, c.fail(err)
	default:
		c.transition(StateErrorTerminal)
		return c.state, c.fail(err)
	}
}

// ResetPassword sets new password with validated token
func (c *Controller) ResetPassword(ctx context.Context, newPassword string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.require(StateResetForm); err != nil {
		return c.state, err
	}
	c.lastErr = nil

	err := c.gateway.ResetPassword(ctx, c.resetToken, newPassword)
	if err == nil {
		c.discard()
		c.transition(StateDone)
		return c.state, nil
	}

	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && (gwErr.Code == gateway.CodeInvalidResetToken || gwErr.Code == gateway.CodeExpiredResetToken) {
		c.transition(StateErrorTerminal)
	}
	return c.state, c.fail(err)
}

// Restart returns to the entry of current path. Reset path restarts from credentials, a new link is needed
func (c *Controller) Restart() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.discard()
	c.session.CancelVerification()

	switch c.path {
	case pathRegistration:
		c.transition(StateRegistrationEntry)
	default:
		c.path = pathLogin
		c.transition(StateCredentialsEntry)
	}
	return c.state
}

// Abandon drops the flow altogether, like closing the dialog
func (c *Controller) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.discard()
	c.session.CancelVerification()
	c.path = pathLogin
	c.transition(StateCredentialsEntry)
}
