// Package session owns token validity: expiry checks, the refresh protocol and session state.
// Every authenticated request goes through Manager.Do.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/gateway"
	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/models"
	"github.com/nkiryanov/authsession/internal/tokencodec"
)

const bearerPrefix = "Bearer "

type TokenStore interface {
	Save(ctx context.Context, pair models.TokenPair, persistent bool) error
	Load(ctx context.Context) (models.TokenPair, bool)
	ReplaceAccess(ctx context.Context, access string) error
	Clear(ctx context.Context) error
}

type Gateway interface {
	RefreshToken(ctx context.Context, refresh string) (string, error)
	Logout(ctx context.Context, refresh string) error
	Send(req *http.Request) (*http.Response, error)
	NewProfileRequest(ctx context.Context) (*http.Request, error)
	DecodeProfile(resp *http.Response) (models.UserProfile, error)
}

// RequestFunc builds a fresh request on every call, so it may be sent again after refresh
type RequestFunc func(ctx context.Context) (*http.Request, error)

type Manager struct {
	store   TokenStore
	gateway Gateway
	logger  logger.Logger
	now     func() time.Time
	skew    time.Duration

	flight singleflight.Group

	mu        sync.Mutex
	state     models.SessionState
	observers []func(models.SessionState)
}

func New(store TokenStore, gw Gateway, l logger.Logger) *Manager {
	return &Manager{
		store:   store,
		gateway: gw,
		logger:  l,
		now:     time.Now,
		skew:    tokencodec.DefaultSkew,
		state:   models.StateAnonymous,
	}
}

// WithNow replaces clock used for expiry decisions
func (m *Manager) WithNow(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnChange registers observer called after every state transition
func (m *Manager) OnChange(fn func(models.SessionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Manager) setState(state models.SessionState) {
	m.mu.Lock()
	prev := m.state
	m.state = state
	observers := m.observers
	m.mu.Unlock()

	if prev == state {
		return
	}

	m.logger.Debug("Session state changed", "from", prev, "to", state)
	for _, fn := range observers {
		fn(state)
	}
}

// Boot inspects stored tokens once at start
func (m *Manager) Boot(ctx context.Context) models.SessionState {
	if _, ok := m.store.Load(ctx); ok {
		m.setState(models.StateAuthenticated)
	} else {
		m.setState(models.StateAnonymous)
	}
	return m.State()
}

// Resync re-reads the store after another client instance changed it. It never refreshes.
// Pending verification survives a foreign logout, there is nothing to log out of yet.
func (m *Manager) Resync(ctx context.Context) models.SessionState {
	_, ok := m.store.Load(ctx)

	switch {
	case ok:
		m.setState(models.StateAuthenticated)
	case m.State() != models.StatePendingVerification:
		m.setState(models.StateAnonymous)
	}
	return m.State()
}

// BeginVerification marks that credentials were accepted and a challenge is pending
func (m *Manager) BeginVerification() {
	m.setState(models.StatePendingVerification)
}

// CancelVerification drops pending verification, nothing is stored yet
func (m *Manager) CancelVerification() {
	m.mu.Lock()
	pending := m.state == models.StatePendingVerification
	m.mu.Unlock()

	if pending {
		m.setState(models.StateAnonymous)
	}
}

// Establish persists pair issued by login or verification
func (m *Manager) Establish(ctx context.Context, pair models.TokenPair, persistent bool) error {
	if err := m.store.Save(ctx, pair, persistent); err != nil {
		return err
	}

	m.setState(models.StateAuthenticated)
	return nil
}

// Logout revokes refresh token on the server if possible, local tokens are removed anyway
func (m *Manager) Logout(ctx context.Context) error {
	if pair, ok := m.store.Load(ctx); ok {
		if err := m.gateway.Logout(ctx, pair.Refresh); err != nil {
			m.logger.Warn("Server logout failed, clearing local session anyway", "error", err)
		}
	}

	err := m.store.Clear(ctx)
	m.setState(models.StateAnonymous)
	return err
}

// AuthHeader returns bearer header value, refreshing expired access token first
// No header when there is no session or refresh failed
func (m *Manager) AuthHeader(ctx context.Context) (string, bool) {
	header, err := m.authHeader(ctx)
	if err != nil {
		return "", false
	}
	return header, true
}

func (m *Manager) authHeader(ctx context.Context) (string, error) {
	pair, ok := m.store.Load(ctx)
	if !ok {
		m.lost()
		return "", apperrors.ErrNoSession
	}

	access := pair.Access
	if tokencodec.IsExpiredWithSkew(access, m.now(), m.skew) {
		var err error
		access, err = m.refresh(ctx, access)
		if err != nil {
			return "", err
		}
	}

	return bearerPrefix + access, nil
}

// Refresh forces new access token. Concurrent callers share one network call
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	pair, ok := m.store.Load(ctx)
	if !ok {
		m.lost()
		return "", apperrors.ErrNoSession
	}
	return m.refresh(ctx, pair.Access)
}

// stale is the access token the caller found unusable
func (m *Manager) refresh(ctx context.Context, stale string) (string, error) {
	ch := m.flight.DoChan("refresh", func() (any, error) {
		// Shared by all callers, so one caller leaving must not cancel it
		return m.doRefresh(context.WithoutCancel(ctx), stale)
	})

	select {
	case res := <-ch:
		access, _ := res.Val.(string)
		return access, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Manager) doRefresh(ctx context.Context, stale string) (string, error) {
	pair, ok := m.store.Load(ctx)
	if !ok {
		m.lost()
		return "", apperrors.ErrNoSession
	}

	// Previous flight already replaced the token the caller saw
	if pair.Access != stale && !tokencodec.IsExpiredWithSkew(pair.Access, m.now(), m.skew) {
		return pair.Access, nil
	}

	access, err := m.gateway.RefreshToken(ctx, pair.Refresh)
	if err != nil {
		var gwErr *gateway.Error
		if !errors.As(err, &gwErr) {
			m.logger.Warn("Refresh failed, session kept", "error", err)
			return "", err
		}

		m.logger.Info("Refresh rejected, session ended", "code", gwErr.Code, "status_code", gwErr.Status)
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.logger.Error("Failed to clear tokens after rejected refresh", "error", clearErr)
		}
		m.setState(models.StateAnonymous)
		return "", fmt.Errorf("%w: %w", apperrors.ErrSessionExpired, err)
	}

	if err := m.store.ReplaceAccess(ctx, access); err != nil {
		m.logger.Error("Failed to store refreshed access token", "error", err)
		return "", err
	}

	m.setState(models.StateAuthenticated)
	return access, nil
}

// Tokens disappeared, e.g. cleared by another client instance
func (m *Manager) lost() {
	if m.State() == models.StateAuthenticated {
		m.setState(models.StateAnonymous)
	}
}

// Do sends authenticated request. On 401 access token is refreshed once and request is sent once more.
// Second 401 or failed refresh returns error matching apperrors.ErrUnauthorized
func (m *Manager) Do(ctx context.Context, build RequestFunc) (*http.Response, error) {
	header, err := m.authHeader(ctx)
	if err != nil {
		return nil, unauthorized(err)
	}

	resp, err := m.send(ctx, build, header)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	discard(resp)

	m.logger.Debug("Request rejected with 401, refreshing")
	access, err := m.refresh(ctx, strings.TrimPrefix(header, bearerPrefix))
	if err != nil {
		return nil, unauthorized(err)
	}

	resp, err = m.send(ctx, build, bearerPrefix+access)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		return nil, fmt.Errorf("%w: rejected after refresh", apperrors.ErrUnauthorized)
	}
	return resp, nil
}

func (m *Manager) send(ctx context.Context, build RequestFunc, header string) (*http.Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", header)
	return m.gateway.Send(req)
}

// Transport errors stay transport errors, session is not known to be broken
func unauthorized(err error) error {
	if errors.Is(err, apperrors.ErrTransport) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err)
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

// Current derives Session from stored tokens and the fetched profile
func (m *Manager) Current(ctx context.Context) (models.Session, error) {
	if _, ok := m.store.Load(ctx); !ok {
		m.lost()
		return models.Session{}, nil
	}

	resp, err := m.Do(ctx, m.gateway.NewProfileRequest)
	if err != nil {
		return models.Session{}, err
	}

	profile, err := m.gateway.DecodeProfile(resp)
	if err != nil {
		return models.Session{}, err
	}

	return models.Session{Authenticated: true, User: &profile}, nil
}
