package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/models"
)

// Fixed key names, shared by every client instance
const (
	AccessKey  = "accessToken"
	RefreshKey = "refreshToken"
)

type Scope string

const (
	ScopePersistent Scope = "persistent"
	ScopeSession    Scope = "session"
)

// Area is one storage scope. Write must store all values or none
type Area interface {
	Write(ctx context.Context, values map[string]string) error
	Read(ctx context.Context, keys ...string) (map[string]string, error)
	Delete(ctx context.Context, keys ...string) error
}

// Notifier is told about every successful store change
type Notifier interface {
	Notify(ctx context.Context, kind models.ChangeKind)
}

type NotifierFunc func(ctx context.Context, kind models.ChangeKind)

func (f NotifierFunc) Notify(ctx context.Context, kind models.ChangeKind) {
	f(ctx, kind)
}

// Store keeps the token pair in exactly one of two areas
type Store struct {
	persistent Area
	session    Area
	notifier   Notifier
	logger     logger.Logger

	mu sync.Mutex
}

// New creates store. Notifier may be nil if nobody listens for changes
func New(persistent Area, session Area, notifier Notifier, l logger.Logger) *Store {
	if notifier == nil {
		notifier = NotifierFunc(func(context.Context, models.ChangeKind) {})
	}

	return &Store{
		persistent: persistent,
		session:    session,
		notifier:   notifier,
		logger:     l,
	}
}

func (s *Store) areas(persistent bool) (target Area, other Area) {
	if persistent {
		return s.persistent, s.session
	}
	return s.session, s.persistent
}

// Save writes pair to persistent or session area and removes any pair from the other one
func (s *Store) Save(ctx context.Context, pair models.TokenPair, persistent bool) error {
	if !pair.Complete() {
		return fmt.Errorf("%w: token pair is incomplete", apperrors.ErrInvalidInput)
	}

	err := s.save(ctx, pair, persistent)
	if err != nil {
		return err
	}

	s.notifier.Notify(ctx, models.ChangeSaved)
	return nil
}

func (s *Store) save(ctx context.Context, pair models.TokenPair, persistent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, other := s.areas(persistent)

	// Other area goes first: if the write fails nothing is left at all
	if err := other.Delete(ctx, AccessKey, RefreshKey); err != nil {
		return fmt.Errorf("%w: clear other area: %w", apperrors.ErrStorage, err)
	}

	err := target.Write(ctx, map[string]string{AccessKey: pair.Access, RefreshKey: pair.Refresh})
	if err != nil {
		return fmt.Errorf("%w: write token pair: %w", apperrors.ErrStorage, err)
	}

	return nil
}

// Load returns stored pair. Missing, half-written or unreadable pair is reported as absent
func (s *Store) Load(ctx context.Context) (models.TokenPair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, _, ok := s.load(ctx)
	return pair, ok
}

// Scope reports area holding the pair now
func (s *Store) Scope(ctx context.Context) (Scope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, scope, ok := s.load(ctx)
	return scope, ok
}

func (s *Store) load(ctx context.Context) (models.TokenPair, Scope, bool) {
	for _, scope := range []Scope{ScopePersistent, ScopeSession} {
		area, _ := s.areas(scope == ScopePersistent)

		values, err := area.Read(ctx, AccessKey, RefreshKey)
		if err != nil {
			s.logger.Error("Failed to read token area", "scope", scope, "error", err)
			continue
		}

		pair := models.TokenPair{Access: values[AccessKey], Refresh: values[RefreshKey]}
		switch {
		case pair.Complete():
			return pair, scope, true
		case pair.Access != "" || pair.Refresh != "":
			s.logger.Warn("Half-written token pair ignored", "scope", scope)
		}
	}

	return models.TokenPair{}, "", false
}

// ReplaceAccess rewrites whole pair with new access token in the area holding it now
func (s *Store) ReplaceAccess(ctx context.Context, access string) error {
	if access == "" {
		return fmt.Errorf("%w: access token is empty", apperrors.ErrInvalidInput)
	}

	err := s.replaceAccess(ctx, access)
	if err != nil {
		return err
	}

	s.notifier.Notify(ctx, models.ChangeRefreshed)
	return nil
}

func (s *Store) replaceAccess(ctx context.Context, access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, scope, ok := s.load(ctx)
	if !ok {
		return apperrors.ErrNoSession
	}

	area, _ := s.areas(scope == ScopePersistent)
	err := area.Write(ctx, map[string]string{AccessKey: access, RefreshKey: pair.Refresh})
	if err != nil {
		return fmt.Errorf("%w: write token pair: %w", apperrors.ErrStorage, err)
	}

	return nil
}

// Clear removes both keys from both areas. Safe to call when nothing is stored
func (s *Store) Clear(ctx context.Context) error {
	err := s.clear(ctx)
	if err != nil {
		return err
	}

	s.notifier.Notify(ctx, models.ChangeCleared)
	return nil
}

func (s *Store) clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := errors.Join(
		s.persistent.Delete(ctx, AccessKey, RefreshKey),
		s.session.Delete(ctx, AccessKey, RefreshKey),
	)
	if err != nil {
		return fmt.Errorf("%w: clear token pair: %w", apperrors.ErrStorage, err)
	}

	return nil
}
