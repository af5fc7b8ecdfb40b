package tokenstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/logger"
	"github.com/nkiryanov/authsession/internal/models"
	"github.com/nkiryanov/authsession/internal/storage/memory"
)

type recorder struct {
	mu    sync.Mutex
	kinds []models.ChangeKind
}

func (r *recorder) Notify(_ context.Context, kind models.ChangeKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, kind)
}

// Area failing on every call
type brokenArea struct{}

func (brokenArea) Write(context.Context, map[string]string) error { return errors.New("disk is gone") }
func (brokenArea) Read(context.Context, ...string) (map[string]string, error) {
	return nil, errors.New("disk is gone")
}
func (brokenArea) Delete(context.Context, ...string) error { return errors.New("disk is gone") }

func TestStore(t *testing.T) {
	pair := models.TokenPair{Access: "access", Refresh: "refresh"}

	newStore := func() (*Store, *memory.Area, *memory.Area, *recorder) {
		persistent, session := memory.New(), memory.New()
		rec := &recorder{}
		return New(persistent, session, rec, logger.NewNoOpLogger()), persistent, session, rec
	}

	t.Run("save and load", func(t *testing.T) {
		for _, persistent := range []bool{true, false} {
			s, p, sess, rec := newStore()

			err := s.Save(t.Context(), pair, persistent)
			require.NoError(t, err)

			got, ok := s.Load(t.Context())
			require.True(t, ok)
			require.Equal(t, pair, got)

			other := sess
			wantScope := ScopePersistent
			if !persistent {
				other, wantScope = p, ScopeSession
			}
			left, err := other.Read(t.Context(), AccessKey, RefreshKey)
			require.NoError(t, err)
			require.Empty(t, left, "no trace must be left in not selected area")

			scope, ok := s.Scope(t.Context())
			require.True(t, ok)
			require.Equal(t, wantScope, scope)
			require.Equal(t, []models.ChangeKind{models.ChangeSaved}, rec.kinds)
		}
	})

	t.Run("save moves pair between areas", func(t *testing.T) {
		s, p, _, _ := newStore()
		require.NoError(t, s.Save(t.Context(), models.TokenPair{Access: "old", Refresh: "old"}, true))

		require.NoError(t, s.Save(t.Context(), pair, false))

		left, err := p.Read(t.Context(), AccessKey, RefreshKey)
		require.NoError(t, err)
		require.Empty(t, left, "persistent area should be cleared")

		got, ok := s.Load(t.Context())
		require.True(t, ok)
		require.Equal(t, pair, got)
	})

	t.Run("save incomplete pair", func(t *testing.T) {
		s, _, _, rec := newStore()

		err := s.Save(t.Context(), models.TokenPair{Access: "access"}, true)

		require.ErrorIs(t, err, apperrors.ErrInvalidInput)
		require.Empty(t, rec.kinds, "nothing changed, nobody should be notified")
	})

	t.Run("half written pair is absent", func(t *testing.T) {
		s, p, _, _ := newStore()
		require.NoError(t, p.Write(t.Context(), map[string]string{AccessKey: "access"}))

		_, ok := s.Load(t.Context())

		require.False(t, ok)
	})

	t.Run("clear then load", func(t *testing.T) {
		for _, persistent := range []bool{true, false} {
			s, _, _, rec := newStore()
			require.NoError(t, s.Save(t.Context(), pair, persistent))

			require.NoError(t, s.Clear(t.Context()))
			require.NoError(t, s.Clear(t.Context()), "clear must be idempotent")

			_, ok := s.Load(t.Context())
			require.False(t, ok)
			require.Equal(t, []models.ChangeKind{models.ChangeSaved, models.ChangeCleared, models.ChangeCleared}, rec.kinds)
		}
	})

	t.Run("replace access keeps scope and refresh", func(t *testing.T) {
		s, _, sess, rec := newStore()
		require.NoError(t, s.Save(t.Context(), pair, false))

		err := s.ReplaceAccess(t.Context(), "new-access")
		require.NoError(t, err)

		values, err := sess.Read(t.Context(), AccessKey, RefreshKey)
		require.NoError(t, err)
		require.Equal(t, map[string]string{AccessKey: "new-access", RefreshKey: "refresh"}, values)
		require.Equal(t, models.ChangeRefreshed, rec.kinds[len(rec.kinds)-1])
	})

	t.Run("replace access without pair", func(t *testing.T) {
		s, _, _, _ := newStore()

		err := s.ReplaceAccess(t.Context(), "new-access")

		require.ErrorIs(t, err, apperrors.ErrNoSession)
	})

	t.Run("broken area fails closed", func(t *testing.T) {
		s := New(brokenArea{}, memory.New(), nil, logger.NewNoOpLogger())

		_, ok := s.Load(t.Context())
		require.False(t, ok)

		err := s.Save(t.Context(), pair, true)
		require.ErrorIs(t, err, apperrors.ErrStorage)

		err = s.Clear(t.Context())
		require.ErrorIs(t, err, apperrors.ErrStorage)
	})

	t.Run("concurrent saves keep one scope", func(t *testing.T) {
		s, p, sess, _ := newStore()

		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.Save(t.Context(), pair, i%2 == 0)
			}()
		}
		wg.Wait()

		inP, err := p.Read(t.Context(), AccessKey)
		require.NoError(t, err)
		inS, err := sess.Read(t.Context(), AccessKey)
		require.NoError(t, err)
		require.Equal(t, 1, len(inP)+len(inS), "pair must live in exactly one area")
	})
}
