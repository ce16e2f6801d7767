// Package storagetest holds the behaviour every account store must share.
package storagetest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"accounts/internal/domain/models"
	"accounts/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Store is the full account store contract.
type Store interface {
	SaveAccount(ctx context.Context, acc models.Account) (*models.Account, error)
	Account(ctx context.Context, lookup models.Lookup) (*models.Account, error)
	AccountByID(ctx context.Context, id string) (*models.Account, error)
	UpdateAccount(ctx context.Context, id string, upd models.AccountUpdate) (*models.Account, error)
}

func ptr[T any](v T) *T { return &v }

func fakeAccount() models.Account {
	return models.Account{
		Username: strings.ToLower(gofakeit.Username()) + gofakeit.DigitN(6),
		Email:    strings.ToLower(gofakeit.DigitN(6) + gofakeit.Email()),
		FullName: gofakeit.Name(),
		PassHash: []byte("$2a$10$" + gofakeit.LetterN(53)),
		Avatar:   gofakeit.URL(),
	}
}

// Run exercises store. Each subtest creates its own accounts, so a store
// may be shared across subtests. Stores must treat malformed ids as unknown.
func Run(t *testing.T, store Store) {
	t.Helper()

	t.Run("save and load", func(t *testing.T) {
		ctx := context.Background()
		in := fakeAccount()

		saved, err := store.SaveAccount(ctx, in)
		require.NoError(t, err)
		require.NotEmpty(t, saved.ID)
		assert.False(t, saved.CreatedAt.IsZero())
		assert.Empty(t, saved.RefreshTokenHash)

		byID, err := store.AccountByID(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, in.Username, byID.Username)
		assert.Equal(t, in.Email, byID.Email)
		assert.Equal(t, in.FullName, byID.FullName)
		assert.Equal(t, in.PassHash, byID.PassHash)
		assert.Equal(t, in.Avatar, byID.Avatar)

		byUsername, err := store.Account(ctx, models.Lookup{Username: in.Username})
		require.NoError(t, err)
		assert.Equal(t, saved.ID, byUsername.ID)

		byEmail, err := store.Account(ctx, models.Lookup{Email: in.Email})
		require.NoError(t, err)
		assert.Equal(t, saved.ID, byEmail.ID)

		either, err := store.Account(ctx, models.Lookup{Username: "nobody-" + gofakeit.DigitN(8), Email: in.Email})
		require.NoError(t, err)
		assert.Equal(t, saved.ID, either.ID)
	})

	t.Run("not found", func(t *testing.T) {
		ctx := context.Background()

		_, err := store.Account(ctx, models.Lookup{Username: "missing-" + gofakeit.DigitN(8)})
		assert.ErrorIs(t, err, storage.ErrUserNotFound)

		_, err = store.AccountByID(ctx, gofakeit.UUID())
		assert.ErrorIs(t, err, storage.ErrUserNotFound)

		_, err = store.UpdateAccount(ctx, gofakeit.UUID(), models.AccountUpdate{FullName: ptr("x")})
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
	})

	t.Run("duplicate username or email", func(t *testing.T) {
		ctx := context.Background()
		first := fakeAccount()

		_, err := store.SaveAccount(ctx, first)
		require.NoError(t, err)

		sameUsername := fakeAccount()
		sameUsername.Username = first.Username
		_, err = store.SaveAccount(ctx, sameUsername)
		assert.ErrorIs(t, err, storage.ErrUserAlreadyExists)

		sameEmail := fakeAccount()
		sameEmail.Email = first.Email
		_, err = store.SaveAccount(ctx, sameEmail)
		assert.ErrorIs(t, err, storage.ErrUserAlreadyExists)
	})

	t.Run("partial update", func(t *testing.T) {
		ctx := context.Background()
		saved, err := store.SaveAccount(ctx, fakeAccount())
		require.NoError(t, err)

		updated, err := store.UpdateAccount(ctx, saved.ID, models.AccountUpdate{
			FullName:   ptr("New Name"),
			CoverImage: ptr("https://cdn.example.com/cover.png"),
			PassHash:   []byte("new-hash"),
		})
		require.NoError(t, err)
		assert.Equal(t, "New Name", updated.FullName)
		assert.Equal(t, "https://cdn.example.com/cover.png", updated.CoverImage)
		assert.Equal(t, []byte("new-hash"), updated.PassHash)
		assert.Equal(t, saved.Email, updated.Email)
		assert.Equal(t, saved.Avatar, updated.Avatar)

		reloaded, err := store.AccountByID(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "New Name", reloaded.FullName)
	})

	t.Run("update email conflict", func(t *testing.T) {
		ctx := context.Background()
		first, err := store.SaveAccount(ctx, fakeAccount())
		require.NoError(t, err)
		second, err := store.SaveAccount(ctx, fakeAccount())
		require.NoError(t, err)

		_, err = store.UpdateAccount(ctx, second.ID, models.AccountUpdate{Email: ptr(first.Email)})
		assert.ErrorIs(t, err, storage.ErrUserAlreadyExists)
	})

	t.Run("refresh token set, swap and clear", func(t *testing.T) {
		ctx := context.Background()
		saved, err := store.SaveAccount(ctx, fakeAccount())
		require.NoError(t, err)

		updated, err := store.UpdateAccount(ctx, saved.ID, models.AccountUpdate{RefreshTokenHash: ptr("digest-1")})
		require.NoError(t, err)
		assert.Equal(t, "digest-1", updated.RefreshTokenHash)

		_, err = store.UpdateAccount(ctx, saved.ID, models.AccountUpdate{
			RefreshTokenHash:   ptr("digest-x"),
			IfRefreshTokenHash: ptr("stale"),
		})
		assert.ErrorIs(t, err, storage.ErrRefreshTokenMismatch)

		updated, err = store.UpdateAccount(ctx, saved.ID, models.AccountUpdate{
			RefreshTokenHash:   ptr("digest-2"),
			IfRefreshTokenHash: ptr("digest-1"),
		})
		require.NoError(t, err)
		assert.Equal(t, "digest-2", updated.RefreshTokenHash)

		updated, err = store.UpdateAccount(ctx, saved.ID, models.AccountUpdate{RefreshTokenHash: ptr("")})
		require.NoError(t, err)
		assert.Empty(t, updated.RefreshTokenHash)

		_, err = store.UpdateAccount(ctx, saved.ID, models.AccountUpdate{
			RefreshTokenHash:   ptr("digest-3"),
			IfRefreshTokenHash: ptr("digest-2"),
		})
		assert.ErrorIs(t, err, storage.ErrRefreshTokenMismatch)
	})

	t.Run("conditional swap has a single winner", func(t *testing.T) {
		ctx := context.Background()
		saved, err := store.SaveAccount(ctx, fakeAccount())
		require.NoError(t, err)
		_, err = store.UpdateAccount(ctx, saved.ID, models.AccountUpdate{RefreshTokenHash: ptr("current")})
		require.NoError(t, err)

		const racers = 8
		var (
			wins     atomic.Int32
			mismatch atomic.Int32
			wg       sync.WaitGroup
			start    = make(chan struct{})
		)
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := store.UpdateAccount(ctx, saved.ID, models.AccountUpdate{
					RefreshTokenHash:   ptr(gofakeit.UUID()),
					IfRefreshTokenHash: ptr("current"),
				})
				switch {
				case err == nil:
					wins.Add(1)
				case assert.ErrorIs(t, err, storage.ErrRefreshTokenMismatch):
					mismatch.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.EqualValues(t, 1, wins.Load())
		assert.EqualValues(t, racers-1, mismatch.Load())
	})
}
