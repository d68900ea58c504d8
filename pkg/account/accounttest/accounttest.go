// Package accounttest は account.Store 実装が共通して満たすべき振る舞いのテストを提供する。
package accounttest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/edgeauth/pkg/account"
	"github.com/nao1215/edgeauth/pkg/autherr"
)

// RunStoreTests はストア実装の共通テストを実行する。
// newStore はサブテストごとに呼ばれ、空のストアを返す必要がある。
func RunStoreTests(t *testing.T, newStore func(t *testing.T) account.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("作成したアカウントをユーザー名で取得できること", func(t *testing.T) {
		s := newStore(t)
		a := account.New("alice", "$argon2id$dummy", account.ProviderLocal)
		a.Country = "JP"
		require.NoError(t, s.Create(ctx, a))
		assert.False(t, a.CreatedAt.IsZero())

		got, err := s.FindByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, "$argon2id$dummy", got.PasswordHash)
		assert.Equal(t, account.ProviderLocal, got.Provider)
		assert.Equal(t, "JP", got.Country)
		assert.True(t, a.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("存在しないユーザー名はAccountNotFoundになること", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, autherr.ErrAccountNotFound)
	})

	t.Run("同じユーザー名で作成するとUsernameTakenになること", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, account.New("a@x.com", account.FederatedPasswordHash, account.ProviderGoogle)))

		err := s.Create(ctx, account.New("a@x.com", "$argon2id$other", account.ProviderLocal))
		assert.ErrorIs(t, err, autherr.ErrUsernameTaken)

		got, err := s.FindByUsername(ctx, "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, account.ProviderGoogle, got.Provider)
	})

	t.Run("Saveで更新した内容が取得できること", func(t *testing.T) {
		s := newStore(t)
		a := account.New("bob", "$argon2id$old", account.ProviderLocal)
		require.NoError(t, s.Create(ctx, a))

		a.PasswordHash = "$argon2id$new"
		a.DisplayName = "Bob"
		require.NoError(t, s.Save(ctx, a))

		got, err := s.FindByUsername(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, "$argon2id$new", got.PasswordHash)
		assert.Equal(t, "Bob", got.DisplayName)
		assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
	})

	t.Run("存在しないアカウントのSaveはAccountNotFoundになること", func(t *testing.T) {
		s := newStore(t)
		err := s.Save(ctx, account.New("ghost", "x", account.ProviderLocal))
		assert.ErrorIs(t, err, autherr.ErrAccountNotFound)
	})

	t.Run("取得したアカウントを書き換えてもストアに影響しないこと", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Create(ctx, account.New("carol", "$argon2id$h", account.ProviderLocal)))

		got, err := s.FindByUsername(ctx, "carol")
		require.NoError(t, err)
		got.PasswordHash = "tampered"

		again, err := s.FindByUsername(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, "$argon2id$h", again.PasswordHash)
	})

	t.Run("同じユーザー名の同時作成は1件だけ成功すること", func(t *testing.T) {
		s := newStore(t)

		const n = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success int
			taken   int
		)
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Create(ctx, account.New("race@x.com", account.FederatedPasswordHash, account.ProviderGoogle))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					success++
				case autherr.Code(err) == "AUTH_USERNAME_TAKEN":
					taken++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, success)
		assert.Equal(t, n-1, taken)
	})
}
