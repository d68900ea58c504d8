// Package memory はプロセス内メモリにアカウントを保持するストアを提供する。
// テストや単一プロセスでの開発用途向け。
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nao1215/edgeauth/pkg/account"
	"github.com/nao1215/edgeauth/pkg/autherr"
)

const component = "account.memory"

// Store はメモリ上のアカウントストア。複数のゴルーチンから同時に使用できる。
type Store struct {
	mu         sync.RWMutex
	byUsername map[string]*account.Account
	byID       map[uuid.UUID]string
	now        func() time.Time
}

var _ account.Store = (*Store)(nil)

// New は空のストアを生成する。
func New() *Store {
	return &Store{
		byUsername: make(map[string]*account.Account),
		byID:       make(map[uuid.UUID]string),
		now:        time.Now,
	}
}

// FindByUsername はユーザー名でアカウントを検索する。
func (s *Store) FindByUsername(_ context.Context, username string) (*account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byUsername[username]
	if !ok {
		return nil, autherr.Wrap(component, autherr.ErrAccountNotFound, "username", username)
	}
	return a.Clone(), nil
}

// Create は新しいアカウントを保存する。
func (s *Store) Create(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[a.Username]; ok {
		return autherr.Wrap(component, autherr.ErrUsernameTaken, "username", a.Username)
	}
	account.StampCreate(a, s.now())
	s.byUsername[a.Username] = a.Clone()
	s.byID[a.ID] = a.Username
	return nil
}

// Save は既存アカウントを更新する。ユーザー名の変更は扱わない。
func (s *Store) Save(_ context.Context, a *account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.byID[a.ID]
	if !ok || username != a.Username {
		return autherr.Wrap(component, autherr.ErrAccountNotFound, "id", a.ID.String())
	}
	account.StampUpdate(a, s.now())
	s.byUsername[a.Username] = a.Clone()
	return nil
}
