// Package account はアカウントのモデルと永続化の契約を定義する。
//
// 実装は sqlite（既定）、redisstore、memory の各サブパッケージが提供する。
// どの実装もユーザー名の一意性を保証し、重複した作成は autherr.ErrUsernameTaken を返す。
package account

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Provider はアカウントを作成した認証方式のタグ。
type Provider string

const (
	// ProviderLocal はユーザー名とパスワードで登録したアカウント。
	ProviderLocal Provider = "LOCAL"
	// ProviderGoogle はGoogleの連携ログインで作成したアカウント。
	ProviderGoogle Provider = "GOOGLE"
	// ProviderGitHub はGitHubの連携ログインで作成したアカウント。
	ProviderGitHub Provider = "GITHUB"
)

// FederatedPasswordHash は連携ログイン専用アカウントのパスワードハッシュ。
// どのハッシュ形式にも該当しないため、パスワード照合は必ず失敗する。
const FederatedPasswordHash = "!federated"

// Account はユーザーアカウント。
type Account struct {
	// ID はアカウントの不変な識別子。
	ID uuid.UUID `json:"id"`
	// Username は一意なユーザー名。連携ログインではメールアドレスになる。
	Username string `json:"username"`
	// PasswordHash はアルゴリズム情報とソルトを含む自己記述的なハッシュ文字列。
	PasswordHash string `json:"password_hash"`
	// Provider はアカウントを作成した認証方式。
	Provider Provider `json:"provider"`
	// Email は連携先から受け取ったメールアドレス。
	Email string `json:"email,omitempty"`
	// DisplayName は表示名。
	DisplayName string `json:"display_name,omitempty"`
	// Country は国コード。
	Country string `json:"country,omitempty"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt は最終更新日時。
	UpdatedAt time.Time `json:"updated_at"`
}

// New は新しいIDを持つアカウントを生成する。
func New(username, passwordHash string, provider Provider) *Account {
	return &Account{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		Provider:     provider,
	}
}

// IsFederated は連携ログイン専用アカウントかどうかを返す。
func (a *Account) IsFederated() bool {
	return a.PasswordHash == FederatedPasswordHash
}

// Clone はアカウントのコピーを返す。
func (a *Account) Clone() *Account {
	c := *a
	return &c
}

// Store はアカウントの永続化を行う。
type Store interface {
	// FindByUsername はユーザー名でアカウントを検索する。
	// 見つからない場合は autherr.ErrAccountNotFound を返す。
	FindByUsername(ctx context.Context, username string) (*Account, error)
	// Create は新しいアカウントを保存する。
	// ユーザー名が既に使われている場合は autherr.ErrUsernameTaken を返す。
	Create(ctx context.Context, a *Account) error
	// Save は既存アカウントを更新する。
	// IDに一致するアカウントが無い場合は autherr.ErrAccountNotFound を返す。
	Save(ctx context.Context, a *Account) error
}

// stamp は作成・更新日時を設定する。
func stamp(a *Account, now time.Time, creating bool) {
	now = now.UTC().Truncate(time.Microsecond)
	if creating && a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}

// StampCreate は作成時の日時を設定する。ストア実装から呼び出す。
func StampCreate(a *Account, now time.Time) {
	stamp(a, now, true)
}

// StampUpdate は更新時の日時を設定する。ストア実装から呼び出す。
func StampUpdate(a *Account, now time.Time) {
	stamp(a, now, false)
}
