package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/nao1215/edgeauth/pkg/account"
	"github.com/nao1215/edgeauth/pkg/autherr"
)

const (
	component = "credential"

	// DefaultConcurrency は同時に実行するハッシュ計算の既定の上限。
	DefaultConcurrency = 4
)

// Verifier はユーザー名とパスワードでアカウントを認証する。
//
// アカウントが存在しない場合や連携ログイン専用の場合も、起動時に生成した
// ダミーハッシュとの照合を1回行う。どの失敗経路もハッシュ計算1回分の時間がかかるため、
// 応答時間からアカウントの有無を推測できない。
type Verifier struct {
	store     account.Store
	hasher    Hasher
	dummyHash string
	sem       *semaphore.Weighted
	logger    *zap.Logger
}

// VerifierOption はVerifierの生成オプション。
type VerifierOption func(*Verifier)

// WithConcurrency は同時に実行するハッシュ計算の上限を設定する。
func WithConcurrency(n int64) VerifierOption {
	return func(v *Verifier) {
		if n > 0 {
			v.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithLogger はロガーを設定する。
func WithLogger(logger *zap.Logger) VerifierOption {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewVerifier は新しいVerifierを生成する。
// ダミーハッシュはhasherの現在のパラメータで生成する。
func NewVerifier(store account.Store, hasher Hasher, opts ...VerifierOption) (*Verifier, error) {
	dummy, err := hasher.Hash(rand.Text())
	if err != nil {
		return nil, fmt.Errorf("ダミーハッシュの生成に失敗: %w", err)
	}

	v := &Verifier{
		store:     store,
		hasher:    hasher,
		dummyHash: dummy,
		sem:       semaphore.NewWeighted(DefaultConcurrency),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify はユーザー名とパスワードを照合し、成功した場合はアカウントを返す。
//
// 失敗時は次の番兵エラーをラップして返す。
//   - autherr.ErrAccountNotFound: ユーザー名のアカウントが存在しない
//   - autherr.ErrInvalidCredentials: パスワードが一致しない、または連携ログイン専用アカウント
//
// 照合に成功し、ハッシュが旧形式だった場合は現在の形式で作り直して保存する。
func (v *Verifier) Verify(ctx context.Context, username, password string) (*account.Account, error) {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer v.sem.Release(1)

	a, err := v.store.FindByUsername(ctx, username)
	if errors.Is(err, autherr.ErrAccountNotFound) {
		v.burnDummy(password)
		return nil, autherr.Wrap(component, autherr.ErrAccountNotFound, "username", username)
	}
	if err != nil {
		return nil, fmt.Errorf("アカウントの検索に失敗: %w", err)
	}

	if a.IsFederated() {
		v.burnDummy(password)
		return nil, autherr.Wrap(component, autherr.ErrInvalidCredentials, "username", username, "reason", "federated")
	}

	ok, err := v.hasher.Verify(password, a.PasswordHash)
	if err != nil {
		v.logger.Error("保存されたパスワードハッシュを解析できません",
			zap.String("username", username),
			zap.Error(err),
		)
		return nil, autherr.Wrapf(component, autherr.ErrInvalidCredentials, err, "username", username)
	}
	if !ok {
		return nil, autherr.Wrap(component, autherr.ErrInvalidCredentials, "username", username)
	}

	if v.hasher.NeedsUpgrade(a.PasswordHash) {
		v.upgrade(ctx, a, password)
	}
	return a, nil
}

// HashPassword は新しいパスワードのハッシュを生成する。ハッシュ計算の同時実行数の制限に従う。
func (v *Verifier) HashPassword(ctx context.Context, password string) (string, error) {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer v.sem.Release(1)

	return v.hasher.Hash(password)
}

// ChangePassword は現在のパスワードを確認したうえで新しいパスワードに変更する。
func (v *Verifier) ChangePassword(ctx context.Context, username, current, next string) error {
	a, err := v.Verify(ctx, username, current)
	if err != nil {
		return err
	}

	hash, err := v.HashPassword(ctx, next)
	if err != nil {
		return fmt.Errorf("新しいパスワードのハッシュ化に失敗: %w", err)
	}
	a.PasswordHash = hash
	if err := v.store.Save(ctx, a); err != nil {
		return fmt.Errorf("パスワードの保存に失敗: %w", err)
	}

	v.logger.Info("パスワードを変更しました", zap.String("username", username))
	return nil
}

// burnDummy はダミーハッシュとの照合を行い、結果は捨てる。
func (v *Verifier) burnDummy(password string) {
	_, _ = v.hasher.Verify(password, v.dummyHash)
}

// upgrade は旧形式のハッシュを現在の形式で作り直して保存する。
// 失敗してもログイン自体は成功させる。
func (v *Verifier) upgrade(ctx context.Context, a *account.Account, password string) {
	hash, err := v.hasher.Hash(password)
	if err != nil {
		v.logger.Warn("パスワードハッシュの更新に失敗", zap.String("username", a.Username), zap.Error(err))
		return
	}

	updated := a.Clone()
	updated.PasswordHash = hash
	if err := v.store.Save(ctx, updated); err != nil {
		v.logger.Warn("パスワードハッシュの保存に失敗", zap.String("username", a.Username), zap.Error(err))
		return
	}
	*a = *updated
	v.logger.Info("パスワードハッシュを現在の形式に更新しました", zap.String("username", a.Username))
}
