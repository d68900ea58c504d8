// Package federation は外部IDプロバイダーによる連携ログインを扱う。
//
// Linker はプロバイダーが検証したメールアドレスをローカルアカウントに対応付け、
// 初回ログイン時にはパスワードでログインできない連携専用アカウントを作成する。
// OAuthClient は認可コードフローでプロバイダーから本人情報を取得する。
package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nao1215/edgeauth/pkg/account"
	"github.com/nao1215/edgeauth/pkg/autherr"
)

const component = "federation"

// LinkPolicy は既存アカウントとメールアドレスが衝突したときの扱い。
type LinkPolicy string

const (
	// PolicyProvider は同じプロバイダーで作成したアカウントだけを再利用する。
	// ローカル登録や他プロバイダーのアカウントと衝突した場合は autherr.ErrAccountConflict を返す。
	PolicyProvider LinkPolicy = "provider"
	// PolicyEmail はユーザー名が一致すれば作成方式を問わず既存アカウントを再利用する。
	// メールアドレスを知る第三者がローカルアカウントに入れてしまうため、互換目的でのみ使う。
	PolicyEmail LinkPolicy = "email"
)

// ParseLinkPolicy は文字列をLinkPolicyに変換する。空文字列は PolicyProvider になる。
func ParseLinkPolicy(s string) (LinkPolicy, error) {
	switch p := LinkPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyProvider, nil
	case PolicyProvider, PolicyEmail:
		return p, nil
	default:
		return "", fmt.Errorf("不明な連携ポリシーです: %q", s)
	}
}

// Assertion はIDプロバイダーが検証した本人情報。
type Assertion struct {
	// Provider は情報を提供したプロバイダー。
	Provider account.Provider
	// Email は検証済みのメールアドレス。ローカルのユーザー名として使う。
	Email string
	// DisplayName は表示名。
	DisplayName string
}

// Linker は連携ログインの本人情報をローカルアカウントに対応付ける。
type Linker struct {
	store  account.Store
	policy LinkPolicy
	logger *zap.Logger
}

// NewLinker は新しいLinkerを生成する。
func NewLinker(store account.Store, policy LinkPolicy, logger *zap.Logger) *Linker {
	if policy == "" {
		policy = PolicyProvider
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Linker{store: store, policy: policy, logger: logger}
}

// Policy は適用中の連携ポリシーを返す。
func (l *Linker) Policy() LinkPolicy {
	return l.policy
}

// LinkOrCreate はメールアドレスと一致するユーザー名のアカウントを返す。
// 存在しない場合は連携専用アカウントを作成して返す。
// 同じ本人情報で繰り返し呼び出しても同じアカウントが返る。
func (l *Linker) LinkOrCreate(ctx context.Context, a Assertion) (*account.Account, error) {
	if a.Email == "" {
		return nil, autherr.Wrap(component, autherr.ErrMalformed, "reason", "empty email", "provider", string(a.Provider))
	}

	existing, err := l.store.FindByUsername(ctx, a.Email)
	if err == nil {
		return l.resolve(existing, a)
	}
	if !errors.Is(err, autherr.ErrAccountNotFound) {
		return nil, fmt.Errorf("アカウントの検索に失敗: %w", err)
	}

	created := account.New(a.Email, account.FederatedPasswordHash, a.Provider)
	created.Email = a.Email
	created.DisplayName = a.DisplayName

	err = l.store.Create(ctx, created)
	if errors.Is(err, autherr.ErrUsernameTaken) {
		// 同時ログインで先に作成された場合は作成済みのものを読み直す
		existing, err := l.store.FindByUsername(ctx, a.Email)
		if err != nil {
			return nil, fmt.Errorf("作成競合後のアカウント再取得に失敗: %w", err)
		}
		return l.resolve(existing, a)
	}
	if err != nil {
		return nil, fmt.Errorf("連携アカウントの作成に失敗: %w", err)
	}

	l.logger.Info("連携アカウントを作成しました",
		zap.String("username", created.Username),
		zap.String("provider", string(a.Provider)),
	)
	return created, nil
}

// resolve は既存アカウントを再利用してよいかをポリシーに従って判断する。
func (l *Linker) resolve(existing *account.Account, a Assertion) (*account.Account, error) {
	if existing.Provider == a.Provider {
		return existing, nil
	}

	if l.policy == PolicyEmail {
		l.logger.Warn("メールアドレスの一致のみで既存アカウントに連携しました",
			zap.String("username", existing.Username),
			zap.String("account_provider", string(existing.Provider)),
			zap.String("asserting_provider", string(a.Provider)),
		)
		return existing, nil
	}

	l.logger.Warn("作成方式の異なる既存アカウントとの連携を拒否しました",
		zap.String("username", existing.Username),
		zap.String("account_provider", string(existing.Provider)),
		zap.String("asserting_provider", string(a.Provider)),
	)
	return nil, autherr.Wrap(component, autherr.ErrAccountConflict,
		"username", existing.Username,
		"account_provider", string(existing.Provider),
		"asserting_provider", string(a.Provider),
	)
}
